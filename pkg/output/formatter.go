package output

import (
	"fmt"
	"io"

	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/models"
)

// Formatter defines how command results are printed
// Implementations include human-readable and JSON formatters
type Formatter interface {
	// Objects prints a directory listing
	Objects(w io.Writer, objects []models.RemoteObject) error

	// Object prints the details of one object
	Object(w io.Writer, object models.RemoteObject) error

	// Checksum prints the MD5 of path
	Checksum(w io.Writer, path, sum string) error

	// Report prints the outcome of a transfer
	Report(w io.Writer, report *models.TransferReport) error

	// Comparison prints the outcome of comparing two files
	Comparison(w io.Writer, method string, result *compare.Comparison) error

	// Name returns the formatter name
	Name() string
}

// New returns the formatter registered under format
func New(format string) (Formatter, error) {
	switch format {
	case "", "human":
		return NewHumanFormatter(), nil
	case "json":
		return NewJSONFormatter(), nil
	}
	return nil, fmt.Errorf("unknown output format %q (use human or json)", format)
}
