package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/models"
)

// HumanFormatter formats output in human-readable format
type HumanFormatter struct {
	// Now anchors relative times; tests pin it
	Now func() time.Time
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{Now: time.Now}
}

// Objects prints an ls -l style listing
func (f *HumanFormatter) Objects(w io.Writer, objects []models.RemoteObject) error {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', tabwriter.AlignRight)
	for _, obj := range objects {
		fmt.Fprintf(tw, "%s\t %s\t %s\t %s\t %s\t %s\t\n",
			mode(obj), orDash(obj.Owner), orDash(obj.Group),
			size(obj), f.when(obj.ModificationTime), name(obj))
	}
	return tw.Flush()
}

// Object prints every known attribute of one object
func (f *HumanFormatter) Object(w io.Writer, obj models.RemoteObject) error {
	fmt.Fprintf(w, "  Path:        %s\n", obj.Path)
	fmt.Fprintf(w, "  Kind:        %s\n", obj.Kind)
	if obj.IsLink() {
		fmt.Fprintf(w, "  Target:      %s\n", obj.Reference)
	}
	if obj.HasLength() {
		fmt.Fprintf(w, "  Size:        %s (%s bytes)\n", humanize.IBytes(uint64(obj.Length)), humanize.Comma(obj.Length))
	}
	if obj.Permission.IsSet() {
		fmt.Fprintf(w, "  Permission:  %s (%s)\n", obj.Permission, mode(obj))
	}
	if obj.Owner != "" || obj.Group != "" {
		fmt.Fprintf(w, "  Owner:       %s:%s\n", orDash(obj.Owner), orDash(obj.Group))
	}
	if !obj.ModificationTime.IsZero() {
		fmt.Fprintf(w, "  Modified:    %s (%s)\n", obj.ModificationTime.Format(time.RFC3339), humanize.RelTime(obj.ModificationTime, f.Now(), "ago", "from now"))
	}
	if !obj.AccessTime.IsZero() {
		fmt.Fprintf(w, "  Accessed:    %s\n", obj.AccessTime.Format(time.RFC3339))
	}
	return nil
}

// Checksum prints md5sum style output
func (f *HumanFormatter) Checksum(w io.Writer, path, sum string) error {
	_, err := fmt.Fprintf(w, "%s  %s\n", sum, path)
	return err
}

// Report prints a transfer summary
func (f *HumanFormatter) Report(w io.Writer, report *models.TransferReport) error {
	fmt.Fprintf(w, "%s %s", report.Action, report.Source)
	if report.Dest != "" {
		fmt.Fprintf(w, " -> %s", report.Dest)
	}
	fmt.Fprintf(w, "\n")
	if report.FilesSkipped > 0 {
		fmt.Fprintf(w, "  Skipped:     %d (destination exists)\n", report.FilesSkipped)
	}
	if report.FilesTransferred > 0 {
		fmt.Fprintf(w, "  Files:       %d", report.FilesTransferred)
		if report.FilesExcluded > 0 {
			fmt.Fprintf(w, " (%d excluded)", report.FilesExcluded)
		}
		fmt.Fprintf(w, "\n")
		fmt.Fprintf(w, "  Data:        %s\n", humanize.IBytes(uint64(report.BytesTransferred)))
		if secs := report.Duration.Seconds(); secs > 0 {
			fmt.Fprintf(w, "  Speed:       %s/s\n", humanize.IBytes(uint64(float64(report.BytesTransferred)/secs)))
		}
	}
	fmt.Fprintf(w, "  Duration:    %s\n", report.Duration.Round(time.Millisecond))
	if report.Checksum != "" {
		fmt.Fprintf(w, "  MD5:         %s\n", report.Checksum)
	}
	for _, m := range report.Mismatches {
		fmt.Fprintf(w, "  Mismatch:    %s\n", m)
	}
	fmt.Fprintf(w, "Status: %s\n", report.Status)
	if report.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", report.Error)
	}
	return nil
}

// Comparison prints one comparison result
func (f *HumanFormatter) Comparison(w io.Writer, method string, result *compare.Comparison) error {
	fmt.Fprintf(w, "%s: %s\n", method, result.Result)
	if result.Reason != "" {
		fmt.Fprintf(w, "  %s\n", result.Reason)
	}
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}

func mode(obj models.RemoteObject) string {
	kind := "-"
	switch {
	case obj.IsDir():
		kind = "d"
	case obj.IsLink():
		kind = "l"
	}
	if !obj.Permission.IsSet() {
		return kind + "?????????"
	}
	m, err := obj.Permission.FileMode()
	if err != nil {
		return kind + "?????????"
	}
	// FileMode.String prefixes the type letter, which is '-' for bare bits
	return kind + m.String()[1:]
}

func size(obj models.RemoteObject) string {
	if !obj.HasLength() {
		return "-"
	}
	return strings.ReplaceAll(humanize.IBytes(uint64(obj.Length)), " ", "")
}

func name(obj models.RemoteObject) string {
	n := obj.Basename()
	if obj.IsDir() {
		n += "/"
	}
	if obj.IsLink() && obj.Reference != "" {
		n += " -> " + obj.Reference
	}
	return n
}

func (f *HumanFormatter) when(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if f.Now().Sub(t) > 180*24*time.Hour {
		return t.Format("Jan _2  2006")
	}
	return t.Format("Jan _2 15:04")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
