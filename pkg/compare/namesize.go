package compare

import (
	"context"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// NameSizeComparator compares files by name and size only
type NameSizeComparator struct{}

// NewNameSizeComparator creates a new name/size comparator
func NewNameSizeComparator() *NameSizeComparator {
	return &NameSizeComparator{}
}

// Compare compares two files by name and size. A side that does not report
// a length only matches on name.
func (c *NameSizeComparator) Compare(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (*Comparison, error) {
	_, _, done, err := statPair(ctx, source, dest, sourcePath, destPath)
	if err != nil || done != nil {
		return done, err
	}

	if platform.Base(sourcePath) != platform.Base(destPath) {
		return &Comparison{
			SourcePath: sourcePath,
			DestPath:   destPath,
			Result:     Different,
			Reason:     "file names differ",
		}, nil
	}

	return &Comparison{
		SourcePath: sourcePath,
		DestPath:   destPath,
		Result:     Same,
		Reason:     "name and size match",
	}, nil
}

// Name returns the comparator name
func (c *NameSizeComparator) Name() string {
	return "namesize"
}
