package compare

import (
	"context"
	"fmt"
	"time"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// timestampTolerance absorbs the differing time precision of backends
// (FTP MLST has seconds, object stores may round)
const timestampTolerance = time.Second

// TimestampComparator compares files by name, size, and modification time
type TimestampComparator struct{}

// NewTimestampComparator creates a new timestamp comparator
func NewTimestampComparator() *TimestampComparator {
	return &TimestampComparator{}
}

// Compare compares two files by name, size, and modification time
// Files are considered the same if they have the same name, size, and the source
// modification time is not newer than the destination modification time
func (c *TimestampComparator) Compare(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (*Comparison, error) {
	src, dst, done, err := statPair(ctx, source, dest, sourcePath, destPath)
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

	if src.ModificationTime.IsZero() || dst.ModificationTime.IsZero() {
		return &Comparison{
			SourcePath: sourcePath,
			DestPath:   destPath,
			Result:     Error,
			Reason:     "modification time not reported",
		}, nil
	}

	if src.ModificationTime.Sub(dst.ModificationTime) > timestampTolerance {
		return &Comparison{
			SourcePath: sourcePath,
			DestPath:   destPath,
			Result:     Different,
			Reason: fmt.Sprintf("source is newer (source: %s, dest: %s)",
				src.ModificationTime.Format("2006-01-02 15:04:05"), dst.ModificationTime.Format("2006-01-02 15:04:05")),
		}, nil
	}

	return &Comparison{
		SourcePath: sourcePath,
		DestPath:   destPath,
		Result:     Same,
		Reason:     "name, size, and timestamp match",
	}, nil
}

// Name returns the comparator name
func (c *TimestampComparator) Name() string {
	return "timestamp"
}
