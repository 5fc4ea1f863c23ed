package compare

import (
	"context"
	"fmt"

	"github.com/sdejongh/remotefs/pkg/storage"
)

// MD5Comparator compares files by the MD5 digest each client computes
type MD5Comparator struct{}

// NewMD5Comparator creates a new MD5-based comparator
func NewMD5Comparator() *MD5Comparator {
	return &MD5Comparator{}
}

// Compare compares two files using their MD5 checksums. Sizes are checked
// first when both backends report them.
func (c *MD5Comparator) Compare(ctx context.Context, source, dest *storage.Client, sourcePath, destPath string) (*Comparison, error) {
	_, _, done, err := statPair(ctx, source, dest, sourcePath, destPath)
	if err != nil || done != nil {
		return done, err
	}

	// one after the other: source and dest may share a connection
	sourceHash, err := source.ChecksumFile(ctx, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to compute source hash: %w", err)
	}
	destHash, err := dest.ChecksumFile(ctx, destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compute destination hash: %w", err)
	}

	result := &Comparison{SourcePath: sourcePath, DestPath: destPath, Result: Same, Reason: "MD5 hashes match"}
	if sourceHash != destHash {
		result.Result = Different
		result.Reason = fmt.Sprintf("MD5 hash mismatch (%s != %s)", sourceHash, destHash)
	}
	return result, nil
}

// Name returns the comparator name
func (c *MD5Comparator) Name() string {
	return "md5"
}
