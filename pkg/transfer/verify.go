package transfer

import (
	"context"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
)

// verifyTree compares every transferred file with its source. Mismatches
// mark the report instead of failing the run.
func (e *Engine) verifyTree(ctx context.Context, src models.RemoteObject, dest, rel string) error {
	if e.options.Verifier == nil {
		e.options.Verifier = compare.NewMD5Comparator()
	}
	if err := e.verify(ctx, src, dest, rel); err != nil {
		return err
	}
	if e.report.Status != models.StatusMismatch {
		e.report.Verified = true
	}
	if !src.IsDir() {
		if sum, err := e.dest.ChecksumFile(ctx, dest); err == nil {
			e.report.Checksum = sum
		}
	}
	return nil
}

func (e *Engine) verify(ctx context.Context, src models.RemoteObject, dest, rel string) error {
	if !src.IsDir() {
		if e.skipped[dest] {
			return nil
		}
		result, err := e.options.Verifier.Compare(ctx, e.source, e.dest, src.Path, dest)
		if err != nil {
			return err
		}
		if result.Result != compare.Same {
			e.logger.Warn(ctx, "verification failed", logging.Fields{
				"path":   dest,
				"method": e.options.Verifier.Name(),
				"reason": result.Reason,
			})
			e.report.Status = models.StatusMismatch
			e.report.Mismatches = append(e.report.Mismatches, dest)
		}
		return nil
	}

	children, err := e.source.ListDirectory(ctx, src.Path)
	if err != nil {
		return err
	}
	for _, child := range children {
		name := child.Basename()
		childRel := platform.Join(rel, name)
		if Excluded(childRel, e.options.Exclude) {
			continue
		}
		if child.IsLink() {
			if child, err = e.source.Resolve(ctx, child.Path); err != nil {
				return err
			}
		}
		if err := e.verify(ctx, child, platform.Join(dest, name), childRel); err != nil {
			return err
		}
	}
	return nil
}
