// Package transfer runs copy, move, append and delete operations between
// two storage clients, which may wrap different backends.
package transfer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/compare"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/ratelimit"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// Options tunes an Engine
type Options struct {
	// Exclude holds patterns matched against paths relative to the source
	Exclude []string
	// Limiter caps the read rate; nil means unlimited
	Limiter *ratelimit.Limiter
	// Verifier compares each copied file when the operation asks for it
	Verifier compare.Comparator
	Progress Progress
}

// Engine orchestrates one transfer operation
type Engine struct {
	source  *storage.Client
	dest    *storage.Client
	logger  logging.Logger
	options Options

	report *models.TransferReport
	bytes  int64

	overwrite bool
	// skipped holds destination files left in place by a no-clobber copy
	skipped map[string]bool
}

// NewEngine creates a transfer engine. dest may be the same client as
// source; it is unused for delete.
func NewEngine(source, dest *storage.Client, logger logging.Logger, options Options) *Engine {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Engine{
		source:  source,
		dest:    dest,
		logger:  logger,
		options: options,
	}
}

// Run executes op. The report is returned even when the operation fails.
func (e *Engine) Run(ctx context.Context, op *models.TransferOperation) (*models.TransferReport, error) {
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation: %w", err)
	}

	e.bytes = 0
	e.overwrite = op.Overwrite
	e.skipped = map[string]bool{}
	e.report = &models.TransferReport{
		OperationID: op.ID,
		Action:      op.Action,
		Source:      location(op.SourceProfile, op.SourcePath),
		Dest:        location(op.DestProfile, op.DestPath),
		StartTime:   time.Now(),
	}
	log := e.logger.WithFields(logging.Fields{"operation_id": op.ID, "action": string(op.Action)})
	log.Info(ctx, "transfer started", logging.Fields{"source": e.report.Source, "dest": e.report.Dest})

	result, err := e.run(ctx, op)
	e.report.BytesTransferred = e.bytes
	if err == nil && result.Path != "" {
		e.report.Result = &result
	}
	e.report.Finish(err)

	if err != nil {
		log.Error(ctx, "transfer failed", err, nil)
	} else {
		log.Info(ctx, "transfer completed", logging.Fields{
			"status":      string(e.report.Status),
			"bytes":       e.report.BytesTransferred,
			"files":       e.report.FilesTransferred,
			"duration_ms": e.report.Duration.Milliseconds(),
		})
	}
	return e.report, err
}

func (e *Engine) run(ctx context.Context, op *models.TransferOperation) (models.RemoteObject, error) {
	writeOpts := []storage.Option{storage.WithOverwrite(op.Overwrite)}

	switch op.Action {
	case models.ActionDelete:
		return e.delete(ctx, op.SourcePath)

	case models.ActionAppend:
		return e.appendFile(ctx, op.SourcePath, op.DestPath)

	case models.ActionCopy, models.ActionMove, models.ActionUpload, models.ActionDownload:
		src, err := e.source.Resolve(ctx, op.SourcePath)
		if err != nil {
			return models.RemoteObject{}, err
		}
		dest, err := e.target(ctx, src, op.DestPath)
		if err != nil {
			return models.RemoteObject{}, err
		}

		result, err := e.copyTree(ctx, src, dest, "", writeOpts)
		if err != nil {
			return models.RemoteObject{}, err
		}
		if op.Verify {
			if err := e.verifyTree(ctx, src, dest, ""); err != nil {
				return models.RemoteObject{}, err
			}
		}
		if op.Action == models.ActionMove && e.report.FilesSkipped > 0 {
			e.logger.Warn(ctx, "source kept, destination files were not replaced", logging.Fields{
				"source":  op.SourcePath,
				"skipped": e.report.FilesSkipped,
			})
		}
		if op.Action == models.ActionMove && e.report.Status != models.StatusMismatch && e.report.FilesSkipped == 0 {
			if _, err := e.source.DeletePath(ctx, op.SourcePath); err != nil {
				return models.RemoteObject{}, fmt.Errorf("failed to remove source after move: %w", err)
			}
		}
		return result, nil
	}
	return models.RemoteObject{}, models.BadRequest(string(op.Action), op.SourcePath, nil, "unsupported action %q", op.Action)
}

// target resolves the destination path: a file copied onto an existing
// directory lands inside it
func (e *Engine) target(ctx context.Context, src models.RemoteObject, dest string) (string, error) {
	dest = platform.Clean(e.dest.AbsPath(dest))
	if src.IsDir() {
		if e.source == e.dest && (dest == src.Path || strings.HasPrefix(dest, strings.TrimSuffix(src.Path, "/")+"/")) {
			return "", models.BadRequest("copyPath", dest, nil, "cannot copy directory %s into itself", src.Path)
		}
		return dest, nil
	}
	existing, err := e.dest.GetPath(ctx, dest)
	switch {
	case err == nil && existing.IsDir():
		return platform.Join(dest, src.Basename()), nil
	case err != nil && !models.IsNotFound(err):
		return "", err
	}
	return dest, nil
}

func (e *Engine) delete(ctx context.Context, p string) (models.RemoteObject, error) {
	obj, err := e.source.GetPath(ctx, p)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if _, err := e.source.DeletePath(ctx, p); err != nil {
		return models.RemoteObject{}, err
	}
	return obj, nil
}

func (e *Engine) appendFile(ctx context.Context, srcPath, destPath string) (models.RemoteObject, error) {
	src, err := e.source.Resolve(ctx, srcPath)
	if err != nil {
		return models.RemoteObject{}, err
	}
	if src.IsDir() {
		return models.RemoteObject{}, models.BadRequest("appendFile", src.Path, nil, "cannot append directory %s", src.Path)
	}
	it, err := e.source.ReadFile(ctx, src.Path)
	if err != nil {
		return models.RemoteObject{}, err
	}
	it, m := e.meter(ctx, it, src.Path, src.Length)
	defer it.Close()

	obj, err := e.dest.AppendFile(ctx, destPath, it)
	m.done(err)
	if err == nil {
		e.report.FilesTransferred++
	}
	return obj, err
}

func location(profile, p string) string {
	if profile == "" || p == "" {
		return p
	}
	return profile + ":" + p
}
