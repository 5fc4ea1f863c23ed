package transfer

import (
	"context"
	"fmt"

	"github.com/sdejongh/remotefs/internal/platform"
	"github.com/sdejongh/remotefs/pkg/logging"
	"github.com/sdejongh/remotefs/pkg/models"
	"github.com/sdejongh/remotefs/pkg/storage"
)

// copyTree streams src to dest across clients. rel is the path of src
// relative to the transfer root. Links below the root are followed.
func (e *Engine) copyTree(ctx context.Context, src models.RemoteObject, dest, rel string, opts []storage.Option) (models.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return models.RemoteObject{}, err
	}
	if !src.IsDir() {
		return e.copyFile(ctx, src, dest, opts)
	}

	dir, err := e.dest.MakeDirectory(ctx, dest)
	if err != nil {
		return models.RemoteObject{}, fmt.Errorf("failed to create directory %s: %w", dest, err)
	}
	children, err := e.source.ListDirectory(ctx, src.Path)
	if err != nil {
		return models.RemoteObject{}, err
	}
	for _, child := range children {
		name := child.Basename()
		childRel := platform.Join(rel, name)
		if Excluded(childRel, e.options.Exclude) {
			e.logger.Debug(ctx, "excluded", logging.Fields{"path": child.Path})
			e.report.FilesExcluded++
			continue
		}
		// a link keeps its own name at the destination
		if child.IsLink() {
			child, err = e.source.Resolve(ctx, child.Path)
			if err != nil {
				return models.RemoteObject{}, err
			}
		}
		if _, err := e.copyTree(ctx, child, platform.Join(dest, name), childRel, opts); err != nil {
			return models.RemoteObject{}, err
		}
	}
	return dir, nil
}

func (e *Engine) copyFile(ctx context.Context, src models.RemoteObject, dest string, opts []storage.Option) (models.RemoteObject, error) {
	if e.source == e.dest && dest == src.Path {
		return src, nil
	}
	if !e.overwrite {
		existing, err := e.dest.GetPath(ctx, dest)
		switch {
		case err == nil && !existing.IsDir():
			e.logger.Info(ctx, "destination exists, skipped", logging.Fields{"src": src.Path, "dest": dest})
			e.report.FilesSkipped++
			e.skipped[dest] = true
			return existing, nil
		case err != nil && !models.IsNotFound(err):
			return models.RemoteObject{}, err
		}
	}

	it, err := e.source.ReadFile(ctx, src.Path)
	if err != nil {
		return models.RemoteObject{}, err
	}
	it, m := e.meter(ctx, it, src.Path, src.Length)
	defer it.Close()

	e.logger.Debug(ctx, "copying file", logging.Fields{"src": src.Path, "dest": dest, "size": src.Length})
	obj, err := e.dest.WriteFile(ctx, dest, it, opts...)
	m.done(err)
	if err != nil {
		return models.RemoteObject{}, err
	}
	e.report.FilesTransferred++
	return obj, nil
}
