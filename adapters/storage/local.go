// Package storage commits encoded images to the local filesystem.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/utils"
)

const tempPattern = ".imgresponsive-*.tmp"

// Local writes files atomically: the payload goes to a temporary file in the
// destination directory, is synced, chmod-ed, then renamed over the final
// path. Readers never observe a partially written file under the final name.
type Local struct {
	filePerm os.FileMode
	dirPerm  os.FileMode
}

// NewLocal returns a Local writer. Zero permissions fall back to 0644 for
// files and 0755 for directories.
func NewLocal(filePerm, dirPerm os.FileMode) *Local {
	if filePerm == 0 {
		filePerm = 0o644
	}
	if dirPerm == 0 {
		dirPerm = 0o755
	}
	return &Local{filePerm: filePerm, dirPerm: dirPerm}
}

// MkdirAll creates dir and its parents with the configured permissions.
func (l *Local) MkdirAll(dir string) error {
	if err := os.MkdirAll(dir, l.dirPerm); err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, "local.mkdir", err)
	}
	return nil
}

// Write implements core.Storage.
func (l *Local) Write(ctx context.Context, path string, fill func(io.Writer) error) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryPipeline, "local.write", err)
	}

	dir := filepath.Dir(path)
	if err := l.MkdirAll(dir); err != nil {
		return 0, err
	}

	f, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.temp", err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	cw := &utils.CountingWriter{W: f}
	if err := fill(cw); err != nil {
		// fill errors are already categorised by the encoder.
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.sync", err)
	}
	if err := f.Close(); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.close", err)
	}
	if err := os.Chmod(tmp, l.filePerm); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.chmod", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.rename", err)
	}
	committed = true
	return cw.N, nil
}

// Exists implements core.Storage.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryPipeline, "local.exists", err)
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryIO, "local.exists.stat", err)
}

// CheckReadable verifies path is an existing regular file that can be opened.
func (l *Local) CheckReadable(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "local.readable", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}
