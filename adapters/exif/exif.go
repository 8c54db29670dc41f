// Package exif reads the EXIF orientation code of an image file with
// github.com/evanoberholster/imagemeta.
package exif

import (
	"context"
	"os"

	"github.com/evanoberholster/imagemeta"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// Reader implements core.OrientationReader.
type Reader struct {
	logger core.Logger
}

// New returns a Reader. l may be nil.
func New(l core.Logger) *Reader {
	if l == nil {
		l = core.NopLogger{}
	}
	return &Reader{logger: l}
}

// ReadOrientation returns the raw orientation tag, or 0 when the file
// carries no EXIF block or its container is not one imagemeta understands.
func (r *Reader) ReadOrientation(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryPipeline, "exif.orientation", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "exif.orientation", err)
	}
	defer f.Close()

	meta, err := imagemeta.Decode(f)
	if err != nil {
		r.logger.Debug("exif.orientation.absent", "path", path, "reason", err.Error())
		return 0, nil
	}
	code := int(meta.Orientation)
	if code < 0 || code > 8 {
		return 0, nil
	}
	return code, nil
}

var _ core.OrientationReader = (*Reader)(nil)
