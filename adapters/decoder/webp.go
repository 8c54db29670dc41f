package decoder

import (
	"context"
	"image"
	"io"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/utils"
	"golang.org/x/image/webp"
)

// WebP decodes WebP images using golang.org/x/image/webp.
// Animated WebP is not supported; only the first frame is read.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "webp.decode", err)
	}

	// x/image/webp wants the whole RIFF container; buffer it once.
	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "webp.drain", err)
	}
	defer utils.ReleaseBuffer(buf)

	img, err := webp.Decode(utils.BytesReader(buf.Bytes()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "webp.decode", err)
	}
	return img, nil
}
