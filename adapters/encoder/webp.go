package encoder

import (
	"context"
	"image"
	"io"

	"github.com/chai2010/webp"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// WebP encodes lossy WebP through github.com/chai2010/webp.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = core.DefaultQuality().WebP
	}
	return &WebP{DefaultQuality: defaultQuality}
}

func (e *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (e *WebP) Encode(ctx context.Context, w io.Writer, img image.Image, q core.Quality) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "webp.encode", err)
	}
	if img == nil {
		return apperrors.New(apperrors.CategoryResource, "webp.encode", apperrors.ErrEmptyInput)
	}

	quality := q.WebP
	if quality <= 0 {
		quality = e.DefaultQuality
	}
	if err := webp.Encode(w, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "webp.encode", err)
	}
	return nil
}
