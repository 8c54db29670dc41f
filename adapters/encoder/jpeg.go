// Package encoder provides format-specific image encoders.
package encoder

import (
	"context"
	"image"
	"image/jpeg"
	"io"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// JPEG encodes images to JPEG format.
type JPEG struct {
	DefaultQuality int // used when Quality.JPEG == 0
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = core.DefaultQuality().JPEG
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) CanEncode(format core.Format) bool { return format == core.FormatJPEG }

func (j *JPEG) Encode(ctx context.Context, w io.Writer, img image.Image, q core.Quality) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "jpeg.encode", err)
	}
	if img == nil {
		return apperrors.New(apperrors.CategoryResource, "jpeg.encode", apperrors.ErrEmptyInput)
	}

	quality := q.JPEG
	if quality <= 0 {
		quality = j.DefaultQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "jpeg.encode", err)
	}
	return nil
}
