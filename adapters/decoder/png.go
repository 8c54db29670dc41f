package decoder

import (
	"context"
	"image"
	"image/png"
	"io"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// PNG decodes PNG images using the standard library.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanDecode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "png.decode", err)
	}
	img, err := png.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "png.decode", err)
	}
	return img, nil
}
