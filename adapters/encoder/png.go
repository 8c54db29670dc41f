package encoder

import (
	"context"
	"image"
	"image/png"
	"io"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// PNG encodes images to PNG format.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, w io.Writer, img image.Image, q core.Quality) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "png.encode", err)
	}
	if img == nil {
		return apperrors.New(apperrors.CategoryResource, "png.encode", apperrors.ErrEmptyInput)
	}

	enc := &png.Encoder{CompressionLevel: CompressionLevel(q.PNG)}
	if err := enc.Encode(w, img); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "png.encode", err)
	}
	return nil
}

// CompressionLevel maps a zlib-style 0-9 level onto the four levels
// image/png exposes.
func CompressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
