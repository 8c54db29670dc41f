package encoder

import (
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// transparentPalette is the web-safe palette plus one fully transparent
// entry, so transparent canvases survive quantisation.
var transparentPalette = append(color.Palette{color.Transparent}, palette.WebSafe...)

// GIF encodes a single-frame GIF.
type GIF struct{}

func NewGIF() *GIF { return &GIF{} }

func (g *GIF) CanEncode(format core.Format) bool { return format == core.FormatGIF }

func (g *GIF) Encode(ctx context.Context, w io.Writer, img image.Image, _ core.Quality) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "gif.encode", err)
	}
	if img == nil {
		return apperrors.New(apperrors.CategoryResource, "gif.encode", apperrors.ErrEmptyInput)
	}

	opts := &gif.Options{NumColors: 256}
	if !isOpaque(img) {
		pm := image.NewPaletted(img.Bounds(), transparentPalette)
		draw.Draw(pm, pm.Rect, img, img.Bounds().Min, draw.Src)
		img = pm
	}
	if err := gif.Encode(w, img, opts); err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "gif.encode", err)
	}
	return nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return true
}
