// Package raster is the pure-Go core.Raster backend: stdlib and x/image
// codecs from the registry, x/image/draw resampling and imaging for
// orientation and canvas fills.
package raster

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // registers DecodeConfig
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/Skryldev/image-responsive/adapters/decoder"
	"github.com/Skryldev/image-responsive/adapters/encoder"
	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/utils"
)

// Image is the Buffer produced by this backend.
type Image struct {
	img image.Image
}

// NewImage wraps img as a Buffer.
func NewImage(img image.Image) *Image { return &Image{img: img} }

func (i *Image) Width() int         { return i.img.Bounds().Dx() }
func (i *Image) Height() int        { return i.img.Bounds().Dy() }
func (i *Image) Image() image.Image { return i.img }

// Option configures a Backend.
type Option func(*Backend)

// WithInterpolator overrides the resampling kernel. Defaults to BiLinear.
func WithInterpolator(in xdraw.Interpolator) Option { return func(b *Backend) { b.interp = in } }

// WithMaxImageBytes rejects source files larger than n bytes (0 = no limit).
func WithMaxImageBytes(n int64) Option { return func(b *Backend) { b.maxBytes = n } }

// Backend implements core.Raster. Safe for concurrent use.
type Backend struct {
	reg      core.Registry
	interp   xdraw.Interpolator
	maxBytes int64
}

// New returns a Backend that decodes and encodes through reg.
func New(reg core.Registry, opts ...Option) *Backend {
	b := &Backend{reg: reg, interp: xdraw.BiLinear}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewRegistry returns a registry with the built-in JPEG, PNG, GIF and WebP
// codecs. q supplies encoder defaults.
func NewRegistry(q core.Quality) *core.DefaultRegistry {
	q = q.WithDefaults()
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatGIF, decoder.NewGIF())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(q.JPEG))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatGIF, encoder.NewGIF())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(q.WebP))
	return reg
}

// Probe reads the image header only.
func (b *Backend) Probe(ctx context.Context, path string) (core.ImageDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return core.ImageDescriptor{}, apperrors.Wrap(apperrors.CategoryPipeline, "raster.probe", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return core.ImageDescriptor{}, apperrors.Wrap(apperrors.CategoryIO, "raster.probe", err)
	}
	defer f.Close()

	cfg, name, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return core.ImageDescriptor{}, apperrors.Wrap(apperrors.CategoryResource, "raster.probe", err)
	}
	format := core.FormatFromPath(path)
	if format == core.FormatUnknown {
		format = core.ParseFormat(name)
	}
	return core.ImageDescriptor{Path: path, Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Decode reads desc.Path with the decoder registered for desc.Format.
func (b *Backend) Decode(ctx context.Context, desc core.ImageDescriptor) (core.Buffer, error) {
	dec, ok := b.reg.DecoderFor(desc.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryResource, "raster.decode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, desc.Format))
	}
	f, err := os.Open(desc.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "raster.decode", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if b.maxBytes > 0 {
		r = &utils.LimitedReader{R: r, Max: b.maxBytes}
	}
	img, err := dec.Decode(ctx, r)
	if err != nil {
		return nil, err
	}
	return &Image{img: img}, nil
}

// Orient flips, then rotates counter-clockwise.
func (b *Backend) Orient(ctx context.Context, buf core.Buffer, info core.OrientationInfo) (core.Buffer, error) {
	src, err := unwrap(buf, "raster.orient")
	if err != nil {
		return nil, err
	}
	if info.IsIdentity() {
		return buf, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "raster.orient", err)
	}

	img := src
	switch info.Flip {
	case core.FlipHorizontal:
		img = imaging.FlipH(img)
	case core.FlipVertical:
		img = imaging.FlipV(img)
	}
	switch info.Angle {
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	}
	return &Image{img: img}, nil
}

// NewCanvas allocates an NRGBA canvas initialised per bg.
func (b *Backend) NewCanvas(width, height int, bg core.Background) (core.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, apperrors.New(apperrors.CategoryResource, "raster.canvas",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, width, height))
	}
	var fill color.Color = color.Black
	switch bg.Mode {
	case core.BackgroundTransparent:
		fill = color.Transparent
	case core.BackgroundFill:
		fill = bg.Color
	}
	return &Image{img: imaging.New(width, height, fill)}, nil
}

// Resample scales the plan's source rectangle onto the whole of dst. The
// part of the rectangle that falls outside src keeps the canvas background.
func (b *Backend) Resample(ctx context.Context, dst, src core.Buffer, plan core.SamplingPlan) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "raster.resample", err)
	}
	s, err := unwrap(src, "raster.resample")
	if err != nil {
		return err
	}
	d, err := unwrap(dst, "raster.resample")
	if err != nil {
		return err
	}
	canvas, ok := d.(xdraw.Image)
	if !ok {
		return apperrors.New(apperrors.CategoryResource, "raster.resample",
			fmt.Errorf("destination %T is not drawable", d))
	}

	dr, sr, ok := Clip(plan, s.Bounds(), canvas.Bounds())
	if !ok {
		return nil
	}
	b.interp.Scale(canvas, dr, s, sr, xdraw.Over, nil)
	return nil
}

// Encode writes buf with the encoder registered for target.Format.
func (b *Backend) Encode(ctx context.Context, buf core.Buffer, target core.OutputTarget, w io.Writer) error {
	img, err := unwrap(buf, "raster.encode")
	if err != nil {
		return err
	}
	enc, ok := b.reg.EncoderFor(target.Format)
	if !ok {
		return apperrors.New(apperrors.CategoryResource, "raster.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, target.Format))
	}
	return enc.Encode(ctx, w, img, target.Quality)
}

// Release drops the pixel reference so the GC can reclaim it early.
func (b *Backend) Release(buf core.Buffer) {
	if i, ok := buf.(*Image); ok && i != nil {
		i.img = nil
	}
}

// Clip intersects the plan's source rectangle with srcBounds and maps the
// visible part onto dstBounds. ok is false when nothing is visible.
func Clip(plan core.SamplingPlan, srcBounds, dstBounds image.Rectangle) (dr, sr image.Rectangle, ok bool) {
	if plan.SourceWidth <= 0 || plan.SourceHeight <= 0 {
		return image.Rectangle{}, image.Rectangle{}, false
	}
	x0, y0 := plan.SourceX, plan.SourceY
	x1, y1 := x0+plan.SourceWidth, y0+plan.SourceHeight

	ix0 := math.Max(x0, 0)
	iy0 := math.Max(y0, 0)
	ix1 := math.Min(x1, float64(srcBounds.Dx()))
	iy1 := math.Min(y1, float64(srcBounds.Dy()))
	if ix1 <= ix0 || iy1 <= iy0 {
		return image.Rectangle{}, image.Rectangle{}, false
	}

	sx := float64(dstBounds.Dx()) / plan.SourceWidth
	sy := float64(dstBounds.Dy()) / plan.SourceHeight
	dr = image.Rect(
		int(math.Round((ix0-x0)*sx)), int(math.Round((iy0-y0)*sy)),
		int(math.Round((ix1-x0)*sx)), int(math.Round((iy1-y0)*sy)),
	).Add(dstBounds.Min).Intersect(dstBounds)
	sr = image.Rect(
		int(math.Floor(ix0)), int(math.Floor(iy0)),
		int(math.Ceil(ix1)), int(math.Ceil(iy1)),
	).Add(srcBounds.Min)
	if dr.Empty() || sr.Empty() {
		return image.Rectangle{}, image.Rectangle{}, false
	}
	return dr, sr, true
}

func unwrap(buf core.Buffer, op string) (image.Image, error) {
	i, ok := buf.(*Image)
	if !ok || i == nil || i.img == nil {
		return nil, apperrors.New(apperrors.CategoryResource, op,
			fmt.Errorf("%w: buffer %T was not produced by the Go raster backend", apperrors.ErrEmptyInput, buf))
	}
	return i.img, nil
}

var _ core.Raster = (*Backend)(nil)
