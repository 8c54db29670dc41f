// Package vips is a libvips-powered core.Raster. It needs libvips at runtime;
// call Startup once before use and Shutdown at process exit.
package vips

import (
	"context"
	"fmt"
	"image"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-responsive/adapters/raster"
	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int
	ReportLeaks  bool
}

// Backend implements core.Raster on libvips.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.LoggingSettings(nil, govips.LogLevelWarning)
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

// ─── Image ────────────────────────────────────────────────────────────────────

// Image is the Buffer produced by this backend. A canvas starts without a
// ref and receives one from Resample.
type Image struct {
	ref  *govips.ImageRef
	w, h int
	bg   core.Background
}

func (v *Image) Width() int {
	if v.ref != nil {
		return v.ref.Width()
	}
	return v.w
}

func (v *Image) Height() int {
	if v.ref != nil {
		return v.ref.Height()
	}
	return v.h
}

// Ref exposes the underlying image for callers that need libvips directly.
func (v *Image) Ref() *govips.ImageRef { return v.ref }

// ─── Probe / Decode ───────────────────────────────────────────────────────────

func (b *Backend) Probe(ctx context.Context, path string) (core.ImageDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return core.ImageDescriptor{}, apperrors.Wrap(apperrors.CategoryPipeline, "vips.probe", err)
	}
	ref, err := govips.NewImageFromFile(path)
	if err != nil {
		return core.ImageDescriptor{}, apperrors.Wrap(apperrors.CategoryResource, "vips.probe", err)
	}
	defer ref.Close()

	format := core.FormatFromPath(path)
	if format == core.FormatUnknown {
		format = vipsFormatToCore(ref.Format())
	}
	return core.ImageDescriptor{Path: path, Width: ref.Width(), Height: ref.Height(), Format: format}, nil
}

func (b *Backend) Decode(ctx context.Context, desc core.ImageDescriptor) (core.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.decode", err)
	}
	ref, err := govips.NewImageFromFile(desc.Path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "vips.decode", err)
	}
	return &Image{ref: ref}, nil
}

// ─── Orient ───────────────────────────────────────────────────────────────────

// Orient flips, then rotates counter-clockwise. libvips rotates clockwise,
// so 90 and 270 swap.
func (b *Backend) Orient(ctx context.Context, buf core.Buffer, info core.OrientationInfo) (core.Buffer, error) {
	src, err := unwrap(buf, "vips.orient")
	if err != nil {
		return nil, err
	}
	if info.IsIdentity() {
		return buf, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "vips.orient", err)
	}

	ref, err := src.ref.Copy()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryResource, "vips.orient", err)
	}
	switch info.Flip {
	case core.FlipHorizontal:
		err = ref.Flip(govips.DirectionHorizontal)
	case core.FlipVertical:
		err = ref.Flip(govips.DirectionVertical)
	}
	if err == nil {
		switch info.Angle {
		case 90:
			err = ref.Rotate(govips.Angle270)
		case 180:
			err = ref.Rotate(govips.Angle180)
		case 270:
			err = ref.Rotate(govips.Angle90)
		}
	}
	if err != nil {
		ref.Close()
		return nil, apperrors.Wrap(apperrors.CategoryResource, "vips.orient", err)
	}
	return &Image{ref: ref}, nil
}

// ─── Canvas / Resample ────────────────────────────────────────────────────────

// NewCanvas records the size and background; pixels are produced by Resample.
func (b *Backend) NewCanvas(width, height int, bg core.Background) (core.Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, apperrors.New(apperrors.CategoryResource, "vips.canvas",
			fmt.Errorf("%w: %dx%d", apperrors.ErrInvalidDimensions, width, height))
	}
	return &Image{w: width, h: height, bg: bg}, nil
}

// Resample extracts the visible part of the plan's source rectangle, scales
// it and embeds it into the canvas at its offset.
func (b *Backend) Resample(ctx context.Context, dst, src core.Buffer, plan core.SamplingPlan) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "vips.resample", err)
	}
	s, err := unwrap(src, "vips.resample")
	if err != nil {
		return err
	}
	canvas, ok := dst.(*Image)
	if !ok || canvas == nil || canvas.ref != nil {
		return apperrors.New(apperrors.CategoryResource, "vips.resample",
			fmt.Errorf("destination %T is not an empty vips canvas", dst))
	}

	dr, sr, visible := raster.Clip(plan,
		image.Rect(0, 0, s.ref.Width(), s.ref.Height()),
		image.Rect(0, 0, canvas.w, canvas.h))
	// A canvas the plan never reaches is opaque black whatever the
	// background mode.
	if !visible {
		ref, err := govips.Black(canvas.w, canvas.h)
		if err != nil {
			return apperrors.Wrap(apperrors.CategoryResource, "vips.resample.black", err)
		}
		canvas.ref = ref
		return nil
	}

	ref, err := s.ref.Copy()
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "vips.resample", err)
	}
	if err := b.compose(ref, canvas, dr, sr); err != nil {
		ref.Close()
		return apperrors.Wrap(apperrors.CategoryResource, "vips.resample", err)
	}
	canvas.ref = ref
	return nil
}

func (b *Backend) compose(ref *govips.ImageRef, canvas *Image, dr, sr image.Rectangle) error {
	if err := ref.ExtractArea(sr.Min.X, sr.Min.Y, sr.Dx(), sr.Dy()); err != nil {
		return err
	}
	hs := float64(dr.Dx()) / float64(sr.Dx())
	vs := float64(dr.Dy()) / float64(sr.Dy())
	if hs != 1 || vs != 1 {
		if err := ref.ResizeWithVScale(hs, vs, govips.KernelLanczos3); err != nil {
			return err
		}
	}
	// Rounding inside libvips can overshoot the target by a pixel.
	if w, h := min(ref.Width(), dr.Dx()), min(ref.Height(), dr.Dy()); w != ref.Width() || h != ref.Height() {
		if err := ref.ExtractArea(0, 0, w, h); err != nil {
			return err
		}
	}

	if canvas.bg.Mode != core.BackgroundNone && !ref.HasAlpha() {
		if err := ref.AddAlpha(); err != nil {
			return err
		}
	}
	if err := ref.Embed(dr.Min.X, dr.Min.Y, canvas.w, canvas.h, govips.ExtendBlack); err != nil {
		return err
	}

	switch {
	case canvas.bg.Mode == core.BackgroundFill:
		// Flatten takes RGB only; the fill alpha is dropped.
		c := canvas.bg.Color
		return ref.Flatten(&govips.Color{R: c.R, G: c.G, B: c.B})
	case canvas.bg.Mode == core.BackgroundNone && ref.HasAlpha():
		return ref.Flatten(&govips.Color{})
	}
	return nil
}

// ─── Encode ───────────────────────────────────────────────────────────────────

func (b *Backend) Encode(ctx context.Context, buf core.Buffer, target core.OutputTarget, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, "vips.encode", err)
	}
	vi, err := unwrap(buf, "vips.encode")
	if err != nil {
		return err
	}
	q := target.Quality.WithDefaults()

	var data []byte
	switch target.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = q.JPEG
		data, _, err = vi.ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.Compression = q.PNG
		data, _, err = vi.ref.ExportPng(ep)
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = q.WebP
		data, _, err = vi.ref.ExportWebp(ep)
	default:
		return apperrors.New(apperrors.CategoryResource, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, target.Format))
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryResource, "vips.encode."+string(target.Format), err)
	}
	if _, err := w.Write(data); err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, "vips.encode.write", err)
	}
	return nil
}

func (b *Backend) Release(buf core.Buffer) {
	if vi, ok := buf.(*Image); ok && vi != nil && vi.ref != nil {
		vi.ref.Close()
		vi.ref = nil
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func unwrap(buf core.Buffer, op string) (*Image, error) {
	vi, ok := buf.(*Image)
	if !ok || vi == nil || vi.ref == nil {
		return nil, apperrors.New(apperrors.CategoryResource, op,
			fmt.Errorf("%w: buffer %T was not produced by the vips backend", apperrors.ErrEmptyInput, buf))
	}
	return vi, nil
}

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeGIF:
		return core.FormatGIF
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

// compile-time interface check
var _ core.Raster = (*Backend)(nil)
