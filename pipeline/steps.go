package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/geometry"
	"github.com/Skryldev/image-responsive/orientation"
)

// run is the per-call state threaded through the steps.
type run struct {
	req Request
	acc apperrors.Accumulator

	desc        core.ImageDescriptor
	orientation core.OrientationInfo
	quality     core.Quality
	src         core.Buffer
	plan        core.SamplingPlan
	dst         core.Buffer
	target      core.OutputTarget
	bytes       int64
}

func (r *run) info() core.StepInfo {
	return core.StepInfo{
		OperationID: r.req.OperationID,
		Input:       r.req.Input,
		Output:      r.req.Output,
		Width:       r.plan.DestWidth,
		Height:      r.plan.DestHeight,
		Bytes:       r.bytes,
	}
}

func (r *run) release(raster core.Raster) {
	if r.src != nil {
		raster.Release(r.src)
		r.src = nil
	}
	if r.dst != nil {
		raster.Release(r.dst)
		r.dst = nil
	}
}

// ── Validate ──────────────────────────────────────────────────────────────────

func (o *Operation) validate(ctx context.Context, r *run) error {
	req := r.req
	fail := func(err error) error { return apperrors.Wrap(apperrors.CategoryValidation, StepValidate, err) }

	if req.Input == "" {
		return fail(fmt.Errorf("%w: input path", apperrors.ErrEmptyInput))
	}
	if f := core.FormatFromPath(req.Input); f == core.FormatUnknown {
		return fail(fmt.Errorf("%w: %s (expected one of %v)", apperrors.ErrUnsupportedFormat, req.Input, core.SupportedFormats))
	}
	if err := o.storage.CheckReadable(ctx, req.Input); err != nil {
		return fail(fmt.Errorf("input not readable: %w", err))
	}

	if req.Output == "" {
		return fail(fmt.Errorf("%w: output path", apperrors.ErrEmptyInput))
	}
	outFormat := core.FormatFromPath(req.Output)
	if outFormat == core.FormatUnknown {
		return fail(fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, req.Output))
	}
	exists, err := o.storage.Exists(ctx, req.Output)
	if err != nil {
		return err
	}
	if exists && !req.Overwrite {
		return fail(fmt.Errorf("%w: %s", apperrors.ErrDestinationExists, req.Output))
	}

	if req.Policy == nil {
		return fail(fmt.Errorf("no resize policy"))
	}
	if core.NeedsOutputSize(req.Policy) {
		if req.Width <= 0 || req.Height <= 0 {
			return fail(fmt.Errorf("%w: %s needs an output size, got %dx%d",
				apperrors.ErrInvalidDimensions, req.Policy, req.Width, req.Height))
		}
		if err := geometry.ValidateAnchor(req.Anchor); err != nil {
			return err
		}
	}

	q := req.Quality.WithDefaults()
	if err := q.Validate(); err != nil {
		return fail(err)
	}
	if req.AutoOrient && o.orient == nil {
		return fail(fmt.Errorf("auto-orient requested but no orientation reader is configured"))
	}

	desc, err := o.raster.Probe(ctx, req.Input)
	if err != nil {
		return err
	}
	r.desc = desc
	r.quality = q
	r.target = core.OutputTarget{Path: req.Output, Format: outFormat, Quality: q}
	return nil
}

// ── Decode ────────────────────────────────────────────────────────────────────

func (o *Operation) decode(ctx context.Context, r *run) error {
	buf, err := o.raster.Decode(ctx, r.desc)
	if err != nil {
		return err
	}
	r.src = buf

	if !r.req.AutoOrient {
		return nil
	}
	code, err := o.orient.ReadOrientation(ctx, r.req.Input)
	if err != nil {
		return err
	}
	r.orientation = orientation.Resolve(code)
	if r.orientation.IsIdentity() {
		return nil
	}

	oriented, err := o.raster.Orient(ctx, r.src, r.orientation)
	if err != nil {
		return err
	}
	if oriented != r.src {
		o.raster.Release(r.src)
		r.src = oriented
	}
	return nil
}

// ── Geometry ──────────────────────────────────────────────────────────────────

func (o *Operation) geometry(_ context.Context, r *run) error {
	plan, err := geometry.Plan(r.src.Width(), r.src.Height(), r.req.Width, r.req.Height, r.req.Policy, r.req.Anchor)
	if err != nil {
		return err
	}
	r.plan = plan
	return nil
}

// ── Resample ──────────────────────────────────────────────────────────────────

func (o *Operation) resample(ctx context.Context, r *run) error {
	dst, err := o.raster.NewCanvas(r.plan.DestWidth, r.plan.DestHeight, background(r.req, r.target.Format))
	if err != nil {
		return err
	}
	r.dst = dst
	return o.raster.Resample(ctx, r.dst, r.src, r.plan)
}

func background(req Request, f core.Format) core.Background {
	switch {
	case req.Fill != nil:
		return core.Background{Mode: core.BackgroundFill, Color: *req.Fill}
	case f.SupportsTransparency():
		return core.Background{Mode: core.BackgroundTransparent}
	}
	return core.Background{Mode: core.BackgroundNone}
}

// ── Save ──────────────────────────────────────────────────────────────────────

func (o *Operation) save(ctx context.Context, r *run) error {
	n, err := o.storage.Write(ctx, r.target.Path, func(w io.Writer) error {
		return o.raster.Encode(ctx, r.dst, r.target, w)
	})
	if err != nil {
		if apperrors.CategoryOf(err) == "" {
			return apperrors.Wrap(apperrors.CategoryIO, StepSave, err)
		}
		return err
	}
	r.bytes = n
	o.logger.Debug("resize.saved", "op", r.req.OperationID, "path", r.target.Path, "bytes", n)
	return nil
}

// ── Clean ─────────────────────────────────────────────────────────────────────

func (o *Operation) clean(_ context.Context, r *run) error {
	r.release(o.raster)
	return nil
}
