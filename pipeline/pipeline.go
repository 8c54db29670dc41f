// Package pipeline runs one resize operation as a linear sequence of steps:
// validate, decode, geometry, resample, save, clean. Each run owns a sticky
// error accumulator; once a step fails every later step is skipped and
// records a shutdown marker instead.
package pipeline

import (
	"context"
	"image/color"
	"time"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// Request describes a single resize. It is a plain value; an Operation never
// mutates it.
type Request struct {
	// OperationID is echoed to hooks and logs. Optional.
	OperationID string

	Input  string
	Output string

	Policy core.Policy
	// Width and Height are the requested output size for Cover and Crop.
	Width  int
	Height int
	Anchor core.Anchor

	Overwrite bool
	// Quality zero values fall back to core.DefaultQuality.
	Quality core.Quality
	// Fill floods the canvas before resampling. Nil selects a transparent
	// canvas for png and gif targets and opaque black otherwise.
	Fill *color.NRGBA
	// AutoOrient corrects the decoded pixels per the EXIF orientation tag.
	AutoOrient bool
}

// Result is the outcome of Operation.Run.
type Result struct {
	OK          bool
	Input       core.ImageDescriptor
	Orientation core.OrientationInfo
	Plan        core.SamplingPlan
	Output      core.OutputTarget
	Bytes       int64
	Timings     map[string]time.Duration
	// Errors holds the root cause first, then one shutdown marker for each
	// step that was skipped.
	Errors []error
}

// Messages returns the error strings in order.
func (r *Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		out[i] = err.Error()
	}
	return out
}

// Err returns the first recorded error, or nil on success.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// Operation executes resize requests. It holds collaborators only, so one
// Operation may serve concurrent Run calls.
type Operation struct {
	raster  core.Raster
	storage core.Storage
	orient  core.OrientationReader
	hooks   []core.Hook
	logger  core.Logger
}

// Option configures an Operation.
type Option func(*Operation)

// WithOrientationReader enables Request.AutoOrient.
func WithOrientationReader(r core.OrientationReader) Option {
	return func(o *Operation) { o.orient = r }
}

// WithHook registers an observer called around every executed step.
func WithHook(h core.Hook) Option { return func(o *Operation) { o.hooks = append(o.hooks, h) } }

func WithLogger(l core.Logger) Option { return func(o *Operation) { o.logger = l } }

// New returns an Operation backed by raster and storage.
func New(raster core.Raster, storage core.Storage, opts ...Option) *Operation {
	o := &Operation{raster: raster, storage: storage, logger: core.NopLogger{}}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// step is one state transition of a run.
type step struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (o *Operation) steps() []step {
	return []step{
		{StepValidate, o.validate},
		{StepDecode, o.decode},
		{StepGeometry, o.geometry},
		{StepResample, o.resample},
		{StepSave, o.save},
		{StepClean, o.clean},
	}
}

// Step names, in execution order.
const (
	StepValidate = "validate"
	StepDecode   = "decode"
	StepGeometry = "geometry"
	StepResample = "resample"
	StepSave     = "save"
	StepClean    = "clean"
)

// Run executes req. It never returns nil; inspect Result.OK.
func (o *Operation) Run(ctx context.Context, req Request) *Result {
	r := &run{req: req}
	defer r.release(o.raster)

	timings := make(map[string]time.Duration, 6)
	for _, st := range o.steps() {
		if r.acc.Failed() {
			r.acc.Add(apperrors.New(apperrors.CategoryPipeline, st.name, apperrors.ErrUpstreamFailure))
			continue
		}
		if err := ctx.Err(); err != nil {
			r.acc.Add(apperrors.Wrap(apperrors.CategoryPipeline, st.name, err))
			continue
		}

		o.callHooksBefore(ctx, st.name, r.info())
		start := time.Now()
		err := st.fn(ctx, r)
		elapsed := time.Since(start)
		timings[st.name] = elapsed
		o.callHooksAfter(ctx, st.name, r.info(), elapsed, err)

		if err != nil {
			r.acc.Add(err)
			o.logger.Debug("resize.step.failed", "op", req.OperationID, "step", st.name, "error", err.Error())
		}
	}

	return &Result{
		OK:          !r.acc.Failed(),
		Input:       r.desc,
		Orientation: r.orientation,
		Plan:        r.plan,
		Output:      r.target,
		Bytes:       r.bytes,
		Timings:     timings,
		Errors:      r.acc.Errors(),
	}
}

func (o *Operation) callHooksBefore(ctx context.Context, name string, info core.StepInfo) {
	for _, h := range o.hooks {
		h.BeforeStep(ctx, name, info)
	}
}

func (o *Operation) callHooksAfter(ctx context.Context, name string, info core.StepInfo, d time.Duration, err error) {
	for _, h := range o.hooks {
		h.AfterStep(ctx, name, info, d, err)
	}
}
