package errors

import (
	"errors"
	"fmt"
	"sync"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	// CategoryConfig errors are fatal to a whole responsive pass.
	CategoryConfig     Category = "config"
	CategoryValidation Category = "validation"
	CategoryGeometry   Category = "geometry"
	// CategoryResource covers decode and encode failures of the raster backend.
	CategoryResource Category = "resource"
	CategoryIO       Category = "io"
	// CategoryPipeline marks shutdown and cancellation of a resize operation.
	CategoryPipeline Category = "pipeline"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category Category
	Op       string // operation name
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Newf creates a ProcessingError from a format string.
func Newf(category Category, op, format string, args ...interface{}) *ProcessingError {
	return New(category, op, fmt.Errorf(format, args...))
}

// Wrap wraps an existing error with context.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns err's category, or "" for foreign errors.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrEmptyInput        = errors.New("empty input")
	ErrInputTooSmall     = errors.New("input too small to cover without enlarging")
	ErrUpstreamFailure   = errors.New("shutdown due to an error upstream")
	ErrDestinationExists = errors.New("destination exists and overwrite is disabled")
	ErrNoDefaultSize     = errors.New("exactly one size must be marked default")
	ErrWorkerPoolFull    = errors.New("worker pool queue full")
)

// ── Accumulator ───────────────────────────────────────────────────────────────

// Accumulator is an ordered, sticky list of failures. Once non-empty it
// stays failed. Safe for concurrent use.
type Accumulator struct {
	mu   sync.Mutex
	errs []error
}

// Add appends err; nil is ignored.
func (a *Accumulator) Add(err error) {
	if err == nil {
		return
	}
	a.mu.Lock()
	a.errs = append(a.errs, err)
	a.mu.Unlock()
}

// Failed reports whether any error has been recorded.
func (a *Accumulator) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs) > 0
}

// Errors returns a copy of the recorded errors in order.
func (a *Accumulator) Errors() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.errs))
	copy(out, a.errs)
	return out
}

// Messages returns the error strings in order.
func (a *Accumulator) Messages() []string {
	errs := a.Errors()
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// Err joins every recorded error, or returns nil.
func (a *Accumulator) Err() error {
	return errors.Join(a.Errors()...)
}
