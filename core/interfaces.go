package core

import (
	"context"
	"image"
	"io"
)

// Buffer is a decoded pixel buffer owned by a Raster implementation.
type Buffer interface {
	Width() int
	Height() int
}

// Raster is the pixel collaborator: decode, orient, canvas, resample, encode.
// Implementations live in adapters/raster (pure Go) and adapters/vips.
type Raster interface {
	// Probe reads dimensions without decoding pixel data.
	Probe(ctx context.Context, path string) (ImageDescriptor, error)
	Decode(ctx context.Context, desc ImageDescriptor) (Buffer, error)
	// Orient flips, then rotates counter-clockwise. It may return buf itself.
	Orient(ctx context.Context, buf Buffer, info OrientationInfo) (Buffer, error)
	NewCanvas(width, height int, bg Background) (Buffer, error)
	// Resample draws the plan's source rectangle of src over the whole of dst.
	// Source pixels outside src's bounds leave the canvas background intact.
	Resample(ctx context.Context, dst, src Buffer, plan SamplingPlan) error
	Encode(ctx context.Context, buf Buffer, target OutputTarget, w io.Writer) error
	Release(buf Buffer)
}

// OrientationReader extracts the raw EXIF orientation code of a file. Files
// without orientation metadata yield 0 and a nil error.
type OrientationReader interface {
	ReadOrientation(ctx context.Context, path string) (int, error)
}

// Decoder converts an encoded stream into pixels.
// Implementations live in adapters/decoder/.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (image.Image, error)
	CanDecode(format Format) bool
}

// Encoder serialises pixels in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, w io.Writer, img image.Image, q Quality) error
	CanEncode(format Format) bool
}

// Storage commits encoded output under its final name without ever exposing
// a partially written file there.
type Storage interface {
	// Write calls fill with a temporary destination next to path and
	// atomically renames it into place when fill succeeds. It returns the
	// number of bytes written.
	Write(ctx context.Context, path string, fill func(io.Writer) error) (int64, error)
	Exists(ctx context.Context, path string) (bool, error)
	// CheckReadable reports why path cannot be opened as a regular file.
	CheckReadable(ctx context.Context, path string) error
}

// MetricsCollector receives performance observations.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
	// RecordVariant counts variant cache outcomes: memory, disk, produced, failed.
	RecordVariant(outcome string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}
