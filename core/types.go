package core

import (
	"context"
	"fmt"
	"image/color"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Format identifies an image codec by its canonical file extension.
type Format string

const (
	FormatJPEG    Format = "jpg"
	FormatPNG     Format = "png"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// SupportedFormats lists every format the resize operation accepts, in the
// order they are reported to users.
var SupportedFormats = []Format{FormatJPEG, FormatPNG, FormatGIF, FormatWebP}

// ParseFormat maps an extension (with or without the leading dot, any case)
// to a Format. "jpeg" is normalised to "jpg".
func ParseFormat(ext string) Format {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "jpg", "jpeg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "gif":
		return FormatGIF
	case "webp":
		return FormatWebP
	}
	return FormatUnknown
}

// FormatFromPath returns the Format implied by path's extension.
func FormatFromPath(path string) Format { return ParseFormat(filepath.Ext(path)) }

// SupportsTransparency reports whether the format can carry an alpha channel
// that the resize operation preserves by default.
func (f Format) SupportsTransparency() bool { return f == FormatPNG || f == FormatGIF }

// ImageDescriptor describes a probed image file. Immutable once read.
type ImageDescriptor struct {
	Path   string
	Width  int
	Height int
	Format Format
}

// ── Resize policies ───────────────────────────────────────────────────────────

// Policy is one of Cover, Crop, FitAxis, BoundMax or Identity.
type Policy interface {
	policy()
	String() string
}

// Cover scales and crops so the output is fully covered by the source.
type Cover struct{ Enlarge bool }

// Crop scales to the smaller fitting ratio, then crops to the output size.
type Crop struct{ Enlarge bool }

// FitAxis scales to a single fixed axis. Exactly one of Width or Height must
// be set; zero means unset.
type FitAxis struct{ Width, Height int }

// BoundMax scales the dominant axis down to a bound, never upscaling. At
// least one of MaxWidth or MaxHeight must be set; zero means unset.
type BoundMax struct{ MaxWidth, MaxHeight int }

// Identity keeps the input dimensions.
type Identity struct{}

func (Cover) policy()    {}
func (Crop) policy()     {}
func (FitAxis) policy()  {}
func (BoundMax) policy() {}
func (Identity) policy() {}

func (p Cover) String() string    { return fmt.Sprintf("cover(enlarge=%t)", p.Enlarge) }
func (p Crop) String() string     { return fmt.Sprintf("crop(enlarge=%t)", p.Enlarge) }
func (p FitAxis) String() string  { return fmt.Sprintf("fit(w=%d,h=%d)", p.Width, p.Height) }
func (p BoundMax) String() string { return fmt.Sprintf("max(w=%d,h=%d)", p.MaxWidth, p.MaxHeight) }
func (Identity) String() string   { return "identity" }

// NeedsOutputSize reports whether the policy reads the requested output
// dimensions rather than deriving them.
func NeedsOutputSize(p Policy) bool {
	switch p.(type) {
	case Cover, Crop:
		return true
	}
	return false
}

// ── Anchor ────────────────────────────────────────────────────────────────────

// AnchorToken is a symbolic anchor position.
type AnchorToken string

const (
	AnchorLeft   AnchorToken = "LEFT"
	AnchorCenter AnchorToken = "CENTER"
	AnchorRight  AnchorToken = "RIGHT"
	AnchorTop    AnchorToken = "TOP"
	AnchorMiddle AnchorToken = "MIDDLE"
	AnchorBottom AnchorToken = "BOTTOM"
)

// Coordinate is either a numeric offset (Token empty) or a symbolic token.
type Coordinate struct {
	Token  AnchorToken
	Offset float64
}

// At returns a numeric coordinate.
func At(v float64) Coordinate { return Coordinate{Offset: v} }

// Symbol returns a symbolic coordinate.
func Symbol(t AnchorToken) Coordinate { return Coordinate{Token: t} }

// IsSymbolic reports whether c must be resolved before use.
func (c Coordinate) IsSymbolic() bool { return c.Token != "" }

func (c Coordinate) String() string {
	if c.IsSymbolic() {
		return string(c.Token)
	}
	return strconv.FormatFloat(c.Offset, 'f', -1, 64)
}

// ParseCoordinate accepts a token name (any case) or a decimal number.
func ParseCoordinate(s string) (Coordinate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Coordinate{}, fmt.Errorf("empty anchor")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return At(v), nil
	}
	return Symbol(AnchorToken(strings.ToUpper(s))), nil
}

// Anchor is the top-left sampling point in the source image.
type Anchor struct{ X, Y Coordinate }

// DefaultAnchor centres horizontally and pins to the top edge.
func DefaultAnchor() Anchor { return Anchor{X: Symbol(AnchorCenter), Y: At(0)} }

// SamplingPlan is the result of a geometry computation. It is consumed once
// by the resample step and never mutated.
type SamplingPlan struct {
	Ratio        float64
	SourceWidth  float64
	SourceHeight float64
	SourceX      float64
	SourceY      float64
	DestWidth    int
	DestHeight   int
}

// ── Output ────────────────────────────────────────────────────────────────────

// Quality carries per-format encoder parameters. JPEG and WebP are 1-100
// quality values; PNG is a 0-9 compression level.
type Quality struct {
	JPEG int `yaml:"jpeg"`
	PNG  int `yaml:"png"`
	WebP int `yaml:"webp"`
}

// DefaultQuality returns the resize operation defaults.
func DefaultQuality() Quality { return Quality{JPEG: 60, PNG: 0, WebP: 80} }

// WithDefaults fills unset JPEG and WebP values. PNG 0 is a real level and
// equals the default.
func (q Quality) WithDefaults() Quality {
	d := DefaultQuality()
	if q.JPEG == 0 {
		q.JPEG = d.JPEG
	}
	if q.WebP == 0 {
		q.WebP = d.WebP
	}
	return q
}

// Validate checks every field is within its codec's range.
func (q Quality) Validate() error {
	if q.JPEG < 1 || q.JPEG > 100 {
		return fmt.Errorf("jpeg quality %d out of range 1-100", q.JPEG)
	}
	if q.PNG < 0 || q.PNG > 9 {
		return fmt.Errorf("png compression %d out of range 0-9", q.PNG)
	}
	if q.WebP < 1 || q.WebP > 100 {
		return fmt.Errorf("webp quality %d out of range 1-100", q.WebP)
	}
	return nil
}

// For returns the parameter relevant to f.
func (q Quality) For(f Format) int {
	switch f {
	case FormatJPEG:
		return q.JPEG
	case FormatPNG:
		return q.PNG
	case FormatWebP:
		return q.WebP
	}
	return 0
}

// OutputTarget describes where and how a result is encoded.
type OutputTarget struct {
	Path    string
	Format  Format
	Quality Quality
}

// BackgroundMode selects how a destination canvas is initialised.
type BackgroundMode int

const (
	BackgroundNone BackgroundMode = iota // opaque black
	BackgroundTransparent
	BackgroundFill
)

// Background configures a destination canvas.
type Background struct {
	Mode  BackgroundMode
	Color color.NRGBA
}

// ── Orientation ───────────────────────────────────────────────────────────────

// FlipAxis is the mirror applied before rotation.
type FlipAxis int

const (
	FlipNone FlipAxis = iota
	FlipHorizontal
	FlipVertical
)

func (f FlipAxis) String() string {
	switch f {
	case FlipHorizontal:
		return "horizontal"
	case FlipVertical:
		return "vertical"
	}
	return "none"
}

// OrientationInfo is the correction implied by an EXIF orientation code.
// Angle is counter-clockwise degrees; the flip is applied first.
type OrientationInfo struct {
	RawCode int
	Angle   int
	Flip    FlipAxis
}

// IsIdentity reports whether no correction is needed.
func (o OrientationInfo) IsIdentity() bool { return o.Angle == 0 && o.Flip == FlipNone }

// SwapsAxes reports whether width and height trade places.
func (o OrientationInfo) SwapsAxes() bool { return o.Angle == 90 || o.Angle == 270 }

// ── Responsive ────────────────────────────────────────────────────────────────

// SizeSpec is one target width in a responsive pass.
type SizeSpec struct {
	Width   int    `yaml:"width"`
	Media   string `yaml:"media"`
	Default bool   `yaml:"default"`
}

// AttrRule rewrites one attribute of a rendered image tag.
type AttrRule struct {
	Name     string `yaml:"name"`
	Value    string `yaml:"value"`
	Override bool   `yaml:"override"`
	Remove   bool   `yaml:"remove"`
}

// ── Hooks ─────────────────────────────────────────────────────────────────────

// StepInfo describes the operation a hook is observing.
type StepInfo struct {
	OperationID string
	Input       string
	Output      string
	Width       int
	Height      int
	Bytes       int64
}

// Hook is an optional observer invoked around resize operation steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, info StepInfo)
	AfterStep(ctx context.Context, stepName string, info StepInfo, d time.Duration, err error)
}
