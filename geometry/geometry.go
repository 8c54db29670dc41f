// Package geometry turns a resize policy and input/output dimensions into a
// SamplingPlan. Every function here is pure.
package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
)

// Plan computes the sampling rectangle for policy. outW and outH are only
// read by Cover and Crop; the other policies derive the output size. The
// anchor applies to Cover and Crop only.
func Plan(inW, inH, outW, outH int, policy core.Policy, anchor core.Anchor) (core.SamplingPlan, error) {
	if inW <= 0 || inH <= 0 {
		return core.SamplingPlan{}, apperrors.New(apperrors.CategoryGeometry, "geometry.plan",
			fmt.Errorf("%w: input %dx%d", apperrors.ErrInvalidDimensions, inW, inH))
	}

	switch p := policy.(type) {
	case core.Cover:
		return cover(inW, inH, outW, outH, p, anchor)
	case core.Crop:
		return crop(inW, inH, outW, outH, p, anchor)
	case core.FitAxis:
		return fitAxis(inW, inH, p)
	case core.BoundMax:
		return boundMax(inW, inH, p)
	case core.Identity:
		return Identity(inW, inH), nil
	case nil:
		return core.SamplingPlan{}, apperrors.New(apperrors.CategoryValidation, "geometry.plan",
			fmt.Errorf("no resize policy"))
	default:
		return core.SamplingPlan{}, apperrors.New(apperrors.CategoryValidation, "geometry.plan",
			fmt.Errorf("unknown resize policy %T", policy))
	}
}

// Identity keeps the input size and samples the whole input.
func Identity(inW, inH int) core.SamplingPlan {
	return core.SamplingPlan{
		Ratio:        1,
		SourceWidth:  float64(inW),
		SourceHeight: float64(inH),
		DestWidth:    inW,
		DestHeight:   inH,
	}
}

func cover(inW, inH, outW, outH int, p core.Cover, anchor core.Anchor) (core.SamplingPlan, error) {
	if outW <= 0 || outH <= 0 {
		return core.SamplingPlan{}, outputSizeError("geometry.cover", outW, outH)
	}
	if !p.Enlarge && (inW < outW || inH < outH) {
		return core.SamplingPlan{}, apperrors.New(apperrors.CategoryGeometry, "geometry.cover",
			fmt.Errorf("%w: input %dx%d, output %dx%d", apperrors.ErrInputTooSmall, inW, inH, outW, outH))
	}
	ratio := math.Max(float64(outW)/float64(inW), float64(outH)/float64(inH))
	return anchored(inW, inH, outW, outH, ratio, anchor, "geometry.cover")
}

func crop(inW, inH, outW, outH int, p core.Crop, anchor core.Anchor) (core.SamplingPlan, error) {
	if outW <= 0 || outH <= 0 {
		return core.SamplingPlan{}, outputSizeError("geometry.crop", outW, outH)
	}
	ratio := 1.0
	if p.Enlarge || (inW >= outW && inH >= outH) {
		ratio = math.Min(float64(outW)/float64(inW), float64(outH)/float64(inH))
	}
	return anchored(inW, inH, outW, outH, ratio, anchor, "geometry.crop")
}

func anchored(inW, inH, outW, outH int, ratio float64, anchor core.Anchor, op string) (core.SamplingPlan, error) {
	x, y, err := ResolveAnchor(anchor, inW, inH, outW, outH, ratio)
	if err != nil {
		return core.SamplingPlan{}, apperrors.Wrap(apperrors.CategoryGeometry, op, err)
	}
	return core.SamplingPlan{
		Ratio:        ratio,
		SourceWidth:  float64(outW) / ratio,
		SourceHeight: float64(outH) / ratio,
		SourceX:      x,
		SourceY:      y,
		DestWidth:    outW,
		DestHeight:   outH,
	}, nil
}

func fitAxis(inW, inH int, p core.FitAxis) (core.SamplingPlan, error) {
	switch {
	case p.Width > 0 && p.Height > 0:
		return core.SamplingPlan{}, apperrors.New(apperrors.CategoryValidation, "geometry.fit",
			fmt.Errorf("width and height are exclusive, got %dx%d", p.Width, p.Height))
	case p.Width > 0:
		ratio := float64(p.Width) / float64(inW)
		return whole(inW, inH, p.Width, roundDim(float64(inH)*ratio), ratio), nil
	case p.Height > 0:
		ratio := float64(p.Height) / float64(inH)
		return whole(inW, inH, roundDim(float64(inW)*ratio), p.Height, ratio), nil
	}
	return core.SamplingPlan{}, apperrors.New(apperrors.CategoryValidation, "geometry.fit",
		fmt.Errorf("one of width or height is required"))
}

func boundMax(inW, inH int, p core.BoundMax) (core.SamplingPlan, error) {
	if p.MaxWidth <= 0 && p.MaxHeight <= 0 {
		return core.SamplingPlan{}, apperrors.New(apperrors.CategoryValidation, "geometry.max",
			fmt.Errorf("width or height needed"))
	}
	if inW > inH {
		if p.MaxWidth <= 0 || p.MaxWidth >= inW {
			return Identity(inW, inH), nil
		}
		ratio := float64(p.MaxWidth) / float64(inW)
		return whole(inW, inH, p.MaxWidth, roundDim(float64(inH)*ratio), ratio), nil
	}
	if p.MaxHeight <= 0 || p.MaxHeight >= inH {
		return Identity(inW, inH), nil
	}
	ratio := float64(p.MaxHeight) / float64(inH)
	return whole(inW, inH, roundDim(float64(inW)*ratio), p.MaxHeight, ratio), nil
}

func whole(inW, inH, outW, outH int, ratio float64) core.SamplingPlan {
	return core.SamplingPlan{
		Ratio:        ratio,
		SourceWidth:  float64(inW),
		SourceHeight: float64(inH),
		DestWidth:    outW,
		DestHeight:   outH,
	}
}

// ResolveAnchor turns a into numeric source offsets. Every dimension and the
// ratio must be non-zero.
func ResolveAnchor(a core.Anchor, inW, inH, outW, outH int, ratio float64) (x, y float64, err error) {
	var missing []string
	for _, c := range []struct {
		name string
		zero bool
	}{
		{"input width", inW == 0},
		{"input height", inH == 0},
		{"output width", outW == 0},
		{"output height", outH == 0},
		{"ratio", ratio == 0},
	} {
		if c.zero {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return 0, 0, fmt.Errorf("%w: anchor needs %s", apperrors.ErrInvalidDimensions, strings.Join(missing, ", "))
	}

	x, err = resolveAxis(a.X, core.AnchorLeft, core.AnchorCenter, core.AnchorRight, float64(inW), float64(outW)/ratio)
	if err != nil {
		return 0, 0, err
	}
	y, err = resolveAxis(a.Y, core.AnchorTop, core.AnchorMiddle, core.AnchorBottom, float64(inH), float64(outH)/ratio)
	return x, y, err
}

func resolveAxis(c core.Coordinate, start, mid, end core.AnchorToken, in, span float64) (float64, error) {
	if !c.IsSymbolic() {
		return c.Offset, nil
	}
	switch c.Token {
	case start:
		return 0, nil
	case mid:
		return (in - span) / 2, nil
	case end:
		return in - span, nil
	}
	return 0, fmt.Errorf("anchor %q must be %s, %s, %s or numeric", c.Token, start, mid, end)
}

// ValidateAnchor checks symbolic tokens belong to their axis.
func ValidateAnchor(a core.Anchor) error {
	if _, err := resolveAxis(a.X, core.AnchorLeft, core.AnchorCenter, core.AnchorRight, 1, 1); err != nil {
		return apperrors.Wrap(apperrors.CategoryValidation, "geometry.anchor", err)
	}
	if _, err := resolveAxis(a.Y, core.AnchorTop, core.AnchorMiddle, core.AnchorBottom, 1, 1); err != nil {
		return apperrors.Wrap(apperrors.CategoryValidation, "geometry.anchor", err)
	}
	return nil
}

func outputSizeError(op string, w, h int) error {
	return apperrors.New(apperrors.CategoryValidation, op,
		fmt.Errorf("%w: output size %dx%d", apperrors.ErrInvalidDimensions, w, h))
}

func roundDim(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}
