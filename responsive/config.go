package responsive

import (
	"fmt"
	"runtime"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/markup"
)

// Mode selects the markup shape of a processed image.
type Mode string

const (
	// ModePicture wraps alternates in <source> elements inside <picture>.
	ModePicture Mode = "picture"
	// ModeSrcset emits a single <img> with srcset (and sizes).
	ModeSrcset Mode = "srcset"
)

// Config is the immutable description of a pass.
type Config struct {
	Sizes []core.SizeSpec
	Mode  Mode
	// Multiplier switches srcset descriptors from widths to the sizes' media
	// strings (e.g. "2x"). Ignored in picture mode.
	Multiplier bool
	// Overwrite regenerates variants already on disk and re-processes
	// images carrying provenance attributes.
	Overwrite bool

	// RootDir is where variants are written; PublicPath is the prefix
	// used for them in markup.
	RootDir    string
	PublicPath string

	// Resolver maps an img reference to a file. Nil uses FileResolver{}.
	Resolver PathResolver
	// Attrs are applied in order to every emitted img tag.
	Attrs []core.AttrRule

	Markup  markup.Options
	Quality core.Quality
	// Workers bounds concurrent resizes. Zero means runtime.NumCPU().
	Workers int
}

// DefaultQuality is the encoder quality of generated variants.
func DefaultQuality() core.Quality { return core.Quality{JPEG: 70, PNG: 9, WebP: 70} }

// EffectiveQuality fills each zero field of c.Quality from DefaultQuality.
// A zero PNG level counts as unset, so variants are never written as
// uncompressed PNG; level 1 is the lowest that can be requested.
func (c Config) EffectiveQuality() core.Quality {
	q, d := c.Quality, DefaultQuality()
	if q.JPEG == 0 {
		q.JPEG = d.JPEG
	}
	if q.PNG == 0 {
		q.PNG = d.PNG
	}
	if q.WebP == 0 {
		q.WebP = d.WebP
	}
	return q
}

// DefaultConfig returns a picture-mode configuration without sizes or paths.
func DefaultConfig() Config {
	return Config{
		Mode:    ModePicture,
		Markup:  markup.DefaultOptions(),
		Quality: DefaultQuality(),
		Workers: runtime.NumCPU(),
	}
}

// Validate reports the first configuration problem as a config error.
func (c Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return apperrors.Newf(apperrors.CategoryConfig, "responsive.config", format, args...)
	}
	if c.RootDir == "" {
		return fail("root directory must be provided")
	}
	if c.PublicPath == "" {
		return fail("public path must be provided")
	}
	if c.Mode != ModePicture && c.Mode != ModeSrcset {
		return fail("mode %q must be %s or %s", c.Mode, ModePicture, ModeSrcset)
	}
	if len(c.Sizes) == 0 {
		return fail("at least one size is required")
	}
	defaults := 0
	for i, s := range c.Sizes {
		if s.Default {
			defaults++
			if s.Width < 0 {
				return fail("size %d: width %d is negative", i, s.Width)
			}
			continue
		}
		if s.Width <= 0 {
			return fail("size %d: width must be positive for a non-default size", i)
		}
	}
	if defaults != 1 {
		return apperrors.New(apperrors.CategoryConfig, "responsive.config",
			fmt.Errorf("%w, got %d", apperrors.ErrNoDefaultSize, defaults))
	}
	if err := c.EffectiveQuality().Validate(); err != nil {
		return fail("%v", err)
	}
	if c.Workers < 0 {
		return fail("workers must not be negative")
	}
	for _, r := range c.Attrs {
		if r.Name == "" {
			return fail("attribute rule without a name")
		}
	}
	return nil
}

// Rules returns the effective attribute rules. Picture mode starts with
// implicit removals of srcset and sizes; a later rule for the same name
// replaces the earlier one in place.
func (c Config) Rules() []core.AttrRule {
	var rules []core.AttrRule
	if c.Mode == ModePicture {
		rules = append(rules,
			core.AttrRule{Name: "srcset", Remove: true},
			core.AttrRule{Name: "sizes", Remove: true})
	}
	for _, r := range c.Attrs {
		replaced := false
		for i := range rules {
			if rules[i].Name == r.Name {
				rules[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			rules = append(rules, r)
		}
	}
	return rules
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// ApplyRules rewrites attrs per rules: a remove rule deletes the attribute,
// otherwise the value is set when absent or when the rule overrides.
func ApplyRules(attrs markup.Attrs, rules []core.AttrRule) markup.Attrs {
	for _, r := range rules {
		if r.Remove {
			attrs = attrs.Remove(r.Name)
			continue
		}
		if r.Override || !attrs.Has(r.Name) {
			attrs = attrs.Set(r.Name, r.Value)
		}
	}
	return attrs
}
