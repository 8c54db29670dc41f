// Package responsive rewrites the images of an HTML fragment into responsive
// markup. Each resolvable <img> is resized to every configured width and
// re-emitted either as a <picture> with one <source> per alternate or as a
// single <img> carrying srcset.
package responsive

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/markup"
	"github.com/Skryldev/image-responsive/pipeline"
	"github.com/Skryldev/image-responsive/variant"
)

// Provenance attributes written on processed images.
const (
	AttrSource     = "data-source"
	AttrCompressed = "data-compressed"
)

// Resizer runs one resize. *pipeline.Operation implements it.
type Resizer interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Result
}

// Prober reads natural image dimensions. core.Raster implements it.
type Prober interface {
	Probe(ctx context.Context, path string) (core.ImageDescriptor, error)
}

// FS is the filesystem surface of a pass. *storage.Local implements it.
type FS interface {
	variant.Existence
	MkdirAll(dir string) error
}

// Builder runs responsive passes. A Builder is immutable and safe for
// concurrent Process calls. Each call gets its own variant cache; the caches
// share the Builder's flights, so concurrent passes resize a variant once.
type Builder struct {
	cfg     Config
	rules   []core.AttrRule
	resizer Resizer
	prober  Prober
	fs      FS
	cleaner *markup.Cleaner
	logger  core.Logger
	metrics core.MetricsCollector
	flights *variant.Flights
}

// Option configures a Builder.
type Option func(*Builder)

func WithLogger(l core.Logger) Option { return func(b *Builder) { b.logger = l } }

func WithMetrics(m core.MetricsCollector) Option { return func(b *Builder) { b.metrics = m } }

// WithFlights shares per-file production with other Builders.
func WithFlights(f *variant.Flights) Option { return func(b *Builder) { b.flights = f } }

// New returns a Builder. cfg is validated by Process, not here.
func New(cfg Config, resizer Resizer, prober Prober, fs FS, opts ...Option) *Builder {
	if cfg.Resolver == nil {
		cfg.Resolver = FileResolver{}
	}
	cfg.Quality = cfg.EffectiveQuality()
	cfg.Sizes = append([]core.SizeSpec(nil), cfg.Sizes...)
	b := &Builder{
		cfg:     cfg,
		rules:   cfg.Rules(),
		resizer: resizer,
		prober:  prober,
		fs:      fs,
		cleaner: markup.New(cfg.Markup),
		logger:  core.NopLogger{},
	}
	for _, o := range opts {
		o(b)
	}
	if b.flights == nil {
		b.flights = variant.NewFlights()
	}
	return b
}

// Config returns the configuration the Builder runs with.
func (b *Builder) Config() Config { return b.cfg }

// tagKind is the closed set of elements a pass rewrites.
type tagKind int

const (
	tagOther tagKind = iota
	tagPicture
	tagSource
	tagImage
)

func kindOf(n *html.Node) tagKind {
	if n.Type != html.ElementNode {
		return tagOther
	}
	switch n.Data {
	case "picture":
		return tagPicture
	case "source":
		return tagSource
	case "img":
		return tagImage
	}
	return tagOther
}

// image is one <img> scheduled for rewriting.
type image struct {
	node *html.Node
	// nested is set for an img kept inside an existing <picture>.
	nested bool
	repl   *html.Node
}

// Process rewrites every image of content and returns the new markup.
// Configuration problems abort the pass with a config error; a failed
// resize only leaves that image unchanged.
func (b *Builder) Process(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", apperrors.New(apperrors.CategoryConfig, "responsive.process", errors.New("html content must be provided"))
	}
	if err := b.cfg.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryPipeline, "responsive.process", err)
	}
	if err := b.fs.MkdirAll(b.cfg.RootDir); err != nil {
		return "", err
	}

	root, err := b.cleaner.Parse(content)
	if err != nil {
		return "", err
	}

	passID := uuid.NewString()
	images := b.structure(root)
	cache := variant.New(b.cfg.RootDir, b.cfg.PublicPath, b.cfg.Overwrite, b.fs,
		variant.WithMetrics(b.metrics), variant.WithFlights(b.flights))
	b.logger.Debug("responsive.pass.start", "pass", passID, "images", len(images), "mode", string(b.cfg.Mode))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.workers())
	for _, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img.repl = b.rewrite(gctx, passID, cache, img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", apperrors.Wrap(apperrors.CategoryPipeline, "responsive.process", err)
	}

	for _, img := range images {
		markup.Replace(img.node, img.repl)
	}
	out, err := b.cleaner.RenderString(root)
	if err != nil {
		return "", err
	}
	b.logger.Info("responsive.pass.done", "pass", passID, "images", len(images))
	return strings.TrimSpace(out), nil
}

// structure applies the overwrite rules to existing <picture> and <source>
// elements and collects the images to rewrite.
func (b *Builder) structure(root *html.Node) []*image {
	var pictures, sources []*html.Node
	var images []*image
	markup.Walk(root, func(n *html.Node) bool {
		switch kindOf(n) {
		case tagPicture:
			pictures = append(pictures, n)
		case tagSource:
			if n.Parent != nil && kindOf(n.Parent) == tagPicture {
				sources = append(sources, n)
			}
		case tagImage:
			images = append(images, &image{node: n})
		}
		return true
	})

	if b.cfg.Overwrite {
		for _, s := range sources {
			s.Parent.RemoveChild(s)
		}
		for _, p := range pictures {
			markup.Unwrap(p)
		}
		return images
	}
	for _, img := range images {
		img.nested = img.node.Parent != nil && kindOf(img.node.Parent) == tagPicture
	}
	return images
}

// candidate is one produced or reused rendition of an image.
type candidate struct {
	path  string
	width int
	media string
}

// rewrite builds the replacement for one image. It reads the original node
// only, so calls may run concurrently.
func (b *Builder) rewrite(ctx context.Context, passID string, cache *variant.Cache, img *image) *html.Node {
	attrs := markup.AttrsOf(img.node)
	keep := func() *html.Node { return markup.Element("img", ApplyRules(attrs, b.rules)) }

	src, _ := attrs.Get("src")
	dataSrc, _ := attrs.Get(AttrSource)
	compressed, _ := attrs.Get(AttrCompressed)

	if img.nested {
		return keep()
	}
	if !b.cfg.Overwrite && dataSrc != "" && truthy(compressed) {
		return keep()
	}
	if dataSrc != "" {
		src = dataSrc
	}

	path, ok := b.cfg.Resolver.Resolve(src)
	if !ok {
		b.logger.Debug("responsive.image.unresolved", "pass", passID, "src", src)
		return keep()
	}
	desc, err := b.prober.Probe(ctx, path)
	if err != nil || desc.Width <= 0 || desc.Height <= 0 {
		b.logger.Debug("responsive.image.unsized", "pass", passID, "src", src, "path", path)
		return keep()
	}

	var def candidate
	var alternates []candidate
	for _, s := range b.cfg.Sizes {
		if desc.Width <= s.Width && !s.Default {
			continue
		}
		c := candidate{width: s.Width, media: s.Media}
		if desc.Width > s.Width && s.Width > 0 {
			c.path, err = b.variant(ctx, passID, cache, path, s.Width)
			if err != nil {
				b.logger.Warn("responsive.image.resize_failed", "pass", passID, "src", src, "width", s.Width, "error", err.Error())
				return keep()
			}
		} else {
			c.width = desc.Width
			c.path = src
		}
		if s.Default {
			def = c
		} else {
			alternates = append(alternates, c)
		}
	}

	attrs = attrs.
		Set("width", strconv.Itoa(desc.Width)).
		Set("height", strconv.Itoa(desc.Height)).
		Set(AttrSource, src).
		Set(AttrCompressed, "1").
		Set("src", def.path)

	if b.cfg.Mode == ModeSrcset {
		return markup.Element("img", ApplyRules(b.srcset(attrs, def, alternates), b.rules))
	}

	children := make([]*html.Node, 0, len(alternates)+1)
	for _, a := range alternates {
		sa := markup.Attrs{}
		if a.media != "" {
			sa = sa.Set("media", a.media)
		}
		children = append(children, markup.Element("source", sa.Set("srcset", a.path)))
	}
	children = append(children, markup.Element("img", ApplyRules(attrs, b.rules)))
	return markup.Element("picture", nil, children...)
}

// srcset sets the srcset and sizes attributes. Width descriptors list the
// alternates then the default; multiplier descriptors list the default
// first and omit sizes.
func (b *Builder) srcset(attrs markup.Attrs, def candidate, alternates []candidate) markup.Attrs {
	attrs = attrs.Remove("srcset").Remove("sizes")

	var set, sizes []string
	if b.cfg.Multiplier {
		for _, c := range append([]candidate{def}, alternates...) {
			set = append(set, strings.TrimSpace(c.path+" "+c.media))
		}
	} else if len(alternates) > 0 {
		for _, c := range append(alternates, def) {
			set = append(set, c.path+" "+strconv.Itoa(c.width)+"w")
			if c.media != "" {
				sizes = append(sizes, c.media)
			}
		}
	}
	if len(sizes) > 0 {
		attrs = attrs.Set("sizes", strings.Join(sizes, ", "))
	}
	if len(set) > 0 {
		attrs = attrs.Set("srcset", strings.Join(set, ", "))
	}
	return attrs
}

// variant returns the public path of path resized to width, producing it
// at most once per pass.
func (b *Builder) variant(ctx context.Context, passID string, cache *variant.Cache, path string, width int) (string, error) {
	key := variant.KeyFor(path, width)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return cache.Resolve(ctx, key, ext, func(ctx context.Context, dest string) error {
		res := b.resizer.Run(ctx, pipeline.Request{
			OperationID: passID,
			Input:       path,
			Output:      dest,
			Policy:      core.BoundMax{MaxWidth: width},
			Overwrite:   true,
			Quality:     b.cfg.Quality,
			AutoOrient:  true,
		})
		if !res.OK {
			return errors.Join(res.Errors...)
		}
		return nil
	})
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
