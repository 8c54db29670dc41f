package responsive_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skryldev/image-responsive/adapters/storage"
	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/pipeline"
	"github.com/Skryldev/image-responsive/responsive"
	"github.com/Skryldev/image-responsive/variant"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

// fakeResizer writes a placeholder file per request and counts calls.
type fakeResizer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	delay time.Duration

	// quality is the Quality of the last request.
	quality core.Quality
}

func newFakeResizer() *fakeResizer {
	return &fakeResizer{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeResizer) Run(_ context.Context, req pipeline.Request) *pipeline.Result {
	bm, _ := req.Policy.(core.BoundMax)
	f.mu.Lock()
	f.calls[fmt.Sprintf("%s@%d", req.Input, bm.MaxWidth)]++
	fail := f.fail[req.Input]
	f.quality = req.Quality
	f.mu.Unlock()

	time.Sleep(f.delay)
	if fail {
		return &pipeline.Result{Errors: []error{apperrors.New(apperrors.CategoryResource, "decode", errors.New("corrupt"))}}
	}
	if err := os.WriteFile(req.Output, []byte("variant"), 0o644); err != nil {
		return &pipeline.Result{Errors: []error{err}}
	}
	return &pipeline.Result{OK: true}
}

func (f *fakeResizer) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeProber map[string][2]int

func (p fakeProber) Probe(_ context.Context, path string) (core.ImageDescriptor, error) {
	d, ok := p[path]
	if !ok {
		return core.ImageDescriptor{}, errors.New("no such image")
	}
	return core.ImageDescriptor{Path: path, Width: d[0], Height: d[1], Format: core.FormatFromPath(path)}, nil
}

// resolver maps "/img/<name>" to "/src/<name>" for known names.
func resolver(known ...string) responsive.PathResolver {
	set := map[string]bool{}
	for _, k := range known {
		set[k] = true
	}
	return responsive.ResolverFunc(func(ref string) (string, bool) {
		name := strings.TrimPrefix(ref, "/img/")
		if !set[name] {
			return "", false
		}
		return "/src/" + name, true
	})
}

type fixture struct {
	root    string
	resizer *fakeResizer
	prober  fakeProber
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		root:    filepath.Join(t.TempDir(), "media"),
		resizer: newFakeResizer(),
		prober:  fakeProber{"/src/a.jpg": {1000, 500}, "/src/b.png": {200, 100}, "/src/zero.jpg": {0, 0}},
	}
}

func (f *fixture) config(mode responsive.Mode, sizes ...core.SizeSpec) responsive.Config {
	cfg := responsive.DefaultConfig()
	cfg.Mode = mode
	cfg.Sizes = sizes
	cfg.RootDir = f.root
	cfg.PublicPath = "/media/"
	cfg.Resolver = resolver("a.jpg", "b.png", "zero.jpg")
	cfg.Workers = 4
	return cfg
}

func (f *fixture) process(t *testing.T, cfg responsive.Config, in string) string {
	t.Helper()
	b := responsive.New(cfg, f.resizer, f.prober, storage.NewLocal(0, 0))
	out, err := b.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return out
}

func public(src string, width int) string {
	return "/media/" + variant.KeyFor(src, width).Filename(filepath.Ext(src))
}

var threeSizes = []core.SizeSpec{
	{Width: 400, Media: "(max-width: 500px)"},
	{Width: 800, Media: "(max-width: 1000px)"},
	{Width: 1200, Default: true},
}

// ── Modes ─────────────────────────────────────────────────────────────────────

func TestProcess_PictureMode(t *testing.T) {
	f := newFixture(t)
	out := f.process(t, f.config(responsive.ModePicture, threeSizes...), `<p><img src="/img/a.jpg" alt="A"></p>`)

	want := `<p><picture>` +
		`<source media="(max-width: 500px)" srcset="` + public("/src/a.jpg", 400) + `"/>` +
		`<source media="(max-width: 1000px)" srcset="` + public("/src/a.jpg", 800) + `"/>` +
		`<img src="/img/a.jpg" alt="A" width="1000" height="500" data-source="/img/a.jpg" data-compressed="1"/>` +
		`</picture></p>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
	if f.resizer.calls["/src/a.jpg@400"] != 1 || f.resizer.calls["/src/a.jpg@800"] != 1 || f.resizer.total() != 2 {
		t.Errorf("resize calls: %v", f.resizer.calls)
	}
	for _, w := range []int{400, 800} {
		name := variant.KeyFor("/src/a.jpg", w).Filename("jpg")
		if _, err := os.Stat(filepath.Join(f.root, name)); err != nil {
			t.Errorf("variant %d not written: %v", w, err)
		}
	}
}

func TestProcess_SrcsetWidthMode(t *testing.T) {
	f := newFixture(t)
	out := f.process(t, f.config(responsive.ModeSrcset, threeSizes...), `<img src="/img/a.jpg" alt="A">`)

	want := `<img src="/img/a.jpg" alt="A" width="1000" height="500" data-source="/img/a.jpg" data-compressed="1"` +
		` sizes="(max-width: 500px), (max-width: 1000px)"` +
		` srcset="` + public("/src/a.jpg", 400) + ` 400w, ` + public("/src/a.jpg", 800) + ` 800w, /img/a.jpg 1000w"/>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
}

func TestProcess_SrcsetMultiplierMode(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(responsive.ModeSrcset,
		core.SizeSpec{Width: 300, Media: "1x", Default: true},
		core.SizeSpec{Width: 600, Media: "2x"})
	cfg.Multiplier = true
	out := f.process(t, cfg, `<img src="/img/a.jpg">`)

	small, large := public("/src/a.jpg", 300), public("/src/a.jpg", 600)
	want := `<img src="` + small + `" width="1000" height="500" data-source="/img/a.jpg" data-compressed="1"` +
		` srcset="` + small + ` 1x, ` + large + ` 2x"/>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
	if strings.Contains(out, "sizes=") {
		t.Error("multiplier mode must not emit sizes")
	}
}

func TestProcess_SmallImageSkipsAlternates(t *testing.T) {
	f := newFixture(t)
	out := f.process(t, f.config(responsive.ModePicture, threeSizes...), `<img src="/img/b.png">`)

	want := `<picture><img src="/img/b.png" width="200" height="100" data-source="/img/b.png" data-compressed="1"/></picture>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
	if f.resizer.total() != 0 {
		t.Errorf("no resize expected, got %v", f.resizer.calls)
	}
}

// ── Cache ─────────────────────────────────────────────────────────────────────

func TestProcess_DeduplicatesWithinPass(t *testing.T) {
	f := newFixture(t)
	in := strings.Repeat(`<img src="/img/a.jpg">`, 5)
	out := f.process(t, f.config(responsive.ModePicture, threeSizes...), in)

	if f.resizer.total() != 2 {
		t.Errorf("want one resize per width, got %v", f.resizer.calls)
	}
	if n := strings.Count(out, public("/src/a.jpg", 400)); n != 5 {
		t.Errorf("each image must reference the shared variant, got %d", n)
	}
}

func TestProcess_ReusesVariantsOnDisk(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(responsive.ModePicture, threeSizes...)
	first := f.process(t, cfg, `<img src="/img/a.jpg">`)
	second := f.process(t, cfg, `<img src="/img/a.jpg">`)
	if first != second {
		t.Errorf("passes differ:\n%s\n%s", first, second)
	}
	if f.resizer.total() != 2 {
		t.Errorf("second pass must reuse files on disk, got %v", f.resizer.calls)
	}

	cfg.Overwrite = true
	f.process(t, cfg, `<img src="/img/a.jpg">`)
	if f.resizer.total() != 4 {
		t.Errorf("overwrite must regenerate, got %v", f.resizer.calls)
	}
}

func TestProcess_ConcurrentPassesShareVariants(t *testing.T) {
	f := newFixture(t)
	f.resizer.delay = 50 * time.Millisecond
	cfg := f.config(responsive.ModePicture,
		core.SizeSpec{Width: 400, Media: "(max-width: 500px)"},
		core.SizeSpec{Width: 0, Default: true})
	b := responsive.New(cfg, f.resizer, f.prober, storage.NewLocal(0, 0))

	outs := make([]string, 2)
	var wg sync.WaitGroup
	for i := range outs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := b.Process(context.Background(), `<img src="/img/a.jpg">`)
			if err != nil {
				t.Errorf("Process: %v", err)
			}
			outs[i] = out
		}()
	}
	wg.Wait()

	if n := f.resizer.calls["/src/a.jpg@400"]; n != 1 {
		t.Errorf("resizes of one variant across concurrent passes: got %d, want 1", n)
	}
	if outs[0] != outs[1] || !strings.Contains(outs[0], public("/src/a.jpg", 400)) {
		t.Errorf("passes differ or miss the variant:\n%s\n%s", outs[0], outs[1])
	}
}

func TestProcess_PartialQualityKeepsVariantDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   core.Quality
		want core.Quality
	}{
		{"unset", core.Quality{}, responsive.DefaultQuality()},
		{"jpeg only", core.Quality{JPEG: 80}, core.Quality{JPEG: 80, PNG: 9, WebP: 70}},
		{"png only", core.Quality{PNG: 3}, core.Quality{JPEG: 70, PNG: 3, WebP: 70}},
		{"all set", core.Quality{JPEG: 90, PNG: 1, WebP: 50}, core.Quality{JPEG: 90, PNG: 1, WebP: 50}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cfg := f.config(responsive.ModePicture, threeSizes...)
			cfg.Quality = tc.in
			if got := cfg.EffectiveQuality(); got != tc.want {
				t.Errorf("EffectiveQuality: got %+v, want %+v", got, tc.want)
			}
			f.process(t, cfg, `<img src="/img/a.jpg">`)
			if f.resizer.quality != tc.want {
				t.Errorf("resize quality: got %+v, want %+v", f.resizer.quality, tc.want)
			}
		})
	}
}

// ── Pass-through ──────────────────────────────────────────────────────────────

func TestProcess_LeavesUnusableImages(t *testing.T) {
	f := newFixture(t)
	in := `<p><img src="/img/missing.jpg" alt="x"><img src="/img/zero.jpg"><img src="https://cdn.example/a.jpg"></p>`
	out := f.process(t, f.config(responsive.ModePicture, threeSizes...), in)

	want := `<p><img src="/img/missing.jpg" alt="x"/><img src="/img/zero.jpg"/><img src="https://cdn.example/a.jpg"/></p>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
}

func TestProcess_ResizeFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	f.prober["/src/c.jpg"] = [2]int{2000, 1000}
	f.resizer.fail["/src/c.jpg"] = true
	cfg := f.config(responsive.ModePicture, threeSizes...)
	cfg.Resolver = resolver("a.jpg", "c.jpg")

	out := f.process(t, cfg, `<img src="/img/c.jpg" alt="broken"><img src="/img/a.jpg">`)
	if !strings.HasPrefix(out, `<img src="/img/c.jpg" alt="broken"/><picture>`) {
		t.Errorf("failed image must be kept and the pass must continue: %s", out)
	}
	if f.resizer.calls["/src/c.jpg@400"] != 1 {
		t.Errorf("failed key must be attempted once, got %v", f.resizer.calls)
	}
}

func TestProcess_AlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	processed := `<picture><source srcset="/media/old_400w.jpg"/>` +
		`<img src="/img/a.jpg" data-source="/img/a.jpg" data-compressed="1"/></picture>`

	cfg := f.config(responsive.ModePicture, threeSizes...)
	if out := f.process(t, cfg, processed); out != processed {
		t.Errorf("without overwrite the markup must be kept:\ngot  %s\nwant %s", out, processed)
	}
	if f.resizer.total() != 0 {
		t.Errorf("no resize expected, got %v", f.resizer.calls)
	}

	cfg.Overwrite = true
	out := f.process(t, cfg, processed)
	if strings.Count(out, "<picture>") != 1 || strings.Contains(out, "old_400w") {
		t.Errorf("overwrite must rebuild a single picture: %s", out)
	}
	if strings.Count(out, "<source") != 2 {
		t.Errorf("want two fresh sources: %s", out)
	}
}

func TestProcess_ProvenanceRederivesFromSource(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(responsive.ModeSrcset, threeSizes...)
	cfg.Overwrite = true
	out := f.process(t, cfg, `<img src="/media/whatever_400w.jpg" data-source="/img/a.jpg" data-compressed="1">`)
	if !strings.HasPrefix(out, `<img src="/img/a.jpg"`) {
		t.Errorf("src must come from data-source: %s", out)
	}
}

// ── Attribute rules ───────────────────────────────────────────────────────────

func TestProcess_AttributeRules(t *testing.T) {
	f := newFixture(t)
	cfg := f.config(responsive.ModePicture, threeSizes...)
	cfg.Attrs = []core.AttrRule{
		{Name: "loading", Value: "lazy"},
		{Name: "alt", Value: "fallback"},
		{Name: "class", Value: "img", Override: true},
		{Name: "title", Remove: true},
	}
	out := f.process(t, cfg, `<img src="/img/missing.jpg" alt="kept" class="old" title="t" srcset="x 1x">`)

	want := `<img src="/img/missing.jpg" alt="kept" class="img" loading="lazy"/>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
}

func TestConfig_Rules(t *testing.T) {
	cfg := responsive.DefaultConfig()
	cfg.Attrs = []core.AttrRule{{Name: "loading", Value: "lazy"}, {Name: "sizes", Value: "100vw"}}

	var names []string
	for _, r := range cfg.Rules() {
		names = append(names, fmt.Sprintf("%s:%t", r.Name, r.Remove))
	}
	if got := strings.Join(names, ","); got != "srcset:true,sizes:false,loading:false" {
		t.Errorf("picture rules: %s", got)
	}

	cfg.Mode = responsive.ModeSrcset
	if rules := cfg.Rules(); len(rules) != 2 || rules[0].Name != "loading" {
		t.Errorf("srcset rules: %+v", rules)
	}
}

// ── Errors ────────────────────────────────────────────────────────────────────

func TestProcess_ConfigErrors(t *testing.T) {
	f := newFixture(t)
	base := f.config(responsive.ModePicture, threeSizes...)

	tests := []struct {
		name    string
		mutate  func(*responsive.Config)
		content string
	}{
		{"empty content", func(*responsive.Config) {}, "  "},
		{"no sizes", func(c *responsive.Config) { c.Sizes = nil }, "<p/>"},
		{"no default", func(c *responsive.Config) { c.Sizes = threeSizes[:2] }, "<p/>"},
		{"two defaults", func(c *responsive.Config) {
			c.Sizes = []core.SizeSpec{{Width: 1, Default: true}, {Width: 2, Default: true}}
		}, "<p/>"},
		{"zero alternate width", func(c *responsive.Config) {
			c.Sizes = []core.SizeSpec{{Width: 0}, {Default: true}}
		}, "<p/>"},
		{"missing root", func(c *responsive.Config) { c.RootDir = "" }, "<p/>"},
		{"missing public path", func(c *responsive.Config) { c.PublicPath = "" }, "<p/>"},
		{"bad mode", func(c *responsive.Config) { c.Mode = "grid" }, "<p/>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			b := responsive.New(cfg, f.resizer, f.prober, storage.NewLocal(0, 0))
			_, err := b.Process(context.Background(), tc.content)
			if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
				t.Errorf("got %v, want config error", err)
			}
		})
	}
}

func TestProcess_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := responsive.New(f.config(responsive.ModePicture, threeSizes...), f.resizer, f.prober, storage.NewLocal(0, 0))
	_, err := b.Process(ctx, `<img src="/img/a.jpg">`)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if f.resizer.total() != 0 {
		t.Errorf("cancelled pass must not resize, got %v", f.resizer.calls)
	}
}
