package imageresponsive_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	imageresponsive "github.com/Skryldev/image-responsive"
	"github.com/Skryldev/image-responsive/config"
	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/hooks"
	"github.com/Skryldev/image-responsive/pipeline"
	"github.com/Skryldev/image-responsive/variant"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, fill(w, h, color.NRGBA{R: 200, G: 50, B: 50, A: 255}), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return path
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, fill(w, h, color.NRGBA{R: 50, G: 50, B: 200, A: 255})); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return path
}

func newProc(t *testing.T, mutate func(*config.Config), opts ...imageresponsive.Option) *imageresponsive.Processor {
	t.Helper()
	cfg := imageresponsive.DefaultConfig()
	cfg.Workers = 2
	cfg.QueueSize = 16
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := imageresponsive.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func probe(t *testing.T, p *imageresponsive.Processor, path string) core.ImageDescriptor {
	t.Helper()
	desc, err := p.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe(%s): %v", path, err)
	}
	return desc
}

// ── Resize ────────────────────────────────────────────────────────────────────

func TestResize_JPEG_BoundMax(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, nil)
	in := writeJPEG(t, dir, "in.jpg", 800, 600)
	out := filepath.Join(dir, "out", "small.jpg")

	res := proc.Resize(context.Background(), pipeline.Request{
		Input:  in,
		Output: out,
		Policy: core.BoundMax{MaxWidth: 400},
	})
	if !res.OK {
		t.Fatalf("Resize failed: %v", res.Messages())
	}
	// Aspect ratio: 800x600 → 400x300
	if got := probe(t, proc, out); got.Width != 400 || got.Height != 300 {
		t.Errorf("output: got %dx%d, want 400x300", got.Width, got.Height)
	}
	if res.Output.Quality.JPEG != 60 {
		t.Errorf("configured quality not applied: %+v", res.Output.Quality)
	}
	if processed, failed := proc.Stats(); processed != 1 || failed != 0 {
		t.Errorf("stats: processed=%d failed=%d", processed, failed)
	}
}

func TestResize_PNG_Cover(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, nil)
	in := writePNG(t, dir, "wide.png", 200, 100)
	out := filepath.Join(dir, "thumb.webp")

	res := proc.Resize(context.Background(), pipeline.Request{
		Input:  in,
		Output: out,
		Policy: core.Cover{},
		Width:  50,
		Height: 50,
		Anchor: core.DefaultAnchor(),
	})
	if !res.OK {
		t.Fatalf("Resize failed: %v", res.Messages())
	}
	if got := probe(t, proc, out); got.Width != 50 || got.Height != 50 || got.Format != core.FormatWebP {
		t.Errorf("output: %+v", got)
	}
}

func TestResize_FailureIsCounted(t *testing.T) {
	proc := newProc(t, nil)
	res := proc.Resize(context.Background(), pipeline.Request{
		Input:  filepath.Join(t.TempDir(), "missing.jpg"),
		Output: filepath.Join(t.TempDir(), "out.jpg"),
		Policy: core.Identity{},
	})
	if res.OK {
		t.Fatal("expected failure")
	}
	if !apperrors.IsCategory(res.Err(), apperrors.CategoryValidation) {
		t.Errorf("root cause: %v", res.Err())
	}
	if _, failed := proc.Stats(); failed != 1 {
		t.Errorf("failed count: got %d, want 1", failed)
	}
}

func TestBatch_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, nil)
	in := writeJPEG(t, dir, "in.jpg", 300, 200)

	reqs := []pipeline.Request{
		{Input: in, Output: filepath.Join(dir, "a.jpg"), Policy: core.FitAxis{Width: 150}},
		{Input: in, Output: filepath.Join(dir, "b.txt"), Policy: core.Identity{}},
		{Input: in, Output: filepath.Join(dir, "c.png"), Policy: core.FitAxis{Height: 50}},
	}
	results := proc.Batch(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].OK || results[1].OK || !results[2].OK {
		t.Fatalf("outcomes: %v %v %v", results[0].OK, results[1].OK, results[2].OK)
	}
	if results[0].Plan.DestHeight != 100 || results[2].Plan.DestWidth != 75 {
		t.Errorf("plans: %+v / %+v", results[0].Plan, results[2].Plan)
	}
}

// ── Worker pool ───────────────────────────────────────────────────────────────

func TestSubmit_Async(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, nil)
	proc.Start()
	t.Cleanup(proc.Stop)
	in := writeJPEG(t, dir, "in.jpg", 100, 100)

	resultCh := make(chan imageresponsive.JobResult, 1)
	id, err := proc.Submit(imageresponsive.Job{
		Ctx:      context.Background(),
		Request:  pipeline.Request{Input: in, Output: filepath.Join(dir, "out.jpg"), Policy: core.FitAxis{Width: 50}},
		ResultCh: resultCh,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.JobID != id {
			t.Errorf("job id: got %q, want %q", res.JobID, id)
		}
		if !res.Result.OK {
			t.Fatalf("async job error: %v", res.Result.Messages())
		}
		if res.Result.Plan.DestWidth != 50 {
			t.Errorf("async width: got %d, want 50", res.Result.Plan.DestWidth)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async job timed out")
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	proc := newProc(t, func(c *config.Config) { c.QueueSize = 1 })
	// workers are not started, so the queue never drains
	if _, err := proc.Submit(imageresponsive.Job{}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := proc.Submit(imageresponsive.Job{})
	if !errors.Is(err, apperrors.ErrWorkerPoolFull) {
		t.Errorf("got %v, want ErrWorkerPoolFull", err)
	}
}

func TestStop_DrainsQueue(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, nil)
	in := writeJPEG(t, dir, "in.jpg", 40, 40)

	resultCh := make(chan imageresponsive.JobResult, 3)
	for i := 0; i < 3; i++ {
		_, err := proc.Submit(imageresponsive.Job{
			Request:  pipeline.Request{Input: in, Output: filepath.Join(dir, "out.jpg"), Policy: core.Identity{}, Overwrite: true},
			ResultCh: resultCh,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	proc.Start()
	proc.Stop()
	if len(resultCh) != 3 {
		t.Errorf("drained %d jobs, want 3", len(resultCh))
	}
	if _, err := proc.Submit(imageresponsive.Job{}); err == nil {
		t.Error("Submit after Stop should fail")
	}
}

// ── Construction ──────────────────────────────────────────────────────────────

func TestStop_RunsQueuedJobsWithoutStart(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, nil)
	in := writeJPEG(t, dir, "in.jpg", 40, 20)

	resultCh := make(chan imageresponsive.JobResult, 1)
	id, err := proc.Submit(imageresponsive.Job{
		Request:  pipeline.Request{Input: in, Output: filepath.Join(dir, "out.jpg"), Policy: core.Identity{}, Overwrite: true},
		ResultCh: resultCh,
	})
	if err != nil {
		t.Fatal(err)
	}
	proc.Stop()

	select {
	case r := <-resultCh:
		if r.JobID != id || !r.Result.OK {
			t.Errorf("result: id=%s ok=%t errors=%v", r.JobID, r.Result.OK, r.Result.Messages())
		}
	default:
		t.Fatal("queued job produced no result after Stop")
	}
	proc.Start()
	if _, err := proc.Submit(imageresponsive.Job{}); err == nil {
		t.Error("Submit after Stop should fail")
	}
}

func TestStop_ConcurrentSubmitLosesNoJob(t *testing.T) {
	dir := t.TempDir()
	proc := newProc(t, func(c *config.Config) { c.QueueSize = 64 })
	in := writeJPEG(t, dir, "in.jpg", 8, 8)
	proc.Start()

	const n = 32
	resultCh := make(chan imageresponsive.JobResult, n)
	var mu sync.Mutex
	ids := map[string]bool{}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := proc.Submit(imageresponsive.Job{
				Request:  pipeline.Request{Input: in, Output: filepath.Join(dir, "out.jpg"), Policy: core.Identity{}, Overwrite: true},
				ResultCh: resultCh,
			})
			if err != nil {
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	proc.Stop()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(resultCh) != len(ids) {
		t.Fatalf("accepted %d jobs, delivered %d results", len(ids), len(resultCh))
	}
	for len(resultCh) > 0 {
		r := <-resultCh
		if !ids[r.JobID] {
			t.Errorf("unexpected result for job %s", r.JobID)
		}
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := imageresponsive.DefaultConfig()
	cfg.Backend = config.BackendVips
	if _, err := imageresponsive.New(cfg); !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Errorf("vips without raster: got %v, want config error", err)
	}

	cfg = imageresponsive.DefaultConfig()
	cfg.QueueSize = 0
	if _, err := imageresponsive.New(cfg); !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Errorf("invalid config: got %v, want config error", err)
	}
}

// ── Hooks / metrics ───────────────────────────────────────────────────────────

func TestMetricsWiring(t *testing.T) {
	dir := t.TempDir()
	m := hooks.NewInMemoryMetrics()
	proc := newProc(t, nil, imageresponsive.WithMetrics(m))
	in := writePNG(t, dir, "in.png", 64, 64)

	res := proc.Resize(context.Background(), pipeline.Request{
		Input: in, Output: filepath.Join(dir, "out.png"), Policy: core.BoundMax{MaxHeight: 32},
	})
	if !res.OK {
		t.Fatalf("Resize: %v", res.Messages())
	}
	snap := m.Snapshot()
	for _, step := range []string{pipeline.StepValidate, pipeline.StepResample, pipeline.StepSave} {
		if snap.StepCalls[step] != 1 {
			t.Errorf("step %s recorded %d times", step, snap.StepCalls[step])
		}
	}
	if snap.TotalThroughputB != res.Bytes || res.Bytes == 0 {
		t.Errorf("throughput: got %d, result bytes %d", snap.TotalThroughputB, res.Bytes)
	}
}

// ── Responsive markup ─────────────────────────────────────────────────────────

func TestProcessHTML(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(t.TempDir(), "variants")
	photo := writeJPEG(t, base, "photo.jpg", 400, 200)
	m := hooks.NewInMemoryMetrics()

	proc := newProc(t, func(c *config.Config) {
		c.Responsive.RootDir = root
		c.Responsive.PublicPath = "/img/"
		c.Responsive.BaseDir = base
		c.Responsive.Sizes = []core.SizeSpec{
			{Width: 100, Media: "(max-width: 100px)"},
			{Width: 0, Default: true},
		}
	}, imageresponsive.WithMetrics(m))

	out, err := proc.ProcessHTML(context.Background(), `<p><img src="photo.jpg" alt="x"><br></p>`)
	if err != nil {
		t.Fatalf("ProcessHTML: %v", err)
	}

	name := variant.KeyFor(photo, 100).Filename("jpg")
	want := `<p><picture>` +
		`<source media="(max-width: 100px)" srcset="/img/` + name + `"/>` +
		`<img src="photo.jpg" alt="x" width="400" height="200" data-source="photo.jpg" data-compressed="1"/>` +
		`</picture><br/></p>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}

	got := probe(t, proc, filepath.Join(root, name))
	if got.Width != 100 || got.Height != 50 {
		t.Errorf("variant: got %dx%d, want 100x50", got.Width, got.Height)
	}
	if snap := m.Snapshot(); snap.Variants[variant.OutcomeProduced] != 1 {
		t.Errorf("variant outcomes: %+v", snap.Variants)
	}
}

func TestProcessHTML_ConfigError(t *testing.T) {
	proc := newProc(t, nil)
	_, err := proc.ProcessHTML(context.Background(), `<img src="a.jpg">`)
	if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Errorf("got %v, want config error", err)
	}
	if err != nil && !strings.Contains(err.Error(), "root") {
		t.Errorf("error should name the missing root directory: %v", err)
	}
}
