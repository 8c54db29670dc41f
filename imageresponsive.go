// Package imageresponsive resizes images and rewrites HTML documents to
// serve responsive variants of the images they reference.
package imageresponsive

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/image-responsive/adapters/exif"
	"github.com/Skryldev/image-responsive/adapters/raster"
	"github.com/Skryldev/image-responsive/adapters/storage"
	"github.com/Skryldev/image-responsive/config"
	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/hooks"
	"github.com/Skryldev/image-responsive/markup"
	"github.com/Skryldev/image-responsive/pipeline"
	"github.com/Skryldev/image-responsive/responsive"
	"github.com/Skryldev/image-responsive/variant"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	GIF  = core.FormatGIF
	WebP = core.FormatWebP
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Processor is the primary entry point. It is safe for concurrent use.
type Processor struct {
	cfg     config.Config
	raster  core.Raster
	orient  core.OrientationReader
	storage *storage.Local
	op      *pipeline.Operation
	hooks   []core.Hook
	logger  core.Logger
	metrics core.MetricsCollector
	flights *variant.Flights

	// Worker pool. mu orders Submit sends before the final drain in Stop.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	mu       sync.RWMutex
	stopped  bool
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// Option configures a Processor.
type Option func(*Processor)

// WithRaster replaces the pure-Go raster backend, e.g. with *vips.Backend.
func WithRaster(r core.Raster) Option { return func(p *Processor) { p.raster = r } }

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(p *Processor) { p.logger = l } }

// WithMetrics attaches a metrics collector fed by step and variant events.
func WithMetrics(m core.MetricsCollector) Option { return func(p *Processor) { p.metrics = m } }

// WithHook registers an observer for resize step events.
func WithHook(h core.Hook) Option { return func(p *Processor) { p.hooks = append(p.hooks, h) } }

// WithOrientationReader replaces the EXIF orientation reader.
func WithOrientationReader(r core.OrientationReader) Option {
	return func(p *Processor) { p.orient = r }
}

// New creates a fully wired Processor. The vips backend is not linked here;
// pass it with WithRaster when cfg.Backend is "vips".
func New(cfg config.Config, opts ...Option) (*Processor, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConfig, "processor.new", err)
	}
	p := &Processor{
		cfg:      cfg,
		logger:   core.NopLogger{},
		jobQueue: make(chan Job, cfg.QueueSize),
		shutdown: make(chan struct{}),
		flights:  variant.NewFlights(),
	}
	for _, o := range opts {
		o(p)
	}

	if p.raster == nil {
		if cfg.Backend == config.BackendVips {
			return nil, apperrors.New(apperrors.CategoryConfig, "processor.new",
				errors.New("backend vips needs a raster passed with WithRaster"))
		}
		p.raster = raster.New(raster.NewRegistry(cfg.Quality), raster.WithMaxImageBytes(cfg.MaxImageBytes))
	}
	if p.orient == nil {
		p.orient = exif.New(p.logger)
	}
	p.storage = storage.NewLocal(os.FileMode(cfg.Local.FilePerm), os.FileMode(cfg.Local.DirPerm))

	pipeOpts := []pipeline.Option{
		pipeline.WithOrientationReader(p.orient),
		pipeline.WithLogger(p.logger),
		pipeline.WithHook(hooks.NewLoggingHook(p.logger)),
	}
	if p.metrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithHook(hooks.NewMetricsHook(p.metrics)))
	}
	for _, h := range p.hooks {
		pipeOpts = append(pipeOpts, pipeline.WithHook(h))
	}
	p.op = pipeline.New(p.raster, p.storage, pipeOpts...)
	return p, nil
}

// Config returns the configuration the Processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

// Resize runs one resize operation synchronously. Zero Quality fields fall
// back to the configured resize quality.
func (p *Processor) Resize(ctx context.Context, req pipeline.Request) *pipeline.Result {
	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}
	if req.Quality == (core.Quality{}) {
		req.Quality = p.cfg.Quality
	}
	res := p.op.Run(ctx, req)
	if res.OK {
		atomic.AddInt64(&p.processedCount, 1)
	} else {
		atomic.AddInt64(&p.errorCount, 1)
	}
	return res
}

// Batch runs reqs concurrently, bounded by the configured worker count.
// Results are returned in request order.
func (p *Processor) Batch(ctx context.Context, reqs []pipeline.Request) []*pipeline.Result {
	results := make([]*pipeline.Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(p.workers())
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Resize(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Probe reads an image's natural size and format without decoding pixels.
func (p *Processor) Probe(ctx context.Context, path string) (core.ImageDescriptor, error) {
	return p.raster.Probe(ctx, path)
}

// ── Responsive markup ─────────────────────────────────────────────────────────

// ResponsiveConfig translates the responsive section of the configuration.
func (p *Processor) ResponsiveConfig() responsive.Config {
	rc := p.cfg.Responsive
	out := responsive.Config{
		Sizes:      append([]core.SizeSpec(nil), rc.Sizes...),
		Mode:       responsive.Mode(rc.Mode),
		Multiplier: rc.Multiplier,
		Overwrite:  rc.Overwrite,
		RootDir:    rc.RootDir,
		PublicPath: rc.PublicPath,
		Attrs:      append([]core.AttrRule(nil), rc.Attrs...),
		Markup: markup.Options{
			DecodeEntities: rc.Markup.DecodeEntities,
			StripDoctype:   rc.Markup.StripDoctype,
			StripParasitic: rc.Markup.StripParasitic,
			VoidTags:       append([]string(nil), rc.Markup.VoidTags...),
			Charset:        rc.Markup.Charset,
		},
		Quality: rc.Quality,
		Workers: p.cfg.Workers,
	}
	if rc.BaseDir != "" {
		out.Resolver = responsive.FileResolver{Base: rc.BaseDir}
	}
	return out
}

// Builder returns a markup builder for rc that resizes through this
// Processor.
func (p *Processor) Builder(rc responsive.Config) *responsive.Builder {
	opts := []responsive.Option{responsive.WithLogger(p.logger), responsive.WithFlights(p.flights)}
	if p.metrics != nil {
		opts = append(opts, responsive.WithMetrics(p.metrics))
	}
	return responsive.New(rc, resizeFunc(p.Resize), p.raster, p.storage, opts...)
}

// ProcessHTML runs one responsive pass over content with the configured
// responsive settings.
func (p *Processor) ProcessHTML(ctx context.Context, content string) (string, error) {
	return p.Builder(p.ResponsiveConfig()).Process(ctx, content)
}

type resizeFunc func(ctx context.Context, req pipeline.Request) *pipeline.Result

func (f resizeFunc) Run(ctx context.Context, req pipeline.Request) *pipeline.Result { return f(ctx, req) }

// ── Worker pool ───────────────────────────────────────────────────────────────

// Job is an asynchronous resize.
type Job struct {
	// ID is assigned by Submit when empty.
	ID       string
	Ctx      context.Context
	Request  pipeline.Request
	ResultCh chan<- JobResult
}

// JobResult is delivered on Job.ResultCh.
type JobResult struct {
	JobID  string
	Result *pipeline.Result
}

// Start launches the worker pool. It is idempotent and does nothing after
// Stop.
func (p *Processor) Start() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	p.once.Do(func() {
		for i := 0; i < p.workers(); i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop rejects further submissions, waits for the workers and runs every
// job still queued on the calling goroutine, so each accepted job delivers
// its result even when Start was never called.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.shutdown)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.drain()
}

func (p *Processor) drain() {
	for {
		select {
		case job := <-p.jobQueue:
			p.processJob(job)
		default:
			return
		}
	}
}

// Submit enqueues an async job and returns its ID. It returns
// ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return "", apperrors.New(apperrors.CategoryPipeline, "submit", errors.New("processor stopped"))
	}
	select {
	case p.jobQueue <- job:
		return job.ID, nil
	default:
		return "", apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, failed int64) {
	return atomic.LoadInt64(&p.processedCount), atomic.LoadInt64(&p.errorCount)
}

func (p *Processor) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return runtime.NumCPU()
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			p.drain()
			return
		case job := <-p.jobQueue:
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}
	if job.Request.OperationID == "" {
		job.Request.OperationID = job.ID
	}

	res := p.Resize(ctx, job.Request)
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Result: res}
	}
}
