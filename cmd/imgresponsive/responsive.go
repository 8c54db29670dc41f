package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	imageresponsive "github.com/Skryldev/image-responsive"
	"github.com/Skryldev/image-responsive/core"
	"github.com/Skryldev/image-responsive/hooks"
	"github.com/Skryldev/image-responsive/responsive"
)

type passFlags struct {
	in, out    string
	root       string
	public     string
	base       string
	sizes      []string
	mode       string
	multiplier bool
	overwrite  bool
}

func (f *passFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.in, "in", "", "Input HTML document")
	fl.StringVar(&f.out, "out", "", "Output document (default stdout)")
	fl.StringVar(&f.root, "root", "", "Directory receiving the image variants")
	fl.StringVar(&f.public, "public", "", "Public path prefix of the variants")
	fl.StringVar(&f.base, "base", "", "Directory image references resolve against (default: the document's directory)")
	fl.StringArrayVar(&f.sizes, "size", nil, "Size WIDTH[:MEDIA][:default] (repeatable, in order)")
	fl.StringVar(&f.mode, "mode", "", "Markup mode: picture or srcset")
	fl.BoolVar(&f.multiplier, "multiplier", false, "Use the size media as density descriptors in srcset mode")
	fl.BoolVar(&f.overwrite, "overwrite", false, "Regenerate existing variants and re-process processed images")
	_ = cmd.MarkFlagRequired("in")
}

// config overlays the flags that were set onto rc.
func (f *passFlags) config(cmd *cobra.Command, rc responsive.Config) (responsive.Config, error) {
	fl := cmd.Flags()
	if fl.Changed("root") {
		rc.RootDir = f.root
	}
	if fl.Changed("public") {
		rc.PublicPath = f.public
	}
	if fl.Changed("mode") {
		rc.Mode = responsive.Mode(strings.ToLower(f.mode))
	}
	if fl.Changed("multiplier") {
		rc.Multiplier = f.multiplier
	}
	if fl.Changed("overwrite") {
		rc.Overwrite = f.overwrite
	}
	if len(f.sizes) > 0 {
		rc.Sizes = rc.Sizes[:0:0]
		for _, s := range f.sizes {
			spec, err := parseSize(s)
			if err != nil {
				return rc, err
			}
			rc.Sizes = append(rc.Sizes, spec)
		}
	}
	base := f.base
	if base == "" && rc.Resolver == nil {
		base = filepath.Dir(f.in)
	}
	if base != "" {
		rc.Resolver = responsive.FileResolver{Base: base}
	}
	return rc, nil
}

// parseSize reads WIDTH[:MEDIA][:default]. The media query may itself
// contain colons.
func parseSize(s string) (core.SizeSpec, error) {
	head, rest, _ := strings.Cut(s, ":")
	w, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return core.SizeSpec{}, fmt.Errorf("size %q: width: %w", s, err)
	}
	spec := core.SizeSpec{Width: w}
	switch {
	case rest == "default":
		spec.Default = true
		rest = ""
	case strings.HasSuffix(rest, ":default"):
		spec.Default = true
		rest = strings.TrimSuffix(rest, ":default")
	}
	spec.Media = rest
	return spec, nil
}

// runPass processes the document once and writes the result.
func runPass(ctx context.Context, b *responsive.Builder, in, out string, perm os.FileMode) error {
	raw, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	start := time.Now()
	html, err := b.Process(ctx, string(raw))
	if err != nil {
		return err
	}
	log.Info().Str("in", in).Str("out", out).Dur("elapsed", time.Since(start)).Msg("responsive pass done")
	if out == "" {
		_, err = fmt.Fprintln(os.Stdout, html)
		return err
	}
	return os.WriteFile(out, []byte(html), perm)
}

func newResponsiveCmd() *cobra.Command {
	var f passFlags
	cmd := &cobra.Command{
		Use:   "responsive",
		Short: "Rewrite the images of an HTML document as responsive markup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			proc, cleanup, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			rc, err := f.config(cmd, proc.ResponsiveConfig())
			if err != nil {
				return err
			}
			perm := os.FileMode(proc.Config().Local.FilePerm)
			return runPass(cmd.Context(), proc.Builder(rc), f.in, f.out, perm)
		},
	}
	f.register(cmd)
	return cmd
}

// ── watch ─────────────────────────────────────────────────────────────────────

func newWatchCmd() *cobra.Command {
	var (
		f           passFlags
		metricsAddr string
		debounce    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the responsive pass whenever the input document changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.out == "" {
				return errors.New("watch needs --out")
			}
			reg := prometheus.NewRegistry()
			metrics, err := hooks.NewPrometheusMetrics(reg, "imgresponsive")
			if err != nil {
				return err
			}
			proc, cleanup, err := setup(cmd, metrics)
			if err != nil {
				return err
			}
			defer cleanup()

			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = proc.Config().MetricsAddr
			}
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr, reg)
				defer srv.Close()
			}
			return watch(cmd.Context(), proc, &f, cmd, debounce)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before re-running")
	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func watch(ctx context.Context, proc *imageresponsive.Processor, f *passFlags, cmd *cobra.Command, debounce time.Duration) error {
	rc, err := f.config(cmd, proc.ResponsiveConfig())
	if err != nil {
		return err
	}
	b := proc.Builder(rc)
	perm := os.FileMode(proc.Config().Local.FilePerm)
	pass := func() {
		if err := runPass(ctx, b, f.in, f.out, perm); err != nil {
			log.Error().Err(err).Str("in", f.in).Msg("responsive pass failed")
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()
	// Editors often replace files, so watch the directory.
	if err := w.Add(filepath.Dir(f.in)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", f.in, err)
	}
	log.Info().Str("in", f.in).Msg("watching")

	pass()
	return watchLoop(ctx, w.Events, w.Errors, f.in, debounce, pass)
}

// watchLoop calls run once per burst of writes to target, after debounce of
// quiet. It returns when ctx is done or the event channel closes.
func watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, target string, debounce time.Duration, run func()) error {
	target = filepath.Clean(target)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			run()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}
