// Command imgresponsive resizes images and rewrites HTML documents to serve
// responsive image variants.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	imageresponsive "github.com/Skryldev/image-responsive"
	"github.com/Skryldev/image-responsive/adapters/vips"
	"github.com/Skryldev/image-responsive/config"
	"github.com/Skryldev/image-responsive/core"
	"github.com/Skryldev/image-responsive/hooks"
)

// Persistent flags
var (
	configFlag   string
	logLevelFlag string
	backendFlag  string
	envFileFlags []string
)

// rootCmd is the main Cobra command for the imgresponsive CLI.
var rootCmd = &cobra.Command{
	Use:   "imgresponsive",
	Short: "Resize images and generate responsive image markup",
	Long: `imgresponsive resizes single images with a choice of geometry policies and
rewrites HTML documents so every referenced image is served as a set of
pre-sized variants, either as <picture> elements or as <img srcset>.

Configuration is read from a YAML file (--config), then from .env files and
IMGRESPONSIVE_* environment variables, then from flags.

Examples:
  imgresponsive resize --in photo.jpg --out thumb.jpg --policy cover --width 200 --height 200
  imgresponsive responsive --in page.html --out page.out.html --root ./public/img --public /img \
      --size "480:(max-width: 480px)" --size 1200::default
  imgresponsive watch --in page.html --out page.out.html --root ./img --public /img --size 0::default --metrics-addr :9090
  imgresponsive probe a.jpg b.png`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "YAML configuration file")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides config and environment)")
	pf.StringVar(&backendFlag, "backend", "", "Raster backend: go or vips")
	pf.StringArrayVar(&envFileFlags, "env-file", []string{".env"}, "Dotenv file to load (repeatable)")

	rootCmd.AddCommand(newResizeCmd(), newResponsiveCmd(), newWatchCmd(), newProbeCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the config file, dotenv/environment and persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg, err := config.LoadEnv(cfg, envFileFlags...)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = config.Backend(backendFlag)
	}
	return cfg, config.Validate(cfg)
}

// initLogging configures the global zerolog logger and tags it with a run ID.
func initLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Str("run", uuid.NewString()).Logger()
}

// setup loads configuration, initialises logging and builds a Processor. The
// returned func releases backend resources.
func setup(cmd *cobra.Command, metrics core.MetricsCollector) (*imageresponsive.Processor, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	initLogging(cfg.LogLevel)

	opts := []imageresponsive.Option{imageresponsive.WithLogger(hooks.NewZerologLogger(log.Logger))}
	if metrics != nil {
		opts = append(opts, imageresponsive.WithMetrics(metrics))
	}
	cleanup := func() {}
	if cfg.Backend == config.BackendVips {
		b := vips.NewBackend(vips.BackendConfig{MaxWorkers: cfg.Workers})
		opts = append(opts, imageresponsive.WithRaster(b))
		cleanup = b.Shutdown
	}

	proc, err := imageresponsive.New(cfg, opts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build processor: %w", err)
	}
	log.Debug().Str("backend", string(cfg.Backend)).Int("workers", cfg.Workers).Msg("processor ready")
	return proc, cleanup, nil
}
