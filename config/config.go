package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/image-responsive/core"
)

// Backend selects the raster implementation.
type Backend string

const (
	BackendGo   Backend = "go"
	BackendVips Backend = "vips"
)

// Environment variables overlaid by LoadEnv.
const (
	EnvLogLevel   = "IMGRESPONSIVE_LOG_LEVEL"
	EnvBackend    = "IMGRESPONSIVE_BACKEND"
	EnvWorkers    = "IMGRESPONSIVE_WORKERS"
	EnvRootDir    = "IMGRESPONSIVE_ROOT_DIR"
	EnvPublicPath = "IMGRESPONSIVE_PUBLIC_PATH"
)

// Config is the top-level configuration struct. Start from Default and
// override only what you need.
type Config struct {
	// Worker pool controls.
	Workers    int           `yaml:"workers"`    // default: runtime.NumCPU()
	QueueSize  int           `yaml:"queue_size"` // max queued jobs before backpressure
	JobTimeout time.Duration `yaml:"job_timeout"`

	// Encoder parameters for direct resizes.
	Quality core.Quality `yaml:"quality"`

	// Streaming / memory limits.
	MaxImageBytes int64 `yaml:"max_image_bytes"` // 0 = no limit

	Backend Backend     `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`

	Responsive ResponsiveConfig `yaml:"responsive"`

	// Logging / metrics.
	LogLevel    string `yaml:"log_level"` // "debug", "info", "warn", "error"
	MetricsAddr string `yaml:"metrics_addr"`
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	FilePerm uint32 `yaml:"file_perm"` // default 0644
	DirPerm  uint32 `yaml:"dir_perm"`  // default 0755
}

// ResponsiveConfig configures markup passes.
type ResponsiveConfig struct {
	Sizes      []core.SizeSpec `yaml:"sizes"`
	Mode       string          `yaml:"mode"` // "picture" or "srcset"
	Multiplier bool            `yaml:"multiplier"`
	Overwrite  bool            `yaml:"overwrite"`
	RootDir    string          `yaml:"root_dir"`
	PublicPath string          `yaml:"public_path"`
	// BaseDir anchors image references found in markup. Empty means the
	// working directory.
	BaseDir    string          `yaml:"base_dir"`
	Attrs      []core.AttrRule `yaml:"attrs"`
	Quality    core.Quality    `yaml:"quality"`
	Markup     MarkupConfig    `yaml:"markup"`
}

// MarkupConfig mirrors the sanitizer options.
type MarkupConfig struct {
	DecodeEntities bool     `yaml:"decode_entities"`
	StripDoctype   bool     `yaml:"strip_doctype"`
	StripParasitic bool     `yaml:"strip_parasitic"`
	VoidTags       []string `yaml:"void_tags"`
	Charset        string   `yaml:"charset"`
}

// Default returns a Config populated with production defaults.
func Default() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		QueueSize:  256,
		JobTimeout: 30 * time.Second,
		Quality:    core.DefaultQuality(),
		Backend:    BackendGo,
		Local:      LocalConfig{FilePerm: 0o644, DirPerm: 0o755},
		Responsive: ResponsiveConfig{
			Mode:    "picture",
			Quality: core.Quality{JPEG: 70, PNG: 9, WebP: 70},
			Markup: MarkupConfig{
				DecodeEntities: true,
				StripDoctype:   true,
				StripParasitic: true,
				VoidTags:       []string{"br", "img", "source"},
			},
		},
		LogLevel: "info",
	}
}

// Validate returns an error if the configuration is inconsistent. Sizes and
// paths of the responsive section are checked per pass, not here.
func Validate(c Config) error {
	if c.Workers < 0 {
		return errors.New("config: workers must not be negative")
	}
	if c.QueueSize <= 0 {
		return errors.New("config: queue_size must be positive")
	}
	if c.JobTimeout < 0 {
		return errors.New("config: job_timeout must not be negative")
	}
	if c.MaxImageBytes < 0 {
		return errors.New("config: max_image_bytes must not be negative")
	}
	if err := c.Quality.Validate(); err != nil {
		return fmt.Errorf("config: quality must be valid: %w", err)
	}
	if err := c.Responsive.Quality.Validate(); err != nil {
		return fmt.Errorf("config: responsive.quality must be valid: %w", err)
	}
	if c.Backend != BackendGo && c.Backend != BackendVips {
		return fmt.Errorf("config: backend must be %q or %q, got %q", BackendGo, BackendVips, c.Backend)
	}
	if m := c.Responsive.Mode; m != "picture" && m != "srcset" {
		return fmt.Errorf("config: responsive.mode must be picture or srcset, got %q", m)
	}
	if c.Local.FilePerm > 0o777 || c.Local.DirPerm > 0o777 {
		return errors.New("config: local permissions must be within 0777")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("config: log_level must be a zerolog level, got %q", c.LogLevel)
	}
	return nil
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, Validate(c)
}

// LoadEnv loads .env files into the process environment, then overlays the
// IMGRESPONSIVE_* variables onto c. Missing files are ignored.
func LoadEnv(c Config, files ...string) (Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return c, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvBackend); ok {
		c.Backend = Backend(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("config: %s must be an integer: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v, ok := os.LookupEnv(EnvRootDir); ok {
		c.Responsive.RootDir = v
	}
	if v, ok := os.LookupEnv(EnvPublicPath); ok {
		c.Responsive.PublicPath = v
	}
	return c, Validate(c)
}
