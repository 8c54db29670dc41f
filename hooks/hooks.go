// Package hooks provides production-ready Hook, Logger and metrics
// implementations.
package hooks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Skryldev/image-responsive/core"
	apperrors "github.com/Skryldev/image-responsive/errors"
	"github.com/Skryldev/image-responsive/pipeline"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// ZerologLogger wraps a zerolog.Logger to satisfy core.Logger. Fields are
// alternating key/value pairs.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a logger backed by l.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger { return &ZerologLogger{log: l} }

func (z *ZerologLogger) Debug(msg string, fields ...interface{}) {
	z.log.Debug().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Info(msg string, fields ...interface{}) {
	z.log.Info().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Warn(msg string, fields ...interface{}) {
	z.log.Warn().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Error(msg string, fields ...interface{}) {
	z.log.Error().Fields(fields).Msg(msg)
}

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each resize step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, info core.StepInfo) {
	h.logger.Debug("pipeline.step.start",
		"op", info.OperationID,
		"step", stepName,
		"input", info.Input,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, info core.StepInfo, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.step.error",
			"op", info.OperationID,
			"step", stepName,
			"input", info.Input,
			"duration_ms", d.Milliseconds(),
			"category", string(apperrors.CategoryOf(err)),
			"error", err.Error(),
		)
		return
	}
	h.logger.Debug("pipeline.step.done",
		"op", info.OperationID,
		"step", stepName,
		"duration_ms", d.Milliseconds(),
		"width", info.Width,
		"height", info.Height,
		"bytes", info.Bytes,
	)
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds resize step events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(context.Context, string, core.StepInfo) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, info core.StepInfo, d time.Duration, err error) {
	h.collector.RecordProcessingTime(stepName, d)
	if err != nil {
		h.collector.RecordError(stepName, string(apperrors.CategoryOf(err)))
		return
	}
	if stepName == pipeline.StepSave {
		h.collector.RecordThroughput(info.Bytes)
	}
}

// compile-time interface checks
var (
	_ core.Logger = (*ZerologLogger)(nil)
	_ core.Hook   = (*LoggingHook)(nil)
	_ core.Hook   = (*MetricsHook)(nil)
)
