// Package logging provides structured logging configuration using log/slog.
//
// A provisioning run carries its run id and the name of the active pipeline
// step on the context, so every entry logged through FromContext can be
// correlated with the run and the loader that produced it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	ctxKeyRunID  contextKey = "run_id"
	ctxKeyStep   contextKey = "step"
	ctxKeyLogger contextKey = "logger"
)

// Setup configures the global slog logger based on level and format and
// returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Logs go to w, stderr when w is nil; stdout is reserved for the run
// summary and KPI report.
func Setup(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := slog.New(NewHandler(w, level, format))
	slog.SetDefault(logger)
	return logger
}

// NewHandler builds the handler Setup installs, writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun stores the provisioning run id on the context.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// WithStep stores the active pipeline step on the context.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, ctxKeyStep, step)
}

// WithLogger stores a base logger on the context. FromContext prefers it
// over slog.Default.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// RunID returns the run id stored on ctx, or "".
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// Step returns the pipeline step stored on ctx, or "".
func Step(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyStep).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a logger enriched with run context.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Info("created", "collection", "product.template", "id", id)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok && l != nil {
		logger = l
	}

	if runID := RunID(ctx); runID != "" {
		logger = logger.With("run_id", runID)
	}
	if step := Step(ctx); step != "" {
		logger = logger.With("step", step)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
// Usage:
//
//	rowLogger := logging.WithFields(ctx, "file", "bom.csv", "line", 12)
//	rowLogger.Warn("skipped: no product", "code", code)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
