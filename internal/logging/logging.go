// Package logging configures the converter's slog output and hands out
// loggers scoped to a batch, a worker or a single input file.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler and minimum level.
type Config struct {
	Format string // "json" | "text"
	Level  string // "debug" | "info" | "warn" | "error"
}

// Setup installs the default logger. Records go to w (stderr when nil);
// stdout is reserved for the exit report.
func Setup(cfg Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLevel falls back to info for unknown names.
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

type batchKey struct{}

// WithCorrelationID tags ctx with the id of one dispatched batch.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchKey{}, id)
}

// CorrelationID returns the batch id carried by ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(batchKey{}).(string)
	return id
}

// GenerateCorrelationID returns 16 hex characters.
func GenerateCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// EnsureCorrelationID returns ctx unchanged when it already carries a
// batch id, and a tagged copy otherwise.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if CorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// FromContext adds the batch id in ctx, if any, to l.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return l.With("correlation_id", id)
	}
	return l
}

// Component returns a logger for one part of the converter.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}

// WorkerLogger returns the logger a conversion worker writes through.
func WorkerLogger(workerID int) *slog.Logger {
	return Component("worker").With("worker_id", workerID)
}

// FileLogger narrows a worker's logger to one input file.
func FileLogger(workerID int, file string) *slog.Logger {
	return WorkerLogger(workerID).With("file", file)
}
