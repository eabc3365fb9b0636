package rtree

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with index-specific helpers.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// LogGrow logs the root being split and the tree gaining a level.
func (l *Logger) LogGrow(height, count int) {
	l.Debug("root split", "height", height, "count", count)
}

// LogBulkLoad logs a completed bulk load.
func (l *Logger) LogBulkLoad(count, height int, materialized bool, err error) {
	if err != nil {
		l.Error("bulk load failed", "count", count, "error", err)
		return
	}
	l.Debug("bulk load completed",
		"count", count,
		"height", height,
		"materialized", materialized,
	)
}

// LogSerialize logs a one-shot serialize pass.
func (l *Logger) LogSerialize(version string, nodes int, size int64, err error) {
	if err != nil {
		l.Error("serialize failed", "version", version, "error", err)
		return
	}
	l.Info("index serialized",
		"version", version,
		"nodes", nodes,
		"bytes", size,
	)
}

// LogOpen logs opening a stream image for reading.
func (l *Logger) LogOpen(version string, count uint64, height int, err error) {
	if err != nil {
		l.Error("open failed", "version", version, "error", err)
		return
	}
	l.Info("index opened",
		"version", version,
		"count", count,
		"height", height,
	)
}

// LogQueryMany logs a concurrent batch of stream queries.
func (l *Logger) LogQueryMany(ctx context.Context, queries, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query batch failed", "queries", queries, "error", err)
		return
	}
	l.DebugContext(ctx, "query batch completed", "queries", queries, "results", results)
}
