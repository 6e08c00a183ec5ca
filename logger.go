package contents

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with index-specific field names.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", name),
	}
}

// LogSetEntity logs an insert or replace.
func (l *Logger) LogSetEntity(ctx context.Context, id []byte, index uint32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "set entity failed",
			"id", string(id),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "set entity completed",
			"id", string(id),
			"index", index,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id []byte, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", string(id),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"id", string(id),
			"found", found,
		)
	}
}

// LogCommit logs the end of a segment commit.
func (l *Logger) LogCommit(ctx context.Context, duration time.Duration, entities int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "commit completed",
			"duration", duration,
			"entities", entities,
		)
	}
}

// LogMerge logs the end of a segment merge.
func (l *Logger) LogMerge(ctx context.Context, duration time.Duration, inputs, entities int, err error) {
	if err != nil {
		l.WarnContext(ctx, "merge failed",
			"duration", duration,
			"inputs", inputs,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "merge completed",
			"duration", duration,
			"inputs", inputs,
			"entities", entities,
		)
	}
}
