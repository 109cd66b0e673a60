package slide

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with h5path field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output. Managers use it
// unless WithLogger is given.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithPath adds the container path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithKey adds a mask name or tile key to the logger.
func (l *Logger) WithKey(key string) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", key),
	}
}

// LogBind logs a bind.
func (l *Logger) LogBind(ctx context.Context, shape []int, masks, tiles int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "bind failed",
			"shape", shape,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "bound container",
			"shape", shape,
			"masks", masks,
			"tiles", tiles,
		)
	}
}

// LogWrite logs a write of the container to dest.
func (l *Logger) LogWrite(ctx context.Context, dest string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"dest", dest,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "container written",
			"dest", dest,
		)
	}
}

// LogMask logs a mask operation.
func (l *Logger) LogMask(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"mask", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"mask", name,
		)
	}
}

// LogTile logs a tile operation.
func (l *Logger) LogTile(ctx context.Context, op, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"tile", key,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"tile", key,
		)
	}
}

// LogClose logs a close; removed reports whether a scratch file was deleted.
func (l *Logger) LogClose(ctx context.Context, removed bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "closed",
			"removed_scratch", removed,
		)
	}
}
