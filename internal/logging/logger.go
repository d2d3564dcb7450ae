// Package logging defines the structured-logging interface used across
// feedkeeper and its slog and zerolog implementations.
package logging

import (
	"context"
	"io"
	"strings"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "entry updated", "identity", id, "sequence", seq)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}

// New builds a Logger writing to w. format is "json" (slog) or "console"
// (zerolog); level is one of debug, info, warn, error.
func New(format, level string, w io.Writer) Logger {
	if strings.EqualFold(format, "console") {
		return NewConsoleLogger(w, level)
	}
	return NewJSONLogger(w, level)
}
