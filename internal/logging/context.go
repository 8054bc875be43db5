package logging

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey int

const (
	jobIDKey contextKey = iota
	loggerKey
)

// WithJobIDCtx returns a new context with the pipeline job ID set.
func WithJobIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromCtx extracts the pipeline job ID from the context.
func JobIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromCtx returns the logger from context, or nil if not set.
func LoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	return l
}

// ContextLogger returns a logger for the context. If the context carries a
// logger, that one wins; otherwise base is used. Any job ID in the context
// is applied on top.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l := LoggerFromCtx(ctx)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Nop()
	}

	if id := JobIDFromCtx(ctx); id != "" {
		l = l.WithJobID(id)
	}
	return l
}
