package log

import (
	"context"

	"go.uber.org/zap"
)

type logCtxKey int

// IntoContext stores a logger in the context so components deeper in the
// call tree can pick it up without explicit plumbing.
func IntoContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, logCtxKey(0), logger)
}

// FromContext returns the logger stored in the context, falling back to the
// global logger.
func FromContext(ctx context.Context) *zap.Logger {
	val := ctx.Value(logCtxKey(0))
	if val != nil {
		return val.(*zap.Logger)
	}
	zap.L().Warn("No logger in context, passing default")
	return zap.L()
}
