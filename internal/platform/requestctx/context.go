// Package requestctx carries per-request values between middleware and handlers: the scoped
// logger, trace metadata, and the resolved buyer.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
	actorKey  struct{}
)

var nop = zap.NewNop()

// TraceInfo is the trace correlation attached by the tracing middleware.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Actor is the resolved caller. BuyerID is the internal user id, not the token subject.
type Actor struct {
	BuyerID string
	Role    string
}

// WithLogger attaches logger; nil attaches a no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := LoggerFrom(ctx); ok {
		return logger
	}
	return nop
}

// LoggerFrom reports whether a real request logger was attached.
func LoggerFrom(ctx context.Context) (*zap.Logger, bool) {
	logger, _ := ctx.Value(loggerKey{}).(*zap.Logger)
	if logger == nil || logger == nop {
		return nil, false
	}
	return logger, true
}

// WithTrace attaches trace metadata.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the attached trace metadata.
func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is empty when no trace is attached.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithActor attaches the buyer and tags the request logger with buyerId.
func WithActor(ctx context.Context, actor Actor) context.Context {
	ctx = context.WithValue(ctx, actorKey{}, actor)
	if actor.BuyerID == "" {
		return ctx
	}
	return WithLogger(ctx, Logger(ctx).With(zap.String("buyerId", actor.BuyerID)))
}

// ActorFrom returns the attached buyer, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, _ := ctx.Value(actorKey{}).(Actor)
	return actor, actor.BuyerID != ""
}
