package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerDefaultsToNop(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, Logger(ctx))
	_, ok := LoggerFrom(ctx)
	assert.False(t, ok)

	_, ok = LoggerFrom(WithLogger(ctx, nil))
	assert.False(t, ok, "a nil logger is not a real request logger")
}

func TestWithActorTagsLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))

	ctx = WithActor(ctx, Actor{BuyerID: "usr_42", Role: "buyer"})
	Logger(ctx).Info("cart updated")

	actor, ok := ActorFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "usr_42", actor.BuyerID)
	if assert.Equal(t, 1, logs.Len()) {
		assert.Equal(t, "usr_42", logs.All()[0].ContextMap()["buyerId"])
	}
}

func TestActorWithoutBuyerIsAbsent(t *testing.T) {
	_, ok := ActorFrom(WithActor(context.Background(), Actor{Role: "admin"}))
	assert.False(t, ok)
}

func TestTraceRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TraceID(ctx))

	ctx = WithTrace(ctx, TraceInfo{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", Sampled: true})
	info, ok := Trace(ctx)
	assert.True(t, ok)
	assert.True(t, info.Sampled)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", TraceID(ctx))
}
