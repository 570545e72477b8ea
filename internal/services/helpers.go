package services

import (
	"context"
	"strings"
	"time"

	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

type serviceLogger = func(ctx context.Context, event string, fields map[string]any)

func loggerOrNoop(logger serviceLogger) serviceLogger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func unitOrNoop(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func valuePtr[T any](v T) *T {
	return &v
}
