package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErrorClassifies(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := map[string]struct {
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		"no rows":          {err: pgx.ErrNoRows, notFound: true},
		"unique violation": {err: &pgconn.PgError{Code: codeUniqueViolation}, conflict: true},
		"lock timeout":     {err: &pgconn.PgError{Code: codeLockNotAvailable}, conflict: true},
		"syntax error":     {err: &pgconn.PgError{Code: "42601"}},
		"dial failure":     {err: fmt.Errorf("failed to connect: %w", dialErr), unavailable: true},
		"plain error":      {err: errors.New("boom")},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var repoErr *Error
			require.ErrorAs(t, WrapError("orders.find", tc.err), &repoErr)
			assert.Equal(t, tc.notFound, repoErr.IsNotFound())
			assert.Equal(t, tc.conflict, repoErr.IsConflict())
			assert.Equal(t, tc.unavailable, repoErr.IsUnavailable())
			assert.ErrorIs(t, repoErr, tc.err)
		})
	}
}

func TestWrapErrorPassesThroughCancellation(t *testing.T) {
	assert.Nil(t, WrapError("orders.find", nil))
	assert.Same(t, context.Canceled, WrapError("orders.find", context.Canceled))

	first := WrapError("", pgx.ErrNoRows)
	again := WrapError("orders.find", first)
	assert.Same(t, first, again)
	assert.Contains(t, again.Error(), "orders.find")
}
