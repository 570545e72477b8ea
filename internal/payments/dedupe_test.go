package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduperClaimsOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deduper := NewMemoryDeduper(time.Minute, func() time.Time { return now })

	first, err := deduper.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := deduper.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, second)

	require.NoError(t, deduper.Release(ctx, "stripe:evt_1"))
	again, err := deduper.Claim(ctx, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestMemoryDeduperExpiresClaims(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deduper := NewMemoryDeduper(time.Minute, func() time.Time { return now })

	ok, err := deduper.Claim(ctx, "evt_1")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = deduper.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeduperRejectsEmptyKey(t *testing.T) {
	_, err := NewMemoryDeduper(0, nil).Claim(context.Background(), " ")
	require.Error(t, err)

	_, err = NewRedisDeduper(nil, 0)
	require.Error(t, err)
}
