package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL bounds how long a processed event ID suppresses redeliveries.
const DefaultDedupeTTL = 72 * time.Hour

// EventDeduper suppresses duplicate webhook deliveries by event ID.
type EventDeduper interface {
	// Claim marks the key as in-flight or processed. It reports false when the key was already claimed.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets the key so a provider retry is processed again.
	Release(ctx context.Context, key string) error
}

// MemoryDeduper keeps claims in process memory.
type MemoryDeduper struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]time.Time
	now    func() time.Time
}

// NewMemoryDeduper constructs an in-process deduper. Non-positive ttl selects DefaultDedupeTTL.
func NewMemoryDeduper(ttl time.Duration, clock func() time.Time) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryDeduper{ttl: ttl, claims: make(map[string]time.Time), now: clock}
}

// Claim implements EventDeduper.
func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("payments: dedupe key is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.claims {
		if !now.Before(exp) {
			delete(d.claims, k)
		}
	}
	if _, ok := d.claims[key]; ok {
		return false, nil
	}
	d.claims[key] = now.Add(d.ttl)
	return true, nil
}

// Release implements EventDeduper.
func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, strings.TrimSpace(key))
	return nil
}

// RedisDeduper shares claims across instances with SET NX and a TTL.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper constructs a Redis-backed deduper.
func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) (*RedisDeduper, error) {
	if client == nil {
		return nil, errors.New("payments: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: "payments:event:", ttl: ttl}, nil
}

// Claim implements EventDeduper.
func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("payments: dedupe key is required")
	}
	return d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// Release implements EventDeduper.
func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+strings.TrimSpace(key)).Err()
}
