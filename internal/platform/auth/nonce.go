package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce until expiry if it is not live within the scope at now. The
	// boolean reports whether the nonce was stored (true) or already existed (false). now comes
	// from the caller so the store and the validator agree on one clock.
	UseNonce(ctx context.Context, scope, nonce string, now, expiry time.Time) (bool, error)
}

// InMemoryNonceStore offers an in-process nonce registry for tests and single-instance deployments.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, now, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	key := scope + "::" + nonce

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, k)
		}
	}
	if existing, ok := s.nonces[key]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// RedisNonceStore shares nonces across instances using SET NX with expiry.
type RedisNonceStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisNonceStore constructs a Redis-backed nonce store.
func NewRedisNonceStore(client redis.Cmdable) (*RedisNonceStore, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	return &RedisNonceStore{client: client, prefix: "nonce:"}, nil
}

// UseNonce implements NonceStore.
func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, now, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	ttl := expiry.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}
	return s.client.SetNX(ctx, s.prefix+scope+":"+nonce, 1, ttl).Result()
}
