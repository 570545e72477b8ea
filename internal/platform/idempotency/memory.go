package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Expired records are ignored on lookup and dropped by
// CleanupExpired, so a long-running process should call it periodically.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// live returns the unexpired record stored under id. Callers hold s.mu.
func (s *MemoryStore) live(id string, now time.Time) (Record, bool) {
	record, ok := s.records[id]
	if !ok || !now.Before(record.ExpiresAt) {
		return Record{}, false
	}
	return record, true
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), ttlOrDefault(ttl)
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.live(id, now); ok {
		return reservationFor(existing, fingerprint)
	}
	pending := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	s.records[id] = pending
	return Reservation{State: ReservationStateNew, Record: pending}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), ttlOrDefault(ttl)
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	var createdAt time.Time
	if existing, ok := s.live(id, now); ok {
		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		createdAt = existing.CreatedAt
	}
	s.records[id] = completedRecord(key, fingerprint, resp, createdAt, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.records, storageKey(key))
	s.mu.Unlock()
	return nil
}

// CleanupExpired drops at most limit expired records, or all of them when limit <= 0, and returns
// the number dropped.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if _, ok := s.live(id, now); !ok {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
