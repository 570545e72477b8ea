package handlers

import (
	"strings"
	"sync"
	"time"
)

// fixedWindowLimiter admits at most limit calls per key within each window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	slots  map[string]windowSlot
}

type windowSlot struct {
	count int
	reset time.Time
}

// newFixedWindowLimiter returns nil when limit or window is not positive; a nil limiter admits
// everything.
func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) *fixedWindowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		slots:  make(map[string]windowSlot),
	}
}

// Allow consumes one call for key and reports whether it fits the current window. When it does
// not, the time until the window resets is returned.
func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok || !now.Before(slot.reset) {
		l.slots[key] = windowSlot{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true, 0
	}
	if slot.count >= l.limit {
		return false, slot.reset.Sub(now)
	}
	slot.count++
	l.slots[key] = slot
	return true, 0
}

func (l *fixedWindowLimiter) pruneLocked(now time.Time) {
	for key, slot := range l.slots {
		if !now.Before(slot.reset) {
			delete(l.slots, key)
		}
	}
}
