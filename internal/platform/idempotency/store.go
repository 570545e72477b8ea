package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key stays reserved or replayable when no TTL is given.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState tells the middleware what to do after Reserve.
type ReservationState int

const (
	// ReservationStateNew hands the key to the caller; the handler should run.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted carries a stored response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request still holds the key.
	ReservationStatePending
)

type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is what a Store persists per key. The JSON form is the Redis payload.
type Record struct {
	Key             string              `json:"key"`
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    []byte              `json:"responseBody,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
	ExpiresAt       time.Time           `json:"expiresAt"`
}

// Response is a captured handler response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store holds reservations and completed responses. Records must stop being visible once their TTL
// has passed.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch means the key was first used with a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// skippedHeaders are never replayed; they describe the original connection, not the response.
var skippedHeaders = []string{
	"Connection", "Content-Length", "Date", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// storageKey hashes the caller-scoped key so arbitrary client input never reaches a backend key.
func storageKey(key string) string {
	digest := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(digest[:])
}

func reservationFor(existing Record, fingerprint string) (Reservation, error) {
	switch {
	case existing.Fingerprint != fingerprint:
		return Reservation{}, ErrFingerprintMismatch
	case existing.Status == StatusCompleted:
		return Reservation{State: ReservationStateCompleted, Record: existing}, nil
	default:
		return Reservation{State: ReservationStatePending, Record: existing}, nil
	}
}

// completedRecord keeps createdAt from the pending reservation when there was one.
func completedRecord(key, fingerprint string, resp Response, createdAt, now time.Time, ttl time.Duration) Record {
	if createdAt.IsZero() {
		createdAt = now
	}
	return Record{
		Key:             key,
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: replayableHeaders(resp.Headers),
		ResponseBody:    slices.Clone(resp.Body),
		CreatedAt:       createdAt,
		ExpiresAt:       now.Add(ttl),
	}
}

func replayableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if slices.Contains(skippedHeaders, name) {
			continue
		}
		out[name] = slices.Clone(values)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
