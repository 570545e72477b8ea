package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/requestctx"
)

const (
	replayHeaderName = "Idempotent-Replayed"
	maxKeyLength     = 255
	// DefaultMaxBodyBytes caps the body buffered for fingerprinting.
	DefaultMaxBodyBytes int64 = 1 << 20
)

type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	maxBody int64
	now     func() time.Time
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL configures how long completed responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMaxBodyBytes caps how much of a keyed request body is read. Larger bodies get 413.
func WithMaxBodyBytes(limit int64) MiddlewareOption {
	return func(g *guard) {
		if limit > 0 {
			g.maxBody = limit
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Middleware makes mutating requests that carry an Idempotency-Key safe to retry: the first
// response for a key is stored and replayed for repeats, a repeat while the first is still running
// gets 409, and reusing a key for a different request gets 422. Keys are scoped to the caller.
// 5xx responses are not stored so the client can retry with the same key.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{store: store, header: "Idempotency-Key", ttl: DefaultTTL, maxBody: DefaultMaxBodyBytes, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(g.header))
			if key == "" || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next, key)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	ctx := r.Context()
	if len(key) > maxKeyLength {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body is too large", http.StatusRequestEntityTooLarge))
		return
	}
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	caller := callerOf(r)
	scoped := caller + "|" + key
	fingerprint := fingerprintOf(r, body, caller)
	logger := requestctx.Logger(ctx).With(zap.String("idempotency_key", key))

	reservation, err := g.store.Reserve(ctx, scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
		return
	case err != nil:
		logger.Error("idempotency reserve failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.Unavailable("idempotency"))
		return
	case reservation.State == ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case reservation.State == ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict))
		return
	}

	var captured bytes.Buffer
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	ww.Tee(&captured)
	next.ServeHTTP(ww, r)

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, scoped); err != nil {
			logger.Warn("idempotency release failed", zap.Error(err))
		}
		return
	}
	resp := Response{Status: status, Headers: ww.Header().Clone(), Body: captured.Bytes()}
	if err := g.store.Complete(ctx, scoped, fingerprint, resp, g.now().UTC(), g.ttl); err != nil {
		logger.Warn("idempotency save failed", zap.Error(err))
	}
}

func callerOf(r *http.Request) string {
	if actor, ok := requestctx.ActorFrom(r.Context()); ok {
		return actor.BuyerID
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// fingerprintOf hashes what makes two requests "the same": method, path, query, caller and body.
func fingerprintOf(r *http.Request, body []byte, caller string) string {
	bodySum := sha256.Sum256(body)
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, caller, hex.EncodeToString(bodySum[:])} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.ResponseHeaders {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}
