package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
)

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// StaticSecrets serves secrets already resolved by configuration.
type StaticSecrets map[string]string

// GetSecret implements SecretProvider.
func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if secret := s[name]; strings.TrimSpace(secret) != "" {
		return secret, nil
	}
	return "", fmt.Errorf("auth: secret %q not configured", name)
}

type hmacHeaders struct {
	signature string
	timestamp string
	nonce     string
}

// HMACValidator guards the generic payment webhook with a shared-secret signature, a timestamp
// window and single-use nonces.
type HMACValidator struct {
	secrets  SecretProvider
	nonces   NonceStore
	logger   Logger
	now      func() time.Time
	headers  hmacHeaders
	skew     time.Duration
	nonceTTL time.Duration

	resolved sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(secrets SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secrets:  secrets,
		nonces:   nonces,
		logger:   log.Default(),
		now:      time.Now,
		headers:  hmacHeaders{signature: "X-Signature", timestamp: "X-Signature-Timestamp", nonce: "X-Signature-Nonce"},
		skew:     5 * time.Minute,
		nonceTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACClock injects a custom clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders renames the signature, timestamp and nonce headers. Blank names keep the default.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		for dst, src := range map[*string]string{
			&v.headers.signature: signature,
			&v.headers.timestamp: timestamp,
			&v.headers.nonce:     nonce,
		} {
			if src = strings.TrimSpace(src); src != "" {
				*dst = src
			}
		}
	}
}

// WithHMACClockSkew sets how far a signature timestamp may drift from the local clock.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.skew = d
		}
	}
}

// WithHMACNonceTTL sets how long a used nonce is remembered.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes an accepted signature.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacContextKey struct{}

// HMACMetadataFromContext returns the metadata attached by RequireHMAC.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, _ := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, meta != nil
}

// RequireHMAC rejects requests whose signature does not verify against the named secret.
// Signature problems and replays answer 401; secret or nonce storage outages answer 503.
// The body is buffered and restored for the next handler.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			meta, rejection := v.verify(ctx, r, secretName)
			if rejection != nil {
				httpx.WriteError(ctx, w, *rejection)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, hmacContextKey{}, meta)))
		})
	}
}

func (v *HMACValidator) verify(ctx context.Context, r *http.Request, secretName string) (*HMACMetadata, *httpx.Error) {
	secret, err := v.secret(ctx, secretName)
	if err != nil {
		v.logf("auth: hmac secret lookup failed: %v", err)
		return nil, reject("verification_unavailable", "hmac secret unavailable", http.StatusServiceUnavailable)
	}

	signatureValue := strings.TrimSpace(r.Header.Get(v.headers.signature))
	timestampValue := strings.TrimSpace(r.Header.Get(v.headers.timestamp))
	nonce := strings.TrimSpace(r.Header.Get(v.headers.nonce))
	if signatureValue == "" || timestampValue == "" || nonce == "" {
		return nil, reject("signature_missing", "signature headers missing", http.StatusUnauthorized)
	}

	signedAt, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return nil, reject("timestamp_invalid", "signature timestamp invalid", http.StatusUnauthorized)
	}
	now := v.now()
	if drift := now.Sub(signedAt).Abs(); drift > v.skew {
		return nil, reject("timestamp_skew", "signature timestamp outside allowed window", http.StatusUnauthorized)
	}

	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return nil, reject("signature_invalid", "signature encoding invalid", http.StatusUnauthorized)
	}
	body, err := bufferBody(r)
	if err != nil {
		return nil, reject("invalid_body", "unable to read body for signature verification", http.StatusBadRequest)
	}
	canonical := canonicalRequest{method: r.Method, path: r.URL.EscapedPath(), timestamp: timestampValue, nonce: nonce, body: body}
	if !hmac.Equal(signature, canonical.mac(secret)) {
		return nil, reject("signature_mismatch", "signature verification failed", http.StatusUnauthorized)
	}

	if v.nonces == nil {
		return nil, reject("verification_unavailable", "nonce store unavailable", http.StatusServiceUnavailable)
	}
	expiry := signedAt.Add(v.nonceTTL)
	if expiry.Before(now) {
		expiry = now.Add(v.nonceTTL)
	}
	fresh, err := v.nonces.UseNonce(ctx, secretName, nonce, now, expiry)
	switch {
	case err != nil:
		v.logf("auth: nonce store error: %v", err)
		return nil, reject("verification_unavailable", "nonce storage error", http.StatusServiceUnavailable)
	case !fresh:
		return nil, reject("nonce_replay", "duplicate signature nonce", http.StatusUnauthorized)
	}
	return &HMACMetadata{SecretName: secretName, Timestamp: signedAt, Nonce: nonce}, nil
}

func reject(code, message string, status int) *httpx.Error {
	e := httpx.NewError(code, message, status)
	return &e
}

func (v *HMACValidator) logf(format string, args ...any) {
	if v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

// secret resolves the named secret once and caches it for the validator's lifetime.
func (v *HMACValidator) secret(ctx context.Context, name string) ([]byte, error) {
	if v.secrets == nil || name == "" {
		return nil, errors.New("auth: hmac secret not configured")
	}
	if cached, ok := v.resolved.Load(name); ok {
		return cached.([]byte), nil
	}
	raw, err := v.secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}
	secret := []byte(raw)
	v.resolved.Store(name, secret)
	return secret, nil
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
