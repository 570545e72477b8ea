package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookPath = "/api/v1/webhooks/payment"

var signedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func signedWebhookRequest(secret string, at time.Time, nonce string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, webhookPath, bytes.NewReader(body))
	timestamp := strconv.FormatInt(at.Unix(), 10)
	req.Header.Set("X-Signature", SignRequest([]byte(secret), req.Method, req.URL.EscapedPath(), body, timestamp, nonce))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("X-Signature-Nonce", nonce)
	return req
}

func newTestValidator(secrets SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	opts = append([]HMACOption{
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return signedAt }),
	}, opts...)
	return NewHMACValidator(secrets, nonces, opts...)
}

func runSigned(v *HMACValidator, req *http.Request, next http.HandlerFunc) *httptest.ResponseRecorder {
	if next == nil {
		next = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	}
	rr := httptest.NewRecorder()
	v.RequireHMAC("payments")(next).ServeHTTP(rr, req)
	return rr
}

func TestRequireHMACAcceptsSignedEvent(t *testing.T) {
	validator := newTestValidator(StaticSecrets{"payments": "super-secret"}, NewInMemoryNonceStore())
	body := []byte(`{"id":"evt_1","type":"payment.succeeded","orderId":"ord_1"}`)

	var seenBody []byte
	var meta *HMACMetadata
	rr := runSigned(validator, signedWebhookRequest("super-secret", signedAt, "nonce-123", body), func(w http.ResponseWriter, r *http.Request) {
		meta, _ = HMACMetadataFromContext(r.Context())
		seenBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, body, seenBody, "body must be restored for the handler")
	require.NotNil(t, meta)
	assert.Equal(t, "payments", meta.SecretName)
	assert.Equal(t, "nonce-123", meta.Nonce)
	assert.True(t, meta.Timestamp.Equal(signedAt))
}

func TestRequireHMACAlternateEncodings(t *testing.T) {
	body := []byte(`{}`)
	timestamp := signedAt.Add(-time.Minute).Format(time.RFC3339)
	raw, err := base64.StdEncoding.DecodeString(SignRequest([]byte("secret"), http.MethodPost, webhookPath, body, timestamp, "hex-1"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, webhookPath, bytes.NewReader(body))
	req.Header.Set("X-Hook-Sig", hex.EncodeToString(raw))
	req.Header.Set("X-Hook-Time", timestamp)
	req.Header.Set("X-Hook-Nonce", "hex-1")

	validator := newTestValidator(StaticSecrets{"payments": "secret"}, NewInMemoryNonceStore(),
		WithHMACHeaders("X-Hook-Sig", "X-Hook-Time", "X-Hook-Nonce"))
	assert.Equal(t, http.StatusOK, runSigned(validator, req, nil).Code)
}

func TestRequireHMACRejectsReplay(t *testing.T) {
	validator := newTestValidator(StaticSecrets{"payments": "secret"}, NewInMemoryNonceStore())

	first := runSigned(validator, signedWebhookRequest("secret", signedAt, "dup", []byte(`{}`)), nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := runSigned(validator, signedWebhookRequest("secret", signedAt, "dup", []byte(`{}`)), nil)
	assert.Equal(t, http.StatusUnauthorized, second.Code)
	assert.Equal(t, "nonce_replay", errorCode(t, second))
}

func TestRequireHMACRejections(t *testing.T) {
	cases := []struct {
		name    string
		request func() *http.Request
		code    string
	}{
		{
			name:    "wrong secret",
			request: func() *http.Request { return signedWebhookRequest("wrong", signedAt, "n1", []byte(`{}`)) },
			code:    "signature_mismatch",
		},
		{
			name:    "stale timestamp",
			request: func() *http.Request { return signedWebhookRequest("secret", signedAt.Add(-time.Hour), "n2", []byte(`{}`)) },
			code:    "timestamp_skew",
		},
		{
			name:    "future timestamp",
			request: func() *http.Request { return signedWebhookRequest("secret", signedAt.Add(time.Hour), "n3", []byte(`{}`)) },
			code:    "timestamp_skew",
		},
		{
			name: "headers missing",
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, webhookPath, bytes.NewReader([]byte(`{}`)))
			},
			code: "signature_missing",
		},
		{
			name: "garbled timestamp",
			request: func() *http.Request {
				req := signedWebhookRequest("secret", signedAt, "n4", []byte(`{}`))
				req.Header.Set("X-Signature-Timestamp", "yesterday")
				return req
			},
			code: "timestamp_invalid",
		},
		{
			name: "garbled signature",
			request: func() *http.Request {
				req := signedWebhookRequest("secret", signedAt, "n5", []byte(`{}`))
				req.Header.Set("X-Signature", "%%%")
				return req
			},
			code: "signature_invalid",
		},
		{
			name: "body tampered",
			request: func() *http.Request {
				req := signedWebhookRequest("secret", signedAt, "n6", []byte(`{"amount":100}`))
				tampered := httptest.NewRequest(http.MethodPost, webhookPath, bytes.NewReader([]byte(`{"amount":1}`)))
				tampered.Header = req.Header.Clone()
				return tampered
			},
			code: "signature_mismatch",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := newTestValidator(StaticSecrets{"payments": "secret"}, NewInMemoryNonceStore())
			rr := runSigned(validator, tc.request(), func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

type failingNonceStore struct{}

func (failingNonceStore) UseNonce(context.Context, string, string, time.Time, time.Time) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRequireHMACDependencyOutages(t *testing.T) {
	unavailable := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", errors.New("secret manager unavailable")
	})
	cases := map[string]*HMACValidator{
		"secret lookup": newTestValidator(unavailable, NewInMemoryNonceStore()),
		"nonce store":   newTestValidator(StaticSecrets{"payments": "secret"}, failingNonceStore{}),
		"no nonce store": newTestValidator(StaticSecrets{"payments": "secret"}, nil),
	}
	for name, validator := range cases {
		t.Run(name, func(t *testing.T) {
			rr := runSigned(validator, signedWebhookRequest("secret", signedAt, "n", []byte(`{}`)), func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not run")
			})
			assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
			assert.Equal(t, "verification_unavailable", errorCode(t, rr))
		})
	}
}

func TestRequireHMACCachesSecret(t *testing.T) {
	lookups := 0
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		lookups++
		return "secret", nil
	})
	validator := newTestValidator(provider, NewInMemoryNonceStore())

	for _, nonce := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, runSigned(validator, signedWebhookRequest("secret", signedAt, nonce, nil), nil).Code)
	}
	assert.Equal(t, 1, lookups)
}

func TestInMemoryNonceStoreExpiry(t *testing.T) {
	store := NewInMemoryNonceStore()
	now := time.Unix(1_700_000_000, 0)
	ctx := context.Background()

	ok, err := store.UseNonce(ctx, "payments", "n", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.UseNonce(ctx, "payments", "n", now, now.Add(time.Minute))
	assert.False(t, ok, "replay within ttl")

	ok, _ = store.UseNonce(ctx, "refunds", "n", now, now.Add(time.Minute))
	assert.True(t, ok, "nonces are scoped per secret")

	now = now.Add(2 * time.Minute)
	ok, _ = store.UseNonce(ctx, "payments", "n", now, now.Add(time.Minute))
	assert.True(t, ok, "nonce reusable after expiry")

	_, err = store.UseNonce(ctx, "", "n", now, now)
	assert.Error(t, err)
}

func TestInMemoryNonceStoreFollowsCallerClock(t *testing.T) {
	store := NewInMemoryNonceStore()
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	ok, err := store.UseNonce(context.Background(), "payments", "n", past, past.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.UseNonce(context.Background(), "payments", "n", past.Add(30*time.Second), past.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a nonce live at the caller's time must be rejected whatever the wall clock says")
}

func TestRequireHMACRejectsReplayWithWallClock(t *testing.T) {
	validator := NewHMACValidator(StaticSecrets{"payments": "secret"}, NewInMemoryNonceStore(), WithHMACLogger(noopLogger{}))
	now := time.Now()

	codes := make([]int, 0, 2)
	for range 2 {
		codes = append(codes, runSigned(validator, signedWebhookRequest("secret", now, "wall", []byte(`{}`)), nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusUnauthorized}, codes)
}

func TestDecodeSignature(t *testing.T) {
	digest := sha256.Sum256([]byte("payload"))
	cases := map[string]struct {
		value string
		want  []byte
	}{
		"hex digest":    {value: hex.EncodeToString(digest[:]), want: digest[:]},
		"upper hex":     {value: strings.ToUpper(hex.EncodeToString(digest[:])), want: digest[:]},
		"base64 digest": {value: base64.StdEncoding.EncodeToString(digest[:]), want: digest[:]},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := decodeSignature(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := decodeSignature("not a signature!")
	assert.Error(t, err)
}

func TestRequireHMACAcceptsHexSignatureWithWallClock(t *testing.T) {
	body := []byte(`{"id":"evt_hex"}`)
	now := time.Now()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	raw, err := base64.StdEncoding.DecodeString(SignRequest([]byte("secret"), http.MethodPost, webhookPath, body, timestamp, "hex-wall"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, webhookPath, bytes.NewReader(body))
	req.Header.Set("X-Signature", hex.EncodeToString(raw))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	req.Header.Set("X-Signature-Nonce", "hex-wall")

	validator := NewHMACValidator(StaticSecrets{"payments": "secret"}, NewInMemoryNonceStore(), WithHMACLogger(noopLogger{}))
	assert.Equal(t, http.StatusOK, runSigned(validator, req, nil).Code)
}
