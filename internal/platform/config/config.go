// Package config assembles runtime settings from API_* environment variables, an optional
// dotenv file, and secret references resolved at start-up.
package config

import "time"

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Identity token providers.
const (
	AuthProviderJWT      = "jwt"
	AuthProviderFirebase = "firebase"
)

// Webhook verification modes.
const (
	WebhookModeStripe = "stripe"
	WebhookModeHMAC   = "hmac"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Payments    PaymentConfig
	Pricing     PricingConfig
	PubSub      PubSubConfig
	Secrets     SecretsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         string
	BasePath     string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the relational store. The memory driver needs no URL.
type StoreConfig struct {
	Driver         string
	DatabaseURL    string
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
}

// RedisConfig points at the cache used for webhook dedupe, nonces and idempotency records.
// An empty URL falls back to in-process stores.
type RedisConfig struct {
	URL string
}

// AuthConfig controls buyer/admin token verification.
type AuthConfig struct {
	Provider                string
	JWTSecret               string
	JWKSURL                 string
	Issuer                  string
	Audience                string
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	FirebaseCheckRevoked    bool
	RoleClaim               string
	VerifyTimeout           time.Duration
}

// PaymentConfig collects payment provider credentials and reconciliation tuning.
type PaymentConfig struct {
	Provider            string
	StripeAPIKey        string
	StripeWebhookSecret string
	WebhookMode         string
	WebhookHMACSecret   string
	SuccessURL          string
	CancelURL           string
	PollAttempts        int
	PollInterval        time.Duration
	WebhookDedupeTTL    time.Duration
	// SessionRateLimit caps checkout sessions per buyer within SessionRateWindow; 0 disables it.
	SessionRateLimit  int
	SessionRateWindow time.Duration
}

// PricingConfig holds the currency and shipping policy applied by the totals calculator.
type PricingConfig struct {
	Currency                   string
	FreeShippingThresholdCents int64
	FlatShippingFeeCents       int64
}

// PubSubConfig configures order event publishing. Publishing is disabled when Topic is empty.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// SecretsConfig names the Secret Manager project used for secret:// references.
type SecretsConfig struct {
	ProjectID string
}

// SecurityConfig groups webhook signing expectations.
type SecurityConfig struct {
	HMAC HMACConfig
}

// HMACConfig shapes the signed-webhook contract used in hmac webhook mode.
type HMACConfig struct {
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// IdempotencyConfig controls replay of mutating buyer and admin requests.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}
