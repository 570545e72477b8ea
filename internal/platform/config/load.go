package config

import (
	"context"
	"time"
)

const (
	defaultEnvFile  = ".env"
	defaultBasePath = "/api/v1"

	defaultHMACSignatureHeader = "X-Signature"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
)

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	resolver        SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile overrides the dotenv file path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// references found in secret-bearing fields.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets makes Load fail with MissingSecretsError when any named field
// (for example "Payments.StripeAPIKey") resolves to an empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged key/value view Load would read from, so start-up code can
// configure the secret resolver before Load runs. Precedence: env map, process env, dotenv.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.snapshot(), nil
}

// Load builds the configuration, resolves secret references, and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := read(src)
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Auth.FirebaseProjectID
	}

	resolved, err := resolveSecretFields(ctx, &cfg, o.resolver)
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg, src.malformed); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func read(src *source) Config {
	return Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", "8080"),
			BasePath:     src.str("API_SERVER_BASE_PATH", defaultBasePath),
			Environment:  src.lower("API_ENVIRONMENT", "local"),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Store: StoreConfig{
			Driver:         src.lower("API_STORE_DRIVER", StoreDriverPostgres),
			DatabaseURL:    src.raw("API_DATABASE_URL"),
			MaxConns:       src.integer("API_DATABASE_MAX_CONNS", 25),
			MinConns:       src.integer("API_DATABASE_MIN_CONNS", 5),
			ConnectTimeout: src.duration("API_DATABASE_CONNECT_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL: src.raw("API_REDIS_URL"),
		},
		Auth: AuthConfig{
			Provider:                src.lower("API_AUTH_PROVIDER", AuthProviderJWT),
			JWTSecret:               src.raw("API_AUTH_JWT_SECRET"),
			JWKSURL:                 src.raw("API_AUTH_JWKS_URL"),
			Issuer:                  src.raw("API_AUTH_ISSUER"),
			Audience:                src.raw("API_AUTH_AUDIENCE"),
			FirebaseProjectID:       src.raw("API_FIREBASE_PROJECT_ID"),
			FirebaseCredentialsFile: src.raw("API_FIREBASE_CREDENTIALS_FILE"),
			FirebaseCheckRevoked:    src.boolean("API_FIREBASE_CHECK_REVOKED", false),
			RoleClaim:               src.str("API_AUTH_ROLE_CLAIM", "role"),
			VerifyTimeout:           src.duration("API_AUTH_VERIFY_TIMEOUT", 5*time.Second),
		},
		Payments: PaymentConfig{
			Provider:            src.lower("API_PAYMENT_PROVIDER", "stripe"),
			StripeAPIKey:        src.raw("API_STRIPE_API_KEY"),
			StripeWebhookSecret: src.raw("API_STRIPE_WEBHOOK_SECRET"),
			WebhookMode:         src.lower("API_PAYMENT_WEBHOOK_MODE", WebhookModeStripe),
			WebhookHMACSecret:   src.raw("API_WEBHOOK_HMAC_SECRET"),
			SuccessURL:          src.raw("API_CHECKOUT_SUCCESS_URL"),
			CancelURL:           src.raw("API_CHECKOUT_CANCEL_URL"),
			PollAttempts:        src.integer("API_PAYMENT_POLL_ATTEMPTS", 3),
			PollInterval:        src.duration("API_PAYMENT_POLL_INTERVAL", 2*time.Second),
			WebhookDedupeTTL:    src.duration("API_PAYMENT_WEBHOOK_DEDUPE_TTL", 72*time.Hour),
			SessionRateLimit:    src.integer("API_CHECKOUT_SESSION_RATE_LIMIT", 10),
			SessionRateWindow:   src.duration("API_CHECKOUT_SESSION_RATE_WINDOW", time.Minute),
		},
		Pricing: PricingConfig{
			Currency:                   src.lower("API_PRICING_CURRENCY", "cad"),
			FreeShippingThresholdCents: int64(src.integer("API_PRICING_FREE_SHIPPING_THRESHOLD", 10000)),
			FlatShippingFeeCents:       int64(src.integer("API_PRICING_FLAT_SHIPPING_FEE", 1500)),
		},
		PubSub: PubSubConfig{
			ProjectID: src.raw("API_PUBSUB_PROJECT_ID"),
			Topic:     src.raw("API_PUBSUB_ORDER_TOPIC"),
		},
		Secrets: SecretsConfig{
			ProjectID: src.raw("API_SECRETS_PROJECT_ID"),
		},
		Security: SecurityConfig{
			HMAC: HMACConfig{
				SignatureHeader: src.str("API_SECURITY_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: src.str("API_SECURITY_HMAC_HEADER_TIMESTAMP", "X-Signature-Timestamp"),
				NonceHeader:     src.str("API_SECURITY_HMAC_HEADER_NONCE", "X-Signature-Nonce"),
				ClockSkew:       src.duration("API_SECURITY_HMAC_CLOCK_SKEW", 5*time.Minute),
				NonceTTL:        src.duration("API_SECURITY_HMAC_NONCE_TTL", 5*time.Minute),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", time.Hour),
			CleanupBatchSize: src.integer("API_IDEMPOTENCY_CLEANUP_BATCH", 200),
		},
	}
}
