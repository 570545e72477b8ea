// Package secrets resolves secret:// configuration references against Google Secret Manager.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL     = 10 * time.Minute
	defaultFallbackPath = ".secrets.local"
	latestVersion       = "latest"
	meterName           = "github.com/sumtl/B2B-ECOMMERCE/internal/platform/secrets"
)

// ErrSecretNotFound is returned when neither Secret Manager nor the fallback file holds the reference.
var ErrSecretNotFound = errors.New("secrets: not found")

// AccessClient is the subset of the Secret Manager client used by the resolver.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newAccessClient = func(ctx context.Context, opts ...option.ClientOption) (AccessClient, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Resolver turns secret://name?version=N&project=P references into plaintext values. Remote reads
// are cached for a bounded TTL. When Secret Manager is unreachable or unauthorised the local fallback
// file is consulted instead; a NOT_FOUND answer never falls back.
type Resolver struct {
	client     AccessClient
	ownsClient bool
	project    string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cachedSecret

	lookups metric.Int64Counter
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

type resolverConfig struct {
	client       AccessClient
	clientOpts   []option.ClientOption
	project      string
	ttl          time.Duration
	now          func() time.Time
	logger       *zap.Logger
	fallbackPath string
	meter        metric.Meter
}

// Option customises the resolver.
type Option func(*resolverConfig)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *resolverConfig) { cfg.logger = logger }
}

// WithProject sets the Google Cloud project used when a reference does not name one.
func WithProject(projectID string) Option {
	return func(cfg *resolverConfig) { cfg.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the KEY=VALUE file read when Secret Manager is unavailable.
func WithFallbackFile(path string) Option {
	return func(cfg *resolverConfig) { cfg.fallbackPath = strings.TrimSpace(path) }
}

// WithCacheTTL bounds how long a remote value is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *resolverConfig) { cfg.ttl = ttl }
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(cfg *resolverConfig) { cfg.now = now }
}

// WithMeter injects the OpenTelemetry meter used for lookup counters.
func WithMeter(meter metric.Meter) Option {
	return func(cfg *resolverConfig) { cfg.meter = meter }
}

// WithAccessClient injects a preconfigured Secret Manager client.
func WithAccessClient(client AccessClient) Option {
	return func(cfg *resolverConfig) { cfg.client = client }
}

// WithClientOptions forwards options to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *resolverConfig) { cfg.clientOpts = append(cfg.clientOpts, opts...) }
}

// NewResolver builds a resolver. A missing project or unavailable client leaves it in fallback-only mode.
func NewResolver(ctx context.Context, opts ...Option) (*Resolver, error) {
	cfg := resolverConfig{
		ttl:          defaultCacheTTL,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.ttl <= 0 {
		cfg.ttl = defaultCacheTTL
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(meterName)
	}

	lookups, err := cfg.meter.Int64Counter(
		"secrets.lookups",
		metric.WithDescription("Secret resolutions by source"),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: register lookup counter: %w", err)
	}

	r := &Resolver{
		client:       cfg.client,
		project:      cfg.project,
		ttl:          cfg.ttl,
		now:          cfg.now,
		logger:       cfg.logger,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cachedSecret),
		lookups:      lookups,
	}
	if r.client == nil && r.project != "" {
		client, err := newAccessClient(ctx, cfg.clientOpts...)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using fallback file", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Resolve returns the plaintext value for ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	if value, ok := r.cached(parsed.key()); ok {
		r.count(ctx, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = r.project
	}
	if r.client != nil && project != "" {
		value, err := r.access(ctx, project, parsed)
		if err == nil {
			r.store(parsed.key(), value)
			r.count(ctx, "secret_manager")
			return value, nil
		}
		if !fallbackEligible(err) {
			r.count(ctx, "error")
			return "", fmt.Errorf("secrets: access %s: %w", parsed.name, err)
		}
		r.logger.Debug("secrets: falling back to local file", zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok := r.lookupFallback(parsed)
	if !ok {
		r.count(ctx, "error")
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, parsed.name)
	}
	r.count(ctx, "fallback")
	return value, nil
}

// ResolveSecret adapts the resolver to the configuration loader.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return r.Resolve(ctx, ref)
}

func (r *Resolver) access(ctx context.Context, project string, ref reference) (string, error) {
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, ref.name, ref.version),
	})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", errors.New("secrets: empty payload")
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) cached(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return "", false
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.cache, key)
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cachedSecret{value: value, expiresAt: r.now().Add(r.ttl)}
}

func (r *Resolver) count(ctx context.Context, source string) {
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// lookupFallback matches the versioned key first, then the bare secret name.
func (r *Resolver) lookupFallback(ref reference) (string, bool) {
	r.fallbackOnce.Do(func() {
		values, err := readFallbackFile(r.fallbackPath)
		if err != nil {
			r.logger.Warn("secrets: fallback file unreadable", zap.String("path", r.fallbackPath), zap.Error(err))
		}
		r.fallback = values
	})
	if value, ok := r.fallback[ref.key()]; ok {
		return value, true
	}
	value, ok := r.fallback[ref.name]
	return value, ok
}

func readFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return values, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if parsed, err := parseReference(key); err == nil {
			values[parsed.key()] = strings.TrimSpace(value)
			continue
		}
		values[key] = strings.TrimSpace(value)
	}
	return values, scanner.Err()
}

type reference struct {
	name    string
	version string
	project string
}

func (r reference) key() string {
	return r.name + "@" + r.version
}

func parseReference(ref string) (reference, error) {
	trimmed := strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		trimmed = "secret://" + rest
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: reference names no secret")
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = latestVersion
	}
	return reference{
		name:    name,
		version: version,
		project: strings.TrimSpace(query.Get("project")),
	}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
