package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretResolver resolves secret:// references, typically against Secret Manager.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that resolved empty.
type MissingSecretsError struct {
	names []string
}

// Error reports redacted names so the message is safe to log.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the sorted field names.
func (e *MissingSecretsError) Names() []string {
	return slices.Clone(e.names)
}

// RedactedNames returns a short hash of each field name, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	slices.Sort(out)
	return out
}

// resolveSecretFields swaps references in secret-bearing fields for their values and returns
// the resolved value of every such field keyed by its dotted name.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	fields := map[string]*string{
		"Store.DatabaseURL":            &cfg.Store.DatabaseURL,
		"Redis.URL":                    &cfg.Redis.URL,
		"Auth.JWTSecret":               &cfg.Auth.JWTSecret,
		"Payments.StripeAPIKey":        &cfg.Payments.StripeAPIKey,
		"Payments.StripeWebhookSecret": &cfg.Payments.StripeWebhookSecret,
		"Payments.WebhookHMACSecret":   &cfg.Payments.WebhookHMACSecret,
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	resolved := make(map[string]string, len(fields))
	for _, name := range names {
		field := fields[name]
		if ref, ok := secretReference(*field); ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = value
		}
		resolved[name] = strings.TrimSpace(*field)
	}
	return resolved, nil
}

// secretReference reports whether value is a secret reference, normalising sm:// to secret://.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) || resolved[name] != "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	slices.Sort(names)
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
