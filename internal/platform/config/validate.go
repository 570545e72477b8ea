package config

import (
	"fmt"
	"strings"
)

// ValidationError lists every field that is missing, malformed or inconsistent.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names. Unparseable values are reported by their
// environment variable name.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

type problems []string

func (p *problems) require(ok bool, field string) {
	if !ok {
		*p = append(*p, field)
	}
}

func validate(cfg Config, malformed []string) error {
	p := problems(append([]string(nil), malformed...))

	p.require(cfg.Server.Port != "", "Server.Port")
	p.require(strings.HasPrefix(cfg.Server.BasePath, "/"), "Server.BasePath")

	switch cfg.Store.Driver {
	case StoreDriverPostgres:
		p.require(cfg.Store.DatabaseURL != "", "Store.DatabaseURL")
		p.require(cfg.Store.MaxConns > 0 && cfg.Store.MinConns >= 0 && cfg.Store.MinConns <= cfg.Store.MaxConns, "Store.MaxConns")
	case StoreDriverMemory:
	default:
		p.require(false, "Store.Driver")
	}

	switch cfg.Auth.Provider {
	case AuthProviderJWT:
		p.require(cfg.Auth.JWTSecret != "" || cfg.Auth.JWKSURL != "", "Auth.JWTSecret")
	case AuthProviderFirebase:
		p.require(cfg.Auth.FirebaseProjectID != "", "Auth.FirebaseProjectID")
	default:
		p.require(false, "Auth.Provider")
	}

	switch cfg.Payments.WebhookMode {
	case WebhookModeStripe:
	case WebhookModeHMAC:
		p.require(cfg.Payments.WebhookHMACSecret != "", "Payments.WebhookHMACSecret")
	default:
		p.require(false, "Payments.WebhookMode")
	}
	p.require(cfg.Payments.PollAttempts > 0, "Payments.PollAttempts")
	p.require(cfg.Payments.PollInterval >= 0, "Payments.PollInterval")

	p.require(cfg.Pricing.FreeShippingThresholdCents >= 0, "Pricing.FreeShippingThresholdCents")
	p.require(cfg.Pricing.FlatShippingFeeCents >= 0, "Pricing.FlatShippingFeeCents")

	p.require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	p.require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	if len(p) > 0 {
		return &ValidationError{fields: p}
	}
	return nil
}
