package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PaymentContext carries the hints used to pick a provider. Orders remember the provider that
// opened their session, so status polls go back to the same one.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// Manager routes checkout and status calls to a registered Provider.
type Manager struct {
	providers map[string]Provider
	fallback  string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider names the provider used when the caller expresses no preference.
// An empty name disables the default.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) { m.fallback = providerKey(name) }
}

// NewManager registers providers by their lower-cased Name. Stripe is the default when present.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		key := providerKey(p.Name())
		switch _, dup := m.providers[key]; {
		case key == "":
			return nil, fmt.Errorf("payments: provider %T has no name", p)
		case dup:
			return nil, fmt.Errorf("payments: duplicate provider %q", key)
		}
		m.providers[key] = p
	}
	if _, ok := m.providers[ProviderStripe]; ok {
		m.fallback = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// pick honours an explicit preference strictly; otherwise it uses the default, or the only
// registered provider.
func (m *Manager) pick(hint PaymentContext) (string, Provider, error) {
	if want := providerKey(hint.PreferredProvider); want != "" {
		if p, ok := m.providers[want]; ok {
			return want, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, want)
	}
	if p, ok := m.providers[m.fallback]; ok {
		return m.fallback, p, nil
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckoutSession opens a session with the chosen provider and stamps its name on the result.
func (m *Manager) CreateCheckoutSession(ctx context.Context, hint PaymentContext, req CheckoutSessionRequest) (CheckoutSession, error) {
	key, provider, err := m.pick(hint)
	if err != nil {
		return CheckoutSession{}, err
	}
	session, err := provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		return CheckoutSession{}, err
	}
	session.Provider = key
	return session, nil
}

// GetSessionStatus asks the chosen provider about sessionRef.
func (m *Manager) GetSessionStatus(ctx context.Context, hint PaymentContext, sessionRef string) (SessionStatus, error) {
	_, provider, err := m.pick(hint)
	if err != nil {
		return SessionStatus{}, err
	}
	return provider.GetSessionStatus(ctx, sessionRef)
}
