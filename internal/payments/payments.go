// Package payments adapts hosted-checkout payment providers to the order lifecycle: creating
// checkout sessions, polling their status, and turning verified webhooks into Events.
package payments

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Outcome is the provider-neutral state of a payment.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
	OutcomeExpired Outcome = "expired"
	OutcomePending Outcome = "pending"
)

// Valid reports whether the outcome belongs to the shared vocabulary.
func (o Outcome) Valid() bool {
	return o == OutcomePaid || o == OutcomeFailed || o == OutcomeExpired || o == OutcomePending
}

var (
	// ErrUnsupportedProvider is returned when no registered provider matches the request.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidSignature is returned when a webhook payload fails authenticity checks.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent is returned when a webhook payload is authentic but cannot be interpreted.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)

// CheckoutLineItem is one line on the hosted payment page. Amount is the unit price in cents.
type CheckoutLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
}

// CheckoutSessionRequest asks a provider for a hosted payment page covering one order.
type CheckoutSessionRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Locale         string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession is where the buyer is sent to pay.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// SessionStatus is the provider's current view of a hosted session.
type SessionStatus struct {
	SessionID   string
	OrderID     string
	Outcome     Outcome
	ProviderRef string
}

// Event is a verified provider notification about an order payment.
type Event struct {
	ID          string
	Type        string
	Provider    string
	OrderID     string
	Outcome     Outcome
	ProviderRef string
	Reason      string
	OccurredAt  time.Time
}

// Provider is a hosted-checkout payment adapter.
type Provider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error)
}

// WebhookParser verifies and decodes provider webhook deliveries.
type WebhookParser interface {
	ParseWebhook(header http.Header, body []byte) (Event, error)
}
