package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// ProviderStripe is the registration key of the Stripe provider.
const ProviderStripe = "stripe"

const (
	stripeSignatureHeader  = "Stripe-Signature"
	stripeOrderMetadataKey = "orderId"
	defaultSessionLifetime = 30 * time.Minute
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey          string
	AccountID       string
	Backends        *stripe.Backends
	SessionLifetime time.Duration
	Logger          StripeLogger
	Clock           func() time.Time

	sessions stripeSessionAPI
}

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	sessions stripeSessionAPI
	account  string
	lifetime time.Duration
	clock    func() time.Time
	logger   StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	sessions := cfg.sessions
	if sessions == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	lifetime := cfg.SessionLifetime
	if lifetime <= 0 {
		lifetime = defaultSessionLifetime
	}

	return &StripeProvider{
		sessions: sessions,
		account:  strings.TrimSpace(cfg.AccountID),
		lifetime: lifetime,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name implements Provider.
func (p *StripeProvider) Name() string { return ProviderStripe }

// CreateCheckoutSession creates a Stripe Checkout session bound to the order.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return CheckoutSession{}, errors.New("stripe: order id is required")
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[stripeOrderMetadataKey] = orderID

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(orderID),
		ExpiresAt:         stripe.Int64(p.clock().Add(p.lifetime).Unix()),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if req.Locale != "" {
		params.Locale = stripe.String(strings.ReplaceAll(strings.ToLower(req.Locale), "_", "-"))
	}

	currency := strings.ToLower(req.Currency)
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + orderID),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   orderID,
		"currency":  session.Currency,
	})

	expiresAt := p.clock().Add(p.lifetime)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    ProviderStripe,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// GetSessionStatus retrieves the Checkout session and normalises its payment outcome.
func (p *StripeProvider) GetSessionStatus(ctx context.Context, sessionRef string) (SessionStatus, error) {
	if p == nil {
		return SessionStatus{}, errors.New("stripe: provider is nil")
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return SessionStatus{}, errors.New("stripe: session reference is required")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(sessionRef, params)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return SessionStatus{
		SessionID:   session.ID,
		OrderID:     stripeSessionOrderID(session),
		Outcome:     stripeSessionOutcome(session),
		ProviderRef: stripeSessionRef(session),
	}, nil
}

// StripeWebhookParser verifies Stripe-Signature headers and decodes Checkout events.
type StripeWebhookParser struct {
	secret string
}

var _ WebhookParser = (*StripeWebhookParser)(nil)

// NewStripeWebhookParser constructs a parser bound to the endpoint signing secret.
func NewStripeWebhookParser(secret string) (*StripeWebhookParser, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	return &StripeWebhookParser{secret: secret}, nil
}

// ParseWebhook implements WebhookParser. Event types other than Checkout session
// notifications decode to a pending outcome without an order reference.
func (p *StripeWebhookParser) ParseWebhook(header http.Header, body []byte) (Event, error) {
	event, err := webhook.ConstructEvent(body, header.Get(stripeSignatureHeader), p.secret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	result := Event{
		ID:         event.ID,
		Type:       string(event.Type),
		Provider:   ProviderStripe,
		Outcome:    OutcomePending,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if !strings.HasPrefix(result.Type, "checkout.session.") {
		return result, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return Event{}, fmt.Errorf("%w: missing event data", ErrMalformedEvent)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Event{}, fmt.Errorf("%w: decode checkout session: %v", ErrMalformedEvent, err)
	}

	result.OrderID = stripeSessionOrderID(&session)
	result.ProviderRef = stripeSessionRef(&session)
	switch result.Type {
	case "checkout.session.completed":
		result.Outcome = stripeSessionOutcome(&session)
	case "checkout.session.async_payment_succeeded":
		result.Outcome = OutcomePaid
	case "checkout.session.async_payment_failed":
		result.Outcome = OutcomeFailed
		result.Reason = "async payment failed"
	case "checkout.session.expired":
		result.Outcome = OutcomeExpired
	}
	return result, nil
}

func stripeSessionOutcome(session *stripe.CheckoutSession) Outcome {
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return OutcomePaid
	case session.Status == stripe.CheckoutSessionStatusExpired:
		return OutcomeExpired
	default:
		return OutcomePending
	}
}

func stripeSessionOrderID(session *stripe.CheckoutSession) string {
	if id := strings.TrimSpace(session.ClientReferenceID); id != "" {
		return id
	}
	return strings.TrimSpace(session.Metadata[stripeOrderMetadataKey])
}

func stripeSessionRef(session *stripe.CheckoutSession) string {
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		return session.PaymentIntent.ID
	}
	return session.ID
}
