package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ProviderSigned names events delivered through the shared-secret HMAC channel.
const ProviderSigned = "signed"

// SignedEventParser decodes plain JSON payment events. Authenticity is established upstream by
// the HMAC request middleware, so the parser only validates the payload shape.
type SignedEventParser struct {
	clock func() time.Time
}

var _ WebhookParser = (*SignedEventParser)(nil)

// NewSignedEventParser constructs a parser for HMAC-authenticated deliveries.
func NewSignedEventParser(clock func() time.Time) *SignedEventParser {
	if clock == nil {
		clock = time.Now
	}
	return &SignedEventParser{clock: clock}
}

type signedEventPayload struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	OrderID     string `json:"orderId"`
	Outcome     string `json:"outcome"`
	ProviderRef string `json:"providerRef"`
	Reason      string `json:"reason"`
}

// ParseWebhook implements WebhookParser.
func (p *SignedEventParser) ParseWebhook(_ http.Header, body []byte) (Event, error) {
	var payload signedEventPayload
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	outcome := Outcome(strings.ToLower(strings.TrimSpace(payload.Outcome)))
	if !outcome.Valid() {
		return Event{}, fmt.Errorf("%w: unknown outcome %q", ErrMalformedEvent, payload.Outcome)
	}
	event := Event{
		ID:          strings.TrimSpace(payload.ID),
		Type:        strings.TrimSpace(payload.Type),
		Provider:    ProviderSigned,
		OrderID:     strings.TrimSpace(payload.OrderID),
		Outcome:     outcome,
		ProviderRef: strings.TrimSpace(payload.ProviderRef),
		Reason:      strings.TrimSpace(payload.Reason),
		OccurredAt:  p.clock().UTC(),
	}
	if event.ID == "" {
		return Event{}, fmt.Errorf("%w: event id is required", ErrMalformedEvent)
	}
	if event.OrderID == "" {
		return Event{}, fmt.Errorf("%w: order id is required", ErrMalformedEvent)
	}
	return event, nil
}
