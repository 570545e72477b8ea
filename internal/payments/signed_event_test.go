package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedEventParserDecodesPayload(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	parser := NewSignedEventParser(func() time.Time { return now })

	event, err := parser.ParseWebhook(nil, []byte(`{"id":"evt_9","type":"payment.updated","orderId":"ord_1","outcome":"PAID","providerRef":"ref_1"}`))
	require.NoError(t, err)
	assert.Equal(t, Event{
		ID:          "evt_9",
		Type:        "payment.updated",
		Provider:    ProviderSigned,
		OrderID:     "ord_1",
		Outcome:     OutcomePaid,
		ProviderRef: "ref_1",
		OccurredAt:  now,
	}, event)
}

func TestSignedEventParserRejectsMalformedPayloads(t *testing.T) {
	parser := NewSignedEventParser(nil)
	cases := map[string]string{
		"not json":        `{`,
		"unknown outcome": `{"id":"evt_1","orderId":"ord_1","outcome":"refunded"}`,
		"missing id":      `{"orderId":"ord_1","outcome":"paid"}`,
		"missing order":   `{"id":"evt_1","outcome":"paid"}`,
		"unknown field":   `{"id":"evt_1","orderId":"ord_1","outcome":"paid","amount":5}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parser.ParseWebhook(nil, []byte(body))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}
