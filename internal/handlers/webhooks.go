package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sumtl/B2B-ECOMMERCE/internal/payments"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/requestctx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers receives payment provider notifications.
type WebhookHandlers struct {
	parser     payments.WebhookParser
	reconciler services.PaymentReconciler
}

// NewWebhookHandlers constructs webhook handlers around a verifying parser.
func NewWebhookHandlers(parser payments.WebhookParser, reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{parser: parser, reconciler: reconciler}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.handlePayment)
}

type webhookAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// handlePayment acknowledges every verified event with 200. Processing failures are logged only;
// a retryable failure releases the dedupe claim so a redelivery or the status poll can apply it.
func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("payments"))
		return
	}
	logger := requestctx.Logger(ctx)

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	event, err := h.parser.ParseWebhook(r.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			logger.Warn("payment webhook signature rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		default:
			logger.Warn("payment webhook payload rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be processed", http.StatusBadRequest))
		}
		return
	}

	result, err := h.reconciler.HandleEvent(ctx, event)
	if err != nil {
		fields := []zap.Field{
			zap.String("eventId", event.ID),
			zap.String("orderId", event.OrderID),
			zap.String("outcome", string(event.Outcome)),
			zap.Bool("retryable", services.IsRetryablePaymentError(err)),
			zap.Error(err),
		}
		if services.IsRetryablePaymentError(err) {
			logger.Error("payment webhook processing failed", fields...)
		} else {
			logger.Warn("payment webhook event rejected", fields...)
		}
	}

	writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, Duplicate: result.Duplicate})
}
