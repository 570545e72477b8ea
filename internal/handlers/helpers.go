package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/requestctx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst. An empty body is allowed when optional is set.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	body, err := readLimitedBody(r, defaultMaxBodySize)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// currentActor returns the resolved buyer or writes 401.
func currentActor(ctx context.Context, w http.ResponseWriter) (requestctx.Actor, bool) {
	actor, ok := requestctx.ActorFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.Unauthenticated())
		return requestctx.Actor{}, false
	}
	return actor, true
}

// writeServiceError maps service errors onto the API error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"productId":   stockErr.ProductID,
				"productName": stockErr.ProductName,
				"requested":   stockErr.Requested,
				"available":   stockErr.Available,
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "cart has no items", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrCatalogInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput),
		errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order belongs to another buyer", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductNotFound), errors.Is(err, services.ErrCatalogNotFound), errors.Is(err, services.ErrInventoryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogProductInUse):
		httpx.WriteError(ctx, w, httpx.NewError("product_in_use", "product is referenced by an open order", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_unavailable", "payment provider unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable),
		errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrCatalogUnavailable),
		errors.Is(err, services.ErrInventoryUnavailable),
		errors.Is(err, services.ErrUserUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
