package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

// OrderHandlers exposes order placement and the buyer's order history.
type OrderHandlers struct {
	orders   services.OrderService
	payments services.PaymentReconciler
}

// NewOrderHandlers constructs order handlers. The reconciler backs the payment status endpoint.
func NewOrderHandlers(orders services.OrderService, payments services.PaymentReconciler) *OrderHandlers {
	return &OrderHandlers{orders: orders, payments: payments}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
	r.Delete("/{orderId}", h.cancelOrder)
	r.Get("/{orderId}/payment-status", h.paymentStatus)
}

type createOrderRequest struct {
	PONumber string `json:"poNumber"`
	Notes    string `json:"notes"`
}

type orderLinePayload struct {
	ProductID      string `json:"productId"`
	ProductName    string `json:"productName"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

type orderPayload struct {
	ID                   string             `json:"id"`
	BuyerID              string             `json:"buyerId"`
	Status               string             `json:"status"`
	Currency             string             `json:"currency"`
	SubtotalCents        int64              `json:"subtotalCents"`
	TaxCents             int64              `json:"taxCents"`
	ShippingCents        int64              `json:"shippingCents"`
	TotalCents           int64              `json:"totalCents"`
	PONumber             string             `json:"poNumber,omitempty"`
	Notes                string             `json:"notes,omitempty"`
	PaymentProvider      string             `json:"paymentProvider,omitempty"`
	PaymentFailedAt      string             `json:"paymentFailedAt,omitempty"`
	PaymentFailureReason string             `json:"paymentFailureReason,omitempty"`
	PaidAt               string             `json:"paidAt,omitempty"`
	ShippedAt            string             `json:"shippedAt,omitempty"`
	CancelledAt          string             `json:"cancelledAt,omitempty"`
	CreatedAt            string             `json:"createdAt"`
	UpdatedAt            string             `json:"updatedAt"`
	Lines                []orderLinePayload `json:"lines"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type paymentStatusResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
	PaidAt  string `json:"paidAt,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req, true) {
		return
	}

	order, err := h.orders.CreateFromCart(ctx, services.CreateOrderCommand{
		BuyerID:  actor.BuyerID,
		PONumber: req.PONumber,
		Notes:    req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		BuyerID:    actor.BuyerID,
		Status:     parseStatusFilter(r.URL.Query()["status"]),
		Pagination: params.Page(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := orderListResponse{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:   chi.URLParam(r, "orderId"),
		ActorID:   actor.BuyerID,
		ActorRole: actor.Role,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   chi.URLParam(r, "orderId"),
		ActorID:   actor.BuyerID,
		ActorRole: actor.Role,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("payments"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	result, err := h.payments.PaymentStatus(ctx, services.PaymentStatusQuery{
		OrderID: chi.URLParam(r, "orderId"),
		BuyerID: actor.BuyerID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentStatusResponse{
		OrderID: result.OrderID,
		Status:  string(result.Status),
		Outcome: string(result.Outcome),
		PaidAt:  formatTimePtr(result.PaidAt),
	})
}

// parseStatusFilter accepts repeated or comma separated status values.
func parseStatusFilter(values []string) []services.OrderStatus {
	var statuses []services.OrderStatus
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part != "" {
				statuses = append(statuses, services.OrderStatus(part))
			}
		}
	}
	return statuses
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                   order.ID,
		BuyerID:              order.BuyerID,
		Status:               string(order.Status),
		Currency:             order.Currency,
		SubtotalCents:        order.SubtotalCents,
		TaxCents:             order.TaxCents,
		ShippingCents:        order.ShippingCents,
		TotalCents:           order.TotalCents,
		PONumber:             derefString(order.PONumber),
		Notes:                derefString(order.Notes),
		PaymentProvider:      order.PaymentProvider,
		PaymentFailedAt:      formatTimePtr(order.PaymentFailedAt),
		PaymentFailureReason: derefString(order.PaymentFailureReason),
		PaidAt:               formatTimePtr(order.PaidAt),
		ShippedAt:            formatTimePtr(order.ShippedAt),
		CancelledAt:          formatTimePtr(order.CancelledAt),
		CreatedAt:            formatTime(order.CreatedAt),
		UpdatedAt:            formatTime(order.UpdatedAt),
		Lines:                make([]orderLinePayload, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: line.LineTotalCents,
		})
	}
	return payload
}
