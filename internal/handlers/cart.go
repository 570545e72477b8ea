package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

// CartHandlers exposes the buyer's cart. Authentication and buyer resolution run as group middleware.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Delete("/items/{productId}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

type cartItemPayload struct {
	ProductID      string `json:"productId"`
	ProductName    string `json:"productName"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	LineTotalCents int64  `json:"lineTotalCents"`
	AddedAt        string `json:"addedAt,omitempty"`
}

type totalsPayload struct {
	Currency      string `json:"currency"`
	SubtotalCents int64  `json:"subtotalCents"`
	GSTCents      int64  `json:"gstCents"`
	QSTCents      int64  `json:"qstCents"`
	TaxCents      int64  `json:"taxCents"`
	ShippingCents int64  `json:"shippingCents"`
	TotalCents    int64  `json:"totalCents"`
}

type cartPayload struct {
	ID          string            `json:"id,omitempty"`
	Items       []cartItemPayload `json:"items"`
	ItemCount   int64             `json:"itemCount"`
	Totals      totalsPayload     `json:"totals"`
	LastOrderID string            `json:"lastOrderId,omitempty"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("cart"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(ctx, actor.BuyerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("cart"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		BuyerID:   actor.BuyerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("cart"))
		return
	}
	actor, ok := currentActor(ctx, w)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		BuyerID:   actor.BuyerID,
		ProductID: chi.URLParam(r, "productId"),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartPayload(view))
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{
		ID:          view.Cart.ID,
		Items:       make([]cartItemPayload, 0, len(view.Cart.Items)),
		Totals:      buildTotalsPayload(view.Totals),
		LastOrderID: derefString(view.Cart.OrderID),
		UpdatedAt:   formatTime(view.Cart.UpdatedAt),
	}
	for _, item := range view.Cart.Items {
		payload.ItemCount += item.Quantity
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.Quantity * item.UnitPriceCents,
			AddedAt:        formatTime(item.AddedAt),
		})
	}
	return payload
}

func buildTotalsPayload(totals services.Totals) totalsPayload {
	return totalsPayload{
		Currency:      totals.Currency,
		SubtotalCents: totals.Subtotal,
		GSTCents:      totals.TaxGST,
		QSTCents:      totals.TaxQST,
		TaxCents:      totals.Tax,
		ShippingCents: totals.Shipping,
		TotalCents:    totals.Total,
	}
}
