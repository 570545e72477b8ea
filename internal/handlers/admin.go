package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/requestctx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

// AdminHandlers exposes catalog maintenance and fulfilment for staff. The admin role is enforced by
// group middleware.
type AdminHandlers struct {
	catalog services.CatalogService
	orders  services.OrderService
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(catalog services.CatalogService, orders services.OrderService) *AdminHandlers {
	return &AdminHandlers{catalog: catalog, orders: orders}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Put("/products/{productId}/stock", h.updateStock)
	r.Delete("/products/{productId}", h.deleteProduct)
	r.Post("/orders/{orderId}/ship", h.shipOrder)
	r.Post("/orders/{orderId}/cancel", h.cancelOrder)
}

type createProductRequest struct {
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	PriceCents        int64  `json:"priceCents"`
	LowStockThreshold int    `json:"lowStockThreshold"`
	InitialStock      int64  `json:"initialStock"`
	Active            *bool  `json:"active"`
}

type updateStockRequest struct {
	Quantity *int64 `json:"quantity"`
}

type inventoryPayload struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

func (h *AdminHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("catalog"))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	includeInactive := true
	if raw := r.URL.Query().Get("includeInactive"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "includeInactive must be a boolean", http.StatusBadRequest))
			return
		}
		includeInactive = parsed
	}

	page, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		IncludeInactive: includeInactive,
		Pagination:      params.Page(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := productListResponse{Items: make([]productPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, item := range page.Items {
		resp.Items = append(resp.Items, buildProductPayload(item))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("catalog"))
		return
	}

	var req createProductRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}

	product, err := h.catalog.CreateProduct(ctx, services.CreateProductCommand{
		SKU:               req.SKU,
		Name:              req.Name,
		PriceCents:        req.PriceCents,
		LowStockThreshold: req.LowStockThreshold,
		InitialStock:      req.InitialStock,
		Active:            req.Active,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildProductPayload(product))
}

func (h *AdminHandlers) updateStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("catalog"))
		return
	}

	var req updateStockRequest
	if !decodeJSONBody(ctx, w, r, &req, false) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	record, err := h.catalog.UpdateStock(ctx, services.UpdateStockCommand{
		ProductID: chi.URLParam(r, "productId"),
		Quantity:  *req.Quantity,
		ActorID:   adminActorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, inventoryPayload{
		ProductID: record.ProductID,
		Quantity:  record.Quantity,
		UpdatedAt: formatTime(record.UpdatedAt),
	})
}

func (h *AdminHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("catalog"))
		return
	}

	productID := chi.URLParam(r, "productId")
	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.Logger(ctx).Info("product deleted",
		zap.String("productId", productID),
		zap.String("actorId", adminActorID(r)),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order"))
		return
	}

	order, err := h.orders.Ship(ctx, services.ShipOrderCommand{
		OrderID: chi.URLParam(r, "orderId"),
		ActorID: adminActorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("order"))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:   chi.URLParam(r, "orderId"),
		ActorID:   adminActorID(r),
		ActorRole: auth.RoleAdmin,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func adminActorID(r *http.Request) string {
	if actor, ok := requestctx.ActorFrom(r.Context()); ok {
		return actor.BuyerID
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil {
		return identity.UID
	}
	return ""
}
