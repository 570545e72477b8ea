package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/httpx"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

// ProductHandlers exposes the public catalog.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers constructs catalog read handlers.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes wires the /products endpoints onto the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productId}", h.getProduct)
}

type productPayload struct {
	ID                string `json:"id"`
	SKU               string `json:"sku,omitempty"`
	Name              string `json:"name"`
	PriceCents        int64  `json:"priceCents"`
	Active            bool   `json:"active"`
	Available         int64  `json:"available"`
	LowStock          bool   `json:"lowStock"`
	LowStockThreshold int    `json:"lowStockThreshold"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
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

	page, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		Pagination: params.Page(),
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

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.Unavailable("catalog"))
		return
	}

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if !product.Product.Active {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func buildProductPayload(item services.ProductAvailability) productPayload {
	return productPayload{
		ID:                item.Product.ID,
		SKU:               derefString(item.Product.SKU),
		Name:              item.Product.Name,
		PriceCents:        item.Product.PriceCents,
		Active:            item.Product.Active,
		Available:         item.Available,
		LowStock:          item.LowStock,
		LowStockThreshold: item.Product.LowStockThreshold,
		CreatedAt:         formatTime(item.Product.CreatedAt),
		UpdatedAt:         formatTime(item.Product.UpdatedAt),
	}
}
