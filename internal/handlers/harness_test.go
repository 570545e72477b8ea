package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sumtl/B2B-ECOMMERCE/internal/payments"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/idempotency"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories/memory"
	"github.com/sumtl/B2B-ECOMMERCE/internal/services"
)

var testNow = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

// fakeProvider stands in for the hosted checkout provider.
type fakeProvider struct {
	mu       sync.Mutex
	sessions int
	status   payments.SessionStatus
	err      error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, _ payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return payments.CheckoutSession{}, f.err
	}
	f.sessions++
	id := fmt.Sprintf("cs_test_%d", f.sessions)
	return payments.CheckoutSession{
		ID:          id,
		Provider:    payments.ProviderStripe,
		RedirectURL: "https://checkout.example/" + id + "?order=" + req.OrderID,
		ExpiresAt:   testNow.Add(24 * time.Hour),
	}, nil
}

func (f *fakeProvider) GetSessionStatus(_ context.Context, _ payments.PaymentContext, sessionRef string) (payments.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	status.SessionID = sessionRef
	return status, nil
}

// testTokens maps bearer tokens onto verified identities.
var testTokens = map[string]*auth.VerifiedToken{
	"buyer-a": {Subject: "idp|alice", Claims: map[string]any{"email": "Alice@Example.com", "role": auth.RoleBuyer}},
	"buyer-b": {Subject: "idp|bob", Claims: map[string]any{"email": "bob@example.com", "role": auth.RoleBuyer}},
	"admin":   {Subject: "idp|staff", Claims: map[string]any{"email": "ops@example.com", "role": auth.RoleAdmin}},
}

type testAPI struct {
	t        *testing.T
	store    *memory.Store
	catalog  services.CatalogService
	orders   services.OrderService
	provider *fakeProvider
	handler  http.Handler
}

type apiOption func(*apiConfig)

type apiConfig struct {
	parser            payments.WebhookParser
	webhookMiddleware []func(http.Handler) http.Handler
	checkoutOptions   []CheckoutOption
}

func withCheckoutOptions(opts ...CheckoutOption) apiOption {
	return func(cfg *apiConfig) { cfg.checkoutOptions = append(cfg.checkoutOptions, opts...) }
}

func withWebhookParser(parser payments.WebhookParser) apiOption {
	return func(cfg *apiConfig) { cfg.parser = parser }
}

func withWebhookMiddleware(mw func(http.Handler) http.Handler) apiOption {
	return func(cfg *apiConfig) { cfg.webhookMiddleware = append(cfg.webhookMiddleware, mw) }
}

func newTestAPI(t *testing.T, opts ...apiOption) *testAPI {
	t.Helper()
	cfg := apiConfig{parser: payments.NewSignedEventParser(func() time.Time { return testNow })}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.NewStore(nil)
	clock := func() time.Time { return testNow }
	ids := func(prefix string) func() string {
		var n atomic.Int64
		return func() string { return fmt.Sprintf("%s%03d", prefix, n.Add(1)) }
	}

	totals, err := services.NewTotalsCalculator(services.TotalsCalculatorConfig{})
	must(t, err)
	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: store.Inventory(),
		Products:  store.Products(),
		Clock:     clock,
	})
	must(t, err)
	carts, err := services.NewCartService(services.CartServiceDeps{
		Carts:       store.Carts(),
		Products:    store.Products(),
		Totals:      totals,
		Clock:       clock,
		IDGenerator: ids("c"),
	})
	must(t, err)
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:    store.Products(),
		Inventory:   store.Inventory(),
		Stock:       inventory,
		UnitOfWork:  store,
		Clock:       clock,
		IDGenerator: ids("p"),
	})
	must(t, err)
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      store.Orders(),
		Carts:       store.Carts(),
		Inventory:   inventory,
		Totals:      totals,
		UnitOfWork:  store,
		Clock:       clock,
		IDGenerator: ids("o"),
	})
	must(t, err)
	users, err := services.NewUserService(services.UserServiceDeps{
		Users:       store.Users(),
		Clock:       clock,
		IDGenerator: ids("u"),
	})
	must(t, err)
	provider := &fakeProvider{status: payments.SessionStatus{Outcome: payments.OutcomePending}}
	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     orders,
		Payments:   provider,
		SuccessURL: "https://shop.example/orders/{ORDER_ID}",
		CancelURL:  "https://shop.example/cart",
	})
	must(t, err)
	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:       orders,
		Sessions:     provider,
		PollAttempts: 2,
		Sleep:        func(context.Context, time.Duration) error { return nil },
	})
	must(t, err)

	authn := auth.NewAuthenticator(auth.TokenVerifierFunc(func(_ context.Context, raw string) (*auth.VerifiedToken, error) {
		token, ok := testTokens[raw]
		if !ok {
			return nil, auth.ErrTokenInvalid
		}
		return token, nil
	}))

	router := NewRouter(
		WithProductRoutes(NewProductHandlers(catalog).Routes),
		WithCartRoutes(NewCartHandlers(carts).Routes),
		WithOrderRoutes(NewOrderHandlers(orders, reconciler).Routes),
		WithCheckoutRoutes(NewCheckoutHandlers(checkout, cfg.checkoutOptions...).Routes),
		WithAdminRoutes(NewAdminHandlers(catalog, orders).Routes),
		WithWebhookRoutes(NewWebhookHandlers(cfg.parser, reconciler).Routes),
		WithBuyerMiddlewares(
			authn.RequireAuth(auth.RoleBuyer, auth.RoleAdmin),
			EnsureBuyer(users),
			idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(clock)),
		),
		WithAdminMiddlewares(authn.RequireAuth(auth.RoleAdmin), EnsureBuyer(users)),
		WithWebhookMiddlewares(cfg.webhookMiddleware...),
	)

	return &testAPI{
		t:        t,
		store:    store,
		catalog:  catalog,
		orders:   orders,
		provider: provider,
		handler:  router,
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
}

type apiRequest struct {
	method  string
	path    string
	token   string
	body    any
	headers map[string]string
}

func (a *testAPI) do(req apiRequest) *httptest.ResponseRecorder {
	a.t.Helper()
	var payload []byte
	switch body := req.body.(type) {
	case nil:
	case string:
		payload = []byte(body)
	case []byte:
		payload = body
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			a.t.Fatalf("marshal body: %v", err)
		}
	}
	r := httptest.NewRequest(req.method, req.path, bytes.NewReader(payload))
	if payload != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	for key, value := range req.headers {
		r.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, r)
	return rr
}

func (a *testAPI) seedProduct(name string, priceCents, stock int64) string {
	a.t.Helper()
	product, err := a.catalog.CreateProduct(context.Background(), services.CreateProductCommand{
		Name:         name,
		PriceCents:   priceCents,
		InitialStock: stock,
	})
	if err != nil {
		a.t.Fatalf("seed product %s: %v", name, err)
	}
	return product.Product.ID
}

func (a *testAPI) addToCart(token, productID string, quantity int64) {
	a.t.Helper()
	rr := a.do(apiRequest{method: http.MethodPost, path: "/api/v1/cart/items", token: token, body: map[string]any{
		"productId": productID,
		"quantity":  quantity,
	}})
	if rr.Code != http.StatusOK {
		a.t.Fatalf("add to cart: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func (a *testAPI) placeOrder(token string) orderPayload {
	a.t.Helper()
	rr := a.do(apiRequest{method: http.MethodPost, path: "/api/v1/orders", token: token})
	if rr.Code != http.StatusCreated {
		a.t.Fatalf("place order: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decode[orderPayload](a.t, rr)
}

func (a *testAPI) available(productID string) int64 {
	a.t.Helper()
	product, err := a.catalog.GetProduct(context.Background(), productID)
	if err != nil {
		a.t.Fatalf("get product %s: %v", productID, err)
	}
	return product.Available
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details"`
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decode[errorBody](t, rr)
	if body.Error != code {
		t.Fatalf("expected error code %q, got %q", code, body.Error)
	}
	return body
}

var errProviderDown = errors.New("provider down")
