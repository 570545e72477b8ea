package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCreateCheckoutSession(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 1)
	order := api.placeOrder("buyer-a")

	headers := map[string]string{"Idempotency-Key": "pay-1"}
	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", headers: headers, body: map[string]any{
		"orderId": order.ID,
	}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	session := decode[checkoutSessionResponse](t, rr)
	if session.SessionID != "cs_test_1" || session.OrderID != order.ID {
		t.Fatalf("unexpected session %+v", session)
	}
	if !strings.Contains(session.RedirectURL, order.ID) || session.ExpiresAt == "" {
		t.Fatalf("unexpected redirect %+v", session)
	}

	replay := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", headers: headers, body: map[string]any{
		"orderId": order.ID,
	}})
	if replay.Code != http.StatusOK || decode[checkoutSessionResponse](t, replay).SessionID != "cs_test_1" {
		t.Fatalf("expected replayed session, got %d %s", replay.Code, replay.Body.String())
	}
	if api.provider.sessions != 1 {
		t.Fatalf("expected one provider session, got %d", api.provider.sessions)
	}
}

func TestCreateCheckoutSessionRejections(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 1)
	order := api.placeOrder("buyer-a")

	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", body: map[string]any{}})
	expectError(t, rr, http.StatusBadRequest, "invalid_request")

	rr = api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-b", body: map[string]any{"orderId": order.ID}})
	expectError(t, rr, http.StatusForbidden, "forbidden")

	api.provider.err = errProviderDown
	rr = api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", body: map[string]any{"orderId": order.ID}})
	expectError(t, rr, http.StatusBadGateway, "payment_provider_unavailable")
	api.provider.err = nil

	rr = api.do(apiRequest{method: http.MethodDelete, path: "/api/v1/orders/" + order.ID, token: "buyer-a"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rr.Code)
	}
	rr = api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", body: map[string]any{"orderId": order.ID}})
	expectError(t, rr, http.StatusBadRequest, "order_not_payable")
}

func TestCreateCheckoutSessionRateLimitedPerBuyer(t *testing.T) {
	api := newTestAPI(t, withCheckoutOptions(WithCheckoutRateLimit(1, time.Minute, func() time.Time { return testNow })))
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 1)
	order := api.placeOrder("buyer-a")

	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", body: map[string]any{"orderId": order.ID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", body: map[string]any{"orderId": order.ID}})
	expectError(t, rr, http.StatusTooManyRequests, "rate_limited")
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}

	// Another buyer has its own window.
	rr = api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-b", body: map[string]any{"orderId": order.ID}})
	expectError(t, rr, http.StatusForbidden, "forbidden")
	if api.provider.sessions != 1 {
		t.Fatalf("expected one provider session, got %d", api.provider.sessions)
	}
}

func TestFixedWindowLimiter(t *testing.T) {
	now := testNow
	limiter := newFixedWindowLimiter(2, time.Minute, func() time.Time { return now })

	for i := range 2 {
		if ok, _ := limiter.Allow("buyer-a"); !ok {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}
	ok, wait := limiter.Allow("buyer-a")
	if ok || wait != time.Minute {
		t.Fatalf("expected third call rejected with a 1m wait, got %v %s", ok, wait)
	}
	if ok, _ := limiter.Allow("buyer-b"); !ok {
		t.Fatal("other keys keep their own window")
	}

	now = now.Add(time.Minute)
	if ok, _ := limiter.Allow("buyer-a"); !ok {
		t.Fatal("expected a fresh window after reset")
	}
	if len(limiter.slots) != 1 {
		t.Fatalf("expected expired windows pruned, got %d", len(limiter.slots))
	}

	disabled := newFixedWindowLimiter(0, time.Minute, nil)
	if ok, _ := disabled.Allow("buyer-a"); !ok {
		t.Fatal("a disabled limiter admits everything")
	}
}
