package handlers

import (
	"net/http"
	"testing"
)

func TestCreateOrderFromCart(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	clamp := api.seedProduct("Bar Clamp", 12999, 10)
	api.addToCart("buyer-a", saw, 1)
	api.addToCart("buyer-a", clamp, 2)

	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/orders", token: "buyer-a", body: map[string]any{
		"poNumber": "po-7781",
		"notes":    "Loading dock B",
	}})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	order := decode[orderPayload](t, rr)

	if order.Status != "CREATED" {
		t.Fatalf("expected CREATED, got %s", order.Status)
	}
	if order.SubtotalCents != 41997 || order.TaxCents != 6289 || order.ShippingCents != 0 || order.TotalCents != 48286 {
		t.Fatalf("unexpected totals %+v", order)
	}
	if order.PONumber != "PO-7781" || order.Notes != "Loading dock B" {
		t.Fatalf("unexpected po/notes %q %q", order.PONumber, order.Notes)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(order.Lines))
	}
	if location := rr.Header().Get("Location"); location != "/api/v1/orders/"+order.ID {
		t.Fatalf("unexpected location %q", location)
	}
	if got := api.available(saw); got != 9 {
		t.Fatalf("expected saw stock 9, got %d", got)
	}
	if got := api.available(clamp); got != 8 {
		t.Fatalf("expected clamp stock 8, got %d", got)
	}

	cart := decode[cartPayload](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/cart", token: "buyer-a"}))
	if len(cart.Items) != 0 {
		t.Fatalf("expected cart emptied, got %+v", cart.Items)
	}
	if cart.LastOrderID != order.ID {
		t.Fatalf("expected cart to reference %s, got %q", order.ID, cart.LastOrderID)
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	api := newTestAPI(t)
	bolts := api.seedProduct("Bolts", 500, 5)
	nuts := api.seedProduct("Nuts", 300, 1)
	api.addToCart("buyer-a", bolts, 2)
	api.addToCart("buyer-a", nuts, 3)

	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/orders", token: "buyer-a"})
	body := expectError(t, rr, http.StatusConflict, "insufficient_stock")

	if body.Details["productId"] != nuts {
		t.Fatalf("expected details for %s, got %v", nuts, body.Details)
	}
	if body.Details["requested"] != float64(3) || body.Details["available"] != float64(1) {
		t.Fatalf("unexpected stock details %v", body.Details)
	}
	if got := api.available(bolts); got != 5 {
		t.Fatalf("expected bolts stock untouched, got %d", got)
	}
	if got := api.available(nuts); got != 1 {
		t.Fatalf("expected nuts stock untouched, got %d", got)
	}

	cart := decode[cartPayload](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/cart", token: "buyer-a"}))
	if len(cart.Items) != 2 {
		t.Fatalf("expected cart kept intact, got %d items", len(cart.Items))
	}
}

func TestCreateOrderEmptyCart(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/orders", token: "buyer-a"})
	expectError(t, rr, http.StatusBadRequest, "empty_cart")
}

func TestCreateOrderReplaysIdempotentRequest(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 1)

	headers := map[string]string{"Idempotency-Key": "order-attempt-1"}
	first := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/orders", token: "buyer-a", headers: headers})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/orders", token: "buyer-a", headers: headers})
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d: %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay marker header")
	}
	if decode[orderPayload](t, first).ID != decode[orderPayload](t, second).ID {
		t.Fatalf("expected the same order to be returned")
	}
	if got := api.available(saw); got != 9 {
		t.Fatalf("expected a single reservation, stock is %d", got)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 1)
	order := api.placeOrder("buyer-a")

	rr := api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/" + order.ID, token: "buyer-a"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/" + order.ID, token: "buyer-b"})
	expectError(t, rr, http.StatusForbidden, "forbidden")

	rr = api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/" + order.ID, token: "admin"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected admin to read any order, got %d", rr.Code)
	}

	rr = api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/ord_missing", token: "buyer-a"})
	expectError(t, rr, http.StatusNotFound, "order_not_found")
}

func TestCancelOrderReleasesStock(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 4)
	order := api.placeOrder("buyer-a")
	if got := api.available(saw); got != 6 {
		t.Fatalf("expected stock 6 after order, got %d", got)
	}

	rr := api.do(apiRequest{method: http.MethodDelete, path: "/api/v1/orders/" + order.ID, token: "buyer-b"})
	expectError(t, rr, http.StatusForbidden, "forbidden")

	rr = api.do(apiRequest{method: http.MethodDelete, path: "/api/v1/orders/" + order.ID, token: "buyer-a"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cancelled := decode[orderPayload](t, rr)
	if cancelled.Status != "CANCELLED" || cancelled.CancelledAt == "" {
		t.Fatalf("expected cancelled order, got %+v", cancelled)
	}
	if got := api.available(saw); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}

	rr = api.do(apiRequest{method: http.MethodDelete, path: "/api/v1/orders/" + order.ID, token: "buyer-a"})
	expectError(t, rr, http.StatusBadRequest, "invalid_transition")
	if got := api.available(saw); got != 10 {
		t.Fatalf("second cancel must not release again, stock %d", got)
	}
}

func TestListOrders(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	var ids []string
	for i := 0; i < 3; i++ {
		api.addToCart("buyer-a", saw, 1)
		ids = append(ids, api.placeOrder("buyer-a").ID)
	}
	api.addToCart("buyer-b", saw, 1)
	api.placeOrder("buyer-b")

	rr := api.do(apiRequest{method: http.MethodDelete, path: "/api/v1/orders/" + ids[0], token: "buyer-a"})
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rr.Code)
	}

	first := decode[orderListResponse](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders?pageSize=2", token: "buyer-a"}))
	if len(first.Items) != 2 || first.NextPageToken == "" {
		t.Fatalf("expected a full first page with a token, got %+v", first)
	}
	second := decode[orderListResponse](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders?pageSize=2&pageToken=" + first.NextPageToken, token: "buyer-a"}))
	if len(second.Items) != 1 || second.NextPageToken != "" {
		t.Fatalf("expected a final page of one, got %+v", second)
	}
	seen := map[string]bool{}
	for _, item := range append(first.Items, second.Items...) {
		if item.BuyerID != first.Items[0].BuyerID {
			t.Fatalf("listing leaked another buyer's order %s", item.ID)
		}
		seen[item.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct orders, got %d", len(seen))
	}

	created := decode[orderListResponse](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders?status=created", token: "buyer-a"}))
	if len(created.Items) != 2 {
		t.Fatalf("expected 2 CREATED orders, got %d", len(created.Items))
	}

	rr = api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders?status=LOST", token: "buyer-a"})
	expectError(t, rr, http.StatusBadRequest, "invalid_request")

	rr = api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders?pageSize=abc", token: "buyer-a"})
	expectError(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestPaymentStatusPollsProvider(t *testing.T) {
	api := newTestAPI(t)
	saw := api.seedProduct("Table Saw", 15999, 10)
	api.addToCart("buyer-a", saw, 1)
	order := api.placeOrder("buyer-a")

	rr := api.do(apiRequest{method: http.MethodPost, path: "/api/v1/checkout/session", token: "buyer-a", body: map[string]any{"orderId": order.ID}})
	if rr.Code != http.StatusOK {
		t.Fatalf("create session: %d %s", rr.Code, rr.Body.String())
	}

	pending := decode[paymentStatusResponse](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/" + order.ID + "/payment-status", token: "buyer-a"}))
	if pending.Outcome != "pending" || pending.Status != "CREATED" {
		t.Fatalf("expected pending, got %+v", pending)
	}

	api.provider.mu.Lock()
	api.provider.status.Outcome = "paid"
	api.provider.status.ProviderRef = "pi_123"
	api.provider.mu.Unlock()

	paid := decode[paymentStatusResponse](t, api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/" + order.ID + "/payment-status", token: "buyer-a"}))
	if paid.Outcome != "paid" || paid.Status != "PAID" || paid.PaidAt == "" {
		t.Fatalf("expected paid, got %+v", paid)
	}

	rr = api.do(apiRequest{method: http.MethodGet, path: "/api/v1/orders/" + order.ID + "/payment-status", token: "buyer-b"})
	expectError(t, rr, http.StatusForbidden, "forbidden")
}
