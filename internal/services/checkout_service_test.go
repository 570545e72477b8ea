package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/payments"
)

type fakeSessionCreator struct {
	paymentCtx payments.PaymentContext
	req        payments.CheckoutSessionRequest
	session    payments.CheckoutSession
	err        error
	calls      int
}

func (f *fakeSessionCreator) CreateCheckoutSession(_ context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	f.calls++
	f.paymentCtx = paymentCtx
	f.req = req
	if f.err != nil {
		return payments.CheckoutSession{}, f.err
	}
	return f.session, nil
}

func newTestCheckout(t *testing.T, env *testEnv, creator *fakeSessionCreator) CheckoutService {
	t.Helper()
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:     env.orders,
		Payments:   creator,
		SuccessURL: "https://shop.example/orders/{ORDER_ID}?paid=1",
		CancelURL:  "https://shop.example/orders/{ORDER_ID}",
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	return svc
}

func TestCreateSessionAttachesSessionToOrder(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Router", 3000, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	expires := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	creator := &fakeSessionCreator{session: payments.CheckoutSession{
		ID:          "cs_test_1",
		Provider:    payments.ProviderStripe,
		RedirectURL: "https://checkout.example/cs_test_1",
		ExpiresAt:   expires,
	}}
	svc := newTestCheckout(t, env, creator)

	session, err := svc.CreateSession(context.Background(), CreateCheckoutSessionCommand{
		OrderID:        order.ID,
		BuyerID:        "buyer-1",
		CustomerEmail:  "buyer@example.com",
		IdempotencyKey: "req-1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.SessionID != "cs_test_1" || session.OrderID != order.ID || !session.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected session %+v", session)
	}

	if creator.req.Amount != order.TotalCents || creator.req.Currency != order.Currency {
		t.Fatalf("expected amount %d %s, got %d %s", order.TotalCents, order.Currency, creator.req.Amount, creator.req.Currency)
	}
	if creator.req.SuccessURL != "https://shop.example/orders/"+order.ID+"?paid=1" {
		t.Fatalf("unexpected success url %q", creator.req.SuccessURL)
	}
	if creator.req.IdempotencyKey != "checkout:"+order.ID+":req-1" {
		t.Fatalf("unexpected idempotency key %q", creator.req.IdempotencyKey)
	}
	var itemised int64
	for _, item := range creator.req.Items {
		itemised += item.Amount * item.Quantity
	}
	if itemised != order.TotalCents {
		t.Fatalf("expected line items to sum to %d, got %d", order.TotalCents, itemised)
	}

	stored, err := env.orders.GetOrder(context.Background(), GetOrderQuery{OrderID: order.ID, ActorID: "buyer-1"})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.PaymentRef == nil || *stored.PaymentRef != "cs_test_1" || stored.PaymentProvider != payments.ProviderStripe {
		t.Fatalf("expected session attached, got ref=%v provider=%q", stored.PaymentRef, stored.PaymentProvider)
	}
	if stored.Status != domain.OrderStatusCreated {
		t.Fatalf("expected order to stay CREATED, got %s", stored.Status)
	}
}

func TestCreateSessionRejectsNonPayableOrders(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Modem", 2000, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")
	if _, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	creator := &fakeSessionCreator{}
	svc := newTestCheckout(t, env, creator)

	if _, err := svc.CreateSession(context.Background(), CreateCheckoutSessionCommand{OrderID: order.ID, BuyerID: "buyer-1"}); !errors.Is(err, ErrCheckoutOrderNotPayable) {
		t.Fatalf("expected ErrCheckoutOrderNotPayable, got %v", err)
	}
	if _, err := svc.CreateSession(context.Background(), CreateCheckoutSessionCommand{OrderID: order.ID, BuyerID: "buyer-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if _, err := svc.CreateSession(context.Background(), CreateCheckoutSessionCommand{BuyerID: "buyer-1"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
	if creator.calls != 0 {
		t.Fatalf("expected provider not to be called, got %d calls", creator.calls)
	}
}

func TestCreateSessionMapsProviderErrors(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Antenna", 1500, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	creator := &fakeSessionCreator{err: errors.New("connection reset")}
	svc := newTestCheckout(t, env, creator)
	if _, err := svc.CreateSession(context.Background(), CreateCheckoutSessionCommand{OrderID: order.ID, BuyerID: "buyer-1"}); !errors.Is(err, ErrPaymentUnavailable) {
		t.Fatalf("expected ErrPaymentUnavailable, got %v", err)
	}

	creator.err = payments.ErrUnsupportedProvider
	if _, err := svc.CreateSession(context.Background(), CreateCheckoutSessionCommand{OrderID: order.ID, BuyerID: "buyer-1", Provider: "paypal"}); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

func TestNewCheckoutServiceRequiresURLs(t *testing.T) {
	env := newTestEnv(t)
	if _, err := NewCheckoutService(CheckoutServiceDeps{Orders: env.orders, Payments: &fakeSessionCreator{}}); err == nil {
		t.Fatalf("expected error without redirect urls")
	}
}
