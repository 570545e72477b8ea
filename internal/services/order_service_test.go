package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
)

func TestCreateFromCartPricesAndReserves(t *testing.T) {
	env := newTestEnv(t)
	drill := env.seedProduct(t, "Drill", 15999, 10)
	saw := env.seedProduct(t, "Saw", 12999, 10)
	env.addToCart(t, "buyer-1", drill.ID, 1)
	env.addToCart(t, "buyer-1", saw.ID, 2)

	order := env.placeOrder(t, "buyer-1")

	if order.Status != domain.OrderStatusCreated {
		t.Fatalf("expected CREATED, got %s", order.Status)
	}
	if order.SubtotalCents != 41997 || order.TaxCents != 6289 || order.ShippingCents != 0 || order.TotalCents != 48286 {
		t.Fatalf("unexpected totals: subtotal=%d tax=%d shipping=%d total=%d",
			order.SubtotalCents, order.TaxCents, order.ShippingCents, order.TotalCents)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("expected ord_ prefix, got %q", order.ID)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(order.Lines))
	}
	for _, line := range order.Lines {
		if line.OrderID != order.ID {
			t.Fatalf("line not bound to order: %+v", line)
		}
		if line.LineTotalCents != line.Quantity*line.UnitPriceCents {
			t.Fatalf("line total mismatch: %+v", line)
		}
	}

	if got := env.stock(t, drill.ID); got != 9 {
		t.Fatalf("expected drill stock 9, got %d", got)
	}
	if got := env.stock(t, saw.ID); got != 8 {
		t.Fatalf("expected saw stock 8, got %d", got)
	}

	cart, err := env.carts.GetCart(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Cart.Items) != 0 {
		t.Fatalf("expected cart to be emptied, got %d items", len(cart.Cart.Items))
	}
	if cart.Cart.OrderID == nil || *cart.Cart.OrderID != order.ID {
		t.Fatalf("expected cart back-reference to %s, got %v", order.ID, cart.Cart.OrderID)
	}

	stored, err := env.orders.GetOrder(context.Background(), GetOrderQuery{OrderID: order.ID, ActorID: "buyer-1", ActorRole: auth.RoleBuyer})
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.TotalCents != stored.SubtotalCents+stored.TaxCents+stored.ShippingCents {
		t.Fatalf("stored order violates total invariant: %+v", stored)
	}

	if types := env.events.types(); len(types) != 1 || types[0] != orderEventCreated {
		t.Fatalf("expected order.created event, got %v", types)
	}
}

func TestCreateFromCartInsufficientStockRollsBackEveryLine(t *testing.T) {
	env := newTestEnv(t)
	plenty := env.seedProduct(t, "Bolts", 500, 5)
	scarce := env.seedProduct(t, "Nuts", 700, 1)
	env.addToCart(t, "buyer-1", plenty.ID, 2)
	env.addToCart(t, "buyer-1", scarce.ID, 3)

	_, err := env.orders.CreateFromCart(context.Background(), CreateOrderCommand{BuyerID: "buyer-1"})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != scarce.ID || stockErr.ProductName != "Nuts" || stockErr.Requested != 3 || stockErr.Available != 1 {
		t.Fatalf("unexpected stock error payload: %+v", stockErr)
	}

	if got := env.stock(t, plenty.ID); got != 5 {
		t.Fatalf("expected earlier reservation rolled back to 5, got %d", got)
	}
	if got := env.stock(t, scarce.ID); got != 1 {
		t.Fatalf("expected scarce stock unchanged, got %d", got)
	}

	page, err := env.orders.ListOrders(context.Background(), OrderListFilter{BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("expected no orders, got %d", len(page.Items))
	}

	cart, err := env.carts.GetCart(context.Background(), "buyer-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Cart.Items) != 2 {
		t.Fatalf("expected cart to keep its items, got %d", len(cart.Cart.Items))
	}
	if len(env.events.types()) != 0 {
		t.Fatalf("expected no events on failure, got %v", env.events.types())
	}
}

func TestCreateFromCartRejectsEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Tape", 300, 5)

	if _, err := env.orders.CreateFromCart(context.Background(), CreateOrderCommand{BuyerID: "nobody"}); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected ErrOrderEmptyCart for missing cart, got %v", err)
	}

	env.addToCart(t, "buyer-1", product.ID, 1)
	if _, err := env.carts.RemoveItem(context.Background(), RemoveCartItemCommand{BuyerID: "buyer-1", ProductID: product.ID}); err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if _, err := env.orders.CreateFromCart(context.Background(), CreateOrderCommand{BuyerID: "buyer-1"}); !errors.Is(err, ErrOrderEmptyCart) {
		t.Fatalf("expected ErrOrderEmptyCart for emptied cart, got %v", err)
	}
}

func TestCreateFromCartNormalisesPONumberAndNotes(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Gloves", 2500, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)

	order, err := env.orders.CreateFromCart(context.Background(), CreateOrderCommand{
		BuyerID:  "buyer-1",
		PONumber: "  po-１２３ ",
		Notes:    "<script>alert(1)</script><b>Deliver</b> to dock & gate",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.PONumber == nil || *order.PONumber != "PO-123" {
		t.Fatalf("unexpected po number %v", order.PONumber)
	}
	if order.Notes == nil || *order.Notes != "Deliver to dock & gate" {
		t.Fatalf("unexpected notes %q", derefString(order.Notes))
	}
	if order.ShippingCents != 1500 {
		t.Fatalf("expected flat shipping below threshold, got %d", order.ShippingCents)
	}
}

func TestCreateFromCartValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]CreateOrderCommand{
		"missing buyer":  {},
		"long po number": {BuyerID: "buyer-1", PONumber: strings.Repeat("A", maxPONumberLength+1)},
		"long notes":     {BuyerID: "buyer-1", Notes: strings.Repeat("n", maxNotesLength+1)},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := env.orders.CreateFromCart(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
			}
		})
	}
}

func TestCancelReleasesEveryLine(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedProduct(t, "Hammer", 2000, 4)
	b := env.seedProduct(t, "Nails", 300, 50)
	env.addToCart(t, "buyer-1", a.ID, 2)
	env.addToCart(t, "buyer-1", b.ID, 10)
	order := env.placeOrder(t, "buyer-1")

	env.clock.Advance(time.Minute)
	cancelled, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-1", ActorRole: auth.RoleBuyer})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(env.clock.Now()) {
		t.Fatalf("expected cancelledAt to be stamped, got %v", cancelled.CancelledAt)
	}
	if got := env.stock(t, a.ID); got != 4 {
		t.Fatalf("expected hammer stock restored to 4, got %d", got)
	}
	if got := env.stock(t, b.ID); got != 50 {
		t.Fatalf("expected nail stock restored to 50, got %d", got)
	}

	if _, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-1"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected second cancel to be rejected, got %v", err)
	}
	if got := env.stock(t, a.ID); got != 4 {
		t.Fatalf("expected no double release, got %d", got)
	}
}

func TestCancelPaidOrderIsRejected(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Ladder", 30000, 3)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	if _, err := env.orders.MarkPaid(context.Background(), MarkPaidCommand{OrderID: order.ID, ProviderRef: "pi_1", Source: "test"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	_, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-1", ActorRole: auth.RoleBuyer})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
	if got := env.stock(t, product.ID); got != 2 {
		t.Fatalf("expected stock to stay at 2, got %d", got)
	}
}

func TestCancelRequiresOwnerOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Rope", 1200, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	_, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-2", ActorRole: auth.RoleBuyer})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}

	if _, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: "ord_missing", ActorID: "buyer-1"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if _, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "admin-1", ActorRole: auth.RoleAdmin}); err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Helmet", 4500, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	result, err := env.orders.MarkPaid(context.Background(), MarkPaidCommand{OrderID: order.ID, ProviderRef: "pi_1", Provider: "stripe", Source: "webhook"})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !result.Applied {
		t.Fatal("expected first mark paid to apply")
	}
	paid := result.Order
	if paid.Status != domain.OrderStatusPaid || paid.PaidAt == nil {
		t.Fatalf("expected PAID with paidAt, got %+v", paid)
	}
	if paid.PaymentRef == nil || *paid.PaymentRef != "pi_1" || paid.PaymentProvider != "stripe" {
		t.Fatalf("expected payment reference recorded, got ref=%v provider=%q", paid.PaymentRef, paid.PaymentProvider)
	}
	firstPaidAt := *paid.PaidAt

	env.clock.Advance(time.Hour)
	repeat, err := env.orders.MarkPaid(context.Background(), MarkPaidCommand{OrderID: order.ID, ProviderRef: "pi_2", Source: "webhook"})
	if err != nil {
		t.Fatalf("repeat mark paid: %v", err)
	}
	if repeat.Applied {
		t.Fatal("expected repeat mark paid to report no change")
	}
	again := repeat.Order
	if again.PaidAt == nil || !again.PaidAt.Equal(firstPaidAt) {
		t.Fatalf("expected paidAt preserved at %s, got %v", firstPaidAt, again.PaidAt)
	}
	if *again.PaymentRef != "pi_1" {
		t.Fatalf("expected payment reference preserved, got %s", *again.PaymentRef)
	}

	types := env.events.types()
	paidEvents := 0
	for _, typ := range types {
		if typ == orderEventPaid {
			paidEvents++
		}
	}
	if paidEvents != 1 {
		t.Fatalf("expected exactly one order.paid event, got %v", types)
	}
}

func TestMarkPaidRejectsCancelledOrder(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Vest", 3000, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")
	if _, err := env.orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := env.orders.MarkPaid(context.Background(), MarkPaidCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition, got %v", err)
	}
}

func TestShipRequiresPaidOrder(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Crate", 8000, 5)
	env.addToCart(t, "buyer-1", product.ID, 2)
	order := env.placeOrder(t, "buyer-1")

	if _, err := env.orders.Ship(context.Background(), ShipOrderCommand{OrderID: order.ID, ActorID: "admin-1"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ship of CREATED order to fail, got %v", err)
	}
	if _, err := env.orders.MarkPaid(context.Background(), MarkPaidCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	shipped, err := env.orders.Ship(context.Background(), ShipOrderCommand{OrderID: order.ID, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.Status != domain.OrderStatusShipped || shipped.ShippedAt == nil {
		t.Fatalf("expected SHIPPED with shippedAt, got %+v", shipped)
	}
	if _, err := env.orders.Ship(context.Background(), ShipOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected second ship to fail, got %v", err)
	}
}

func TestRecordPaymentFailureKeepsStatus(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Lamp", 6000, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	failed, err := env.orders.RecordPaymentFailure(context.Background(), RecordPaymentFailureCommand{OrderID: order.ID, Reason: "card declined"})
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if failed.Status != domain.OrderStatusCreated {
		t.Fatalf("expected status to stay CREATED, got %s", failed.Status)
	}
	if failed.PaymentFailedAt == nil || derefString(failed.PaymentFailureReason) != "card declined" {
		t.Fatalf("expected failure recorded, got %+v", failed)
	}
	if got := env.stock(t, product.ID); got != 4 {
		t.Fatalf("expected stock to remain reserved, got %d", got)
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Bucket", 900, 5)
	env.addToCart(t, "buyer-1", product.ID, 1)
	order := env.placeOrder(t, "buyer-1")

	if _, err := env.orders.GetOrder(context.Background(), GetOrderQuery{OrderID: order.ID, ActorID: "buyer-2", ActorRole: auth.RoleBuyer}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected ErrOrderForbidden, got %v", err)
	}
	if _, err := env.orders.GetOrder(context.Background(), GetOrderQuery{OrderID: order.ID, ActorID: "ops", ActorRole: auth.RoleAdmin}); err != nil {
		t.Fatalf("admin read: %v", err)
	}
}

func TestListOrdersPaginatesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Paint", 1000, 100)

	var placed []Order
	for i := 0; i < 3; i++ {
		env.addToCart(t, "buyer-1", product.ID, 1)
		placed = append(placed, env.placeOrder(t, "buyer-1"))
		env.clock.Advance(time.Minute)
	}

	first, err := env.orders.ListOrders(context.Background(), OrderListFilter{BuyerID: "buyer-1", Pagination: Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != placed[2].ID || first.Items[1].ID != placed[1].ID {
		t.Fatalf("unexpected first page: %+v", first.Items)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second, err := env.orders.ListOrders(context.Background(), OrderListFilter{BuyerID: "buyer-1", Pagination: Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != placed[0].ID || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v token=%q", second.Items, second.NextPageToken)
	}

	if _, err := env.orders.ListOrders(context.Background(), OrderListFilter{BuyerID: "buyer-1", Pagination: Pagination{PageToken: "%%%"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid token to be rejected, got %v", err)
	}
	if _, err := env.orders.ListOrders(context.Background(), OrderListFilter{BuyerID: "buyer-1", Status: []OrderStatus{"LOST"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
}

func TestConcurrentCheckoutsForLastUnitHaveOneWinner(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv(t)
	product := env.seedProduct(t, "Last Widget", 9900, 1)

	const buyers = 8
	for i := 0; i < buyers; i++ {
		env.addToCart(t, buyerName(i), product.ID, 1)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		shortages int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyerID string) {
			defer wg.Done()
			<-start
			_, err := env.orders.CreateFromCart(context.Background(), CreateOrderCommand{BuyerID: buyerID})
			mu.Lock()
			defer mu.Unlock()
			var stockErr *InsufficientStockError
			switch {
			case err == nil:
				winners++
			case errors.As(err, &stockErr):
				shortages++
			default:
				others = append(others, err)
			}
		}(buyerName(i))
	}
	close(start)
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if winners != 1 || shortages != buyers-1 {
		t.Fatalf("expected exactly one winner, got winners=%d shortages=%d", winners, shortages)
	}
	if got := env.stock(t, product.ID); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestNewOrderServiceValidatesDependencies(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repositories")
	}
}

func buyerName(i int) string {
	return "buyer-" + string(rune('a'+i))
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

type lockOrderInventory struct {
	InventoryService
	mu    sync.Mutex
	calls []string
}

func (l *lockOrderInventory) Reserve(ctx context.Context, productID string, quantity int64) error {
	l.mu.Lock()
	l.calls = append(l.calls, "reserve:"+productID)
	l.mu.Unlock()
	return l.InventoryService.Reserve(ctx, productID, quantity)
}

func (l *lockOrderInventory) Release(ctx context.Context, productID string, quantity int64) error {
	l.mu.Lock()
	l.calls = append(l.calls, "release:"+productID)
	l.mu.Unlock()
	return l.InventoryService.Release(ctx, productID, quantity)
}

func TestCreateAndCancelTouchInventoryInProductOrder(t *testing.T) {
	env := newTestEnv(t)
	first := env.seedProduct(t, "Anchors", 500, 20)
	second := env.seedProduct(t, "Brackets", 700, 20)
	// Cart insertion order is the reverse of product ID order.
	env.addToCart(t, "buyer-1", second.ID, 1)
	env.addToCart(t, "buyer-1", first.ID, 1)

	totals, err := NewTotalsCalculator(TotalsCalculatorConfig{})
	if err != nil {
		t.Fatalf("new totals calculator: %v", err)
	}
	inventory := &lockOrderInventory{InventoryService: env.inventory}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:      env.store.Orders(),
		Carts:       env.store.Carts(),
		Inventory:   inventory,
		Totals:      totals,
		UnitOfWork:  env.store,
		Clock:       env.clock.Now,
		IDGenerator: sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	order, err := orders.CreateFromCart(context.Background(), CreateOrderCommand{BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Lines[0].ProductID != second.ID {
		t.Fatalf("expected lines in cart order, got %+v", order.Lines)
	}
	if _, err := orders.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID, ActorID: "buyer-1", ActorRole: auth.RoleBuyer}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	want := []string{
		"reserve:" + first.ID, "reserve:" + second.ID,
		"release:" + first.ID, "release:" + second.ID,
	}
	if strings.Join(inventory.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("inventory calls = %v, want %v", inventory.calls, want)
	}
}
