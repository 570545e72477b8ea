package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
	payments    []string
}

func (m *recordingMetrics) RecordOrderTransition(_ context.Context, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, status)
}

func (m *recordingMetrics) RecordPaymentEvent(_ context.Context, outcome, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, outcome+":"+result)
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%04d", n.Add(1))
	}
}

type testEnv struct {
	store     *memory.Store
	clock     *testClock
	inventory InventoryService
	carts     CartService
	catalog   CatalogService
	orders    OrderService
	events    *recordingPublisher
	metrics   *recordingMetrics
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore(nil)
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	env := &testEnv{
		store:   store,
		clock:   clock,
		events:  &recordingPublisher{},
		metrics: &recordingMetrics{},
	}

	totals, err := NewTotalsCalculator(TotalsCalculatorConfig{})
	if err != nil {
		t.Fatalf("new totals calculator: %v", err)
	}
	env.inventory, err = NewInventoryService(InventoryServiceDeps{
		Inventory: store.Inventory(),
		Products:  store.Products(),
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	cartIDs := sequentialIDs()
	env.carts, err = NewCartService(CartServiceDeps{
		Carts:       store.Carts(),
		Products:    store.Products(),
		Totals:      totals,
		Clock:       clock.Now,
		IDGenerator: func() string { return "cart-" + cartIDs() },
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	env.catalog, err = NewCatalogService(CatalogServiceDeps{
		Products:    store.Products(),
		Inventory:   store.Inventory(),
		Stock:       env.inventory,
		UnitOfWork:  store,
		Clock:       clock.Now,
		IDGenerator: sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	env.orders, err = NewOrderService(OrderServiceDeps{
		Orders:      store.Orders(),
		Carts:       store.Carts(),
		Inventory:   env.inventory,
		Totals:      totals,
		UnitOfWork:  store,
		Clock:       clock.Now,
		IDGenerator: sequentialIDs(),
		Events:      env.events,
		Metrics:     env.metrics,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return env
}

func (e *testEnv) seedProduct(t *testing.T, name string, priceCents, stock int64) Product {
	t.Helper()
	created, err := e.catalog.CreateProduct(context.Background(), CreateProductCommand{
		Name:              name,
		PriceCents:        priceCents,
		InitialStock:      stock,
		LowStockThreshold: 2,
	})
	if err != nil {
		t.Fatalf("seed product %q: %v", name, err)
	}
	return created.Product
}

func (e *testEnv) addToCart(t *testing.T, buyerID, productID string, quantity int64) CartView {
	t.Helper()
	view, err := e.carts.AddItem(context.Background(), AddCartItemCommand{BuyerID: buyerID, ProductID: productID, Quantity: quantity})
	if err != nil {
		t.Fatalf("add %s x%d to cart of %s: %v", productID, quantity, buyerID, err)
	}
	return view
}

func (e *testEnv) stock(t *testing.T, productID string) int64 {
	t.Helper()
	available, err := e.inventory.Available(context.Background(), productID)
	if err != nil {
		t.Fatalf("available %s: %v", productID, err)
	}
	return available
}

func (e *testEnv) placeOrder(t *testing.T, buyerID string) Order {
	t.Helper()
	order, err := e.orders.CreateFromCart(context.Background(), CreateOrderCommand{BuyerID: buyerID})
	if err != nil {
		t.Fatalf("create order for %s: %v", buyerID, err)
	}
	return order
}
