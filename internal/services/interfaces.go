package services

import (
	"context"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/payments"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Product             = domain.Product
	ProductAvailability = domain.ProductAvailability
	InventoryRecord     = domain.InventoryRecord
	Cart                = domain.Cart
	CartItem            = domain.CartItem
	Order               = domain.Order
	OrderLine           = domain.OrderLine
	OrderStatus         = domain.OrderStatus
	OrderListFilter     = domain.OrderListFilter
	Totals              = domain.Totals
	User                = domain.User
	CheckoutSession     = domain.CheckoutSession
	SystemHealthReport  = domain.SystemHealthReport
)

// TotalsCalculator derives tax, shipping and grand total from a subtotal.
type TotalsCalculator interface {
	Compute(subtotal int64) (Totals, error)
}

// InventoryService guards per-product stock. Reserve and Release must run inside the caller's
// transaction so the row lock spans the whole workflow.
type InventoryService interface {
	Reserve(ctx context.Context, productID string, quantity int64) error
	Release(ctx context.Context, productID string, quantity int64) error
	Available(ctx context.Context, productID string) (int64, error)
	SetStock(ctx context.Context, productID string, quantity int64) (InventoryRecord, error)
}

// CartService manages the buyer's single active cart.
type CartService interface {
	GetCart(ctx context.Context, buyerID string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error)
}

// CatalogService exposes product reads and admin maintenance.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (ProductAvailability, error)
	GetProduct(ctx context.Context, productID string) (ProductAvailability, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.Page[ProductAvailability], error)
	UpdateStock(ctx context.Context, cmd UpdateStockCommand) (InventoryRecord, error)
	DeleteProduct(ctx context.Context, productID string) error
}

// OrderService owns order creation and the lifecycle state machine.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkPaid(ctx context.Context, cmd MarkPaidCommand) (MarkPaidResult, error)
	RecordPaymentFailure(ctx context.Context, cmd RecordPaymentFailureCommand) (Order, error)
	AttachPaymentSession(ctx context.Context, cmd AttachPaymentSessionCommand) (Order, error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
}

// CheckoutService starts hosted payment sessions for placed orders.
type CheckoutService interface {
	CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error)
}

// PaymentReconciler applies provider notifications and polls to the order lifecycle.
type PaymentReconciler interface {
	HandleEvent(ctx context.Context, event payments.Event) (ReconcileResult, error)
	PaymentStatus(ctx context.Context, query PaymentStatusQuery) (PaymentStatusResult, error)
}

// UserService maintains local identity records for authenticated principals.
type UserService interface {
	GetOrCreate(ctx context.Context, identity *auth.Identity) (User, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// CartView is a cart together with its totals preview.
type CartView struct {
	Cart   Cart
	Totals Totals
}

// AddCartItemCommand adds quantity units of a product to the buyer's cart.
type AddCartItemCommand struct {
	BuyerID   string
	ProductID string
	Quantity  int64
}

// RemoveCartItemCommand removes a product line from the buyer's cart.
type RemoveCartItemCommand struct {
	BuyerID   string
	ProductID string
}

// CreateProductCommand registers a catalog product with its opening stock.
type CreateProductCommand struct {
	SKU               string
	Name              string
	PriceCents        int64
	LowStockThreshold int
	InitialStock      int64
	Active            *bool
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	IncludeInactive bool
	Pagination      Pagination
}

// UpdateStockCommand replaces the on-hand quantity for a product.
type UpdateStockCommand struct {
	ProductID string
	Quantity  int64
	ActorID   string
}

// CreateOrderCommand converts the buyer's cart into an order.
type CreateOrderCommand struct {
	BuyerID  string
	PONumber string
	Notes    string
}

// GetOrderQuery loads an order on behalf of an actor. Buyers may only read their own orders.
type GetOrderQuery struct {
	OrderID   string
	ActorID   string
	ActorRole string
}

// CancelOrderCommand cancels a CREATED order and returns its stock.
type CancelOrderCommand struct {
	OrderID   string
	ActorID   string
	ActorRole string
}

// MarkPaidCommand records a confirmed payment.
type MarkPaidCommand struct {
	OrderID     string
	ProviderRef string
	Provider    string
	Source      string
}

// MarkPaidResult carries the order after MarkPaid. Applied is false when the order was already
// PAID or SHIPPED and nothing changed.
type MarkPaidResult struct {
	Order   Order
	Applied bool
}

// RecordPaymentFailureCommand notes a failed payment attempt without changing the status.
type RecordPaymentFailureCommand struct {
	OrderID string
	Reason  string
	Source  string
}

// AttachPaymentSessionCommand stores the hosted session reference on a CREATED order.
type AttachPaymentSessionCommand struct {
	OrderID    string
	SessionRef string
	Provider   string
}

// ShipOrderCommand moves a PAID order to SHIPPED.
type ShipOrderCommand struct {
	OrderID string
	ActorID string
}

// CreateCheckoutSessionCommand requests a hosted checkout session for an order.
type CreateCheckoutSessionCommand struct {
	OrderID        string
	BuyerID        string
	CustomerEmail  string
	Locale         string
	Provider       string
	IdempotencyKey string
}

// PaymentStatusQuery asks for the payment state of a buyer's order.
type PaymentStatusQuery struct {
	OrderID string
	BuyerID string
}

// PaymentStatusResult is the payment view of an order after an optional provider poll.
type PaymentStatusResult struct {
	OrderID string
	Status  OrderStatus
	Outcome payments.Outcome
	PaidAt  *time.Time
}

// ReconcileResult reports how a provider event was handled.
type ReconcileResult struct {
	Duplicate bool
	Applied   bool
	Order     *Order
}
