package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// Page represents a paginated response with an optional next page token.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// User is the local identity record resolved from an external identity provider subject.
type User struct {
	ID         string
	ExternalID string
	Email      string
	Role       string
	Locale     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Product is a catalog entry priced in minor currency units.
type Product struct {
	ID                string
	SKU               *string
	Name              string
	PriceCents        int64
	LowStockThreshold int
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InventoryRecord tracks the available quantity for a product. Quantity never drops below zero.
type InventoryRecord struct {
	ProductID  string
	OwnerScope string
	Quantity   int64
	UpdatedAt  time.Time
}

// ProductAvailability pairs a product with its current stock for catalog reads.
type ProductAvailability struct {
	Product   Product
	Available int64
	LowStock  bool
}

// Cart is the single mutable shopping cart owned by a buyer.
type Cart struct {
	ID        string
	BuyerID   string
	OrderID   *string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem stores a product line within a cart, priced at the time it was added.
type CartItem struct {
	CartID         string
	ProductID      string
	ProductName    string
	Quantity       int64
	UnitPriceCents int64
	AddedAt        time.Time
	UpdatedAt      time.Time
}

// Subtotal returns the sum of quantity times unit price over all items.
func (c Cart) Subtotal() int64 {
	var subtotal int64
	for _, item := range c.Items {
		subtotal += item.Quantity * item.UnitPriceCents
	}
	return subtotal
}

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	// OrderStatusCreated indicates the order was placed and stock reserved, awaiting payment.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusPaid indicates the provider confirmed payment.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusShipped indicates fulfilment handed the order to a carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusCancelled indicates the buyer or an admin cancelled the order before payment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusShipped || s == OrderStatusCancelled
}

// Order captures an order header and its immutable line snapshot.
type Order struct {
	ID                   string
	BuyerID              string
	Status               OrderStatus
	Currency             string
	SubtotalCents        int64
	TaxCents             int64
	ShippingCents        int64
	TotalCents           int64
	PONumber             *string
	Notes                *string
	PaymentRef           *string
	PaymentProvider      string
	PaymentFailedAt      *time.Time
	PaymentFailureReason *string
	PaidAt               *time.Time
	ShippedAt            *time.Time
	CancelledAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Lines                []OrderLine
}

// OrderLine snapshots product name and unit price at order time.
type OrderLine struct {
	OrderID        string
	ProductID      string
	ProductName    string
	Quantity       int64
	UnitPriceCents int64
	LineTotalCents int64
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	BuyerID    string
	Status     []OrderStatus
	Pagination Pagination
}

// CheckoutSession represents a payment provider hosted checkout session bound to an order.
type CheckoutSession struct {
	SessionID   string
	Provider    string
	OrderID     string
	RedirectURL string
	ExpiresAt   time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
