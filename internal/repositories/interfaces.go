package repositories

import (
	"context"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Inventory() InventoryRepository
	Carts() CartRepository
	Orders() OrderRepository
	Users() UserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a single atomic transaction. Repositories invoked
// with the context passed to fn participate in the transaction; a non-nil error rolls back.
type UnitOfWork interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog products.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) (domain.Product, error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.Page[domain.Product], error)
	Delete(ctx context.Context, productID string) error
	// ReferencedByOpenOrder reports whether any CREATED or PAID order has a line for the product.
	ReferencedByOpenOrder(ctx context.Context, productID string) (bool, error)
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}

// InventoryRepository stores per-product stock. Callers mutate only inside a transaction.
type InventoryRepository interface {
	// GetForUpdate loads the record and holds a row lock until the enclosing transaction ends.
	GetForUpdate(ctx context.Context, productID string) (domain.InventoryRecord, error)
	Get(ctx context.Context, productID string) (domain.InventoryRecord, error)
	// SetQuantity upserts the absolute quantity for the product.
	SetQuantity(ctx context.Context, productID string, quantity int64, now time.Time) (domain.InventoryRecord, error)
}

// CartRepository persists buyer carts and their items.
type CartRepository interface {
	// FindByBuyer loads the cart with items; forUpdate locks the cart row.
	FindByBuyer(ctx context.Context, buyerID string, forUpdate bool) (domain.Cart, error)
	Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	// AddItem inserts the item or increments the quantity of an existing (cart, product) line.
	AddItem(ctx context.Context, item domain.CartItem) error
	RemoveItem(ctx context.Context, cartID, productID string) error
	ClearItems(ctx context.Context, cartID string) error
	SetOrderRef(ctx context.Context, cartID, orderID string, now time.Time) error
}

// OrderRepository persists orders and their immutable lines.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// FindByID loads the order with lines; forUpdate locks the order row.
	FindByID(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error)
	// Update writes the mutable lifecycle fields of the order header.
	Update(ctx context.Context, order domain.Order) error
	ListByBuyer(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error)
}

// UserRepository persists local identity records keyed by the provider subject.
type UserRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (domain.User, error)
	// Insert fails with a conflict error when the external ID already exists.
	Insert(ctx context.Context, user domain.User) (domain.User, error)
}

// HealthRepository performs dependency health checks for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
