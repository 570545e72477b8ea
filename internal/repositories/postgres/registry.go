package postgres

import (
	"context"
	"errors"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/database"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

// Registry wires the Postgres repositories onto a shared pool.
type Registry struct {
	db       *database.Provider
	health   repositories.HealthRepository
	products *ProductRepository
	stock    *InventoryRepository
	carts    *CartRepository
	orders   *OrderRepository
	users    *UserRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the registry. health may be nil when readiness probes are not wired.
func NewRegistry(db *database.Provider, health repositories.HealthRepository) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres registry: database provider is required")
	}
	return &Registry{
		db:       db,
		health:   health,
		products: NewProductRepository(db),
		stock:    NewInventoryRepository(db),
		carts:    NewCartRepository(db),
		orders:   NewOrderRepository(db),
		users:    NewUserRepository(db),
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.db.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.stock }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// WithTransaction runs fn inside a single database transaction.
func (r *Registry) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunTransaction(ctx, fn)
}
