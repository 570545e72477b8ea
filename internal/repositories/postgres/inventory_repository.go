package postgres

import (
	"context"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/database"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

// InventoryRepository stores stock rows keyed by product.
type InventoryRepository struct {
	db *database.Provider
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs the repository.
func NewInventoryRepository(db *database.Provider) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// GetForUpdate takes a row lock that concurrent reservations of the same product queue behind.
func (r *InventoryRepository) GetForUpdate(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	return r.get(ctx, "inventory.get_for_update",
		`SELECT product_id, owner_scope, quantity, updated_at FROM inventory WHERE product_id = $1 FOR UPDATE`, productID)
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	return r.get(ctx, "inventory.get",
		`SELECT product_id, owner_scope, quantity, updated_at FROM inventory WHERE product_id = $1`, productID)
}

func (r *InventoryRepository) get(ctx context.Context, op, query, productID string) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := r.db.Conn(ctx).QueryRow(ctx, query, productID).Scan(&rec.ProductID, &rec.OwnerScope, &rec.Quantity, &rec.UpdatedAt)
	if err != nil {
		return domain.InventoryRecord{}, database.WrapError(op, err)
	}
	return rec, nil
}

func (r *InventoryRepository) SetQuantity(ctx context.Context, productID string, quantity int64, now time.Time) (domain.InventoryRecord, error) {
	var rec domain.InventoryRecord
	err := r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO inventory (product_id, quantity, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING product_id, owner_scope, quantity, updated_at`,
		productID, quantity, now,
	).Scan(&rec.ProductID, &rec.OwnerScope, &rec.Quantity, &rec.UpdatedAt)
	if err != nil {
		return domain.InventoryRecord{}, database.WrapError("inventory.set_quantity", err)
	}
	return rec, nil
}
