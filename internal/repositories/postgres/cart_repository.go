package postgres

import (
	"context"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/database"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

// CartRepository stores carts and cart items.
type CartRepository struct {
	db *database.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs the repository.
func NewCartRepository(db *database.Provider) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) FindByBuyer(ctx context.Context, buyerID string, forUpdate bool) (domain.Cart, error) {
	query := `SELECT id, buyer_id, order_id, created_at, updated_at FROM carts WHERE buyer_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	conn := r.db.Conn(ctx)

	var cart domain.Cart
	if err := conn.QueryRow(ctx, query, buyerID).Scan(&cart.ID, &cart.BuyerID, &cart.OrderID, &cart.CreatedAt, &cart.UpdatedAt); err != nil {
		return domain.Cart{}, database.WrapError("carts.find", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT cart_id, product_id, product_name, quantity, unit_price_cents, added_at, updated_at
		FROM cart_items WHERE cart_id = $1 ORDER BY added_at, product_id`, cart.ID)
	if err != nil {
		return domain.Cart{}, database.WrapError("carts.items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.CartID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceCents, &item.AddedAt, &item.UpdatedAt); err != nil {
			return domain.Cart{}, database.WrapError("carts.items", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, database.WrapError("carts.items", err)
	}
	return cart, nil
}

func (r *CartRepository) Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO carts (id, buyer_id, order_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		cart.ID, cart.BuyerID, cart.OrderID, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, database.WrapError("carts.insert", err)
	}
	return cart, nil
}

func (r *CartRepository) AddItem(ctx context.Context, item domain.CartItem) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO cart_items (cart_id, product_id, product_name, quantity, unit_price_cents, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		item.CartID, item.ProductID, item.ProductName, item.Quantity, item.UnitPriceCents, item.AddedAt)
	if err != nil {
		return database.WrapError("carts.add_item", err)
	}
	return nil
}

func (r *CartRepository) RemoveItem(ctx context.Context, cartID, productID string) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cartID, productID)
	if err != nil {
		return database.WrapError("carts.remove_item", err)
	}
	if tag.RowsAffected() == 0 {
		return database.NotFound("carts.remove_item", "cart item not found")
	}
	return nil
}

func (r *CartRepository) ClearItems(ctx context.Context, cartID string) error {
	if _, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return database.WrapError("carts.clear", err)
	}
	return nil
}

func (r *CartRepository) SetOrderRef(ctx context.Context, cartID, orderID string, now time.Time) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE carts SET order_id = $2, updated_at = $3 WHERE id = $1`, cartID, orderID, now)
	if err != nil {
		return database.WrapError("carts.set_order", err)
	}
	if tag.RowsAffected() == 0 {
		return database.NotFound("carts.set_order", "cart not found")
	}
	return nil
}
