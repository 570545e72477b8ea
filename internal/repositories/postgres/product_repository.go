package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/database"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

const productColumns = `id, sku, name, price_cents, low_stock_threshold, active, created_at, updated_at`

// ProductRepository stores catalog products in Postgres.
type ProductRepository struct {
	db *database.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs the repository.
func NewProductRepository(db *database.Provider) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) (domain.Product, error) {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		product.ID, product.SKU, product.Name, product.PriceCents, product.LowStockThreshold,
		product.Active, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, database.WrapError("products.insert", err)
	}
	return product, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, database.WrapError("products.find", err)
	}
	return product, nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + productColumns + ` FROM products WHERE id > $1`)
	if filter.ActiveOnly {
		sb.WriteString(` AND active`)
	}
	sb.WriteString(` ORDER BY id LIMIT $2`)

	rows, err := r.db.Conn(ctx).Query(ctx, sb.String(), cursor.ID, limit+1)
	if err != nil {
		return domain.Page[domain.Product]{}, database.WrapError("products.list", err)
	}
	defer rows.Close()

	items := make([]domain.Product, 0, limit)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return domain.Page[domain.Product]{}, database.WrapError("products.list", err)
		}
		items = append(items, product)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Product]{}, database.WrapError("products.list", err)
	}

	page := domain.Page[domain.Product]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{ID: items[limit-1].ID})
		if err != nil {
			return domain.Page[domain.Product]{}, err
		}
	}
	return page, nil
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return database.WrapError("products.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return database.NotFound("products.delete", "product not found")
	}
	return nil
}

func (r *ProductRepository) ReferencedByOpenOrder(ctx context.Context, productID string) (bool, error) {
	var referenced bool
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_lines l
			JOIN orders o ON o.id = l.order_id
			WHERE l.product_id = $1 AND o.status IN ($2, $3)
		)`, productID, string(domain.OrderStatusCreated), string(domain.OrderStatusPaid),
	).Scan(&referenced)
	if err != nil {
		return false, database.WrapError("products.referenced", err)
	}
	return referenced, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.LowStockThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
