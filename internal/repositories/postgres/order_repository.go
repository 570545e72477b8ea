package postgres

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/database"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

const orderColumns = `id, buyer_id, status, currency, subtotal_cents, tax_cents, shipping_cents, total_cents,
	po_number, notes, payment_ref, payment_provider, payment_failed_at, payment_failure_reason,
	paid_at, shipped_at, cancelled_at, created_at, updated_at`

// OrderRepository stores orders and their lines.
type OrderRepository struct {
	db *database.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the repository.
func NewOrderRepository(db *database.Provider) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	conn := r.db.Conn(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		order.ID, order.BuyerID, string(order.Status), order.Currency,
		order.SubtotalCents, order.TaxCents, order.ShippingCents, order.TotalCents,
		order.PONumber, order.Notes, order.PaymentRef, order.PaymentProvider,
		order.PaymentFailedAt, order.PaymentFailureReason,
		order.PaidAt, order.ShippedAt, order.CancelledAt, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return database.WrapError("orders.insert", err)
	}

	batch := &pgx.Batch{}
	for i, line := range order.Lines {
		batch.Queue(`
			INSERT INTO order_lines (order_id, line_no, product_id, product_name, quantity, unit_price_cents, line_total_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i+1, line.ProductID, line.ProductName, line.Quantity, line.UnitPriceCents, line.LineTotalCents)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := conn.SendBatch(ctx, batch).Close(); err != nil {
		return database.WrapError("orders.insert_lines", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	conn := r.db.Conn(ctx)

	order, err := scanOrder(conn.QueryRow(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, database.WrapError("orders.find", err)
	}
	if order.Lines, err = r.lines(ctx, conn, orderID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *OrderRepository) lines(ctx context.Context, conn database.Querier, orderID string) ([]domain.OrderLine, error) {
	rows, err := conn.Query(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price_cents, line_total_cents
		FROM order_lines WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, database.WrapError("orders.lines", err)
	}
	defer rows.Close()

	var lines []domain.OrderLine
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.OrderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPriceCents, &line.LineTotalCents); err != nil {
			return nil, database.WrapError("orders.lines", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, database.WrapError("orders.lines", err)
	}
	return lines, nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE orders SET
			status = $2, payment_ref = $3, payment_provider = $4, payment_failed_at = $5,
			payment_failure_reason = $6, paid_at = $7, shipped_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $1`,
		order.ID, string(order.Status), order.PaymentRef, order.PaymentProvider, order.PaymentFailedAt,
		order.PaymentFailureReason, order.PaidAt, order.ShippedAt, order.CancelledAt, order.UpdatedAt,
	)
	if err != nil {
		return database.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return database.NotFound("orders.update", "order not found")
	}
	return nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error) {
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	args := []any{filter.BuyerID}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1`
	if cursor.CreatedAt != nil {
		args = append(args, *cursor.CreatedAt, cursor.ID)
		query += ` AND (created_at, id) < ($2, $3)`
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		args = append(args, statuses)
		query += ` AND status = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	args = append(args, limit+1)
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args))

	conn := r.db.Conn(ctx)
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return domain.Page[domain.Order]{}, database.WrapError("orders.list", err)
	}
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page[domain.Order]{}, database.WrapError("orders.list", err)
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, database.WrapError("orders.list", err)
	}

	page := domain.Page[domain.Order]{Items: orders}
	if len(orders) > limit {
		page.Items = orders[:limit]
		last := page.Items[limit-1]
		createdAt := last.CreatedAt
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: &createdAt, ID: last.ID})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
	}
	for i := range page.Items {
		if page.Items[i].Lines, err = r.lines(ctx, conn, page.Items[i].ID); err != nil {
			return domain.Page[domain.Order]{}, err
		}
	}
	return page, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &o.BuyerID, &status, &o.Currency,
		&o.SubtotalCents, &o.TaxCents, &o.ShippingCents, &o.TotalCents,
		&o.PONumber, &o.Notes, &o.PaymentRef, &o.PaymentProvider, &o.PaymentFailedAt, &o.PaymentFailureReason,
		&o.PaidAt, &o.ShippedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	o.Status = domain.OrderStatus(status)
	return o, err
}
