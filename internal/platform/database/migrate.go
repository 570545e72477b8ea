package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'buyer',
		locale TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT UNIQUE,
		name TEXT NOT NULL,
		price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
		low_stock_threshold INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
		owner_scope TEXT NOT NULL DEFAULT '',
		quantity BIGINT NOT NULL CHECK (quantity >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL UNIQUE,
		order_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		product_name TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL CHECK (unit_price_cents >= 0),
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (cart_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		buyer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		subtotal_cents BIGINT NOT NULL,
		tax_cents BIGINT NOT NULL,
		shipping_cents BIGINT NOT NULL,
		total_cents BIGINT NOT NULL,
		po_number TEXT,
		notes TEXT,
		payment_ref TEXT,
		payment_provider TEXT NOT NULL DEFAULT '',
		payment_failed_at TIMESTAMPTZ,
		payment_failure_reason TEXT,
		paid_at TIMESTAMPTZ,
		shipped_at TIMESTAMPTZ,
		cancelled_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (total_cents = subtotal_cents + tax_cents + shipping_cents)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer_created ON orders(buyer_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL,
		line_total_cents BIGINT NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_lines_product ON order_lines(product_id)`,
}

// Migrate applies the idempotent schema statements in order.
func (p *Provider) Migrate(ctx context.Context) error {
	if p == nil || p.closed.Load() {
		return ErrProviderClosed
	}
	for i, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("database: migration %d: %w", i, err)
		}
	}
	return nil
}
