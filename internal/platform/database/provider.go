package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/config"
)

const (
	defaultConnectTimeout  = 5 * time.Second
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 30 * time.Minute
)

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("database: provider is closed")

// Querier is the statement surface shared by the pool and an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Provider owns the shared pgx connection pool.
type Provider struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open parses the configured URL, sizes the pool and verifies connectivity.
func Open(ctx context.Context, cfg config.StoreConfig) (*Provider, error) {
	url := strings.TrimSpace(cfg.DatabaseURL)
	if url == "" {
		return nil, errors.New("database: url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("database: parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.MaxConnLifetime = defaultMaxConnLifetime
	poolCfg.MaxConnIdleTime = defaultMaxConnIdleTime

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return &Provider{pool: pool}, nil
}

// NewProvider wraps an existing pool.
func NewProvider(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool}
}

// Conn returns the transaction bound to ctx, or the pool when no transaction is active.
func (p *Provider) Conn(ctx context.Context) Querier {
	if tx, ok := txFromContext(ctx); ok {
		return tx
	}
	return p.pool
}

// Ping verifies the pool can reach the database.
func (p *Provider) Ping(ctx context.Context) error {
	if p == nil || p.closed.Load() {
		return ErrProviderClosed
	}
	return p.pool.Ping(ctx)
}

// Close releases the pool. The Provider cannot be reused afterwards.
func (p *Provider) Close(context.Context) error {
	if p == nil || !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.pool.Close()
	return nil
}
