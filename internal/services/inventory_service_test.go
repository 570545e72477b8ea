package services

import (
	"context"
	"errors"
	"testing"
)

func TestReserveAndRelease(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Anchor", 350, 10)
	ctx := context.Background()

	if err := env.inventory.Reserve(ctx, product.ID, 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := env.stock(t, product.ID); got != 6 {
		t.Fatalf("expected 6 after reserve, got %d", got)
	}
	if err := env.inventory.Release(ctx, product.ID, 4); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := env.stock(t, product.ID); got != 10 {
		t.Fatalf("expected 10 after release, got %d", got)
	}
}

func TestReserveAllowsExactStock(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Clamp", 900, 3)

	if err := env.inventory.Reserve(context.Background(), product.ID, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if got := env.stock(t, product.ID); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestReserveInsufficientStockCarriesDetails(t *testing.T) {
	env := newTestEnv(t)
	product := env.seedProduct(t, "Winch", 25000, 2)

	err := env.inventory.Reserve(context.Background(), product.ID, 5)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductName != "Winch" || stockErr.Requested != 5 || stockErr.Available != 2 {
		t.Fatalf("unexpected payload %+v", stockErr)
	}
	if stockErr.Error() == "" {
		t.Fatalf("expected error message")
	}
	if got := env.stock(t, product.ID); got != 2 {
		t.Fatalf("expected stock untouched, got %d", got)
	}
}

func TestReserveWithoutInventoryRecord(t *testing.T) {
	env := newTestEnv(t)

	err := env.inventory.Reserve(context.Background(), "prd_unknown", 1)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 0 {
		t.Fatalf("expected zero availability error, got %v", err)
	}
	available, err := env.inventory.Available(context.Background(), "prd_unknown")
	if err != nil || available != 0 {
		t.Fatalf("expected 0 available, got %d (%v)", available, err)
	}
}

func TestInventoryRejectsInvalidArguments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.inventory.Reserve(ctx, "", 1); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for empty id, got %v", err)
	}
	if err := env.inventory.Reserve(ctx, "prd_1", 0); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
	if err := env.inventory.Release(ctx, "prd_1", -1); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for negative release, got %v", err)
	}
	if _, err := env.inventory.SetStock(ctx, "prd_1", -1); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for negative stock, got %v", err)
	}
}
