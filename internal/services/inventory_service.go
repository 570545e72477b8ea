package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryNotFound indicates the product has no inventory record.
	ErrInventoryNotFound = errors.New("inventory: record not found")
	// ErrInventoryUnavailable indicates the backing store could not be reached.
	ErrInventoryUnavailable = errors.New("inventory: store unavailable")
)

// InsufficientStockError reports that a reservation asked for more units than are on hand.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("inventory: insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Products  repositories.ProductRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo     repositories.InventoryRepository
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	return &inventoryService{
		repo:     deps.Inventory,
		products: deps.Products,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// Reserve locks the inventory row and decrements it. A product without an inventory record has
// zero units available.
func (s *inventoryService) Reserve(ctx context.Context, productID string, quantity int64) error {
	productID, err := validateStockArgs(productID, quantity)
	if err != nil {
		return err
	}

	record, err := s.repo.GetForUpdate(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.insufficient(ctx, productID, quantity, 0)
		}
		return s.mapRepositoryError(err)
	}
	if quantity > record.Quantity {
		return s.insufficient(ctx, productID, quantity, record.Quantity)
	}

	if _, err := s.repo.SetQuantity(ctx, productID, record.Quantity-quantity, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.reserve", map[string]any{
		"productId": productID,
		"quantity":  quantity,
		"remaining": record.Quantity - quantity,
	})
	return nil
}

// Release returns units to stock. Callers are responsible for releasing a reservation once.
func (s *inventoryService) Release(ctx context.Context, productID string, quantity int64) error {
	productID, err := validateStockArgs(productID, quantity)
	if err != nil {
		return err
	}

	var current int64
	record, err := s.repo.GetForUpdate(ctx, productID)
	switch {
	case err == nil:
		current = record.Quantity
	case isRepoNotFound(err):
	default:
		return s.mapRepositoryError(err)
	}

	if _, err := s.repo.SetQuantity(ctx, productID, current+quantity, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.release", map[string]any{
		"productId": productID,
		"quantity":  quantity,
		"remaining": current + quantity,
	})
	return nil
}

func (s *inventoryService) Available(ctx context.Context, productID string) (int64, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	record, err := s.repo.Get(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return 0, nil
		}
		return 0, s.mapRepositoryError(err)
	}
	return record.Quantity, nil
}

func (s *inventoryService) SetStock(ctx context.Context, productID string, quantity int64) (InventoryRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return InventoryRecord{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if quantity < 0 {
		return InventoryRecord{}, fmt.Errorf("%w: quantity must not be negative", ErrInventoryInvalidInput)
	}
	record, err := s.repo.SetQuantity(ctx, productID, quantity, s.clock())
	if err != nil {
		return InventoryRecord{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "inventory.set", map[string]any{
		"productId": productID,
		"quantity":  quantity,
	})
	return record, nil
}

func (s *inventoryService) insufficient(ctx context.Context, productID string, requested, available int64) error {
	stockErr := &InsufficientStockError{
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
	if s.products != nil {
		if product, err := s.products.FindByID(ctx, productID); err == nil {
			stockErr.ProductName = product.Name
		}
	}
	s.logger(ctx, "inventory.reserve.insufficient", map[string]any{
		"productId": productID,
		"requested": requested,
		"available": available,
	})
	return stockErr
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
		}
	}
	return err
}

func validateStockArgs(productID string, quantity int64) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}
	return productID, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
