package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

const (
	productIDPrefix      = "prd_"
	maxProductNameLength = 200
	maxSKULength         = 64
)

var (
	// ErrCatalogInvalidInput indicates the product payload is invalid.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates a uniqueness constraint such as the SKU was violated.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogProductInUse indicates an open order still references the product.
	ErrCatalogProductInUse = errors.New("catalog: product referenced by open order")
	// ErrCatalogUnavailable indicates the backing store could not be reached.
	ErrCatalogUnavailable = errors.New("catalog: store unavailable")
)

// CatalogServiceDeps bundles the collaborators required to construct a catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Inventory   repositories.InventoryRepository
	Stock       InventoryService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	inventory  repositories.InventoryRepository
	stock      InventoryService
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("catalog service: inventory repository is required")
	}
	if deps.Stock == nil {
		return nil, errors.New("catalog service: inventory service is required")
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &catalogService{
		products:   deps.Products,
		inventory:  deps.Inventory,
		stock:      deps.Stock,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (ProductAvailability, error) {
	name := strings.TrimSpace(cmd.Name)
	switch {
	case name == "":
		return ProductAvailability{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	case utf8.RuneCountInString(name) > maxProductNameLength:
		return ProductAvailability{}, fmt.Errorf("%w: name must be at most %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	case cmd.PriceCents <= 0:
		return ProductAvailability{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	case cmd.LowStockThreshold < 0:
		return ProductAvailability{}, fmt.Errorf("%w: low stock threshold must not be negative", ErrCatalogInvalidInput)
	case cmd.InitialStock < 0:
		return ProductAvailability{}, fmt.Errorf("%w: initial stock must not be negative", ErrCatalogInvalidInput)
	}
	sku := optionalString(strings.ToUpper(cmd.SKU))
	if sku != nil && utf8.RuneCountInString(*sku) > maxSKULength {
		return ProductAvailability{}, fmt.Errorf("%w: sku must be at most %d characters", ErrCatalogInvalidInput, maxSKULength)
	}

	active := true
	if cmd.Active != nil {
		active = *cmd.Active
	}

	now := s.clock()
	product := Product{
		ID:                productIDPrefix + s.newID(),
		SKU:               sku,
		Name:              name,
		PriceCents:        cmd.PriceCents,
		LowStockThreshold: cmd.LowStockThreshold,
		Active:            active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var record InventoryRecord
	err := s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		inserted, err := s.products.Insert(txCtx, product)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		product = inserted
		record, err = s.inventory.SetQuantity(txCtx, product.ID, cmd.InitialStock, now)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return ProductAvailability{}, err
	}

	s.logger(ctx, "catalog.product.created", map[string]any{
		"productId": product.ID,
		"stock":     record.Quantity,
	})
	return availability(product, record.Quantity), nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (ProductAvailability, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductAvailability{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return ProductAvailability{}, s.mapRepositoryError(err)
	}
	available, err := s.stock.Available(ctx, product.ID)
	if err != nil {
		return ProductAvailability{}, err
	}
	return availability(product, available), nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.Page[ProductAvailability], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		ActiveOnly: !filter.IncludeInactive,
		Pagination: filter.Pagination,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.Page[ProductAvailability]{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		}
		return domain.Page[ProductAvailability]{}, s.mapRepositoryError(err)
	}

	items := make([]ProductAvailability, 0, len(page.Items))
	for _, product := range page.Items {
		available, err := s.stock.Available(ctx, product.ID)
		if err != nil {
			return domain.Page[ProductAvailability]{}, err
		}
		items = append(items, availability(product, available))
	}
	return domain.Page[ProductAvailability]{Items: items, NextPageToken: page.NextPageToken}, nil
}

func (s *catalogService) UpdateStock(ctx context.Context, cmd UpdateStockCommand) (InventoryRecord, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return InventoryRecord{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if cmd.Quantity < 0 {
		return InventoryRecord{}, fmt.Errorf("%w: quantity must not be negative", ErrCatalogInvalidInput)
	}

	var record InventoryRecord
	err := s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.products.FindByID(txCtx, productID); err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.inventory.GetForUpdate(txCtx, productID); err != nil && !isRepoNotFound(err) {
			return s.mapRepositoryError(err)
		}
		var err error
		record, err = s.stock.SetStock(txCtx, productID, cmd.Quantity)
		return err
	})
	if err != nil {
		return InventoryRecord{}, err
	}

	s.logger(ctx, "catalog.stock.updated", map[string]any{
		"productId": productID,
		"quantity":  record.Quantity,
		"actorId":   strings.TrimSpace(cmd.ActorID),
	})
	return record, nil
}

// DeleteProduct removes a product unless a CREATED or PAID order still references it. The inventory
// row lock serialises the check against concurrent checkouts reserving the same product.
func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	err := s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.products.FindByID(txCtx, productID); err != nil {
			return s.mapRepositoryError(err)
		}
		if _, err := s.inventory.GetForUpdate(txCtx, productID); err != nil && !isRepoNotFound(err) {
			return s.mapRepositoryError(err)
		}
		referenced, err := s.products.ReferencedByOpenOrder(txCtx, productID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if referenced {
			return fmt.Errorf("%w: %s", ErrCatalogProductInUse, productID)
		}
		if err := s.products.Delete(txCtx, productID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger(ctx, "catalog.product.deleted", map[string]any{"productId": productID})
	return nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
	}
	return err
}

func availability(product Product, available int64) ProductAvailability {
	return ProductAvailability{
		Product:   product,
		Available: available,
		LowStock:  available <= int64(product.LowStockThreshold),
	}
}
