package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

const maxCartItemQuantity = 10000

var (
	// ErrCartInvalidInput indicates the request payload is invalid.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartProductNotFound indicates the product does not exist or is not for sale.
	ErrCartProductNotFound = errors.New("cart: product not found")
	// ErrCartItemNotFound indicates the cart has no line for the product.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartUnavailable indicates the backing store could not be reached.
	ErrCartUnavailable = errors.New("cart: store unavailable")
)

// CartServiceDeps bundles the collaborators required to construct a cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Totals      TotalsCalculator
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	totals   TotalsCalculator
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Totals == nil {
		return nil, errors.New("cart service: totals calculator is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		totals:   deps.Totals,
		clock:    utcClock(deps.Clock),
		newID:    idGen,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// GetCart returns the buyer's cart. A buyer without a cart receives an empty, unsaved one.
func (s *cartService) GetCart(ctx context.Context, buyerID string) (CartView, error) {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		return CartView{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.FindByBuyer(ctx, buyerID, false)
	if err != nil {
		if !isRepoNotFound(err) {
			return CartView{}, s.mapRepositoryError(err)
		}
		cart = Cart{BuyerID: buyerID}
	}
	return s.view(cart)
}

// AddItem adds units of a product. An existing line for the same product has its quantity increased
// and keeps the unit price captured when it was first added.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	productID := strings.TrimSpace(cmd.ProductID)
	switch {
	case buyerID == "":
		return CartView{}, fmt.Errorf("%w: buyer id is required", ErrCartInvalidInput)
	case productID == "":
		return CartView{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	case cmd.Quantity <= 0:
		return CartView{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	case cmd.Quantity > maxCartItemQuantity:
		return CartView{}, fmt.Errorf("%w: quantity must not exceed %d", ErrCartInvalidInput, maxCartItemQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return CartView{}, s.mapRepositoryError(err)
	}
	if !product.Active {
		return CartView{}, fmt.Errorf("%w: %s is not available", ErrCartProductNotFound, productID)
	}

	cart, err := s.ensureCart(ctx, buyerID)
	if err != nil {
		return CartView{}, err
	}

	now := s.clock()
	if err := s.carts.AddItem(ctx, CartItem{
		CartID:         cart.ID,
		ProductID:      product.ID,
		ProductName:    product.Name,
		Quantity:       cmd.Quantity,
		UnitPriceCents: product.PriceCents,
		AddedAt:        now,
	}); err != nil {
		return CartView{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"cartId":    cart.ID,
		"productId": product.ID,
		"quantity":  cmd.Quantity,
	})
	return s.GetCart(ctx, buyerID)
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (CartView, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	productID := strings.TrimSpace(cmd.ProductID)
	if buyerID == "" || productID == "" {
		return CartView{}, fmt.Errorf("%w: buyer id and product id are required", ErrCartInvalidInput)
	}

	cart, err := s.carts.FindByBuyer(ctx, buyerID, false)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, productID)
		}
		return CartView{}, s.mapRepositoryError(err)
	}
	if err := s.carts.RemoveItem(ctx, cart.ID, productID); err != nil {
		if isRepoNotFound(err) {
			return CartView{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, productID)
		}
		return CartView{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "cart.item.removed", map[string]any{
		"cartId":    cart.ID,
		"productId": productID,
	})
	return s.GetCart(ctx, buyerID)
}

// ensureCart loads or creates the buyer's cart. A concurrent creator wins the unique buyer
// constraint and the loser re-reads its cart.
func (s *cartService) ensureCart(ctx context.Context, buyerID string) (Cart, error) {
	cart, err := s.carts.FindByBuyer(ctx, buyerID, false)
	if err == nil {
		return cart, nil
	}
	if !isRepoNotFound(err) {
		return Cart{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	cart, err = s.carts.Insert(ctx, Cart{
		ID:        s.newID(),
		BuyerID:   buyerID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err == nil {
		s.logger(ctx, "cart.created", map[string]any{"cartId": cart.ID, "buyerId": buyerID})
		return cart, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		existing, findErr := s.carts.FindByBuyer(ctx, buyerID, false)
		if findErr != nil {
			return Cart{}, s.mapRepositoryError(findErr)
		}
		return existing, nil
	}
	return Cart{}, s.mapRepositoryError(err)
}

func (s *cartService) view(cart Cart) (CartView, error) {
	subtotal := cart.Subtotal()
	if len(cart.Items) == 0 {
		return CartView{Cart: cart, Totals: Totals{Currency: s.currency()}}, nil
	}
	totals, err := s.totals.Compute(subtotal)
	if err != nil {
		return CartView{}, err
	}
	return CartView{Cart: cart, Totals: totals}, nil
}

func (s *cartService) currency() string {
	totals, err := s.totals.Compute(0)
	if err != nil {
		return defaultCurrency
	}
	return totals.Currency
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
	}
	return err
}
