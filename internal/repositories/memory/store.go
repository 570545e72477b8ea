package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

// Error implements repositories.RepositoryError for the in-process store.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string      { return fmt.Sprintf("%s: %s", e.op, e.msg) }
func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, msg string) error { return &Error{op: op, msg: msg, notFound: true} }
func conflict(op, msg string) error { return &Error{op: op, msg: msg, conflict: true} }

type state struct {
	users     map[string]domain.User
	products  map[string]domain.Product
	inventory map[string]domain.InventoryRecord
	carts     map[string]domain.Cart
	cartItems map[string][]domain.CartItem
	orders    map[string]domain.Order
}

func newState() state {
	return state{
		users:     map[string]domain.User{},
		products:  map[string]domain.Product{},
		inventory: map[string]domain.InventoryRecord{},
		carts:     map[string]domain.Cart{},
		cartItems: map[string][]domain.CartItem{},
		orders:    map[string]domain.Order{},
	}
}

func (s state) clone() state {
	items := make(map[string][]domain.CartItem, len(s.cartItems))
	for k, v := range s.cartItems {
		items[k] = slices.Clone(v)
	}
	return state{
		users:     maps.Clone(s.users),
		products:  maps.Clone(s.products),
		inventory: maps.Clone(s.inventory),
		carts:     maps.Clone(s.carts),
		cartItems: items,
		orders:    maps.Clone(s.orders),
	}
}

type txKey struct{}

// Store is an in-process registry. Transactions are serialised by a single store-wide lock and
// roll back to a snapshot on error, which gives the same observable isolation as row locks.
type Store struct {
	mu     sync.Mutex
	data   state
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore constructs an empty store. health may be nil.
func NewStore(health repositories.HealthRepository) *Store {
	return &Store{data: newState(), health: health}
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Products() repositories.ProductRepository     { return productRepo{s} }
func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepo{s} }
func (s *Store) Carts() repositories.CartRepository           { return cartRepo{s} }
func (s *Store) Orders() repositories.OrderRepository         { return orderRepo{s} }
func (s *Store) Users() repositories.UserRepository           { return userRepo{s} }
func (s *Store) Health() repositories.HealthRepository        { return s.health }

// WithTransaction runs fn holding the store lock; nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("memory store: transaction function is nil")
	}
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if r := recover(); r != nil {
			s.data = snapshot
			panic(r)
		}
		if err != nil {
			s.data = snapshot
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// do runs op under the store lock unless ctx already holds it through a transaction.
func (s *Store) do(ctx context.Context, op func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return op(&s.data)
}

type productRepo struct{ s *Store }

func (r productRepo) Insert(ctx context.Context, product domain.Product) (domain.Product, error) {
	err := r.s.do(ctx, func(st *state) error {
		if _, exists := st.products[product.ID]; exists {
			return conflict("products.insert", "product already exists")
		}
		if product.SKU != nil {
			for _, existing := range st.products {
				if existing.SKU != nil && *existing.SKU == *product.SKU {
					return conflict("products.insert", "sku already exists")
				}
			}
		}
		st.products[product.ID] = product
		return nil
	})
	return product, err
}

func (r productRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.s.do(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return notFound("products.find", "product not found")
		}
		out = p
		return nil
	})
	return out, err
}

func (r productRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	var all []domain.Product
	err = r.s.do(ctx, func(st *state) error {
		for _, p := range st.products {
			if filter.ActiveOnly && !p.Active {
				continue
			}
			if p.ID > cursor.ID {
				all = append(all, p)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	page := domain.Page[domain.Product]{Items: all}
	if len(all) > limit {
		page.Items = all[:limit]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{ID: all[limit-1].ID})
	}
	return page, err
}

func (r productRepo) Delete(ctx context.Context, productID string) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.products[productID]; !ok {
			return notFound("products.delete", "product not found")
		}
		delete(st.products, productID)
		delete(st.inventory, productID)
		for cartID, items := range st.cartItems {
			st.cartItems[cartID] = slices.DeleteFunc(items, func(item domain.CartItem) bool {
				return item.ProductID == productID
			})
		}
		return nil
	})
}

func (r productRepo) ReferencedByOpenOrder(ctx context.Context, productID string) (bool, error) {
	var referenced bool
	err := r.s.do(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.Status.Terminal() {
				continue
			}
			for _, line := range order.Lines {
				if line.ProductID == productID {
					referenced = true
					return nil
				}
			}
		}
		return nil
	})
	return referenced, err
}

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) GetForUpdate(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	return r.Get(ctx, productID)
}

func (r inventoryRepo) Get(ctx context.Context, productID string) (domain.InventoryRecord, error) {
	var out domain.InventoryRecord
	err := r.s.do(ctx, func(st *state) error {
		rec, ok := st.inventory[productID]
		if !ok {
			return notFound("inventory.get", "inventory record not found")
		}
		out = rec
		return nil
	})
	return out, err
}

func (r inventoryRepo) SetQuantity(ctx context.Context, productID string, quantity int64, now time.Time) (domain.InventoryRecord, error) {
	var out domain.InventoryRecord
	err := r.s.do(ctx, func(st *state) error {
		if quantity < 0 {
			return conflict("inventory.set_quantity", "quantity must not be negative")
		}
		if _, ok := st.products[productID]; !ok {
			return conflict("inventory.set_quantity", "product does not exist")
		}
		rec := st.inventory[productID]
		rec.ProductID = productID
		rec.Quantity = quantity
		rec.UpdatedAt = now
		st.inventory[productID] = rec
		out = rec
		return nil
	})
	return out, err
}

type cartRepo struct{ s *Store }

func (r cartRepo) FindByBuyer(ctx context.Context, buyerID string, _ bool) (domain.Cart, error) {
	var out domain.Cart
	err := r.s.do(ctx, func(st *state) error {
		cart, ok := st.carts[buyerID]
		if !ok {
			return notFound("carts.find", "cart not found")
		}
		cart.Items = slices.Clone(st.cartItems[cart.ID])
		out = cart
		return nil
	})
	return out, err
}

func (r cartRepo) Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	err := r.s.do(ctx, func(st *state) error {
		if _, exists := st.carts[cart.BuyerID]; exists {
			return conflict("carts.insert", "buyer already has a cart")
		}
		cart.Items = nil
		st.carts[cart.BuyerID] = cart
		return nil
	})
	return cart, err
}

func (r cartRepo) AddItem(ctx context.Context, item domain.CartItem) error {
	return r.s.do(ctx, func(st *state) error {
		if _, ok := st.products[item.ProductID]; !ok {
			return conflict("carts.add_item", "product does not exist")
		}
		items := st.cartItems[item.CartID]
		for i := range items {
			if items[i].ProductID == item.ProductID {
				items[i].Quantity += item.Quantity
				items[i].UpdatedAt = item.AddedAt
				return nil
			}
		}
		item.UpdatedAt = item.AddedAt
		st.cartItems[item.CartID] = append(items, item)
		return nil
	})
}

func (r cartRepo) RemoveItem(ctx context.Context, cartID, productID string) error {
	return r.s.do(ctx, func(st *state) error {
		items := st.cartItems[cartID]
		idx := slices.IndexFunc(items, func(item domain.CartItem) bool { return item.ProductID == productID })
		if idx < 0 {
			return notFound("carts.remove_item", "cart item not found")
		}
		st.cartItems[cartID] = slices.Delete(items, idx, idx+1)
		return nil
	})
}

func (r cartRepo) ClearItems(ctx context.Context, cartID string) error {
	return r.s.do(ctx, func(st *state) error {
		delete(st.cartItems, cartID)
		return nil
	})
}

func (r cartRepo) SetOrderRef(ctx context.Context, cartID, orderID string, now time.Time) error {
	return r.s.do(ctx, func(st *state) error {
		for buyerID, cart := range st.carts {
			if cart.ID != cartID {
				continue
			}
			ref := orderID
			cart.OrderID = &ref
			cart.UpdatedAt = now
			st.carts[buyerID] = cart
			return nil
		}
		return notFound("carts.set_order", "cart not found")
	})
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	return r.s.do(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return conflict("orders.insert", "order already exists")
		}
		if order.TotalCents != order.SubtotalCents+order.TaxCents+order.ShippingCents {
			return conflict("orders.insert", "total does not match components")
		}
		order.Lines = slices.Clone(order.Lines)
		st.orders[order.ID] = order
		return nil
	})
}

func (r orderRepo) FindByID(ctx context.Context, orderID string, _ bool) (domain.Order, error) {
	var out domain.Order
	err := r.s.do(ctx, func(st *state) error {
		order, ok := st.orders[orderID]
		if !ok {
			return notFound("orders.find", "order not found")
		}
		order.Lines = slices.Clone(order.Lines)
		out = order
		return nil
	})
	return out, err
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	return r.s.do(ctx, func(st *state) error {
		existing, ok := st.orders[order.ID]
		if !ok {
			return notFound("orders.update", "order not found")
		}
		existing.Status = order.Status
		existing.PaymentRef = order.PaymentRef
		existing.PaymentProvider = order.PaymentProvider
		existing.PaymentFailedAt = order.PaymentFailedAt
		existing.PaymentFailureReason = order.PaymentFailureReason
		existing.PaidAt = order.PaidAt
		existing.ShippedAt = order.ShippedAt
		existing.CancelledAt = order.CancelledAt
		existing.UpdatedAt = order.UpdatedAt
		st.orders[order.ID] = existing
		return nil
	})
}

func (r orderRepo) ListByBuyer(ctx context.Context, filter domain.OrderListFilter) (domain.Page[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	limit := filter.Pagination.PageSize
	if limit <= 0 {
		limit = pagination.DefaultPageSize
	}

	var all []domain.Order
	err = r.s.do(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.BuyerID != filter.BuyerID {
				continue
			}
			if len(filter.Status) > 0 && !slices.Contains(filter.Status, order.Status) {
				continue
			}
			order.Lines = slices.Clone(order.Lines)
			all = append(all, order)
		}
		return nil
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	sort.Slice(all, func(i, j int) bool { return orderBefore(all[i], all[j]) })
	if cursor.CreatedAt != nil {
		marker := domain.Order{ID: cursor.ID, CreatedAt: *cursor.CreatedAt}
		idx := sort.Search(len(all), func(i int) bool { return orderBefore(marker, all[i]) })
		all = all[idx:]
	}

	page := domain.Page[domain.Order]{Items: all}
	if len(all) > limit {
		page.Items = all[:limit]
		last := page.Items[limit-1]
		createdAt := last.CreatedAt
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: &createdAt, ID: last.ID})
	}
	return page, err
}

// orderBefore orders newest first with the ID as tie breaker.
func orderBefore(a, b domain.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

type userRepo struct{ s *Store }

func (r userRepo) FindByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	var out domain.User
	err := r.s.do(ctx, func(st *state) error {
		u, ok := st.users[externalID]
		if !ok {
			return notFound("users.find_by_external_id", "user not found")
		}
		out = u
		return nil
	})
	return out, err
}

func (r userRepo) Insert(ctx context.Context, user domain.User) (domain.User, error) {
	err := r.s.do(ctx, func(st *state) error {
		if _, exists := st.users[user.ExternalID]; exists {
			return conflict("users.insert", "external id already registered")
		}
		st.users[user.ExternalID] = user
		return nil
	})
	return user, err
}
