package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/observability"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/pagination"
	"github.com/sumtl/B2B-ECOMMERCE/internal/repositories"
)

const (
	orderIDPrefix        = "ord_"
	maxPONumberLength    = 64
	maxNotesLength       = 2000
	maxFailureReasonSize = 500
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid order data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderEmptyCart indicates the buyer has nothing to order.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderNotFound indicates the requested order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates the lifecycle does not allow the requested change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order was modified concurrently or violates a store constraint.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")
)

var notesPolicy = bluemonday.StrictPolicy()

// OrderEventPublisher emits order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent describes a committed order lifecycle change.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	BuyerID        string         `json:"buyerId"`
	PreviousStatus OrderStatus    `json:"previousStatus,omitempty"`
	CurrentStatus  OrderStatus    `json:"currentStatus"`
	TotalCents     int64          `json:"totalCents"`
	Currency       string         `json:"currency,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OrderMetrics records lifecycle counters.
type OrderMetrics interface {
	RecordOrderTransition(ctx context.Context, status string)
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Inventory   InventoryService
	Totals      TotalsCalculator
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     OrderMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	inventory  InventoryService
	totals     TotalsCalculator
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	metrics    OrderMetrics
	logger     func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Totals == nil {
		return nil, errors.New("order service: totals calculator is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		inventory:  deps.Inventory,
		totals:     deps.Totals,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

// CreateFromCart reserves stock for every cart line and persists the order in one transaction.
// Any reservation failure rolls back every earlier reservation.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (order Order, err error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	poNumber, err := normalizePONumber(cmd.PONumber)
	if err != nil {
		return Order{}, err
	}
	notes, err := sanitizeNotes(cmd.Notes)
	if err != nil {
		return Order{}, err
	}

	ctx, span := observability.StartSpan(ctx, "orders.create", attribute.String("buyer.id", buyerID))
	defer func() { observability.EndSpan(span, err) }()

	err = s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.FindByBuyer(txCtx, buyerID, true)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrOrderEmptyCart
			}
			return s.mapRepositoryError(err)
		}
		if len(cart.Items) == 0 {
			return ErrOrderEmptyCart
		}

		// Inventory rows are always locked in product ID order; Cancel follows the same order.
		for _, item := range inProductOrder(cart.Items, func(i CartItem) string { return i.ProductID }) {
			if err := s.inventory.Reserve(txCtx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		totals, err := s.totals.Compute(cart.Subtotal())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}

		now := s.clock()
		order = Order{
			ID:            orderIDPrefix + s.newID(),
			BuyerID:       buyerID,
			Status:        domain.OrderStatusCreated,
			Currency:      totals.Currency,
			SubtotalCents: totals.Subtotal,
			TaxCents:      totals.Tax,
			ShippingCents: totals.Shipping,
			TotalCents:    totals.Total,
			PONumber:      poNumber,
			Notes:         notes,
			CreatedAt:     now,
			UpdatedAt:     now,
			Lines:         buildOrderLines(cart.Items),
		}
		for i := range order.Lines {
			order.Lines[i].OrderID = order.ID
		}

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.carts.SetOrderRef(txCtx, cart.ID, order.ID, now); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.carts.ClearItems(txCtx, cart.ID); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.create.failed", map[string]any{
			"buyerId": buyerID,
			"error":   err.Error(),
		})
		return Order{}, err
	}

	s.recordTransition(ctx, order.Status)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		CurrentStatus: order.Status,
		TotalCents:    order.TotalCents,
		Currency:      order.Currency,
		ActorID:       buyerID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"lines": len(order.Lines),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID, false)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if err := authorizeOrderActor(order, query.ActorID, query.ActorRole); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	filter.BuyerID = strings.TrimSpace(filter.BuyerID)
	if filter.BuyerID == "" {
		return domain.Page[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	for _, status := range filter.Status {
		if _, known := orderStateTransitions[status]; !known && !status.Terminal() {
			return domain.Page[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.ListByBuyer(ctx, filter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.Page[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Cancel releases every reserved line and marks the order CANCELLED in one transaction.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (order Order, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)

	ctx, span := observability.StartSpan(ctx, "orders.cancel", attribute.String("order.id", orderID))
	defer func() { observability.EndSpan(span, err) }()

	var previous OrderStatus
	err = s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := authorizeOrderActor(current, actorID, cmd.ActorRole); err != nil {
			return err
		}
		previous = current.Status
		if err := applyTransition(&current, domain.OrderStatusCancelled, s.clock()); err != nil {
			return err
		}
		for _, line := range inProductOrder(current.Lines, func(l OrderLine) string { return l.ProductID }) {
			if err := s.inventory.Release(txCtx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordTransition(ctx, order.Status)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		TotalCents:     order.TotalCents,
		Currency:       order.Currency,
		ActorID:        actorID,
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

// MarkPaid moves a CREATED order to PAID. Repeating it on a PAID order returns the order unchanged.
func (s *orderService) MarkPaid(ctx context.Context, cmd MarkPaidCommand) (result MarkPaidResult, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return MarkPaidResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "orders.mark_paid",
		attribute.String("order.id", orderID),
		attribute.String("payment.source", cmd.Source))
	defer func() { observability.EndSpan(span, err) }()

	var order Order
	applied := false
	err = s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status == domain.OrderStatusPaid || current.Status == domain.OrderStatusShipped {
			order = current
			return nil
		}
		if err := applyTransition(&current, domain.OrderStatusPaid, s.clock()); err != nil {
			return err
		}
		if ref := strings.TrimSpace(cmd.ProviderRef); ref != "" {
			current.PaymentRef = &ref
		}
		if provider := strings.TrimSpace(cmd.Provider); provider != "" {
			current.PaymentProvider = provider
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		applied = true
		return nil
	})
	if err != nil {
		return MarkPaidResult{}, err
	}
	if !applied {
		s.logger(ctx, "order.mark_paid.noop", map[string]any{
			"orderId": order.ID,
			"source":  cmd.Source,
		})
		return MarkPaidResult{Order: order}, nil
	}

	s.recordTransition(ctx, order.Status)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: domain.OrderStatusCreated,
		CurrentStatus:  order.Status,
		TotalCents:     order.TotalCents,
		Currency:       order.Currency,
		OccurredAt:     order.UpdatedAt,
		Metadata: map[string]any{
			"source":   cmd.Source,
			"provider": order.PaymentProvider,
		},
	})
	return MarkPaidResult{Order: order, Applied: true}, nil
}

// RecordPaymentFailure notes the failure on a CREATED order so the buyer can retry checkout.
// Orders in any other status are returned untouched.
func (s *orderService) RecordPaymentFailure(ctx context.Context, cmd RecordPaymentFailureCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := truncateRunes(strings.TrimSpace(cmd.Reason), maxFailureReasonSize)
	if reason == "" {
		reason = "payment failed"
	}

	var order Order
	recorded := false
	err := s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		if current.Status != domain.OrderStatusCreated {
			return nil
		}
		now := s.clock()
		current.PaymentFailedAt = &now
		current.PaymentFailureReason = &reason
		current.UpdatedAt = now
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		recorded = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if recorded {
		s.publishEvent(ctx, OrderEvent{
			Type:          orderEventPaymentFailed,
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			CurrentStatus: order.Status,
			TotalCents:    order.TotalCents,
			Currency:      order.Currency,
			OccurredAt:    order.UpdatedAt,
			Metadata: map[string]any{
				"reason": reason,
				"source": cmd.Source,
			},
		})
	}
	return order, nil
}

// AttachPaymentSession records the hosted session so the payment poll can query the provider.
func (s *orderService) AttachPaymentSession(ctx context.Context, cmd AttachPaymentSessionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	sessionRef := strings.TrimSpace(cmd.SessionRef)
	if orderID == "" || sessionRef == "" {
		return Order{}, fmt.Errorf("%w: order id and session reference are required", ErrOrderInvalidInput)
	}

	var order Order
	err := s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if current.Status != domain.OrderStatusCreated {
			return fmt.Errorf("%w: order is %s", ErrOrderInvalidTransition, current.Status)
		}
		current.PaymentRef = &sessionRef
		current.PaymentProvider = strings.TrimSpace(cmd.Provider)
		current.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (order Order, err error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	ctx, span := observability.StartSpan(ctx, "orders.ship", attribute.String("order.id", orderID))
	defer func() { observability.EndSpan(span, err) }()

	err = s.unitOfWork.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		if err := applyTransition(&current, domain.OrderStatusShipped, s.clock()); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return s.mapRepositoryError(err)
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordTransition(ctx, order.Status)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventShipped,
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		PreviousStatus: domain.OrderStatusPaid,
		CurrentStatus:  order.Status,
		TotalCents:     order.TotalCents,
		Currency:       order.Currency,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) recordTransition(ctx context.Context, status OrderStatus) {
	if s.metrics != nil {
		s.metrics.RecordOrderTransition(ctx, string(status))
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	s.logger(ctx, event.Type, map[string]any{
		"orderId": event.OrderID,
		"status":  string(event.CurrentStatus),
	})
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func authorizeOrderActor(order Order, actorID, actorRole string) error {
	if strings.EqualFold(strings.TrimSpace(actorRole), auth.RoleAdmin) {
		return nil
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" || actorID != order.BuyerID {
		return ErrOrderForbidden
	}
	return nil
}

func buildOrderLines(items []CartItem) []OrderLine {
	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLine{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.Quantity * item.UnitPriceCents,
		})
	}
	return lines
}

// normalizePONumber folds compatibility characters, trims and upper-cases the purchase order number.
func normalizePONumber(raw string) (*string, error) {
	value := strings.ToUpper(strings.TrimSpace(norm.NFKC.String(raw)))
	if value == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(value) > maxPONumberLength {
		return nil, fmt.Errorf("%w: po number must be at most %d characters", ErrOrderInvalidInput, maxPONumberLength)
	}
	return &value, nil
}

// sanitizeNotes strips markup from buyer notes and enforces the length limit on the plain text.
func sanitizeNotes(raw string) (*string, error) {
	value := strings.TrimSpace(html.UnescapeString(notesPolicy.Sanitize(raw)))
	if value == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(value) > maxNotesLength {
		return nil, fmt.Errorf("%w: notes must be at most %d characters", ErrOrderInvalidInput, maxNotesLength)
	}
	return &value, nil
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// inProductOrder returns a copy of items sorted by product ID, the lock order for inventory rows.
func inProductOrder[T any](items []T, productID func(T) string) []T {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b T) int { return strings.Compare(productID(a), productID(b)) })
	return sorted
}
