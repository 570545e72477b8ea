package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/payments"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
)

const checkoutOrderPlaceholder = "{ORDER_ID}"

var (
	// ErrCheckoutInvalidInput indicates the checkout request is invalid.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutOrderNotPayable indicates the order is not awaiting payment.
	ErrCheckoutOrderNotPayable = errors.New("checkout: order is not awaiting payment")
	// ErrPaymentUnavailable indicates the payment provider could not be reached.
	ErrPaymentUnavailable = errors.New("checkout: payment provider unavailable")
)

// CheckoutSessionCreator creates hosted sessions with a payment provider.
type CheckoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// CheckoutServiceDeps bundles the collaborators required to construct a checkout service.
type CheckoutServiceDeps struct {
	Orders     OrderService
	Payments   CheckoutSessionCreator
	SuccessURL string
	CancelURL  string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	orders     OrderService
	payments   CheckoutSessionCreator
	successURL string
	cancelURL  string
	logger     func(context.Context, string, map[string]any)
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService wires dependencies into a concrete CheckoutService implementation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	successURL := strings.TrimSpace(deps.SuccessURL)
	cancelURL := strings.TrimSpace(deps.CancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, errors.New("checkout service: success and cancel urls are required")
	}
	return &checkoutService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

// CreateSession opens a hosted checkout session for the buyer's CREATED order and remembers the
// session reference on the order.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSession, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if orderID == "" || buyerID == "" {
		return CheckoutSession{}, fmt.Errorf("%w: order id and buyer id are required", ErrCheckoutInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, GetOrderQuery{OrderID: orderID, ActorID: buyerID, ActorRole: auth.RoleBuyer})
	if err != nil {
		return CheckoutSession{}, err
	}
	if order.Status != domain.OrderStatusCreated {
		return CheckoutSession{}, fmt.Errorf("%w: order is %s", ErrCheckoutOrderNotPayable, order.Status)
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: cmd.Provider,
		Currency:          order.Currency,
	}, payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		Amount:         order.TotalCents,
		Currency:       order.Currency,
		CustomerEmail:  cmd.CustomerEmail,
		SuccessURL:     strings.ReplaceAll(s.successURL, checkoutOrderPlaceholder, order.ID),
		CancelURL:      strings.ReplaceAll(s.cancelURL, checkoutOrderPlaceholder, order.ID),
		Locale:         cmd.Locale,
		IdempotencyKey: checkoutIdempotencyKey(order.ID, cmd.IdempotencyKey),
		Metadata:       map[string]string{"buyerId": order.BuyerID},
		Items:          checkoutLineItems(order),
	})
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	if _, err := s.orders.AttachPaymentSession(ctx, AttachPaymentSessionCommand{
		OrderID:    order.ID,
		SessionRef: session.ID,
		Provider:   session.Provider,
	}); err != nil {
		return CheckoutSession{}, err
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
		"provider":  session.Provider,
	})
	return CheckoutSession{
		SessionID:   session.ID,
		Provider:    session.Provider,
		OrderID:     order.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// checkoutLineItems itemises the order so provider line amounts add up to the order total.
func checkoutLineItems(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Lines)+2)
	for _, line := range order.Lines {
		items = append(items, payments.CheckoutLineItem{
			Name:     line.ProductName,
			SKU:      line.ProductID,
			Quantity: line.Quantity,
			Amount:   line.UnitPriceCents,
		})
	}
	if order.TaxCents > 0 {
		items = append(items, payments.CheckoutLineItem{Name: "Sales tax (GST/QST)", Quantity: 1, Amount: order.TaxCents})
	}
	if order.ShippingCents > 0 {
		items = append(items, payments.CheckoutLineItem{Name: "Shipping", Quantity: 1, Amount: order.ShippingCents})
	}
	return items
}

func checkoutIdempotencyKey(orderID, requestKey string) string {
	if key := strings.TrimSpace(requestKey); key != "" {
		return "checkout:" + orderID + ":" + key
	}
	return ""
}
