package services

import (
	"fmt"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
)

const (
	orderEventCreated       = "order.created"
	orderEventPaid          = "order.paid"
	orderEventPaymentFailed = "order.payment_failed"
	orderEventCancelled     = "order.cancelled"
	orderEventShipped       = "order.shipped"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusCreated: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:    {domain.OrderStatusShipped},
}

func canTransition(from, to OrderStatus) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyTransition moves the order to target and stamps the matching lifecycle timestamp.
func applyTransition(order *Order, target OrderStatus, now time.Time) error {
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: cannot move order from %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusPaid:
		order.PaidAt = valuePtr(now)
	case domain.OrderStatusShipped:
		order.ShippedAt = valuePtr(now)
	case domain.OrderStatusCancelled:
		order.CancelledAt = valuePtr(now)
	}
	return nil
}
