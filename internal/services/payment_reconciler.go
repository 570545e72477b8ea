package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/sumtl/B2B-ECOMMERCE/internal/domain"
	"github.com/sumtl/B2B-ECOMMERCE/internal/payments"
	"github.com/sumtl/B2B-ECOMMERCE/internal/platform/auth"
)

const (
	defaultPollAttempts = 3
	defaultPollInterval = 2 * time.Second

	paymentSourceWebhook = "webhook"
	paymentSourcePoll    = "poll"
)

// ErrPaymentEventInvalid indicates a provider event lacks the fields required to reconcile it.
var ErrPaymentEventInvalid = errors.New("payments: invalid event")

// SessionStatusLookup queries a provider for the state of a hosted session.
type SessionStatusLookup interface {
	GetSessionStatus(ctx context.Context, paymentCtx payments.PaymentContext, sessionRef string) (payments.SessionStatus, error)
}

// PaymentMetrics records reconciliation counters.
type PaymentMetrics interface {
	RecordPaymentEvent(ctx context.Context, outcome, result string)
}

// PaymentReconcilerDeps bundles the collaborators required to construct a payment reconciler.
type PaymentReconcilerDeps struct {
	Orders       OrderService
	Sessions     SessionStatusLookup
	Deduper      payments.EventDeduper
	PollAttempts int
	PollInterval time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Metrics      PaymentMetrics
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   OrderService
	sessions SessionStatusLookup
	deduper  payments.EventDeduper
	attempts int
	interval time.Duration
	sleep    func(context.Context, time.Duration) error
	metrics  PaymentMetrics
	logger   func(context.Context, string, map[string]any)
}

var _ PaymentReconciler = (*paymentReconciler)(nil)

// NewPaymentReconciler wires dependencies into a concrete PaymentReconciler implementation.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order service is required")
	}
	deduper := deps.Deduper
	if deduper == nil {
		deduper = payments.NewMemoryDeduper(0, nil)
	}
	attempts := deps.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	interval := deps.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &paymentReconciler{
		orders:   deps.Orders,
		sessions: deps.Sessions,
		deduper:  deduper,
		attempts: attempts,
		interval: interval,
		sleep:    sleep,
		metrics:  deps.Metrics,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// HandleEvent applies a verified provider event. Redelivered event IDs are acknowledged without
// side effects. Retryable failures release the dedupe claim so the provider's next delivery is
// processed; business rejections keep it.
func (r *paymentReconciler) HandleEvent(ctx context.Context, event payments.Event) (ReconcileResult, error) {
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: event id is required", ErrPaymentEventInvalid)
	}
	key := strings.TrimSpace(event.Provider) + ":" + eventID

	claimed, err := r.deduper.Claim(ctx, key)
	if err != nil {
		r.logger(ctx, "payments.dedupe.unavailable", map[string]any{
			"eventId": eventID,
			"error":   err.Error(),
		})
		claimed = true
	}
	if !claimed {
		r.record(ctx, event.Outcome, "duplicate")
		return ReconcileResult{Duplicate: true}, nil
	}

	result, err := r.apply(ctx, event)
	if err != nil {
		if IsRetryablePaymentError(err) {
			if releaseErr := r.deduper.Release(ctx, key); releaseErr != nil {
				r.logger(ctx, "payments.dedupe.release_failed", map[string]any{
					"eventId": eventID,
					"error":   releaseErr.Error(),
				})
			}
		}
		r.record(ctx, event.Outcome, "error")
		return ReconcileResult{}, err
	}

	if result.Applied {
		r.record(ctx, event.Outcome, "applied")
	} else {
		r.record(ctx, event.Outcome, "ignored")
	}
	return result, nil
}

func (r *paymentReconciler) apply(ctx context.Context, event payments.Event) (ReconcileResult, error) {
	switch event.Outcome {
	case payments.OutcomePaid, payments.OutcomeFailed:
	default:
		r.logger(ctx, "payments.event.ignored", map[string]any{
			"eventId": event.ID,
			"type":    event.Type,
			"outcome": string(event.Outcome),
		})
		return ReconcileResult{}, nil
	}

	orderID := strings.TrimSpace(event.OrderID)
	if orderID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: order id is required", ErrPaymentEventInvalid)
	}

	if event.Outcome == payments.OutcomeFailed {
		order, err := r.orders.RecordPaymentFailure(ctx, RecordPaymentFailureCommand{
			OrderID: orderID,
			Reason:  event.Reason,
			Source:  paymentSourceWebhook,
		})
		if err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{Applied: order.PaymentFailedAt != nil, Order: &order}, nil
	}

	paid, err := r.orders.MarkPaid(ctx, MarkPaidCommand{
		OrderID:     orderID,
		ProviderRef: event.ProviderRef,
		Provider:    event.Provider,
		Source:      paymentSourceWebhook,
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return ReconcileResult{Applied: paid.Applied, Order: &paid.Order}, nil
}

// PaymentStatus reports the order's payment outcome. While the order awaits payment and carries a
// session reference, the provider is polled a bounded number of times at a fixed interval; a
// confirmed payment is applied through MarkPaid. Exhausted polls return the local view.
func (r *paymentReconciler) PaymentStatus(ctx context.Context, query PaymentStatusQuery) (PaymentStatusResult, error) {
	order, err := r.orders.GetOrder(ctx, GetOrderQuery{
		OrderID:   query.OrderID,
		ActorID:   query.BuyerID,
		ActorRole: auth.RoleBuyer,
	})
	if err != nil {
		return PaymentStatusResult{}, err
	}

	if order.Status != domain.OrderStatusCreated || order.PaymentRef == nil || r.sessions == nil {
		return statusResult(order), nil
	}

	sessionRef := *order.PaymentRef
	for attempt := 1; attempt <= r.attempts; attempt++ {
		status, err := r.sessions.GetSessionStatus(ctx, payments.PaymentContext{PreferredProvider: order.PaymentProvider}, sessionRef)
		if err != nil {
			r.logger(ctx, "payments.poll.failed", map[string]any{
				"orderId": order.ID,
				"attempt": attempt,
				"error":   err.Error(),
			})
		} else {
			switch status.Outcome {
			case payments.OutcomePaid:
				paid, err := r.orders.MarkPaid(ctx, MarkPaidCommand{
					OrderID:     order.ID,
					ProviderRef: status.ProviderRef,
					Provider:    order.PaymentProvider,
					Source:      paymentSourcePoll,
				})
				if err != nil {
					return PaymentStatusResult{}, err
				}
				r.record(ctx, payments.OutcomePaid, "polled")
				return statusResult(paid.Order), nil
			case payments.OutcomeFailed, payments.OutcomeExpired:
				result := statusResult(order)
				result.Outcome = status.Outcome
				return result, nil
			}
		}

		if attempt == r.attempts {
			break
		}
		if err := r.sleep(ctx, r.interval); err != nil {
			break
		}
	}
	return statusResult(order), nil
}

func (r *paymentReconciler) record(ctx context.Context, outcome payments.Outcome, result string) {
	if r.metrics != nil {
		r.metrics.RecordPaymentEvent(ctx, string(outcome), result)
	}
}

func statusResult(order Order) PaymentStatusResult {
	return PaymentStatusResult{
		OrderID: order.ID,
		Status:  order.Status,
		Outcome: localOutcome(order),
		PaidAt:  order.PaidAt,
	}
}

// localOutcome maps the order lifecycle onto the provider outcome vocabulary.
func localOutcome(order Order) payments.Outcome {
	switch order.Status {
	case domain.OrderStatusPaid, domain.OrderStatusShipped:
		return payments.OutcomePaid
	case domain.OrderStatusCancelled:
		return payments.OutcomeExpired
	default:
		if order.PaymentFailedAt != nil {
			return payments.OutcomeFailed
		}
		return payments.OutcomePending
	}
}

// IsRetryablePaymentError reports whether a reconciliation failure may succeed on redelivery.
// Business rejections such as unknown orders or illegal transitions never will.
func IsRetryablePaymentError(err error) bool {
	switch {
	case errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderInvalidTransition),
		errors.Is(err, ErrOrderInvalidInput),
		errors.Is(err, ErrPaymentEventInvalid):
		return false
	default:
		return true
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
