package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sumtl/B2B-ECOMMERCE/internal/platform/observability"

// Metrics groups the instruments recorded by the HTTP layer and the order workflows.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests      metric.Int64Counter
	latency       metric.Float64Histogram
	orderEvents   metric.Int64Counter
	paymentEvents metric.Int64Counter
}

// NewMetrics creates instruments on the provided meter provider, defaulting to the global provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Completed HTTP requests"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	orderEvents, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order lifecycle transitions by resulting status"))
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("payments.events",
		metric.WithDescription("Payment provider events by outcome and handling result"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		requests:      requests,
		latency:       latency,
		orderEvents:   orderEvents,
		paymentEvents: paymentEvents,
	}, nil
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
		attribute.String("http.response.status_code", strconv.Itoa(status)),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(latency.Microseconds())/1000, attrs)
}

// RecordOrderTransition counts an order reaching the given status.
func (m *Metrics) RecordOrderTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.orderEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("order.status", status)))
}

// RecordPaymentEvent counts a reconciled payment event.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, outcome, result string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment.outcome", outcome),
		attribute.String("result", result),
	))
}
