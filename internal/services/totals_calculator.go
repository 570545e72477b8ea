package services

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	rateScale = 100000
	// GSTRate is the federal goods and services tax, in units of 1/100000.
	GSTRate = 5000
	// QSTRate is the Quebec sales tax, in units of 1/100000.
	QSTRate = 9975

	defaultFreeShippingThreshold = 10000
	defaultFlatShippingFee       = 1500
	defaultCurrency              = "CAD"
)

// ErrTotalsInvalidInput indicates the subtotal cannot be priced.
var ErrTotalsInvalidInput = errors.New("totals: invalid input")

// TotalsCalculatorConfig configures shipping policy. Zero values select the defaults.
type TotalsCalculatorConfig struct {
	Currency                   string
	FreeShippingThresholdCents int64
	FlatShippingFeeCents       int64
}

type totalsCalculator struct {
	currency  string
	threshold int64
	flatFee   int64
}

var _ TotalsCalculator = (*totalsCalculator)(nil)

// NewTotalsCalculator constructs the calculator.
func NewTotalsCalculator(cfg TotalsCalculatorConfig) (TotalsCalculator, error) {
	if cfg.FreeShippingThresholdCents < 0 || cfg.FlatShippingFeeCents < 0 {
		return nil, errors.New("totals calculator: shipping amounts must not be negative")
	}
	calc := &totalsCalculator{
		currency:  strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		threshold: cfg.FreeShippingThresholdCents,
		flatFee:   cfg.FlatShippingFeeCents,
	}
	if calc.currency == "" {
		calc.currency = defaultCurrency
	}
	if calc.threshold == 0 {
		calc.threshold = defaultFreeShippingThreshold
	}
	if calc.flatFee == 0 {
		calc.flatFee = defaultFlatShippingFee
	}
	return calc, nil
}

// Compute prices each tax component separately, rounding half away from zero to whole cents.
func (c *totalsCalculator) Compute(subtotal int64) (Totals, error) {
	if subtotal < 0 {
		return Totals{}, fmt.Errorf("%w: subtotal must not be negative", ErrTotalsInvalidInput)
	}
	if subtotal > math.MaxInt64/rateScale {
		return Totals{}, fmt.Errorf("%w: subtotal too large", ErrTotalsInvalidInput)
	}

	gst := applyRate(subtotal, GSTRate)
	qst := applyRate(subtotal, QSTRate)

	var shipping int64
	if subtotal < c.threshold {
		shipping = c.flatFee
	}

	tax := gst + qst
	return Totals{
		Currency: c.currency,
		Subtotal: subtotal,
		TaxGST:   gst,
		TaxQST:   qst,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal + tax + shipping,
	}, nil
}

func applyRate(amount, rate int64) int64 {
	return (amount*rate + rateScale/2) / rateScale
}
