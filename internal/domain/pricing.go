package domain

// Totals is the monetary breakdown of an order or cart preview, in minor units.
type Totals struct {
	Currency string
	Subtotal int64
	TaxGST   int64
	TaxQST   int64
	Tax      int64
	Shipping int64
	Total    int64
}
