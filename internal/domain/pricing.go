package domain

import "math"

// PricingPolicy holds the settlement pricing knobs. Values come from
// configuration; zero-value fields fall back to DefaultPricingPolicy.
type PricingPolicy struct {
	TaxRate               float64
	FreeShippingThreshold float64
	FlatShippingFee       float64
	Currency              string
}

// DefaultPricingPolicy returns the stock pricing rules: 10% tax, flat
// shipping fee of 10.00 waived above a 100.00 subtotal, USD.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		TaxRate:               0.10,
		FreeShippingThreshold: 100,
		FlatShippingFee:       10,
		Currency:              "usd",
	}
}

// TotalsBreakdown aggregates the monetary components of an order.
type TotalsBreakdown struct {
	Subtotal     float64
	Tax          float64
	ShippingCost float64
	Total        float64
}

// Totals derives tax, shipping and grand total from an item subtotal.
// Shipping is free strictly above the threshold.
func (p PricingPolicy) Totals(subtotal float64) TotalsBreakdown {
	tax := RoundMoney(subtotal * p.TaxRate)
	shipping := p.FlatShippingFee
	if subtotal > p.FreeShippingThreshold {
		shipping = 0
	}
	return TotalsBreakdown{
		Subtotal:     RoundMoney(subtotal),
		Tax:          tax,
		ShippingCost: shipping,
		Total:        RoundMoney(subtotal + tax + shipping),
	}
}

// RoundMoney rounds a decimal amount to two places.
func RoundMoney(amount float64) float64 {
	return math.Round(amount*100) / 100
}
