package payments

import "strings"

// LineItemInput is one order line to expose on the hosted checkout page.
type LineItemInput struct {
	Name        string
	Description string
	ImageURL    string
	Quantity    int
	UnitPrice   float64
}

// BuildLineItems converts order lines plus shipping and tax into
// gateway line items. Shipping and tax appear as their own lines only
// when non-zero so the hosted page always sums to the order total.
func BuildLineItems(items []LineItemInput, shippingCost, tax float64, currency string) []CheckoutLineItem {
	currency = strings.ToLower(strings.TrimSpace(currency))

	out := make([]CheckoutLineItem, 0, len(items)+2)
	for _, item := range items {
		quantity := int64(item.Quantity)
		if quantity < 1 {
			quantity = 1
		}
		out = append(out, CheckoutLineItem{
			Name:        item.Name,
			Description: strings.TrimSpace(item.Description),
			ImageURL:    strings.TrimSpace(item.ImageURL),
			Quantity:    quantity,
			Amount:      ToCents(item.UnitPrice),
			Currency:    currency,
		})
	}

	if shippingCost > 0 {
		out = append(out, CheckoutLineItem{
			Name:     "Shipping",
			Quantity: 1,
			Amount:   ToCents(shippingCost),
			Currency: currency,
		})
	}
	if tax > 0 {
		out = append(out, CheckoutLineItem{
			Name:     "Tax",
			Quantity: 1,
			Amount:   ToCents(tax),
			Currency: currency,
		})
	}

	return out
}
