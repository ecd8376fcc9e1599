package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places used when displaying monetary values.
const MoneyPlaces = 2

// PricingBreakdown captures the monetary totals computed once when an order is placed.
type PricingBreakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// PriceItems fills in line totals and returns the aggregated breakdown.
// Total is subtotal + tax + shipping - discount.
func PriceItems(items []OrderItem, tax, shipping, discount decimal.Decimal) ([]OrderItem, PricingBreakdown) {
	priced := make([]OrderItem, len(items))
	subtotal := decimal.Zero
	for i, item := range items {
		item.TotalPrice = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.TotalPrice)
		priced[i] = item
	}
	return priced, PricingBreakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}

// FormatMoney renders a monetary value with two decimal places.
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(MoneyPlaces)
}
