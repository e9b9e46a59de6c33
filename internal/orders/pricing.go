package orders

import "github.com/shopspring/decimal"

// Pricing holds the checkout business rules.
type Pricing struct {
	TaxRate          decimal.Decimal
	FlatShipping     decimal.Decimal
	FreeShippingOver decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:          decimal.RequireFromString("0.08"),
		FlatShipping:     decimal.RequireFromString("9.99"),
		FreeShippingOver: decimal.NewFromInt(50),
	}
}

type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// LineTotal is unit price times quantity, rounded to cents.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// Totals sums the line totals; shipping is free strictly above the threshold.
// Total is always exactly subtotal + tax + shipping.
func (p Pricing) Totals(lines []OrderItem) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
	}

	shipping := p.FlatShipping
	if subtotal.GreaterThan(p.FreeShippingOver) {
		shipping = decimal.Zero
	}
	tax := subtotal.Mul(p.TaxRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Add(tax).Add(shipping),
	}
}
