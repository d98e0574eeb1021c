// Package money provides the price value object shared by orders and bills.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Money is a net amount together with the VAT charged on it. Both parts are
// kept separately because bills must show them separately.
type Money struct {
	Amount decimal.Decimal
	VAT    decimal.Decimal
}

// Zero is the zero Money value.
var Zero = Money{Amount: decimal.Zero, VAT: decimal.Zero}

// New returns Money with both parts rounded to cents.
func New(amount, vat decimal.Decimal) Money {
	return Money{Amount: amount.Round(2), VAT: vat.Round(2)}
}

// FromNet computes the VAT for a net amount at the given percentage rate.
func FromNet(net, ratePercent decimal.Decimal) Money {
	return New(net, net.Mul(ratePercent).Div(hundred))
}

// Total returns amount plus VAT.
func (m Money) Total() decimal.Decimal {
	return m.Amount.Add(m.VAT)
}

// Add returns the component-wise sum.
func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount.Add(o.Amount), VAT: m.VAT.Add(o.VAT)}
}

// Times multiplies both parts by qty.
func (m Money) Times(qty int) Money {
	q := decimal.NewFromInt(int64(qty))
	return Money{Amount: m.Amount.Mul(q), VAT: m.VAT.Mul(q)}
}

// Equal reports whether both parts are numerically equal.
func (m Money) Equal(o Money) bool {
	return m.Amount.Equal(o.Amount) && m.VAT.Equal(o.VAT)
}
