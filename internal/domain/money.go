package domain

import "github.com/shopspring/decimal"

// AmountScale is the number of fractional digits kept on money amounts. It
// matches the NUMERIC(30, 10) money columns.
const AmountScale = 10

// RoundAmount rounds d half away from zero to AmountScale digits.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// AmountFromFloat converts a float result, such as a compounded value, into a
// money amount.
func AmountFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(AmountScale)
}
