package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fraction digits every persisted amount carries
const AmountScale int32 = 2

// Quantize rounds an amount to two fraction digits using round-half-even
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(AmountScale)
}

// ParseAmount converts a decimal string into a quantized positive amount
// Returns ErrInvalidAmount when the string is not a number or is not positive after quantization
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &Error{Kind: ErrInvalidAmount, Op: "parse_amount", Err: err}
	}
	q := Quantize(d)
	if !q.IsPositive() {
		return decimal.Zero, &Error{Kind: ErrInvalidAmount, Op: "parse_amount", Amount: q}
	}
	return q, nil
}

// FormatAmount renders an amount with exactly two fraction digits
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}

// SumConsumed adds up the consumed amounts of a FIFO consumption trace
func SumConsumed(consumption []Consumption) decimal.Decimal {
	total := decimal.Zero
	for _, c := range consumption {
		total = total.Add(c.Consumed)
	}
	return Quantize(total)
}
