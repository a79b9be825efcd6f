// Package money holds the cent-accurate decimal rules used by settlement.
package money

import (
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places money is kept at.
const Places = 2

var Zero = decimal.Zero

// FromString parses a money literal and panics on malformed input. Intended
// for constants and tests.
func FromString(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// FromInt returns a whole-unit amount.
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// Round rounds half away from zero to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Truncate drops sub-cent digits, rounding toward zero.
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Places)
}

// Sum adds amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total
}

// Split divides total into count cent-truncated shares. Every share equals the
// base share except the last, which absorbs the rounding remainder so the
// shares add back to total exactly. A non-positive count yields no shares.
func Split(total decimal.Decimal, count int) []decimal.Decimal {
	if count <= 0 {
		return nil
	}
	n := decimal.NewFromInt(int64(count))

	// base = floor(total / count * 100) / 100, computed on integer cents so no
	// division precision is lost.
	cents, _ := total.Shift(Places).QuoRem(n, 0)
	base := cents.Shift(-Places)
	remainder := Round(total.Sub(base.Mul(n)))

	shares := make([]decimal.Decimal, count)
	for i := range shares {
		shares[i] = base
	}
	shares[count-1] = base.Add(remainder)
	return shares
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}
