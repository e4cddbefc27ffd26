package ledger

import "github.com/shopspring/decimal"

// Tolerance is the rounding slack allowed when comparing money amounts.
var Tolerance = decimal.New(1, -2)

// Round rounds half away from zero to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ApproxEqual compares two amounts within Tolerance.
func ApproxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Sum adds amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
