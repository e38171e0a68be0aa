package ledger

import "github.com/shopspring/decimal"

// Tolerance is the mass-balance tolerance: exactly 0.001 kg (one gram).
// All quantity arithmetic is decimal; binary floating point is never used
// for validation comparisons.
var Tolerance = decimal.New(1, -3)

// KgEqual reports whether a and b differ by strictly less than the tolerance.
// A discrepancy of a full gram is a mismatch: a 180.000 kg breakdown with
// outputs+losses of 179.999 must be rejected, not absorbed.
func KgEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Tolerance)
}

// KgExceeds reports whether q is greater than limit by more than tolerance.
func KgExceeds(q, limit decimal.Decimal) bool {
	return q.Sub(limit).GreaterThan(Tolerance)
}

// KgDepleted reports whether q is at or below tolerance, i.e. effectively zero.
func KgDepleted(q decimal.Decimal) bool {
	return q.LessThanOrEqual(Tolerance)
}

// KgPositive reports whether q is strictly positive.
func KgPositive(q decimal.Decimal) bool {
	return q.GreaterThan(decimal.Zero)
}

// ClampZero returns q, floored at zero.
func ClampZero(q decimal.Decimal) decimal.Decimal {
	if q.IsNegative() {
		return decimal.Zero
	}

	return q
}

// Kg3 renders a quantity with the storage scale (three decimals) for error
// messages and logs.
func Kg3(q decimal.Decimal) string {
	return q.StringFixed(3)
}

// SumKg adds a list of quantities.
func SumKg(qs ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range qs {
		total = total.Add(q)
	}

	return total
}
