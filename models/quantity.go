package models

import "github.com/shopspring/decimal"

// Quantities are decimal(20,4) columns. Every comparison in the allocation and
// phase code goes through the helpers below so there is exactly one rounding
// and tolerance policy.
const QtyScale int32 = 4

// QtyTolerance absorbs rounding residue from per-unit BOM multiplications.
var QtyTolerance = decimal.New(1, -6)

// RoundQty rounds to the persisted scale.
func RoundQty(q decimal.Decimal) decimal.Decimal {
	return q.Round(QtyScale)
}

// QtyIsPositive reports q > tolerance.
func QtyIsPositive(q decimal.Decimal) bool {
	return q.GreaterThan(QtyTolerance)
}

// QtyIsZero reports |q| <= tolerance.
func QtyIsZero(q decimal.Decimal) bool {
	return q.Abs().LessThanOrEqual(QtyTolerance)
}

// QtyCovers reports have >= need within tolerance.
func QtyCovers(have, need decimal.Decimal) bool {
	return have.Add(QtyTolerance).GreaterThanOrEqual(need)
}

// QtyExceeds reports q > limit beyond tolerance.
func QtyExceeds(q, limit decimal.Decimal) bool {
	return q.GreaterThan(limit.Add(QtyTolerance))
}

// QtyMin returns the smaller of a and b.
func QtyMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// QtyFloorZero clamps negatives (and tolerance noise) to zero.
func QtyFloorZero(q decimal.Decimal) decimal.Decimal {
	if !QtyIsPositive(q) {
		return decimal.Zero
	}
	return q
}
