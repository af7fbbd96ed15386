// Package validator checks split allocations before anything is written.
//
// A split is only committed when its allocations add up to the transaction
// amount within one cent. Anything else means a missing or extra part and
// the whole split is rejected.
package validator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SplitTolerance is the largest difference a split may carry.
var SplitTolerance = decimal.RequireFromString("0.01")

// SplitValidation contains the result of validating split allocations.
type SplitValidation struct {
	// Valid is true if the allocations sum correctly
	Valid bool

	// AllocatedSum is the sum of all allocations
	AllocatedSum decimal.Decimal

	// ExpectedSum is the transaction amount
	ExpectedSum decimal.Decimal

	// Difference is AllocatedSum - ExpectedSum
	Difference decimal.Decimal

	// Reason explains why validation failed (empty if valid)
	Reason string
}

// ValidateSplit checks allocations against the transaction amount using
// SplitTolerance. Allocations must be positive.
func ValidateSplit(allocations []decimal.Decimal, expected decimal.Decimal) *SplitValidation {
	return ValidateSplitWithTolerance(allocations, expected, SplitTolerance)
}

// ValidateSplitWithTolerance is ValidateSplit with an explicit tolerance.
func ValidateSplitWithTolerance(allocations []decimal.Decimal, expected, tolerance decimal.Decimal) *SplitValidation {
	sum := decimal.Zero
	for i, a := range allocations {
		if !a.IsPositive() {
			return &SplitValidation{
				ExpectedSum: expected,
				Reason:      fmt.Sprintf("allocation %d is $%s, allocations must be positive", i, a.StringFixed(2)),
			}
		}
		sum = sum.Add(a)
	}

	expected = expected.Abs()
	diff := sum.Sub(expected)

	result := &SplitValidation{
		AllocatedSum: sum,
		ExpectedSum:  expected,
		Difference:   diff,
	}

	if len(allocations) == 0 {
		result.Reason = "no allocations"
		return result
	}

	if diff.Abs().LessThanOrEqual(tolerance) {
		result.Valid = true
		return result
	}

	if diff.IsNegative() {
		result.Reason = fmt.Sprintf("allocations ($%s) are less than transaction amount ($%s) - missing $%s",
			sum.StringFixed(2), expected.StringFixed(2), diff.Neg().StringFixed(2))
	} else {
		result.Reason = fmt.Sprintf("allocations ($%s) exceed transaction amount ($%s) by $%s",
			sum.StringFixed(2), expected.StringFixed(2), diff.StringFixed(2))
	}
	return result
}
