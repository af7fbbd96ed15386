// Package allocator spreads a transaction amount across the records it pays
// for.
//
// The pro-rata allocator distributes the amount proportionally to each
// record's weight (usually its gross amount). Discounts, fees and rounding
// all fall out of one ratio:
//
//	multiplier = total / sum(weights)
//	allocation = weight * multiplier
//
// Allocations are rounded to cents and the largest one absorbs whatever
// rounding left over, so the allocations always sum to total exactly.
package allocator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Item is one record receiving part of the total.
type Item struct {
	ID     string
	Weight decimal.Decimal
}

// Allocation is the share assigned to a single item.
type Allocation struct {
	ID     string
	Weight decimal.Decimal
	Amount decimal.Decimal
}

// Result contains the allocation results.
type Result struct {
	Multiplier     decimal.Decimal
	Allocations    []Allocation
	TotalAllocated decimal.Decimal
}

// Allocate distributes total across items proportionally to their weights.
// Returns an error if items is empty, total is negative, or a weight is
// negative.
func Allocate(items []Item, total decimal.Decimal) (*Result, error) {
	if len(items) == 0 {
		return nil, errors.New("no items to allocate")
	}
	if total.IsNegative() {
		return nil, errors.New("total cannot be negative")
	}

	totalWeight := decimal.Zero
	for _, item := range items {
		if item.Weight.IsNegative() {
			return nil, errors.New("item weight cannot be negative")
		}
		totalWeight = totalWeight.Add(item.Weight)
	}

	allocations := make([]Allocation, len(items))

	if totalWeight.IsZero() {
		// Nothing to weigh by - allocate nothing
		for i, item := range items {
			allocations[i] = Allocation{ID: item.ID}
		}
		return &Result{Allocations: allocations}, nil
	}

	multiplier := total.Div(totalWeight)

	allocated := decimal.Zero
	for i, item := range items {
		amount := item.Weight.Mul(multiplier).Round(2)
		allocations[i] = Allocation{ID: item.ID, Weight: item.Weight, Amount: amount}
		allocated = allocated.Add(amount)
	}

	// Largest allocation absorbs the rounding difference
	if diff := total.Round(2).Sub(allocated); !diff.IsZero() {
		maxIdx := 0
		for i, a := range allocations {
			if a.Amount.GreaterThan(allocations[maxIdx].Amount) {
				maxIdx = i
			}
		}
		allocations[maxIdx].Amount = allocations[maxIdx].Amount.Add(diff)
		allocated = allocated.Add(diff)
	}

	return &Result{
		Multiplier:     multiplier,
		Allocations:    allocations,
		TotalAllocated: allocated,
	}, nil
}
