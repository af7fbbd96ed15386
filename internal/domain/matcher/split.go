package matcher

import (
	"sort"

	"github.com/shopspring/decimal"
)

// maxSplitPool bounds the subset search. Only the closest targets by date
// are considered.
const maxSplitPool = 12

// FindSplit looks for 2..SplitMaxParts in-window targets, each smaller than
// the subject, whose amounts sum to the subject amount within
// ExactTolerance. Fewer parts win, then the smaller total date distance.
// Returns nil when no combination fits.
func (m *Matcher) FindSplit(sub Subject, pool []Target, linked map[string]bool) *Split {
	parts := make([]Candidate, 0)
	for _, target := range pool {
		c, ok := m.evaluate(sub, target, linked)
		if !ok {
			continue
		}
		if !target.Amount.IsPositive() || target.Amount.GreaterThanOrEqual(sub.Amount) {
			continue
		}
		parts = append(parts, c)
	}
	if len(parts) < 2 {
		return nil
	}

	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].DateDelta != parts[j].DateDelta {
			return parts[i].DateDelta < parts[j].DateDelta
		}
		return parts[i].Target.Ref.ID < parts[j].Target.Ref.ID
	})
	if len(parts) > maxSplitPool {
		parts = parts[:maxSplitPool]
	}

	maxParts := m.config.SplitMaxParts
	if maxParts < 2 {
		maxParts = 2
	}

	for size := 2; size <= maxParts && size <= len(parts); size++ {
		var best []Candidate
		bestDistance := -1

		combine(parts, size, func(combo []Candidate) {
			total := decimal.Zero
			distance := 0
			for _, c := range combo {
				total = total.Add(c.Target.Amount)
				distance += c.DateDelta
			}
			if total.Sub(sub.Amount).Abs().GreaterThan(m.config.ExactTolerance) {
				return
			}
			if bestDistance == -1 || distance < bestDistance {
				best = append([]Candidate(nil), combo...)
				bestDistance = distance
			}
		})

		if best != nil {
			total := decimal.Zero
			for _, c := range best {
				total = total.Add(c.Target.Amount)
			}
			return &Split{Parts: best, Total: total}
		}
	}

	return nil
}

// combine calls fn with every k-sized combination of items, in index order.
func combine(items []Candidate, k int, fn func([]Candidate)) {
	combo := make([]Candidate, 0, k)
	var walk func(start int)
	walk = func(start int) {
		if len(combo) == k {
			fn(combo)
			return
		}
		for i := start; i <= len(items)-(k-len(combo)); i++ {
			combo = append(combo, items[i])
			walk(i + 1)
			combo = combo[:len(combo)-1]
		}
	}
	walk(0)
}
