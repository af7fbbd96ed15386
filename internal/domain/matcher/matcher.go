// Package matcher proposes counterpart records for an unmatched bank
// transaction or payment.
//
// Matching is tolerance based:
//   - Target date must fall within +/- DateWindowDays of the subject
//   - Amount must match within AmountTolerance
//   - Targets that already carry an active link are skipped
//
// Text similarity is only ever a secondary filter. The fuzzy pass widens the
// amount band but then requires text overlap, and its results are never
// applied without a human.
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultConfig())
//	cands := m.FindCandidates(matcher.SubjectFromTransaction(tx), pool, linked)
//	if len(cands) > 0 {
//		best := cands[0] // closest first
//	}
package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Matcher generates candidates. It holds no mutable state and is safe for
// concurrent use.
type Matcher struct {
	config Config
}

// NewMatcher creates a new matcher with the given config
func NewMatcher(config Config) *Matcher {
	return &Matcher{
		config: config,
	}
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config {
	return m.config
}

// FindCandidates returns pool entries within the date window and amount
// tolerance of sub, closest first. linked holds Key()s of targets that
// already have an active link. No candidates is an empty slice.
func (m *Matcher) FindCandidates(sub Subject, pool []Target, linked map[string]bool) []Candidate {
	candidates := make([]Candidate, 0)

	for _, target := range pool {
		c, ok := m.evaluate(sub, target, linked)
		if !ok {
			continue
		}
		if c.AmountDelta.GreaterThan(m.config.AmountTolerance) {
			continue
		}
		if m.config.UseTextFilter && c.Similarity < m.config.MinTextSimilarity {
			continue
		}
		candidates = append(candidates, c)
	}

	sortCandidates(candidates)
	return candidates
}

// FindFuzzyCandidates is the low-confidence pass: amount within
// FuzzyAmountRatio of the subject and token overlap of at least
// MinTextSimilarity. Results are for human review only.
func (m *Matcher) FindFuzzyCandidates(sub Subject, pool []Target, linked map[string]bool) []Candidate {
	candidates := make([]Candidate, 0)
	band := sub.Amount.Mul(m.config.FuzzyAmountRatio)

	for _, target := range pool {
		c, ok := m.evaluate(sub, target, linked)
		if !ok {
			continue
		}
		if c.AmountDelta.GreaterThan(band) {
			continue
		}
		if c.Similarity < m.config.MinTextSimilarity {
			continue
		}
		candidates = append(candidates, c)
	}

	sortCandidates(candidates)
	return candidates
}

// evaluate applies the filters shared by every pass.
func (m *Matcher) evaluate(sub Subject, target Target, linked map[string]bool) (Candidate, bool) {
	if linked[target.Key()] {
		return Candidate{}, false
	}

	dateDelta := DaysBetween(sub.Date, target.Date)
	if dateDelta > m.config.DateWindowDays {
		return Candidate{}, false
	}

	amountDelta := sub.Amount.Sub(target.Amount.Abs()).Abs()

	return Candidate{
		Target:      target,
		DateDelta:   dateDelta,
		AmountDelta: amountDelta,
		Similarity:  TextSimilarity(sub.Text, target.Text),
		Rank:        decimal.NewFromInt(int64(dateDelta)).Add(amountDelta.Mul(m.config.AmountDeltaWeight)),
	}, true
}

// sortCandidates orders by rank, then oldest record, then id.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if c := cands[i].Rank.Cmp(cands[j].Rank); c != 0 {
			return c < 0
		}
		if !cands[i].Target.CreatedAt.Equal(cands[j].Target.CreatedAt) {
			return cands[i].Target.CreatedAt.Before(cands[j].Target.CreatedAt)
		}
		return cands[i].Target.Ref.ID < cands[j].Target.Ref.ID
	})
}

// DaysBetween returns the whole calendar days between two dates, ignoring
// time of day.
func DaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}
