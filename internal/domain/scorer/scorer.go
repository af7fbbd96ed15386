// Package scorer assigns a confidence to each matcher candidate and picks
// the winner deterministically.
//
//	100 exact      same day, amount within a cent
//	 85 tolerance  same day, amount within the tolerance band
//	 70 windowed   inside the date window, amount within a cent
//	 40 fuzzy      text overlap, amount within 10%
//
// Only 70 and above may be applied automatically.
package scorer

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/matcher"
)

// Confidence levels.
const (
	ConfidenceExact     = 100
	ConfidenceTolerance = 85
	ConfidenceWindowed  = 70
	ConfidenceFuzzy     = 40
	ConfidenceNone      = 0

	// AutoApplyThreshold is the lowest confidence the link writer applies
	// without a human.
	AutoApplyThreshold = ConfidenceWindowed
)

// Config holds scoring thresholds.
type Config struct {
	ExactTolerance    decimal.Decimal
	ToleranceBand     decimal.Decimal
	FuzzyAmountRatio  decimal.Decimal
	MinTextSimilarity float64
	DateWindowDays    int
}

// DefaultConfig mirrors matcher.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		ExactTolerance:    decimal.RequireFromString("0.01"),
		ToleranceBand:     decimal.RequireFromString("0.02"),
		FuzzyAmountRatio:  decimal.RequireFromString("0.10"),
		MinTextSimilarity: 0.5,
		DateWindowDays:    7,
	}
}

// FromMatcher derives scoring thresholds from the matcher configuration.
func FromMatcher(cfg matcher.Config) Config {
	return Config{
		ExactTolerance:    cfg.ExactTolerance,
		ToleranceBand:     cfg.AmountTolerance,
		FuzzyAmountRatio:  cfg.FuzzyAmountRatio,
		MinTextSimilarity: cfg.MinTextSimilarity,
		DateWindowDays:    cfg.DateWindowDays,
	}
}

// Scored is a candidate with its confidence.
type Scored struct {
	matcher.Candidate
	Confidence int
	Method     ledger.Method
}

// AutoApply reports whether the score clears the auto-apply threshold.
func (s Scored) AutoApply() bool {
	return s.Confidence >= AutoApplyThreshold
}

// Scorer is stateless and safe for concurrent use.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer.
func NewScorer(config Config) *Scorer {
	return &Scorer{config: config}
}

// Score rates one candidate against the subject.
func (s *Scorer) Score(sub matcher.Subject, c matcher.Candidate) (int, ledger.Method) {
	sameDay := c.DateDelta == 0
	inWindow := c.DateDelta <= s.config.DateWindowDays
	exactAmount := c.AmountDelta.LessThanOrEqual(s.config.ExactTolerance)
	inBand := c.AmountDelta.LessThanOrEqual(s.config.ToleranceBand)

	switch {
	case sameDay && exactAmount:
		return ConfidenceExact, ledger.MethodExact
	case sameDay && inBand:
		return ConfidenceTolerance, ledger.MethodTolerance
	case inWindow && exactAmount:
		return ConfidenceWindowed, ledger.MethodWindowed
	case inWindow && c.Similarity >= s.config.MinTextSimilarity &&
		c.AmountDelta.LessThanOrEqual(sub.Amount.Mul(s.config.FuzzyAmountRatio)):
		return ConfidenceFuzzy, ledger.MethodFuzzy
	}
	return ConfidenceNone, ledger.MethodNone
}

// Rank scores every candidate, drops the ones that score nothing, and orders
// the rest: highest confidence, then the smallest balance left over after
// applying the subject, then the oldest record, then id.
func (s *Scorer) Rank(sub matcher.Subject, cands []matcher.Candidate) []Scored {
	scored := make([]Scored, 0, len(cands))
	for _, c := range cands {
		conf, method := s.Score(sub, c)
		if conf == ConfidenceNone {
			continue
		}
		scored = append(scored, Scored{Candidate: c, Confidence: conf, Method: method})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if cmp := remainingGap(sub, a).Cmp(remainingGap(sub, b)); cmp != 0 {
			return cmp < 0
		}
		if !a.Target.CreatedAt.Equal(b.Target.CreatedAt) {
			return a.Target.CreatedAt.Before(b.Target.CreatedAt)
		}
		return a.Target.Ref.ID < b.Target.Ref.ID
	})

	return scored
}

// Best returns the top ranked candidate.
func (s *Scorer) Best(sub matcher.Subject, cands []matcher.Candidate) (Scored, bool) {
	ranked := s.Rank(sub, cands)
	if len(ranked) == 0 {
		return Scored{}, false
	}
	return ranked[0], true
}

// remainingGap is what would be left unlinked on the target after applying
// the subject amount.
func remainingGap(sub matcher.Subject, c Scored) decimal.Decimal {
	if c.Target.Remaining.Valid {
		return c.Target.Remaining.Decimal.Sub(sub.Amount).Abs()
	}
	return c.AmountDelta
}
