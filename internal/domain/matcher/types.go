package matcher

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// Config holds matcher configuration
type Config struct {
	DateWindowDays    int             // +/- days around the subject date (default: 7)
	AmountTolerance   decimal.Decimal // Candidate amount band (default: 0.02)
	ExactTolerance    decimal.Decimal // What counts as "same amount" (default: 0.01)
	FuzzyAmountRatio  decimal.Decimal // Fuzzy pass amount band as a ratio (default: 0.10)
	MinTextSimilarity float64         // Token overlap needed by text filters (default: 0.5)
	AmountDeltaWeight decimal.Decimal // Ordering weight of one dollar against one day (default: 100)
	UseTextFilter     bool            // Apply text similarity as a secondary filter on FindCandidates
	SplitMaxParts     int             // Largest split FindSplit will build (default: 4)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		DateWindowDays:    7,
		AmountTolerance:   decimal.RequireFromString("0.02"),
		ExactTolerance:    decimal.RequireFromString("0.01"),
		FuzzyAmountRatio:  decimal.RequireFromString("0.10"),
		MinTextSimilarity: 0.5,
		AmountDeltaWeight: decimal.NewFromInt(100),
		SplitMaxParts:     4,
	}
}

// Subject is the unmatched record looking for a counterpart.
type Subject struct {
	ID     string
	Date   time.Time
	Amount decimal.Decimal // always the magnitude
	Text   string
}

// Target is one record in the candidate pool.
type Target struct {
	Ref       ledger.RecordRef
	Date      time.Time
	Amount    decimal.Decimal
	Text      string
	CreatedAt time.Time

	// Remaining is the unlinked balance left on the target, e.g. a charter
	// balance. Invalid when the target has no notion of a balance.
	Remaining decimal.NullDecimal
}

// Key identifies a target across record types.
func (t Target) Key() string {
	return Key(t.Ref.Type, t.Ref.ID)
}

// Key builds the map key used for linked/used target sets.
func Key(typ ledger.RecordType, id string) string {
	return string(typ) + ":" + id
}

// Candidate is a target that passed the window and amount filters.
type Candidate struct {
	Target      Target
	DateDelta   int             // whole days between subject and target
	AmountDelta decimal.Decimal // |subject - target|
	Similarity  float64         // token overlap, 0-1
	Rank        decimal.Decimal // DateDelta + AmountDelta*weight, lower is closer
}

// Split is a set of candidates whose amounts add up to the subject amount.
type Split struct {
	Parts []Candidate
	Total decimal.Decimal
}

// SubjectFromTransaction builds a subject from a bank transaction.
func SubjectFromTransaction(tx *ledger.BankTransaction) Subject {
	return Subject{ID: tx.ID, Date: tx.Date, Amount: tx.Magnitude(), Text: tx.Description}
}

// SubjectFromPayment builds a subject from a payment.
func SubjectFromPayment(p *ledger.Payment) Subject {
	return Subject{ID: p.ID, Date: p.Date, Amount: p.Amount.Abs(), Text: p.Method}
}

// TargetFromReceipt builds a pool entry from a receipt.
func TargetFromReceipt(r *ledger.Receipt) Target {
	return Target{
		Ref:       r.Ref(),
		Date:      r.Date,
		Amount:    r.GrossAmount.Abs(),
		Text:      r.Vendor,
		CreatedAt: r.CreatedAt,
	}
}

// TargetFromPayment builds a pool entry from a payment.
func TargetFromPayment(p *ledger.Payment) Target {
	return Target{
		Ref:       p.Ref(),
		Date:      p.Date,
		Amount:    p.Amount.Abs(),
		Text:      p.Method + " " + p.ReserveNumber,
		CreatedAt: p.CreatedAt,
	}
}

// TargetFromCharter builds a pool entry from a charter. The amount to match
// is the outstanding balance.
func TargetFromCharter(c *ledger.Charter) Target {
	return Target{
		Ref:       ledger.RecordRef{Type: ledger.RecordCharter, ID: c.ReserveNumber, Version: c.Version},
		Date:      c.Date,
		Amount:    c.Balance,
		Text:      c.ReserveNumber,
		CreatedAt: c.CreatedAt,
		Remaining: decimal.NewNullDecimal(c.Balance),
	}
}
