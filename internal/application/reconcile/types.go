package reconcile

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// Options holds run configuration
type Options struct {
	DryRun           bool
	ProgressCallback ProgressCallback
}

// ProgressUpdate contains progress information during a run.
type ProgressUpdate struct {
	Phase     string // "loading", "matching", "completed"
	Total     int
	Processed int
	Applied   int
	Skipped   int
	Errored   int
}

// ProgressCallback is called to report progress during a run.
type ProgressCallback func(update ProgressUpdate)

// Decision actions.
const (
	ActionApply   = "apply"   // active link (or would be, in a dry run)
	ActionPropose = "propose" // proposed link awaiting a human
	ActionSplit   = "split"   // several active links sharing one split group
	ActionSkip    = "skip"    // nothing plausible found
	ActionError   = "error"
)

// Decision is what a run decided for one record.
type Decision struct {
	RecordID   string
	TargetType ledger.RecordType
	TargetIDs  []string
	Amount     decimal.Decimal
	Confidence int
	Method     ledger.Method
	Action     string
	Written    bool
	Reason     string
}

// StatusCounts is the number of records per reconciliation status.
type StatusCounts map[ledger.Status]int

// Keys returns the statuses present in c in a stable order.
func (c StatusCounts) Keys() []ledger.Status {
	keys := make([]ledger.Status, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Result holds run results
type Result struct {
	RunID     int64
	AccountID string
	DryRun    bool

	Processed  int
	Applied    int
	Proposed   int
	Skipped    int
	ErrorCount int

	Decisions []Decision
	Errors    []error

	Before StatusCounts
	After  StatusCounts
}

func (r *Result) addError(err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, err)
}

func (r *Result) progress(phase string, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:     phase,
		Total:     total,
		Processed: r.Processed,
		Applied:   r.Applied,
		Skipped:   r.Skipped,
		Errored:   r.ErrorCount,
	}
}

// DedupeResult holds the outcome of a dedupe run.
type DedupeResult struct {
	RunID  int64
	Scope  ledger.RecordType
	DryRun bool

	Scanned   int
	Groups    []ledger.DuplicateGroup
	Review    []ledger.DuplicateGroup
	Resolved  int
	Unchanged int // groups already recorded by an earlier run

	ErrorCount int
	Errors     []error
}

// Count returns the number of groups with a classification.
func (r *DedupeResult) Count(class ledger.Classification) int {
	if class == ledger.ClassReview {
		return len(r.Review)
	}
	n := 0
	for _, g := range r.Groups {
		if g.Classification == class {
			n++
		}
	}
	return n
}

// ImportResult holds the outcome of an import.
type ImportResult struct {
	RunID  int64
	DryRun bool

	Total        int // bank transaction rows received
	Invalid      int // rows rejected by validation, across every kind
	Known        int // transaction rows whose hash is already stored
	New          int // transaction rows that would be inserted
	Inserted     int
	FullReimport []string // accounts whose batch was a re-import of known rows

	Receipts int // receipts, payments, charters and charges that are new
	Payments int
	Charters int
	Charges  int

	Errors []error
}
