package storage

import (
	"time"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// TransactionFilter defines filters for listing bank transactions
type TransactionFilter struct {
	AccountID string          // Filter by account (empty = all)
	Statuses  []ledger.Status // Filter by status (empty = all)
	Limit     int             // Max results (0 = no limit)
	Offset    int             // Pagination offset
}

// RecordFilter defines filters for listing receipts and payments
type RecordFilter struct {
	From     time.Time       // Earliest date (zero = unbounded)
	To       time.Time       // Latest date (zero = unbounded)
	Statuses []ledger.Status // Filter by status (empty = all)

	// WithoutReserve limits payments to ones not yet tied to a charter.
	WithoutReserve bool
}

// LinkFilter defines filters for listing match links
type LinkFilter struct {
	TransactionID string
	TargetType    ledger.RecordType
	TargetID      string
	State         ledger.LinkState
	Limit         int
}

// Run kinds.
const (
	RunMatch         = "match"
	RunMatchPayments = "match_payments"
	RunAuditBalance  = "audit_balance"
	RunDedupe        = "dedupe"
	RunImport        = "import"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunSummary is what a run reports when it finishes.
type RunSummary struct {
	Status    string
	Processed int
	Applied   int
	Proposed  int
	Skipped   int
	Errors    int
	Notes     string
}

// Run represents a reconcile run record
type Run struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	Scope       string     `json:"scope"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Processed   int        `json:"processed"`
	Applied     int        `json:"applied"`
	Proposed    int        `json:"proposed"`
	Skipped     int        `json:"skipped"`
	Errors      int        `json:"errors"`
	Notes       string     `json:"notes,omitempty"`
}
