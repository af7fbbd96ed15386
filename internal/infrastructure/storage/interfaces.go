package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations (SQLite, in-memory, etc.)
// and makes testing with mocks straightforward.
type Repository interface {
	Store

	// WithTx runs fn inside one database transaction. fn must only use the
	// Store it is given. Any error rolls back everything fn wrote.
	WithTx(ctx context.Context, fn func(Store) error) error

	Close() error
}

// Store is the set of data operations available both outside and inside a
// transaction.
type Store interface {
	TransactionStore
	TargetStore
	CharterStore
	LinkStore
	DedupeStore
	RunStore
	StatusStore
}

// TransactionStore handles bank transactions.
type TransactionStore interface {
	// InsertTransactions inserts new rows in the unmatched state.
	InsertTransactions(ctx context.Context, txs []*ledger.BankTransaction) error

	// GetTransaction returns ledger.ErrNotFound if id is unknown.
	GetTransaction(ctx context.Context, id string) (*ledger.BankTransaction, error)

	// ListAccountTransactions returns every row of an account ordered by (date, id).
	ListAccountTransactions(ctx context.Context, accountID string) ([]*ledger.BankTransaction, error)

	// ListTransactions returns rows matching filter ordered by (date, id).
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*ledger.BankTransaction, error)

	// ListAccounts returns the distinct account ids.
	ListAccounts(ctx context.Context) ([]string, error)

	// SourceHashes returns the set of source hashes already stored for an account.
	SourceHashes(ctx context.Context, accountID string) (map[string]bool, error)
}

// TargetStore handles receipts and payments, the records bank transactions
// are linked to.
type TargetStore interface {
	InsertReceipts(ctx context.Context, receipts []*ledger.Receipt) error
	GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error)
	ListReceipts(ctx context.Context, filter RecordFilter) ([]*ledger.Receipt, error)

	// ListChildReceipts returns receipts whose parent_receipt_id is parentID.
	ListChildReceipts(ctx context.Context, parentID string) ([]*ledger.Receipt, error)

	InsertPayments(ctx context.Context, payments []*ledger.Payment) error
	GetPayment(ctx context.Context, id string) (*ledger.Payment, error)
	ListPayments(ctx context.Context, filter RecordFilter) ([]*ledger.Payment, error)

	// SetPaymentReserve ties a payment to a charter. Fails with
	// ledger.ErrStaleVersion if the payment changed since ref was read.
	SetPaymentReserve(ctx context.Context, ref ledger.RecordRef, reserveNumber string) (int64, error)
}

// CharterStore handles charters and their charges.
type CharterStore interface {
	InsertCharters(ctx context.Context, charters []*ledger.Charter) error
	GetCharter(ctx context.Context, reserveNumber string) (*ledger.Charter, error)

	// ListOpenCharters returns charters with a positive balance.
	ListOpenCharters(ctx context.Context) ([]*ledger.Charter, error)

	// UpdateCharterPaid stores paid_amount and the derived balance, guarded
	// by the charter version.
	UpdateCharterPaid(ctx context.Context, reserveNumber string, version int64, paid decimal.Decimal) error

	// SumCharterPayments sums the payments carrying a reserve number,
	// leaving out disputed payments and those excluded from reports. A
	// payment counts whether or not a bank deposit is linked to it yet.
	SumCharterPayments(ctx context.Context, reserveNumber string) (decimal.Decimal, error)

	InsertCharterCharges(ctx context.Context, charges []*ledger.CharterCharge) error
	ListCharterCharges(ctx context.Context, reserveNumber string) ([]*ledger.CharterCharge, error)
}

// StatusStore changes reconciliation_status and removes records. Every
// write is guarded by the version in ref.
type StatusStore interface {
	// UpdateStatus writes the new status and returns the new version.
	UpdateStatus(ctx context.Context, ref ledger.RecordRef, to ledger.Status, exclude bool) (int64, error)

	// DeleteRecord physically removes a record.
	DeleteRecord(ctx context.Context, ref ledger.RecordRef) error
}

// LinkStore handles match links.
type LinkStore interface {
	// InsertLink returns ledger.ErrAlreadyLinked when an active link already
	// holds the transaction or the target.
	InsertLink(ctx context.Context, link *ledger.MatchLink) error

	GetLink(ctx context.Context, id string) (*ledger.MatchLink, error)

	// LinksForTransaction returns links of a transaction in the given states
	// (all states when none given), oldest first.
	LinksForTransaction(ctx context.Context, txID string, states ...ledger.LinkState) ([]*ledger.MatchLink, error)

	// ActiveLinkForTarget returns the active link holding a target, or nil.
	ActiveLinkForTarget(ctx context.Context, targetType ledger.RecordType, targetID string) (*ledger.MatchLink, error)

	// UpdateLinkState moves a link from one state to another. Fails with
	// ledger.ErrStaleVersion if the link is no longer in from.
	UpdateLinkState(ctx context.Context, id string, from, to ledger.LinkState, at time.Time) error

	ListLinks(ctx context.Context, filter LinkFilter) ([]*ledger.MatchLink, error)

	// ActiveTargetKeys returns matcher keys ("receipt:id") of every target
	// held by an active link.
	ActiveTargetKeys(ctx context.Context) (map[string]bool, error)
}

// DedupeStore handles duplicate groups and the manual review queue.
type DedupeStore interface {
	SaveDuplicateGroup(ctx context.Context, group *ledger.DuplicateGroup) error
	ListDuplicateGroups(ctx context.Context, scope ledger.RecordType) ([]*ledger.DuplicateGroup, error)

	AddReviewItem(ctx context.Context, item *ledger.ReviewItem) error
	ListReviewItems(ctx context.Context, unresolvedOnly bool) ([]*ledger.ReviewItem, error)
}

// RunStore handles run history and variance reports.
type RunStore interface {
	// StartRun records the start of a run and returns the run ID
	StartRun(ctx context.Context, kind, scope string, dryRun bool) (int64, error)

	// CompleteRun records the outcome of a run
	CompleteRun(ctx context.Context, runID int64, summary RunSummary) error

	GetRun(ctx context.Context, runID int64) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// ReplaceVariances stores the latest variance report for an account.
	ReplaceVariances(ctx context.Context, accountID string, variances []ledger.Variance) error
	ListVariances(ctx context.Context, accountID string) ([]ledger.Variance, error)
}
