// Package ledger defines the records the reconciliation engine works on:
// bank transactions, receipts, payments, charters and the links between them.
//
// All money is carried as decimal.Decimal. Debits and credits on a bank
// transaction are both non-negative and mutually exclusive; Amount returns
// the signed value (credit - debit).
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordType identifies which table a record lives in.
type RecordType string

const (
	RecordTransaction RecordType = "bank_transaction"
	RecordReceipt     RecordType = "receipt"
	RecordPayment     RecordType = "payment"
	RecordCharter     RecordType = "charter"
)

// Scope returns the table name used by dedupe runs and the CLI.
func (t RecordType) Scope() string {
	switch t {
	case RecordTransaction:
		return "bank_transactions"
	case RecordReceipt:
		return "receipts"
	case RecordPayment:
		return "payments"
	case RecordCharter:
		return "charters"
	}
	return string(t)
}

// ParseScope maps a table name onto its record type.
func ParseScope(scope string) (RecordType, bool) {
	switch scope {
	case "bank_transactions", "transactions":
		return RecordTransaction, true
	case "receipts":
		return RecordReceipt, true
	case "payments":
		return RecordPayment, true
	}
	return "", false
}

// Method records how a match was decided.
type Method string

const (
	MethodExact     Method = "exact"
	MethodTolerance Method = "tolerance"
	MethodWindowed  Method = "windowed"
	MethodFuzzy     Method = "fuzzy"
	MethodManual    Method = "manual"
	MethodSplit     Method = "split"
	MethodNone      Method = "none"
)

// LinkState is the lifecycle of a MatchLink row.
type LinkState string

const (
	LinkActive     LinkState = "active"
	LinkProposed   LinkState = "proposed"
	LinkSuperseded LinkState = "superseded"
)

// BankTransaction is one imported statement row.
type BankTransaction struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`

	// Balance is the running balance printed on the statement, when the
	// source provided one.
	Balance decimal.NullDecimal `json:"balance"`

	SourceHash         string    `json:"source_hash"`
	Status             Status    `json:"status"`
	ExcludeFromReports bool      `json:"exclude_from_reports"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
}

// Amount returns the signed amount: credits positive, debits negative.
func (t *BankTransaction) Amount() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// Magnitude returns the unsigned amount.
func (t *BankTransaction) Magnitude() decimal.Decimal {
	return t.Amount().Abs()
}

// Ref returns a versioned reference to the transaction.
func (t *BankTransaction) Ref() RecordRef {
	return RecordRef{Type: RecordTransaction, ID: t.ID, Version: t.Version}
}

// Receipt is a vendor receipt. Child receipts point at their parent through
// ParentReceiptID when a single document was split across categories.
type Receipt struct {
	ID                 string          `json:"id"`
	Date               time.Time       `json:"date"`
	Vendor             string          `json:"vendor"`
	GrossAmount        decimal.Decimal `json:"gross_amount"`
	GSTAmount          decimal.Decimal `json:"gst_amount"`
	SourceSystem       string          `json:"source_system"`
	ParentReceiptID    string          `json:"parent_receipt_id,omitempty"`
	SourceHash         string          `json:"source_hash"`
	Status             Status          `json:"status"`
	ExcludeFromReports bool            `json:"exclude_from_reports"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Ref returns a versioned reference to the receipt.
func (r *Receipt) Ref() RecordRef {
	return RecordRef{Type: RecordReceipt, ID: r.ID, Version: r.Version}
}

// Payment is a customer payment, optionally tied to a charter through its
// reserve number.
type Payment struct {
	ID                 string          `json:"id"`
	ReserveNumber      string          `json:"reserve_number"`
	Date               time.Time       `json:"date"`
	Amount             decimal.Decimal `json:"amount"`
	Method             string          `json:"method"`
	SourceHash         string          `json:"source_hash"`
	Status             Status          `json:"status"`
	ExcludeFromReports bool            `json:"exclude_from_reports"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Ref returns a versioned reference to the payment.
func (p *Payment) Ref() RecordRef {
	return RecordRef{Type: RecordPayment, ID: p.ID, Version: p.Version}
}

// Charter is a booking identified by its reserve number.
type Charter struct {
	ID             string          `json:"id"`
	ReserveNumber  string          `json:"reserve_number"`
	Date           time.Time       `json:"date"`
	TotalAmountDue decimal.Decimal `json:"total_amount_due"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Balance        decimal.Decimal `json:"balance"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ApplyPaid sets the paid amount and recomputes the balance from it.
func (c *Charter) ApplyPaid(paid decimal.Decimal) {
	c.PaidAmount = paid
	c.Balance = c.TotalAmountDue.Sub(paid)
}

// CharterCharge is one line item billed against a charter.
type CharterCharge struct {
	ID            string          `json:"id"`
	ReserveNumber string          `json:"reserve_number"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
}

// RecordRef points at a record as it was when read.
type RecordRef struct {
	Type    RecordType `json:"type"`
	ID      string     `json:"id"`
	Version int64      `json:"version"`
}

// MatchLink ties a bank transaction to a receipt or payment. Links that share
// a SplitGroup form one split allocation.
type MatchLink struct {
	ID                string          `json:"id"`
	BankTransactionID string          `json:"bank_transaction_id"`
	TargetType        RecordType      `json:"target_type"`
	TargetID          string          `json:"target_id"`
	Amount            decimal.Decimal `json:"amount"`
	Confidence        int             `json:"confidence"`
	Method            Method          `json:"method"`
	State             LinkState       `json:"state"`
	SplitGroup        string          `json:"split_group,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CreatedBy         string          `json:"created_by"`
	SupersededAt      *time.Time      `json:"superseded_at,omitempty"`
}

// IsActive reports whether the link currently counts.
func (l *MatchLink) IsActive() bool {
	return l.State == LinkActive
}

// Classification is the dedupe verdict for a group of records.
type Classification string

const (
	ClassTrueDuplicate Classification = "true_duplicate"
	ClassRecurring     Classification = "recurring"
	ClassReversalPair  Classification = "reversal_pair"
	ClassReview        Classification = "review"
)

// DuplicateGroup is a set of records the classifier placed together.
type DuplicateGroup struct {
	ID             string         `json:"id"`
	Scope          RecordType     `json:"scope"`
	MemberIDs      []string       `json:"member_ids"`
	Classification Classification `json:"classification"`
	KeptID         string         `json:"kept_id"`
	DeletedIDs     []string       `json:"deleted_ids"`
	Reason         string         `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Variance is a point where the recomputed running balance disagreed with
// the balance stated on the statement.
type Variance struct {
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	Date          time.Time       `json:"date"`
	Expected      decimal.Decimal `json:"expected"`
	Stated        decimal.Decimal `json:"stated"`
	Delta         decimal.Decimal `json:"delta"`
}

// ReviewItem is something the engine refused to decide on its own.
type ReviewItem struct {
	ID        int64      `json:"id"`
	Kind      string     `json:"kind"`
	Scope     RecordType `json:"scope"`
	RecordIDs []string   `json:"record_ids"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
	Resolved  bool       `json:"resolved"`
}

// Review item kinds.
const (
	ReviewDuplicate = "duplicate"
	ReviewMatch     = "match"
)
