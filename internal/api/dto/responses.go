package dto

import (
	"time"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewHealthResponse creates a healthy response stamped with the current time.
func NewHealthResponse() HealthResponse {
	return HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// TransactionResponse represents a bank transaction in API responses.
// Amounts are decimal strings.
type TransactionResponse struct {
	ID                 string `json:"id"`
	AccountID          string `json:"account_id"`
	Date               string `json:"date"`
	Description        string `json:"description"`
	Debit              string `json:"debit"`
	Credit             string `json:"credit"`
	Amount             string `json:"amount"`
	Balance            string `json:"balance,omitempty"`
	Status             string `json:"status"`
	ExcludeFromReports bool   `json:"exclude_from_reports"`
	Version            int64  `json:"version"`
}

// NewTransactionResponse converts a ledger transaction.
func NewTransactionResponse(tx *ledger.BankTransaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                 tx.ID,
		AccountID:          tx.AccountID,
		Date:               tx.Date.Format(time.DateOnly),
		Description:        tx.Description,
		Debit:              tx.Debit.StringFixed(2),
		Credit:             tx.Credit.StringFixed(2),
		Amount:             tx.Amount().StringFixed(2),
		Status:             string(tx.Status),
		ExcludeFromReports: tx.ExcludeFromReports,
		Version:            tx.Version,
	}
	if tx.Balance.Valid {
		resp.Balance = tx.Balance.Decimal.StringFixed(2)
	}
	return resp
}

// TransactionListResponse is a page of transactions.
type TransactionListResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// TransactionDetailResponse is a transaction with its links.
type TransactionDetailResponse struct {
	TransactionResponse
	Links []LinkResponse `json:"links"`
}

// LinkResponse represents a match link in API responses.
type LinkResponse struct {
	ID                string  `json:"id"`
	BankTransactionID string  `json:"bank_transaction_id"`
	TargetType        string  `json:"target_type"`
	TargetID          string  `json:"target_id"`
	Amount            string  `json:"amount"`
	Confidence        int     `json:"confidence"`
	Method            string  `json:"method"`
	State             string  `json:"state"`
	SplitGroup        string  `json:"split_group,omitempty"`
	CreatedAt         string  `json:"created_at"`
	CreatedBy         string  `json:"created_by"`
	SupersededAt      *string `json:"superseded_at,omitempty"`
}

// NewLinkResponse converts a match link.
func NewLinkResponse(l *ledger.MatchLink) LinkResponse {
	resp := LinkResponse{
		ID:                l.ID,
		BankTransactionID: l.BankTransactionID,
		TargetType:        string(l.TargetType),
		TargetID:          l.TargetID,
		Amount:            l.Amount.StringFixed(2),
		Confidence:        l.Confidence,
		Method:            string(l.Method),
		State:             string(l.State),
		SplitGroup:        l.SplitGroup,
		CreatedAt:         l.CreatedAt.Format(time.RFC3339),
		CreatedBy:         l.CreatedBy,
	}
	if l.SupersededAt != nil {
		s := l.SupersededAt.Format(time.RFC3339)
		resp.SupersededAt = &s
	}
	return resp
}

// NewLinkResponses converts a slice of links, never returning nil.
func NewLinkResponses(links []*ledger.MatchLink) []LinkResponse {
	out := make([]LinkResponse, 0, len(links))
	for _, l := range links {
		out = append(out, NewLinkResponse(l))
	}
	return out
}

// LinkListResponse is a list of links.
type LinkListResponse struct {
	Links []LinkResponse `json:"links"`
	Count int            `json:"count"`
}

// ReviewItemResponse represents an entry of the manual review queue.
type ReviewItemResponse struct {
	ID        int64    `json:"id"`
	Kind      string   `json:"kind"`
	Scope     string   `json:"scope"`
	RecordIDs []string `json:"record_ids"`
	Reason    string   `json:"reason"`
	CreatedAt string   `json:"created_at"`
	Resolved  bool     `json:"resolved"`
}

// ReviewListResponse is the review queue.
type ReviewListResponse struct {
	Items []ReviewItemResponse `json:"items"`
	Count int                  `json:"count"`
}

// NewReviewListResponse converts review items.
func NewReviewListResponse(items []*ledger.ReviewItem) ReviewListResponse {
	resp := ReviewListResponse{Items: make([]ReviewItemResponse, 0, len(items)), Count: len(items)}
	for _, it := range items {
		resp.Items = append(resp.Items, ReviewItemResponse{
			ID:        it.ID,
			Kind:      it.Kind,
			Scope:     string(it.Scope),
			RecordIDs: it.RecordIDs,
			Reason:    it.Reason,
			CreatedAt: it.CreatedAt.Format(time.RFC3339),
			Resolved:  it.Resolved,
		})
	}
	return resp
}

// VarianceResponse is one point where the running balance drifted.
type VarianceResponse struct {
	TransactionID string `json:"transaction_id"`
	Date          string `json:"date"`
	Expected      string `json:"expected"`
	Stated        string `json:"stated"`
	Delta         string `json:"delta"`
}

// VarianceListResponse is the latest variance report of an account.
type VarianceListResponse struct {
	AccountID string             `json:"account_id"`
	Variances []VarianceResponse `json:"variances"`
	Count     int                `json:"count"`
}

// NewVarianceListResponse converts a variance report.
func NewVarianceListResponse(accountID string, vs []ledger.Variance) VarianceListResponse {
	resp := VarianceListResponse{AccountID: accountID, Variances: make([]VarianceResponse, 0, len(vs)), Count: len(vs)}
	for _, v := range vs {
		resp.Variances = append(resp.Variances, VarianceResponse{
			TransactionID: v.TransactionID,
			Date:          v.Date.Format(time.DateOnly),
			Expected:      v.Expected.StringFixed(2),
			Stated:        v.Stated.StringFixed(2),
			Delta:         v.Delta.StringFixed(2),
		})
	}
	return resp
}

// DuplicateGroupResponse represents a classified duplicate group.
type DuplicateGroupResponse struct {
	ID             string   `json:"id"`
	Scope          string   `json:"scope"`
	MemberIDs      []string `json:"member_ids"`
	Classification string   `json:"classification"`
	KeptID         string   `json:"kept_id,omitempty"`
	DeletedIDs     []string `json:"deleted_ids,omitempty"`
	Reason         string   `json:"reason"`
	CreatedAt      string   `json:"created_at"`
}

// DuplicateListResponse is a list of duplicate groups.
type DuplicateListResponse struct {
	Groups []DuplicateGroupResponse `json:"groups"`
	Count  int                      `json:"count"`
}

// NewDuplicateListResponse converts duplicate groups.
func NewDuplicateListResponse(groups []*ledger.DuplicateGroup) DuplicateListResponse {
	resp := DuplicateListResponse{Groups: make([]DuplicateGroupResponse, 0, len(groups)), Count: len(groups)}
	for _, g := range groups {
		resp.Groups = append(resp.Groups, DuplicateGroupResponse{
			ID:             g.ID,
			Scope:          g.Scope.Scope(),
			MemberIDs:      g.MemberIDs,
			Classification: string(g.Classification),
			KeptID:         g.KeptID,
			DeletedIDs:     g.DeletedIDs,
			Reason:         g.Reason,
			CreatedAt:      g.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp
}

// RunResponse represents a reconcile run in API responses.
type RunResponse struct {
	ID          int64   `json:"id"`
	Kind        string  `json:"kind"`
	Scope       string  `json:"scope"`
	DryRun      bool    `json:"dry_run"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Status      string  `json:"status"`
	Processed   int     `json:"processed"`
	Applied     int     `json:"applied"`
	Proposed    int     `json:"proposed"`
	Skipped     int     `json:"skipped"`
	Errors      int     `json:"errors"`
	Notes       string  `json:"notes,omitempty"`
}

// NewRunResponse converts a stored run.
func NewRunResponse(run storage.Run) RunResponse {
	resp := RunResponse{
		ID:        run.ID,
		Kind:      run.Kind,
		Scope:     run.Scope,
		DryRun:    run.DryRun,
		StartedAt: run.StartedAt.Format(time.RFC3339),
		Status:    run.Status,
		Processed: run.Processed,
		Applied:   run.Applied,
		Proposed:  run.Proposed,
		Skipped:   run.Skipped,
		Errors:    run.Errors,
		Notes:     run.Notes,
	}
	if run.CompletedAt != nil {
		s := run.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// RunListResponse is a list of runs, newest first.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}
