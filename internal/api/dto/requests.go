package dto

// StartJobRequest is the body of POST /api/jobs. Jobs are dry runs unless
// Write is set.
type StartJobRequest struct {
	Kind      string `json:"kind"`       // "match" or "match_payments"
	AccountID string `json:"account_id"` // empty matches every account
	Write     bool   `json:"write"`
}

// DisputeRequest is the body of POST /api/transactions/{id}/dispute.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// TransactionListParams represents query parameters for listing transactions.
type TransactionListParams struct {
	AccountID string
	Status    string
	Limit     int
	Offset    int
}

// DefaultTransactionListParams returns default values for transaction list params.
func DefaultTransactionListParams() TransactionListParams {
	return TransactionListParams{Limit: 100}
}
