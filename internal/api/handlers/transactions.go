package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconcile/internal/api/dto"
	"github.com/eshaffer321/ledger-reconcile/internal/application/linker"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// TransactionsHandler serves bank transactions and the human gate
// operations on them.
type TransactionsHandler struct {
	*Base
	linker *linker.Linker
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(repo storage.Repository, l *linker.Linker) *TransactionsHandler {
	return &TransactionsHandler{Base: NewBase(repo), linker: l}
}

// List handles GET /api/transactions?account=&status=&limit=&offset=.
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	params := dto.DefaultTransactionListParams()
	params.AccountID = r.URL.Query().Get("account")
	params.Status = r.URL.Query().Get("status")
	params.Limit = ParseIntParam(r, "limit", params.Limit)
	params.Offset = ParseIntParam(r, "offset", params.Offset)

	if params.Limit < 1 || params.Limit > 1000 {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("limit must be between 1 and 1000"))
		return
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	filter := storage.TransactionFilter{
		AccountID: params.AccountID,
		Limit:     params.Limit,
		Offset:    params.Offset,
	}
	if params.Status != "" {
		status, err := ledger.ParseStatus(params.Status)
		if err != nil {
			h.WriteError(w, http.StatusBadRequest, dto.BadRequestError(err.Error()))
			return
		}
		filter.Statuses = []ledger.Status{status}
	}

	txs, err := h.repo.ListTransactions(r.Context(), filter)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}

	response := dto.TransactionListResponse{
		Transactions: make([]dto.TransactionResponse, 0, len(txs)),
		Count:        len(txs),
		Limit:        params.Limit,
		Offset:       params.Offset,
	}
	for _, tx := range txs {
		response.Transactions = append(response.Transactions, dto.NewTransactionResponse(tx))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Get handles GET /api/transactions/{id}, including every link the
// transaction ever had.
func (h *TransactionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		h.WriteDomainError(w, "transaction", err)
		return
	}
	links, err := h.repo.LinksForTransaction(r.Context(), id)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.TransactionDetailResponse{
		TransactionResponse: dto.NewTransactionResponse(tx),
		Links:               dto.NewLinkResponses(links),
	})
}

// Dispute handles POST /api/transactions/{id}/dispute. The body is optional.
func (h *TransactionsHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req dto.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}
	h.transition(w, r, func(id string) error {
		return h.linker.Dispute(r.Context(), id, req.Reason)
	})
}

// Reopen handles POST /api/transactions/{id}/reopen.
func (h *TransactionsHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string) error {
		return h.linker.Reopen(r.Context(), id)
	})
}

// Verify handles POST /api/transactions/{id}/verify.
func (h *TransactionsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id string) error {
		return h.linker.Verify(r.Context(), id)
	})
}

// transition runs op and answers with the transaction as it is afterwards.
func (h *TransactionsHandler) transition(w http.ResponseWriter, r *http.Request, op func(id string) error) {
	id := chi.URLParam(r, "id")
	if err := op(id); err != nil {
		h.WriteDomainError(w, "transaction", err)
		return
	}
	tx, err := h.repo.GetTransaction(r.Context(), id)
	if err != nil {
		h.WriteDomainError(w, "transaction", err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewTransactionResponse(tx))
}
