package handlers

import (
	"net/http"

	"github.com/eshaffer321/ledger-reconcile/internal/api/dto"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// ReportsHandler serves what the engine wrote for humans to look at: the
// review queue, variance reports and duplicate groups.
type ReportsHandler struct {
	*Base
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(repo storage.Repository) *ReportsHandler {
	return &ReportsHandler{Base: NewBase(repo)}
}

// Review handles GET /api/review?all=true. Only unresolved items are
// returned by default.
func (h *ReportsHandler) Review(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListReviewItems(r.Context(), !ParseBoolParam(r, "all", false))
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewReviewListResponse(items))
}

// Variances handles GET /api/variances?account=.
func (h *ReportsHandler) Variances(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("account is required"))
		return
	}
	vs, err := h.repo.ListVariances(r.Context(), account)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewVarianceListResponse(account, vs))
}

// Duplicates handles GET /api/duplicates?scope=. An empty scope lists
// every table.
func (h *ReportsHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	var scope ledger.RecordType
	if s := r.URL.Query().Get("scope"); s != "" {
		var ok bool
		if scope, ok = ledger.ParseScope(s); !ok {
			h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("unknown scope "+s))
			return
		}
	}
	groups, err := h.repo.ListDuplicateGroups(r.Context(), scope)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewDuplicateListResponse(groups))
}
