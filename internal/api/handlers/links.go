package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconcile/internal/api/dto"
	"github.com/eshaffer321/ledger-reconcile/internal/application/linker"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// LinksHandler serves match links and the confirm/reject gate on proposals.
type LinksHandler struct {
	*Base
	linker *linker.Linker
}

// NewLinksHandler creates a new links handler.
func NewLinksHandler(repo storage.Repository, l *linker.Linker) *LinksHandler {
	return &LinksHandler{Base: NewBase(repo), linker: l}
}

// List handles GET /api/links?transaction_id=&state=&limit=.
func (h *LinksHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := storage.LinkFilter{
		TransactionID: r.URL.Query().Get("transaction_id"),
		Limit:         ParseIntParam(r, "limit", 100),
	}
	switch state := ledger.LinkState(r.URL.Query().Get("state")); state {
	case "":
	case ledger.LinkActive, ledger.LinkProposed, ledger.LinkSuperseded:
		filter.State = state
	default:
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("unknown link state "+string(state)))
		return
	}

	links, err := h.repo.ListLinks(r.Context(), filter)
	if err != nil {
		h.WriteError(w, http.StatusInternalServerError, dto.InternalError())
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.LinkListResponse{
		Links: dto.NewLinkResponses(links),
		Count: len(links),
	})
}

// Confirm handles POST /api/links/{id}/confirm.
func (h *LinksHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	link, err := h.linker.ConfirmLink(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.WriteDomainError(w, "link", err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewLinkResponse(link))
}

// Reject handles POST /api/links/{id}/reject.
func (h *LinksHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.linker.RejectLink(r.Context(), id); err != nil {
		h.WriteDomainError(w, "link", err)
		return
	}
	link, err := h.repo.GetLink(r.Context(), id)
	if err != nil {
		h.WriteDomainError(w, "link", err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewLinkResponse(link))
}
