package handlers

import (
	"net/http"

	"github.com/eshaffer321/ledger-reconcile/internal/api/dto"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	*Base
}

// NewHealthHandler creates a health handler. With a nil repository it
// reports ok without touching storage.
func NewHealthHandler(repo storage.Repository) *HealthHandler {
	return &HealthHandler{Base: NewBase(repo)}
}

// ServeHTTP handles the health check request. Storage is checked with a
// one-row run listing; a failing check answers 503.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := dto.NewHealthResponse()
	if h.repo != nil {
		if _, err := h.repo.ListRuns(r.Context(), 1); err != nil {
			response.Status = "unavailable"
			h.WriteJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}
	h.WriteJSON(w, http.StatusOK, response)
}
