package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eshaffer321/ledger-reconcile/internal/api/dto"
	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
)

// JobsHandler handles async match jobs.
type JobsHandler struct {
	*Base
	jobs *reconcile.JobService
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobs *reconcile.JobService) *JobsHandler {
	return &JobsHandler{
		Base: &Base{},
		jobs: jobs,
	}
}

// Start handles POST /api/jobs - starts a match job.
func (h *JobsHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req dto.StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid request body"))
		return
	}

	switch req.Kind {
	case "":
		req.Kind = reconcile.JobMatch
	case reconcile.JobMatch:
	case reconcile.JobMatchPayments:
		if req.AccountID != "" {
			h.WriteError(w, http.StatusBadRequest, dto.ValidationError("match_payments does not take an account"))
			return
		}
	default:
		h.WriteError(w, http.StatusBadRequest, dto.ValidationError("kind must be match or match_payments"))
		return
	}

	jobID, err := h.jobs.StartJob(r.Context(), reconcile.JobRequest{
		Kind:      req.Kind,
		AccountID: req.AccountID,
		DryRun:    !req.Write,
	})
	if err != nil {
		h.WriteDomainError(w, "job", err)
		return
	}

	h.WriteJSON(w, http.StatusAccepted, dto.StartJobResponse{
		JobID:   jobID,
		Status:  string(reconcile.JobPending),
		Message: "job started",
	})
}

// List handles GET /api/jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.ListJobs()
	response := dto.JobListResponse{
		Jobs:  make([]dto.JobResponse, 0, len(jobs)),
		Count: len(jobs),
	}
	for _, job := range jobs {
		response.Jobs = append(response.Jobs, dto.NewJobResponse(job))
	}
	h.WriteJSON(w, http.StatusOK, response)
}

// Get handles GET /api/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(chi.URLParam(r, "id"))
	if err != nil {
		h.WriteDomainError(w, "job", err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewJobResponse(job))
}

// Cancel handles POST /api/jobs/{id}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.jobs.CancelJob(id); err != nil {
		if job, getErr := h.jobs.GetJob(id); getErr == nil {
			h.WriteError(w, http.StatusConflict, dto.ConflictError("job is "+string(job.Status)))
			return
		}
		h.WriteDomainError(w, "job", err)
		return
	}
	job, err := h.jobs.GetJob(id)
	if err != nil {
		h.WriteDomainError(w, "job", err)
		return
	}
	h.WriteJSON(w, http.StatusOK, dto.NewJobResponse(job))
}
