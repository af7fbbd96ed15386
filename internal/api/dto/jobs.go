package dto

import (
	"time"

	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
)

// StartJobResponse is returned when a job is accepted.
type StartJobResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobProgressResponse mirrors reconcile.JobProgress.
type JobProgressResponse struct {
	CurrentPhase string    `json:"current_phase"`
	Total        int       `json:"total"`
	Processed    int       `json:"processed"`
	Applied      int       `json:"applied"`
	Skipped      int       `json:"skipped"`
	Errored      int       `json:"errored"`
	LastUpdate   time.Time `json:"last_update"`
}

// JobAccountResponse is the outcome of one account inside a job.
type JobAccountResponse struct {
	AccountID string   `json:"account_id"`
	Processed int      `json:"processed"`
	Applied   int      `json:"applied"`
	Proposed  int      `json:"proposed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// JobResponse represents an async job.
type JobResponse struct {
	JobID       string               `json:"job_id"`
	Kind        string               `json:"kind"`
	AccountID   string               `json:"account_id,omitempty"`
	DryRun      bool                 `json:"dry_run"`
	Status      string               `json:"status"`
	StartedAt   time.Time            `json:"started_at"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
	Progress    JobProgressResponse  `json:"progress"`
	Accounts    []JobAccountResponse `json:"accounts,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// NewJobResponse converts a job snapshot.
func NewJobResponse(job reconcile.Job) JobResponse {
	resp := JobResponse{
		JobID:       job.ID,
		Kind:        job.Request.Kind,
		AccountID:   job.Request.AccountID,
		DryRun:      job.Request.DryRun,
		Status:      string(job.Status),
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Progress: JobProgressResponse{
			CurrentPhase: job.Progress.CurrentPhase,
			Total:        job.Progress.Total,
			Processed:    job.Progress.Processed,
			Applied:      job.Progress.Applied,
			Skipped:      job.Progress.Skipped,
			Errored:      job.Progress.Errored,
			LastUpdate:   job.Progress.LastUpdate,
		},
	}
	if job.Error != nil {
		resp.Error = job.Error.Error()
	}
	for _, o := range job.Results {
		acc := JobAccountResponse{AccountID: o.AccountID}
		if o.Err != nil {
			acc.Errors = append(acc.Errors, o.Err.Error())
		}
		if o.Result != nil {
			acc.Processed = o.Result.Processed
			acc.Applied = o.Result.Applied
			acc.Proposed = o.Result.Proposed
			acc.Skipped = o.Result.Skipped
			for _, err := range o.Result.Errors {
				acc.Errors = append(acc.Errors, err.Error())
			}
		}
		resp.Accounts = append(resp.Accounts, acc)
	}
	return resp
}

// JobListResponse is a list of jobs, newest first.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}
