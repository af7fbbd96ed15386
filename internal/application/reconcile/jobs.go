package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// JobStatus represents the current state of a background job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job kinds.
const (
	JobMatch         = "match"
	JobMatchPayments = "match_payments"
)

// Job staleness thresholds
const (
	// DefaultJobStaleThreshold is how long a job can go without progress
	// updates before it is considered hung.
	DefaultJobStaleThreshold = 30 * time.Minute

	// DefaultJobMaxDuration is the longest a job may run before it is
	// marked as failed.
	DefaultJobMaxDuration = 2 * time.Hour
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// JobRequest holds parameters for starting a job.
type JobRequest struct {
	Kind      string // JobMatch or JobMatchPayments
	AccountID string // match only; empty matches every account
	DryRun    bool
}

// scope is the lock key of the request. Keys carry a prefix so no account
// id can collide with the payments or all-accounts scopes.
func (r JobRequest) scope() string {
	if r.Kind == JobMatchPayments {
		return paymentsLock
	}
	if r.AccountID == "" {
		return "accounts:all"
	}
	return accountKey(r.AccountID)
}

// JobProgress holds real-time progress information.
type JobProgress struct {
	CurrentPhase string // "pending", "loading", "matching", "completed", "failed", "cancelled"
	Total        int
	Processed    int
	Applied      int
	Skipped      int
	Errored      int
	LastUpdate   time.Time
}

// Job is a running or finished background run.
type Job struct {
	ID          string
	Request     JobRequest
	Status      JobStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Progress    JobProgress
	Results     []AccountOutcome
	Error       error

	cancelFunc   context.CancelFunc
	lockReleased bool
}

// JobService runs reconciliation passes in the background for the API.
type JobService struct {
	service *Service
	logger  *slog.Logger
	now     func() time.Time
	newID   func(kind string) string

	jobs      map[string]*Job
	jobsMutex sync.RWMutex

	// one job per scope at a time
	scopeLocks map[string]*sync.Mutex
	locksMutex sync.Mutex

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewJobService creates a job service.
func NewJobService(service *Service, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &JobService{
		service:    service,
		logger:     logger,
		now:        time.Now,
		newID:      func(kind string) string { return fmt.Sprintf("%s-%d", kind, time.Now().UnixNano()) },
		jobs:       make(map[string]*Job),
		scopeLocks: make(map[string]*sync.Mutex),
	}
}

// StartJob starts a job asynchronously. The job does not inherit ctx: it
// outlives the HTTP request that started it. Use CancelJob to stop it.
func (s *JobService) StartJob(_ context.Context, req JobRequest) (string, error) {
	if req.Kind != JobMatch && req.Kind != JobMatchPayments {
		return "", fmt.Errorf("invalid job kind: %q", req.Kind)
	}
	if !s.tryLockScope(req.scope()) {
		return "", fmt.Errorf("job already running for %s: %w", req.scope(), ErrAccountBusy)
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	now := s.now()
	job := &Job{
		ID:         s.newID(req.Kind),
		Request:    req,
		Status:     JobPending,
		StartedAt:  now,
		Progress:   JobProgress{CurrentPhase: "pending", LastUpdate: now},
		cancelFunc: cancel,
	}

	s.jobsMutex.Lock()
	s.jobs[job.ID] = job
	s.jobsMutex.Unlock()

	go s.run(jobCtx, job)

	s.logger.Info("job started",
		"job_id", job.ID,
		"kind", req.Kind,
		"account", req.AccountID,
		"dry_run", req.DryRun,
	)
	return job.ID, nil
}

// GetJob returns a copy of a job.
func (s *JobService) GetJob(jobID string) (Job, error) {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return Job{}, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	return *job, nil
}

// ListJobs returns copies of every job, newest first.
func (s *JobService) ListJobs() []Job {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].StartedAt.Equal(jobs[j].StartedAt) {
			return jobs[i].StartedAt.After(jobs[j].StartedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
	return jobs
}

// CancelJob cancels a pending or running job.
func (s *JobService) CancelJob(jobID string) error {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
	}
	if job.Status != JobPending && job.Status != JobRunning {
		return fmt.Errorf("job cannot be cancelled: status=%s", job.Status)
	}

	job.cancelFunc()
	now := s.now()
	job.Status = JobCancelled
	job.CompletedAt = &now
	job.Progress.CurrentPhase = "cancelled"
	job.Progress.LastUpdate = now

	s.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

func (s *JobService) run(ctx context.Context, job *Job) {
	defer s.releaseLock(job)

	s.setStatus(job.ID, JobRunning, "loading")

	opts := Options{
		DryRun: job.Request.DryRun,
		ProgressCallback: func(update ProgressUpdate) {
			s.updateProgress(job.ID, update)
		},
	}

	var (
		outcomes []AccountOutcome
		err      error
	)
	switch {
	case job.Request.Kind == JobMatchPayments:
		var res *Result
		res, err = s.service.MatchPayments(ctx, opts)
		outcomes = []AccountOutcome{{AccountID: ledger.RecordPayment.Scope(), Result: res, Err: err}}
	case job.Request.AccountID != "":
		var res *Result
		res, err = s.service.MatchAccount(ctx, job.Request.AccountID, opts)
		outcomes = []AccountOutcome{{AccountID: job.Request.AccountID, Result: res, Err: err}}
	default:
		// progress of parallel accounts would interleave
		opts.ProgressCallback = nil
		outcomes, err = s.service.MatchAll(ctx, opts)
	}

	if ctx.Err() != nil {
		// already marked by CancelJob or the stale sweep
		return
	}
	if err != nil {
		s.failJob(job.ID, err)
		return
	}
	s.completeJob(job.ID, outcomes)
}

func (s *JobService) setStatus(jobID string, status JobStatus, phase string) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status != JobCancelled {
		job.Status = status
		job.Progress.CurrentPhase = phase
		job.Progress.LastUpdate = s.now()
	}
}

func (s *JobService) updateProgress(jobID string, update ProgressUpdate) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status == JobRunning {
		job.Progress.CurrentPhase = update.Phase
		job.Progress.Total = update.Total
		job.Progress.Processed = update.Processed
		job.Progress.Applied = update.Applied
		job.Progress.Skipped = update.Skipped
		job.Progress.Errored = update.Errored
		job.Progress.LastUpdate = s.now()
	}
}

func (s *JobService) completeJob(jobID string, outcomes []AccountOutcome) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	job, exists := s.jobs[jobID]
	if !exists || job.Status != JobRunning {
		return
	}

	now := s.now()
	job.Status = JobCompleted
	job.CompletedAt = &now
	job.Results = outcomes

	p := JobProgress{CurrentPhase: "completed", LastUpdate: now}
	for _, o := range outcomes {
		if o.Err != nil {
			p.Errored++
			continue
		}
		if o.Result == nil {
			continue
		}
		p.Total += o.Result.Processed
		p.Processed += o.Result.Processed
		p.Applied += o.Result.Applied
		p.Skipped += o.Result.Skipped
		p.Errored += o.Result.ErrorCount
	}
	job.Progress = p

	s.logger.Info("job completed",
		"job_id", jobID,
		"accounts", len(outcomes),
		"processed", p.Processed,
		"applied", p.Applied,
		"skipped", p.Skipped,
		"errors", p.Errored,
	)
}

func (s *JobService) failJob(jobID string, err error) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	if job, exists := s.jobs[jobID]; exists && job.Status == JobRunning {
		now := s.now()
		job.Status = JobFailed
		job.CompletedAt = &now
		job.Error = err
		job.Progress.CurrentPhase = "failed"
		job.Progress.LastUpdate = now
		s.logger.Error("job failed", "job_id", jobID, "error", err)
	}
}

func (s *JobService) tryLockScope(scope string) bool {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if _, exists := s.scopeLocks[scope]; !exists {
		s.scopeLocks[scope] = &sync.Mutex{}
	}
	return s.scopeLocks[scope].TryLock()
}

// releaseLock frees the job's scope exactly once, whether the job finished
// or was swept as stale first.
func (s *JobService) releaseLock(job *Job) {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()
	s.releaseLockLocked(job)
}

// releaseLockLocked must be called with jobsMutex held.
func (s *JobService) releaseLockLocked(job *Job) {
	if job.lockReleased {
		return
	}
	job.lockReleased = true

	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()
	if lock, exists := s.scopeLocks[job.Request.scope()]; exists {
		lock.Unlock()
	}
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (s *JobService) CleanupOldJobs(maxAge time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for id, job := range s.jobs {
		if job.Status == JobPending || job.Status == JobRunning {
			continue
		}
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("cleaned up old jobs", "removed", removed)
	}
	return removed
}

// MarkStaleJobsAsFailed fails pending or running jobs that ran longer than
// maxDuration or reported no progress for staleThreshold, and frees their
// scope.
func (s *JobService) MarkStaleJobsAsFailed(staleThreshold, maxDuration time.Duration) int {
	s.jobsMutex.Lock()
	defer s.jobsMutex.Unlock()

	now := s.now()
	marked := 0
	for id, job := range s.jobs {
		if job.Status != JobRunning && job.Status != JobPending {
			continue
		}

		reason := ""
		switch {
		case now.Sub(job.StartedAt) > maxDuration:
			reason = fmt.Sprintf("exceeded max duration of %v (started %v ago)", maxDuration, now.Sub(job.StartedAt).Round(time.Second))
		case now.Sub(job.Progress.LastUpdate) > staleThreshold:
			reason = fmt.Sprintf("no progress update for %v (threshold: %v)", now.Sub(job.Progress.LastUpdate).Round(time.Second), staleThreshold)
		default:
			continue
		}

		if job.cancelFunc != nil {
			job.cancelFunc()
		}
		job.Status = JobFailed
		job.CompletedAt = &now
		job.Error = fmt.Errorf("job marked as stale: %s", reason)
		job.Progress.CurrentPhase = "failed"
		job.Progress.LastUpdate = now
		s.releaseLockLocked(job)

		s.logger.Warn("marked stale job as failed",
			"job_id", id,
			"kind", job.Request.Kind,
			"reason", reason,
		)
		marked++
	}
	return marked
}

// StartBackgroundCleanup periodically fails stale jobs and drops finished
// jobs older than a day. Call StopBackgroundCleanup to stop it.
func (s *JobService) StartBackgroundCleanup(checkInterval time.Duration) {
	s.cleanupStop = make(chan struct{})
	s.cleanupDone = make(chan struct{})

	go func() {
		defer close(s.cleanupDone)

		ticker := time.NewTicker(checkInterval)
		defer ticker.Stop()

		s.logger.Info("background job cleanup started",
			"check_interval", checkInterval,
			"stale_threshold", DefaultJobStaleThreshold,
			"max_duration", DefaultJobMaxDuration,
		)

		for {
			select {
			case <-s.cleanupStop:
				s.logger.Info("background job cleanup stopped")
				return
			case <-ticker.C:
				if n := s.MarkStaleJobsAsFailed(DefaultJobStaleThreshold, DefaultJobMaxDuration); n > 0 {
					s.logger.Info("marked stale jobs as failed", "count", n)
				}
				s.CleanupOldJobs(24 * time.Hour)
			}
		}
	}()
}

// StopBackgroundCleanup stops the cleanup goroutine and waits for it.
func (s *JobService) StopBackgroundCleanup() {
	if s.cleanupStop == nil {
		return
	}
	close(s.cleanupStop)
	<-s.cleanupDone
	s.cleanupStop = nil
}

// IsJobStale reports whether a pending or running job has exceeded either
// threshold.
func (s *JobService) IsJobStale(jobID string, staleThreshold, maxDuration time.Duration) bool {
	s.jobsMutex.RLock()
	defer s.jobsMutex.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists || (job.Status != JobRunning && job.Status != JobPending) {
		return false
	}
	now := s.now()
	return now.Sub(job.StartedAt) > maxDuration || now.Sub(job.Progress.LastUpdate) > staleThreshold
}
