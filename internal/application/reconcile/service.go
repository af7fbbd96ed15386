// Package reconcile runs the matching, payment, audit, dedupe and import
// passes over the ledger. Work inside one account is serialised; separate
// accounts run in parallel.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/eshaffer321/ledger-reconcile/internal/application/linker"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/audit"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/dedupe"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// ErrAccountBusy is returned when another run already holds the account.
var ErrAccountBusy = errors.New("account is already being reconciled")

// Config holds configuration for every pass.
type Config struct {
	Matcher        matcher.Config
	Linker         linker.Config
	Dedupe         dedupe.Config
	AuditTolerance decimal.Decimal
	Concurrency    int // accounts processed in parallel (default: 4)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Matcher:        matcher.DefaultConfig(),
		Linker:         linker.DefaultConfig(),
		Dedupe:         dedupe.DefaultConfig(),
		AuditTolerance: audit.DefaultTolerance,
		Concurrency:    4,
	}
}

// Service runs reconciliation passes.
type Service struct {
	repo       storage.Repository
	linker     *linker.Linker
	matcher    *matcher.Matcher
	scorer     *scorer.Scorer
	classifier *dedupe.Classifier
	auditor    *audit.Auditor
	config     Config
	logger     *slog.Logger

	// Account-level locking (only one run per account at a time)
	accountLocks map[string]*sync.Mutex
	locksMutex   sync.Mutex
}

// NewService creates a reconciliation service.
func NewService(repo storage.Repository, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Service{
		repo:         repo,
		linker:       linker.NewLinker(repo, config.Linker, logger.With("component", "linker")),
		matcher:      matcher.NewMatcher(config.Matcher),
		scorer:       scorer.NewScorer(scorer.FromMatcher(config.Matcher)),
		classifier:   dedupe.NewClassifier(config.Dedupe),
		auditor:      audit.NewAuditor(repo, config.AuditTolerance, logger.With("component", "audit")),
		config:       config,
		logger:       logger,
		accountLocks: make(map[string]*sync.Mutex),
	}
}

// Linker exposes the link writer for the human-gate operations.
func (s *Service) Linker() *linker.Linker {
	return s.linker
}

// Lock keys are namespaced so an account id can never name a table lock.
func accountKey(accountID string) string { return "account:" + accountID }

func tableKey(t ledger.RecordType) string { return "table:" + t.Scope() }

// tryLockAccount attempts to acquire the lock for an account.
func (s *Service) tryLockAccount(accountID string) bool {
	return s.tryLock(accountKey(accountID))
}

// unlockAccount releases the lock for an account.
func (s *Service) unlockAccount(accountID string) {
	s.unlock(accountKey(accountID))
}

func (s *Service) tryLock(key string) bool {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if _, exists := s.accountLocks[key]; !exists {
		s.accountLocks[key] = &sync.Mutex{}
	}
	return s.accountLocks[key].TryLock()
}

func (s *Service) unlock(key string) {
	s.locksMutex.Lock()
	defer s.locksMutex.Unlock()

	if lock, exists := s.accountLocks[key]; exists {
		lock.Unlock()
	}
}

// AccountOutcome is the result of one account inside RunAccounts.
type AccountOutcome struct {
	AccountID string
	Result    *Result
	Err       error
}

// AccountFunc processes one account.
type AccountFunc func(ctx context.Context, accountID string) (*Result, error)

// RunAccounts queues every account and runs fn with at most
// Config.Concurrency accounts in flight. Each account is handled by exactly
// one worker, and a failing account does not stop the others. Outcomes come
// back in account order.
func (s *Service) RunAccounts(ctx context.Context, accounts []string, fn AccountFunc) []AccountOutcome {
	outcomes := make([]AccountOutcome, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for i, accountID := range accounts {
		g.Go(func() error {
			res, err := fn(gctx, accountID)
			outcomes[i] = AccountOutcome{AccountID: accountID, Result: res, Err: err}
			if err != nil {
				s.logger.Error("account run failed", "account_id", accountID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].AccountID < outcomes[j].AccountID
	})
	return outcomes
}

// MatchAll matches every account in parallel.
func (s *Service) MatchAll(ctx context.Context, opts Options) ([]AccountOutcome, error) {
	accounts, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return s.RunAccounts(ctx, accounts, func(ctx context.Context, accountID string) (*Result, error) {
		return s.MatchAccount(ctx, accountID, opts)
	}), nil
}

// statusCounts tallies the statuses of an account's transactions.
func (s *Service) statusCounts(ctx context.Context, accountID string) (StatusCounts, error) {
	txs, err := s.repo.ListAccountTransactions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	counts := make(StatusCounts)
	for _, tx := range txs {
		counts[tx.Status]++
	}
	return counts, nil
}

// startRun records a run. Failing to record history never blocks the run.
func (s *Service) startRun(ctx context.Context, kind, scope string, dryRun bool) int64 {
	id, err := s.repo.StartRun(ctx, kind, scope, dryRun)
	if err != nil {
		s.logger.Warn("failed to record run start", "kind", kind, "scope", scope, "error", err)
		return 0
	}
	return id
}

func (s *Service) completeRun(ctx context.Context, runID int64, summary storage.RunSummary) {
	if runID == 0 {
		return
	}
	if err := s.repo.CompleteRun(ctx, runID, summary); err != nil {
		s.logger.Warn("failed to record run completion", "run_id", runID, "error", err)
	}
}
