package reconcile

import (
	"context"
	"fmt"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// paymentsLock serialises payment runs. They all write charter balances.
var paymentsLock = tableKey(ledger.RecordPayment)

// MatchPayments ties payments that carry no reserve number to open
// charters whose outstanding balance they settle. Confidence at or above
// the auto-apply threshold is assigned in write mode; anything lower goes
// to the review queue.
func (s *Service) MatchPayments(ctx context.Context, opts Options) (*Result, error) {
	if !s.tryLock(paymentsLock) {
		return nil, fmt.Errorf("payments: %w", ErrAccountBusy)
	}
	defer s.unlock(paymentsLock)

	scope := ledger.RecordPayment.Scope()
	result := &Result{AccountID: scope, DryRun: opts.DryRun, Decisions: make([]Decision, 0)}
	result.RunID = s.startRun(ctx, storage.RunMatchPayments, scope, opts.DryRun)

	err := s.matchPayments(ctx, opts, result)

	summary := storage.RunSummary{
		Status:    storage.RunStatusCompleted,
		Processed: result.Processed,
		Applied:   result.Applied,
		Proposed:  result.Proposed,
		Skipped:   result.Skipped,
		Errors:    result.ErrorCount,
	}
	if err != nil {
		summary.Status = storage.RunStatusFailed
		summary.Notes = err.Error()
	}
	s.completeRun(ctx, result.RunID, summary)
	return result, err
}

func (s *Service) matchPayments(ctx context.Context, opts Options, result *Result) error {
	payments, err := s.repo.ListPayments(ctx, storage.RecordFilter{
		WithoutReserve: true,
		Statuses:       []ledger.Status{ledger.StatusUnmatched, ledger.StatusCandidateProposed, ledger.StatusLinked},
	})
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	charters, err := s.repo.ListOpenCharters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list charters: %w", err)
	}

	all, err := s.repo.ListPayments(ctx, storage.RecordFilter{})
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	result.Before = countPayments(all)
	s.logger.Info("matching payments", "payments", len(payments), "open_charters", len(charters), "dry_run", opts.DryRun)
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(result.progress("loading", len(payments)))
	}

	pool := make([]matcher.Target, len(charters))
	for i, c := range charters {
		pool[i] = matcher.TargetFromCharter(c)
	}
	settled := make(map[string]bool)

	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Processed++

		sub := matcher.SubjectFromPayment(p)
		best, ok := s.scorer.Best(sub, s.matcher.FindCandidates(sub, pool, settled))
		d := Decision{RecordID: p.ID, Amount: p.Amount, Action: ActionSkip, Method: ledger.MethodNone}

		switch {
		case !ok:
			d.Reason = "no charter with a matching balance"
			result.Skipped++

		case !best.AutoApply():
			d.TargetType = ledger.RecordCharter
			d.TargetIDs = []string{best.Target.Ref.ID}
			d.Confidence = best.Confidence
			d.Method = best.Method
			d.Action = ActionPropose
			d.Reason = "below auto-apply threshold"
			if !opts.DryRun {
				err := s.repo.AddReviewItem(ctx, &ledger.ReviewItem{
					Kind:      ledger.ReviewMatch,
					Scope:     ledger.RecordPayment,
					RecordIDs: []string{p.ID, best.Target.Ref.ID},
					Reason:    fmt.Sprintf("payment may belong to charter %s (confidence %d)", best.Target.Ref.ID, best.Confidence),
				})
				d = s.finish(d, err)
			}
			if d.Action == ActionError {
				result.addError(fmt.Errorf("payment %s: %s", p.ID, d.Reason))
			} else {
				result.Proposed++
			}

		default:
			d.TargetType = ledger.RecordCharter
			d.TargetIDs = []string{best.Target.Ref.ID}
			d.Confidence = best.Confidence
			d.Method = best.Method
			d.Action = ActionApply
			if !opts.DryRun {
				d = s.finish(d, s.linker.AssignReserve(ctx, p, best.Target.Ref.ID, best.Confidence))
			}
			if d.Action == ActionError {
				result.addError(fmt.Errorf("payment %s: %s", p.ID, d.Reason))
				break
			}
			result.Applied++
			settle(pool, settled, best.Target.Ref.ID, p)
		}

		result.Decisions = append(result.Decisions, d)
	}

	result.After = result.Before
	if !opts.DryRun {
		if all, err = s.repo.ListPayments(ctx, storage.RecordFilter{}); err != nil {
			return fmt.Errorf("failed to list payments: %w", err)
		}
		result.After = countPayments(all)
	}
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(result.progress("completed", len(payments)))
	}
	return nil
}

// settle lowers the in-memory balance of a charter after a payment was
// assigned to it, and removes the charter once nothing is owed.
func settle(pool []matcher.Target, settled map[string]bool, reserve string, p *ledger.Payment) {
	for i := range pool {
		if pool[i].Ref.ID != reserve {
			continue
		}
		left := pool[i].Amount.Sub(p.Amount)
		pool[i].Amount = left
		pool[i].Remaining.Decimal = left
		if !left.IsPositive() {
			settled[pool[i].Key()] = true
		}
		return
	}
}

func countPayments(payments []*ledger.Payment) StatusCounts {
	counts := make(StatusCounts)
	for _, p := range payments {
		counts[p.Status]++
	}
	return counts
}
