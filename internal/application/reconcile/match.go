package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/application/linker"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/allocator"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/matcher"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

var openStatuses = []ledger.Status{ledger.StatusUnmatched, ledger.StatusCandidateProposed}

// pools holds the candidate targets for one account run.
type pools struct {
	debits   []matcher.Target // receipts with a positive gross
	credits  []matcher.Target // payments and refund receipts
	children map[string][]*ledger.Receipt
	used     map[string]bool
}

// MatchAccount matches every open transaction of an account against open
// receipts and payments. In dry-run mode nothing is written and each
// decision reports what would have happened.
func (s *Service) MatchAccount(ctx context.Context, accountID string, opts Options) (*Result, error) {
	if !s.tryLockAccount(accountID) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrAccountBusy)
	}
	defer s.unlockAccount(accountID)

	result := &Result{AccountID: accountID, DryRun: opts.DryRun, Decisions: make([]Decision, 0)}
	result.RunID = s.startRun(ctx, storage.RunMatch, accountID, opts.DryRun)

	err := s.matchAccount(ctx, accountID, opts, result)

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

func (s *Service) matchAccount(ctx context.Context, accountID string, opts Options, result *Result) error {
	logger := s.logger.With("account", accountID, "dry_run", opts.DryRun)

	before, err := s.statusCounts(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to count statuses: %w", err)
	}
	result.Before = before

	txs, err := s.repo.ListTransactions(ctx, storage.TransactionFilter{AccountID: accountID, Statuses: openStatuses})
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}
	logger.Info("matching account", "open_transactions", len(txs))

	if opts.ProgressCallback != nil {
		opts.ProgressCallback(result.progress("loading", len(txs)))
	}
	if len(txs) == 0 {
		result.After = before
		return nil
	}

	p, err := s.loadPools(ctx, txs)
	if err != nil {
		return err
	}

	for i, tx := range txs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Processed++

		d := s.matchTransaction(ctx, tx, p, opts.DryRun)
		switch d.Action {
		case ActionApply, ActionSplit:
			result.Applied++
		case ActionPropose:
			result.Proposed++
		case ActionSkip:
			result.Skipped++
		case ActionError:
			result.addError(fmt.Errorf("transaction %s: %s", tx.ID, d.Reason))
		}
		result.Decisions = append(result.Decisions, d)

		if opts.ProgressCallback != nil && ((i+1)%10 == 0 || i+1 == len(txs)) {
			opts.ProgressCallback(result.progress("matching", len(txs)))
		}
	}

	after, err := s.statusCounts(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to count statuses: %w", err)
	}
	result.After = after

	logger.Info("account matched",
		"processed", result.Processed,
		"applied", result.Applied,
		"proposed", result.Proposed,
		"skipped", result.Skipped,
		"errors", result.ErrorCount,
	)
	if opts.ProgressCallback != nil {
		opts.ProgressCallback(result.progress("completed", len(txs)))
	}
	return nil
}

// loadPools reads receipts and payments around the transactions' date
// range. A parent receipt whose children are all open stands in for them
// and its children leave the pool; once any child is linked the parent
// leaves instead.
func (s *Service) loadPools(ctx context.Context, txs []*ledger.BankTransaction) (*pools, error) {
	from, to := txs[0].Date, txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(from) {
			from = tx.Date
		}
		if tx.Date.After(to) {
			to = tx.Date
		}
	}
	window := time.Duration(s.config.Matcher.DateWindowDays) * 24 * time.Hour
	filter := storage.RecordFilter{From: from.Add(-window), To: to.Add(window)}

	receipts, err := s.repo.ListReceipts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	filter.Statuses = openStatuses
	payments, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	used, err := s.repo.ActiveTargetKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked targets: %w", err)
	}

	p := &pools{children: make(map[string][]*ledger.Receipt), used: used}

	byID := make(map[string]*ledger.Receipt, len(receipts))
	for _, r := range receipts {
		byID[r.ID] = r
	}
	hidden := make(map[string]bool)
	for _, r := range receipts {
		parent := byID[r.ParentReceiptID]
		if parent == nil || hidden[parent.ID] || p.children[parent.ID] != nil {
			continue
		}
		kids, err := s.repo.ListChildReceipts(ctx, parent.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list children of %s: %w", parent.ID, err)
		}
		hidden[parent.ID] = true
		if !parent.Status.IsOpen() || !allOpen(kids) {
			continue
		}
		hidden[parent.ID] = false
		p.children[parent.ID] = kids
		for _, k := range kids {
			hidden[k.ID] = true
		}
	}

	for _, r := range receipts {
		if hidden[r.ID] || !r.Status.IsOpen() || r.GrossAmount.IsZero() {
			continue
		}
		if r.GrossAmount.IsNegative() {
			p.credits = append(p.credits, matcher.TargetFromReceipt(r))
		} else {
			p.debits = append(p.debits, matcher.TargetFromReceipt(r))
		}
	}
	for _, pay := range payments {
		p.credits = append(p.credits, matcher.TargetFromPayment(pay))
	}
	return p, nil
}

func allOpen(receipts []*ledger.Receipt) bool {
	for _, r := range receipts {
		if !r.Status.IsOpen() {
			return false
		}
	}
	return true
}

func (p *pools) forTransaction(tx *ledger.BankTransaction) []matcher.Target {
	if tx.Amount().IsNegative() {
		return p.debits
	}
	return p.credits
}

// matchTransaction tries, in order: the best candidate at or above the
// auto-apply threshold, a split across several targets, and finally a
// low-confidence proposal for a human to confirm.
func (s *Service) matchTransaction(ctx context.Context, tx *ledger.BankTransaction, p *pools, dryRun bool) Decision {
	sub := matcher.SubjectFromTransaction(tx)
	pool := p.forTransaction(tx)
	d := Decision{RecordID: tx.ID, Amount: tx.Magnitude(), Action: ActionSkip, Method: ledger.MethodNone}

	cands := s.matcher.FindCandidates(sub, pool, p.used)
	best, ok := s.scorer.Best(sub, cands)
	if ok && best.AutoApply() {
		if kids := p.children[best.Target.Ref.ID]; best.Target.Ref.Type == ledger.RecordReceipt && len(kids) > 0 {
			return s.applyChildren(ctx, tx, best, kids, p, dryRun)
		}
		return s.applyOne(ctx, tx, best, p, dryRun)
	}

	if split := s.matcher.FindSplit(sub, pool, p.used); split != nil {
		return s.applySplit(ctx, tx, split, p, dryRun)
	}

	if !ok {
		fuzzy := s.matcher.FindFuzzyCandidates(sub, pool, p.used)
		best, ok = s.scorer.Best(sub, fuzzy)
	}
	if !ok {
		d.Reason = "no candidate"
		return d
	}
	return s.propose(ctx, tx, best, dryRun)
}

func (s *Service) applyOne(ctx context.Context, tx *ledger.BankTransaction, best scorer.Scored, p *pools, dryRun bool) Decision {
	d := Decision{
		RecordID:   tx.ID,
		TargetType: best.Target.Ref.Type,
		TargetIDs:  []string{best.Target.Ref.ID},
		Amount:     tx.Magnitude(),
		Confidence: best.Confidence,
		Method:     best.Method,
		Action:     ActionApply,
	}
	p.used[best.Target.Key()] = true
	if dryRun {
		return d
	}

	err := s.withStaleRetry(ctx, tx, func(cur *ledger.BankTransaction) error {
		_, err := s.linker.ApplyMatch(ctx, cur, best.Target.Ref, best.Confidence, best.Method)
		return err
	})
	return s.finish(d, err)
}

func (s *Service) applySplit(ctx context.Context, tx *ledger.BankTransaction, split *matcher.Split, p *pools, dryRun bool) Decision {
	sub := matcher.SubjectFromTransaction(tx)
	allocs := make([]linker.Allocation, 0, len(split.Parts))
	for _, part := range split.Parts {
		// each part is scored on its date alone; the amounts are settled by the sum
		part.AmountDelta = decimal.Zero
		conf, _ := s.scorer.Score(sub, part)
		if conf < scorer.AutoApplyThreshold {
			conf = scorer.ConfidenceWindowed
		}
		allocs = append(allocs, linker.Allocation{Target: part.Target.Ref, Amount: part.Target.Amount, Confidence: conf})
	}
	return s.writeSplit(ctx, tx, allocs, p, dryRun, fmt.Sprintf("%d records sum to %s", len(allocs), split.Total.StringFixed(2)))
}

// applyChildren spreads the transaction across the children of a parent
// receipt in proportion to their gross amounts.
func (s *Service) applyChildren(ctx context.Context, tx *ledger.BankTransaction, best scorer.Scored, kids []*ledger.Receipt, p *pools, dryRun bool) Decision {
	items := make([]allocator.Item, len(kids))
	for i, k := range kids {
		items[i] = allocator.Item{ID: k.ID, Weight: k.GrossAmount.Abs()}
	}
	res, err := allocator.Allocate(items, tx.Magnitude())
	if err != nil {
		return s.finish(Decision{RecordID: tx.ID, Amount: tx.Magnitude(), Action: ActionSplit}, err)
	}

	allocs := make([]linker.Allocation, len(res.Allocations))
	for i, a := range res.Allocations {
		allocs[i] = linker.Allocation{
			Target:     ledger.RecordRef{Type: ledger.RecordReceipt, ID: a.ID},
			Amount:     a.Amount,
			Confidence: best.Confidence,
		}
	}
	p.used[best.Target.Key()] = true
	return s.writeSplit(ctx, tx, allocs, p, dryRun, "allocated across children of receipt "+best.Target.Ref.ID)
}

func (s *Service) writeSplit(ctx context.Context, tx *ledger.BankTransaction, allocs []linker.Allocation, p *pools, dryRun bool, reason string) Decision {
	d := Decision{
		RecordID:   tx.ID,
		TargetType: allocs[0].Target.Type,
		Amount:     tx.Magnitude(),
		Confidence: allocs[0].Confidence,
		Method:     ledger.MethodSplit,
		Action:     ActionSplit,
		Reason:     reason,
	}
	for _, a := range allocs {
		d.TargetIDs = append(d.TargetIDs, a.Target.ID)
		if a.Confidence < d.Confidence {
			d.Confidence = a.Confidence
		}
		p.used[matcher.Key(a.Target.Type, a.Target.ID)] = true
	}
	if dryRun {
		return d
	}

	err := s.withStaleRetry(ctx, tx, func(cur *ledger.BankTransaction) error {
		_, err := s.linker.ApplySplit(ctx, cur, allocs)
		return err
	})
	return s.finish(d, err)
}

// propose records a sub-threshold candidate as a proposed link and queues
// it for review. The target stays in the pool for better matches.
func (s *Service) propose(ctx context.Context, tx *ledger.BankTransaction, best scorer.Scored, dryRun bool) Decision {
	d := Decision{
		RecordID:   tx.ID,
		TargetType: best.Target.Ref.Type,
		TargetIDs:  []string{best.Target.Ref.ID},
		Amount:     tx.Magnitude(),
		Confidence: best.Confidence,
		Method:     best.Method,
		Action:     ActionPropose,
		Reason:     fmt.Sprintf("%d days apart, text similarity %.2f", best.DateDelta, best.Similarity),
	}

	if tx.Status == ledger.StatusCandidateProposed {
		existing, err := s.repo.LinksForTransaction(ctx, tx.ID, ledger.LinkProposed)
		if err != nil {
			return s.finish(d, err)
		}
		for _, e := range existing {
			if e.TargetType == best.Target.Ref.Type && e.TargetID == best.Target.Ref.ID {
				d.Action = ActionSkip
				d.Reason = "already proposed as link " + e.ID
				return d
			}
		}
	}
	if dryRun {
		return d
	}

	err := s.withStaleRetry(ctx, tx, func(cur *ledger.BankTransaction) error {
		_, err := s.linker.ProposeMatch(ctx, cur, best.Target.Ref, best.Confidence, best.Method, d.Reason)
		return err
	})
	return s.finish(d, err)
}

// withStaleRetry runs fn once, and once more with a fresh copy of tx when
// the first attempt lost an optimistic version race.
func (s *Service) withStaleRetry(ctx context.Context, tx *ledger.BankTransaction, fn func(*ledger.BankTransaction) error) error {
	err := fn(tx)
	if !errors.Is(err, ledger.ErrStaleVersion) {
		return err
	}

	fresh, ferr := s.repo.GetTransaction(ctx, tx.ID)
	if ferr != nil {
		return fmt.Errorf("refetch after stale version: %w", ferr)
	}
	if !fresh.Status.IsOpen() {
		return fmt.Errorf("transaction %s moved to %s while matching: %w", tx.ID, fresh.Status, ledger.ErrStaleVersion)
	}
	s.logger.Debug("retrying after stale version", "transaction_id", tx.ID, "version", fresh.Version)
	*tx = *fresh
	return fn(tx)
}

func (s *Service) finish(d Decision, err error) Decision {
	if err != nil {
		d.Action = ActionError
		d.Reason = err.Error()
		return d
	}
	d.Written = true
	return d
}
