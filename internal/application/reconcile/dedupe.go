package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/dedupe"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// Dedupe classifies look-alike records of one table. Bank transactions are
// classified per account, and accountID narrows the run to one account.
// In write mode every new group is resolved through the link writer;
// groups recorded by an earlier run are left alone.
func (s *Service) Dedupe(ctx context.Context, scope ledger.RecordType, accountID string, opts Options) (*DedupeResult, error) {
	result := &DedupeResult{Scope: scope, DryRun: opts.DryRun}

	runScope := scope.Scope()
	if accountID != "" {
		runScope += ":" + accountID
	}
	result.RunID = s.startRun(ctx, storage.RunDedupe, runScope, opts.DryRun)

	err := s.dedupe(ctx, scope, accountID, opts, result)

	summary := storage.RunSummary{
		Status:    storage.RunStatusCompleted,
		Processed: result.Scanned,
		Applied:   result.Resolved,
		Proposed:  len(result.Review),
		Skipped:   result.Unchanged,
		Errors:    result.ErrorCount,
	}
	if err != nil {
		summary.Status = storage.RunStatusFailed
		summary.Notes = err.Error()
	}
	s.completeRun(ctx, result.RunID, summary)
	return result, err
}

func (s *Service) dedupe(ctx context.Context, scope ledger.RecordType, accountID string, opts Options, result *DedupeResult) error {
	known, err := s.knownGroups(ctx, scope)
	if err != nil {
		return err
	}

	switch scope {
	case ledger.RecordTransaction:
		accounts := []string{accountID}
		if accountID == "" {
			if accounts, err = s.repo.ListAccounts(ctx); err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}
		}
		for _, acct := range accounts {
			if err := s.dedupeAccount(ctx, acct, known, opts, result); err != nil {
				return err
			}
		}
		return nil

	case ledger.RecordReceipt, ledger.RecordPayment:
		if !s.tryLock(tableKey(scope)) {
			return fmt.Errorf("%s: %w", scope.Scope(), ErrAccountBusy)
		}
		defer s.unlock(tableKey(scope))

		records, err := s.loadTargets(ctx, scope)
		if err != nil {
			return err
		}
		s.resolveGroups(ctx, scope, records, known, opts, result)
		return nil
	}
	return fmt.Errorf("cannot dedupe %q: %w", scope, ledger.ErrInvalidRecord)
}

func (s *Service) dedupeAccount(ctx context.Context, accountID string, known map[string]bool, opts Options, result *DedupeResult) error {
	if !s.tryLockAccount(accountID) {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountBusy)
	}
	defer s.unlockAccount(accountID)

	txs, err := s.repo.ListAccountTransactions(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to list transactions for %s: %w", accountID, err)
	}
	records := make([]dedupe.Record, 0, len(txs))
	for _, tx := range txs {
		if tx.Status == ledger.StatusExcluded {
			continue
		}
		records = append(records, dedupe.FromTransaction(tx))
	}
	s.resolveGroups(ctx, ledger.RecordTransaction, records, known, opts, result)
	return nil
}

func (s *Service) loadTargets(ctx context.Context, scope ledger.RecordType) ([]dedupe.Record, error) {
	records := make([]dedupe.Record, 0)
	if scope == ledger.RecordReceipt {
		receipts, err := s.repo.ListReceipts(ctx, storage.RecordFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to list receipts: %w", err)
		}
		for _, r := range receipts {
			if r.Status != ledger.StatusExcluded {
				records = append(records, dedupe.FromReceipt(r))
			}
		}
		return records, nil
	}

	payments, err := s.repo.ListPayments(ctx, storage.RecordFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	for _, p := range payments {
		if p.Status != ledger.StatusExcluded {
			records = append(records, dedupe.FromPayment(p))
		}
	}
	return records, nil
}

func (s *Service) resolveGroups(ctx context.Context, scope ledger.RecordType, records []dedupe.Record, known map[string]bool, opts Options, result *DedupeResult) {
	result.Scanned += len(records)
	classified := s.classifier.Classify(scope, records)

	groups := make([]ledger.DuplicateGroup, 0, len(classified.Groups)+len(classified.Review))
	groups = append(groups, classified.Groups...)
	groups = append(groups, classified.Review...)

	for _, g := range groups {
		sig := groupSignature(g.Classification, g.MemberIDs)
		if known[sig] {
			result.Unchanged++
			continue
		}
		known[sig] = true

		if g.Classification == ledger.ClassReview {
			result.Review = append(result.Review, g)
		} else {
			result.Groups = append(result.Groups, g)
		}
		if opts.DryRun {
			continue
		}

		group := g
		if err := s.linker.ResolveDuplicateGroup(ctx, &group); err != nil {
			result.ErrorCount++
			result.Errors = append(result.Errors, fmt.Errorf("group %s (%s): %w", g.ID, g.Classification, err))
			continue
		}
		result.Resolved++
	}
}

// knownGroups returns the signatures of groups already stored for scope.
func (s *Service) knownGroups(ctx context.Context, scope ledger.RecordType) (map[string]bool, error) {
	stored, err := s.repo.ListDuplicateGroups(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate groups: %w", err)
	}
	known := make(map[string]bool, len(stored))
	for _, g := range stored {
		known[groupSignature(g.Classification, g.MemberIDs)] = true
	}
	return known, nil
}

func groupSignature(class ledger.Classification, members []string) string {
	ids := append([]string(nil), members...)
	sort.Strings(ids)
	return string(class) + "|" + strings.Join(ids, ",")
}
