package linker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/validator"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// Allocation is the share of a transaction assigned to one target.
type Allocation struct {
	Target ledger.RecordRef
	Amount decimal.Decimal

	// Confidence defaults to 100 when zero.
	Confidence int
}

// ApplySplit links tx to several targets at once. The allocation amounts
// must add up to the transaction amount within the split tolerance; on any
// failure nothing is written. Re-applying the same split returns the
// existing links.
func (l *Linker) ApplySplit(ctx context.Context, tx *ledger.BankTransaction, allocs []Allocation) ([]*ledger.MatchLink, error) {
	if len(allocs) == 0 {
		return nil, fmt.Errorf("transaction %s: empty split: %w", tx.ID, ledger.ErrSplitSumMismatch)
	}

	amounts := make([]decimal.Decimal, len(allocs))
	seen := make(map[string]bool, len(allocs))
	for i, a := range allocs {
		if a.Target.Type != ledger.RecordReceipt && a.Target.Type != ledger.RecordPayment {
			return nil, fmt.Errorf("cannot split onto %s: %w", a.Target.Type, ledger.ErrInvalidRecord)
		}
		key := string(a.Target.Type) + ":" + a.Target.ID
		if seen[key] {
			return nil, fmt.Errorf("%s appears twice in split: %w", key, ledger.ErrInvalidRecord)
		}
		seen[key] = true
		amounts[i] = a.Amount
	}

	check := validator.ValidateSplitWithTolerance(amounts, tx.Magnitude(), l.config.SplitTolerance)
	if !check.Valid {
		l.logger.Warn("split rejected",
			"transaction_id", tx.ID,
			"date", tx.Date.Format("2006-01-02"),
			"expected", check.ExpectedSum.StringFixed(2),
			"allocated", check.AllocatedSum.StringFixed(2),
			"reason", check.Reason,
		)
		return nil, fmt.Errorf("transaction %s: %s: %w", tx.ID, check.Reason, ledger.ErrSplitSumMismatch)
	}

	var (
		links    []*ledger.MatchLink
		newState record
	)
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		active, err := s.LinksForTransaction(ctx, tx.ID, ledger.LinkActive)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			if sameTargets(active, allocs) {
				links = active
				return nil
			}
			return fmt.Errorf("transaction %s holds link %s: %w", tx.ID, active[0].ID, ledger.ErrAlreadyLinked)
		}

		cur, err := l.loadTransaction(ctx, s, tx)
		if err != nil {
			return err
		}
		if newState, err = moveStatus(ctx, s, cur, ledger.StatusLinked); err != nil {
			return err
		}

		group := l.newID()
		for _, a := range allocs {
			tgt, err := loadTarget(ctx, s, a.Target)
			if err != nil {
				return err
			}
			if _, err := moveStatus(ctx, s, tgt, ledger.StatusLinked); err != nil {
				return err
			}

			conf := a.Confidence
			if conf == 0 {
				conf = scorer.ConfidenceExact
			}
			link := &ledger.MatchLink{
				ID:                l.newID(),
				BankTransactionID: tx.ID,
				TargetType:        a.Target.Type,
				TargetID:          a.Target.ID,
				Amount:            a.Amount,
				Confidence:        conf,
				Method:            ledger.MethodSplit,
				State:             ledger.LinkActive,
				SplitGroup:        group,
				CreatedAt:         l.now(),
				CreatedBy:         l.config.Actor,
			}
			if err := s.InsertLink(ctx, link); err != nil {
				return err
			}
			links = append(links, link)

			if err := l.cascadeCharter(ctx, s, tgt.reserve); err != nil {
				return err
			}
		}
		return l.supersedeProposals(ctx, s, tx.ID, "")
	})
	if err != nil {
		l.logger.Warn("split not applied",
			"transaction_id", tx.ID,
			"parts", len(allocs),
			"amount", tx.Magnitude().StringFixed(2),
			"error", err,
		)
		return nil, err
	}

	if newState.ref.ID != "" {
		tx.Status = newState.status
		tx.Version = newState.ref.Version
	}
	l.logger.Info("split applied", "transaction_id", tx.ID, "parts", len(links))
	return links, nil
}

func sameTargets(links []*ledger.MatchLink, allocs []Allocation) bool {
	if len(links) != len(allocs) {
		return false
	}
	want := make(map[string]bool, len(allocs))
	for _, a := range allocs {
		want[string(a.Target.Type)+":"+a.Target.ID] = true
	}
	for _, link := range links {
		if !want[string(link.TargetType)+":"+link.TargetID] {
			return false
		}
	}
	return true
}
