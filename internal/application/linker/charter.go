package linker

import (
	"context"
	"errors"
	"fmt"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// cascadeCharter recomputes paid_amount and balance of the charter a
// payment points at from every payment carrying its reserve number.
// Reserve numbers are weak references, so an unknown charter is logged and
// skipped.
func (l *Linker) cascadeCharter(ctx context.Context, s storage.Store, reserveNumber string) error {
	if reserveNumber == "" {
		return nil
	}

	charter, err := s.GetCharter(ctx, reserveNumber)
	if errors.Is(err, ledger.ErrNotFound) {
		l.logger.Warn("payment references unknown charter", "reserve_number", reserveNumber)
		return nil
	}
	if err != nil {
		return err
	}

	paid, err := s.SumCharterPayments(ctx, reserveNumber)
	if err != nil {
		return err
	}
	if paid.Equal(charter.PaidAmount) {
		return nil
	}

	if err := s.UpdateCharterPaid(ctx, reserveNumber, charter.Version, paid); err != nil {
		return fmt.Errorf("charter %s cascade: %w", reserveNumber, err)
	}

	l.logger.Debug("charter balance recomputed",
		"reserve_number", reserveNumber,
		"paid", paid.StringFixed(2),
		"balance", charter.TotalAmountDue.Sub(paid).StringFixed(2),
	)
	return nil
}

// AssignReserve ties a payment to a charter and cascades the charter
// balance. The payment's reconciliation status is left alone: it tracks the
// bank link, which a later match run still has to make. Assigning the
// reserve number the payment already carries is a no-op.
func (l *Linker) AssignReserve(ctx context.Context, payment *ledger.Payment, reserveNumber string, confidence int) error {
	if confidence < l.config.AutoApplyThreshold {
		return fmt.Errorf("payment %s: confidence %d below %d: %w",
			payment.ID, confidence, l.config.AutoApplyThreshold, ledger.ErrInvalidTransition)
	}

	var applied bool
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		cur, err := s.GetPayment(ctx, payment.ID)
		if err != nil {
			return err
		}
		if cur.ReserveNumber == reserveNumber {
			return nil
		}
		if cur.ReserveNumber != "" {
			return fmt.Errorf("payment %s already belongs to charter %s: %w",
				payment.ID, cur.ReserveNumber, ledger.ErrAlreadyLinked)
		}
		if payment.Version != 0 && cur.Version != payment.Version {
			return fmt.Errorf("payment %s read at version %d, now %d: %w",
				payment.ID, payment.Version, cur.Version, ledger.ErrStaleVersion)
		}
		if _, err := s.GetCharter(ctx, reserveNumber); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("charter %s: %w", reserveNumber, ledger.ErrTargetNotFound)
			}
			return err
		}

		if _, err := s.SetPaymentReserve(ctx, cur.Ref(), reserveNumber); err != nil {
			return err
		}
		applied = true
		return l.cascadeCharter(ctx, s, reserveNumber)
	})
	if err != nil {
		l.logger.Warn("reserve not assigned",
			"payment_id", payment.ID,
			"reserve_number", reserveNumber,
			"amount", payment.Amount.StringFixed(2),
			"date", payment.Date.Format("2006-01-02"),
			"error", err,
		)
		return err
	}

	if applied {
		l.logger.Info("payment assigned to charter",
			"payment_id", payment.ID,
			"reserve_number", reserveNumber,
			"confidence", confidence,
		)
	}
	return nil
}

// RecomputeCharters cascades the balance of every listed charter inside an
// open unit of work. Importers call it after inserting payments that
// already carry reserve numbers.
func (l *Linker) RecomputeCharters(ctx context.Context, s storage.Store, reserveNumbers []string) error {
	for _, rn := range reserveNumbers {
		if err := l.cascadeCharter(ctx, s, rn); err != nil {
			return err
		}
	}
	return nil
}
