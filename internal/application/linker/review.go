package linker

import (
	"context"
	"fmt"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// ConfirmLink promotes a proposed link to active after a human accepted it.
// Confirming an already active link returns it unchanged.
func (l *Linker) ConfirmLink(ctx context.Context, linkID string) (*ledger.MatchLink, error) {
	var link *ledger.MatchLink
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		cur, err := s.GetLink(ctx, linkID)
		if err != nil {
			return err
		}
		switch cur.State {
		case ledger.LinkActive:
			link = cur
			return nil
		case ledger.LinkSuperseded:
			return fmt.Errorf("link %s was superseded: %w", linkID, ledger.ErrInvalidTransition)
		}
		link, _, err = l.confirm(ctx, s, cur)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("link confirmed",
		"link_id", link.ID,
		"transaction_id", link.BankTransactionID,
		"target_id", link.TargetID,
	)
	return link, nil
}

// confirm activates a proposal inside an open transaction.
func (l *Linker) confirm(ctx context.Context, s storage.Store, proposal *ledger.MatchLink) (*ledger.MatchLink, record, error) {
	active, err := s.LinksForTransaction(ctx, proposal.BankTransactionID, ledger.LinkActive)
	if err != nil {
		return nil, record{}, err
	}
	if len(active) > 0 {
		return nil, record{}, fmt.Errorf("transaction %s holds link %s: %w",
			proposal.BankTransactionID, active[0].ID, ledger.ErrAlreadyLinked)
	}
	holder, err := s.ActiveLinkForTarget(ctx, proposal.TargetType, proposal.TargetID)
	if err != nil {
		return nil, record{}, err
	}
	if holder != nil {
		return nil, record{}, fmt.Errorf("%s %s held by transaction %s: %w",
			proposal.TargetType, proposal.TargetID, holder.BankTransactionID, ledger.ErrAlreadyLinked)
	}

	txRec, err := loadRecord(ctx, s, ledger.RecordTransaction, proposal.BankTransactionID)
	if err != nil {
		return nil, record{}, err
	}
	tgt, err := loadTarget(ctx, s, ledger.RecordRef{Type: proposal.TargetType, ID: proposal.TargetID})
	if err != nil {
		return nil, record{}, err
	}

	if err := s.UpdateLinkState(ctx, proposal.ID, ledger.LinkProposed, ledger.LinkActive, l.now()); err != nil {
		return nil, record{}, err
	}
	if txRec, err = moveStatus(ctx, s, txRec, ledger.StatusLinked); err != nil {
		return nil, record{}, err
	}
	if _, err := moveStatus(ctx, s, tgt, ledger.StatusLinked); err != nil {
		return nil, record{}, err
	}
	if err := l.supersedeProposals(ctx, s, proposal.BankTransactionID, proposal.ID); err != nil {
		return nil, record{}, err
	}
	if err := l.cascadeCharter(ctx, s, tgt.reserve); err != nil {
		return nil, record{}, err
	}

	confirmed := *proposal
	confirmed.State = ledger.LinkActive
	return &confirmed, txRec, nil
}

// RejectLink retires a proposal. Records left without any proposal go back
// to unmatched.
func (l *Linker) RejectLink(ctx context.Context, linkID string) error {
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		link, err := s.GetLink(ctx, linkID)
		if err != nil {
			return err
		}
		switch link.State {
		case ledger.LinkSuperseded:
			return nil
		case ledger.LinkActive:
			return fmt.Errorf("link %s is active, dispute the transaction instead: %w", linkID, ledger.ErrInvalidTransition)
		}

		if err := s.UpdateLinkState(ctx, link.ID, ledger.LinkProposed, ledger.LinkSuperseded, l.now()); err != nil {
			return err
		}
		if err := releaseTarget(ctx, s, link.TargetType, link.TargetID); err != nil {
			return err
		}
		return releaseTransaction(ctx, s, link.BankTransactionID)
	})
	if err != nil {
		return err
	}

	l.logger.Info("link rejected", "link_id", linkID)
	return nil
}

func releaseTransaction(ctx context.Context, s storage.Store, txID string) error {
	rest, err := s.LinksForTransaction(ctx, txID, ledger.LinkProposed, ledger.LinkActive)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return nil
	}
	rec, err := loadRecord(ctx, s, ledger.RecordTransaction, txID)
	if err != nil {
		return err
	}
	if rec.status != ledger.StatusCandidateProposed {
		return nil
	}
	_, err = moveStatus(ctx, s, rec, ledger.StatusUnmatched)
	return err
}

// Dispute flags a linked or verified transaction, and everything it is
// linked to, as disputed. Links stay active until Reopen.
func (l *Linker) Dispute(ctx context.Context, txID, reason string) error {
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		txRec, err := loadRecord(ctx, s, ledger.RecordTransaction, txID)
		if err != nil {
			return err
		}
		if _, err := moveStatus(ctx, s, txRec, ledger.StatusDisputed); err != nil {
			return err
		}

		links, err := s.LinksForTransaction(ctx, txID, ledger.LinkActive)
		if err != nil {
			return err
		}
		for _, link := range links {
			tgt, err := loadRecord(ctx, s, link.TargetType, link.TargetID)
			if err != nil {
				return err
			}
			if !ledger.CanTransition(tgt.status, ledger.StatusDisputed) {
				continue
			}
			if _, err := moveStatus(ctx, s, tgt, ledger.StatusDisputed); err != nil {
				return err
			}
			// disputed payments stop counting toward the charter
			if err := l.cascadeCharter(ctx, s, tgt.reserve); err != nil {
				return err
			}
		}

		return s.AddReviewItem(ctx, &ledger.ReviewItem{
			Kind:      ledger.ReviewMatch,
			Scope:     ledger.RecordTransaction,
			RecordIDs: []string{txID},
			Reason:    "disputed: " + reason,
		})
	})
	if err != nil {
		return err
	}

	l.logger.Warn("transaction disputed", "transaction_id", txID, "reason", reason)
	return nil
}

// Reopen resolves a dispute: active links are superseded, never deleted,
// and the transaction and its disputed targets return to unmatched.
func (l *Linker) Reopen(ctx context.Context, txID string) error {
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		txRec, err := loadRecord(ctx, s, ledger.RecordTransaction, txID)
		if err != nil {
			return err
		}
		if txRec.status != ledger.StatusDisputed {
			return fmt.Errorf("transaction %s is %s, not disputed: %w", txID, txRec.status, ledger.ErrInvalidTransition)
		}

		links, err := s.LinksForTransaction(ctx, txID, ledger.LinkActive)
		if err != nil {
			return err
		}
		for _, link := range links {
			if err := s.UpdateLinkState(ctx, link.ID, ledger.LinkActive, ledger.LinkSuperseded, l.now()); err != nil {
				return err
			}
			tgt, err := loadRecord(ctx, s, link.TargetType, link.TargetID)
			if err != nil {
				return err
			}
			if tgt.status == ledger.StatusDisputed {
				if _, err := moveStatus(ctx, s, tgt, ledger.StatusUnmatched); err != nil {
					return err
				}
			}
			if err := l.cascadeCharter(ctx, s, tgt.reserve); err != nil {
				return err
			}
		}

		_, err = moveStatus(ctx, s, txRec, ledger.StatusUnmatched)
		return err
	})
	if err != nil {
		return err
	}

	l.logger.Info("transaction reopened", "transaction_id", txID)
	return nil
}

// Verify marks a linked transaction and its linked targets as verified.
func (l *Linker) Verify(ctx context.Context, txID string) error {
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		txRec, err := loadRecord(ctx, s, ledger.RecordTransaction, txID)
		if err != nil {
			return err
		}
		if _, err := moveStatus(ctx, s, txRec, ledger.StatusVerified); err != nil {
			return err
		}

		links, err := s.LinksForTransaction(ctx, txID, ledger.LinkActive)
		if err != nil {
			return err
		}
		for _, link := range links {
			tgt, err := loadRecord(ctx, s, link.TargetType, link.TargetID)
			if err != nil {
				return err
			}
			if tgt.status != ledger.StatusLinked {
				continue
			}
			if _, err := moveStatus(ctx, s, tgt, ledger.StatusVerified); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("transaction verified", "transaction_id", txID)
	return nil
}
