package linker

import (
	"context"
	"fmt"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// ResolveDuplicateGroup acts on one classifier verdict:
//
//	reversal_pair   every member excluded and hidden from reports, nothing deleted
//	true_duplicate  DeletedIDs removed, KeptID untouched
//	recurring       recorded only
//	review          queued for a human
//
// Members carrying links are never deleted; the group fails with
// ErrAlreadyLinked and nothing is written.
func (l *Linker) ResolveDuplicateGroup(ctx context.Context, group *ledger.DuplicateGroup) error {
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		switch group.Classification {
		case ledger.ClassReversalPair:
			for _, id := range group.MemberIDs {
				rec, err := loadRecord(ctx, s, group.Scope, id)
				if err != nil {
					return err
				}
				if _, err := moveStatusExclude(ctx, s, rec, ledger.StatusExcluded, true); err != nil {
					return err
				}
				if err := l.cascadeCharter(ctx, s, rec.reserve); err != nil {
					return err
				}
			}

		case ledger.ClassTrueDuplicate:
			for _, id := range group.DeletedIDs {
				if id == group.KeptID {
					return fmt.Errorf("group %s would delete its kept record %s: %w", group.ID, id, ledger.ErrInvalidRecord)
				}
				reserve, err := l.deleteDuplicate(ctx, s, group.Scope, id)
				if err != nil {
					return err
				}
				if err := l.cascadeCharter(ctx, s, reserve); err != nil {
					return err
				}
			}

		case ledger.ClassReview:
			if err := s.AddReviewItem(ctx, &ledger.ReviewItem{
				Kind:      ledger.ReviewDuplicate,
				Scope:     group.Scope,
				RecordIDs: group.MemberIDs,
				Reason:    group.Reason,
			}); err != nil {
				return err
			}
		}

		return s.SaveDuplicateGroup(ctx, group)
	})
	if err != nil {
		l.logger.Warn("duplicate group not resolved",
			"group_id", group.ID,
			"classification", group.Classification,
			"members", group.MemberIDs,
			"error", err,
		)
		return err
	}

	l.logger.Info("duplicate group resolved",
		"group_id", group.ID,
		"classification", group.Classification,
		"kept", group.KeptID,
		"deleted", group.DeletedIDs,
	)
	return nil
}

// deleteDuplicate removes one duplicate and returns the reserve number it
// carried, if any.
func (l *Linker) deleteDuplicate(ctx context.Context, s storage.Store, scope ledger.RecordType, id string) (string, error) {
	rec, err := loadRecord(ctx, s, scope, id)
	if err != nil {
		return "", err
	}

	var links []*ledger.MatchLink
	if scope == ledger.RecordTransaction {
		links, err = s.LinksForTransaction(ctx, id)
	} else {
		links, err = s.ListLinks(ctx, storage.LinkFilter{TargetType: scope, TargetID: id})
	}
	if err != nil {
		return "", err
	}
	if len(links) > 0 {
		return "", fmt.Errorf("%s %s has %d links: %w", scope, id, len(links), ledger.ErrAlreadyLinked)
	}

	return rec.reserve, s.DeleteRecord(ctx, rec.ref)
}
