// Package linker is the only writer of match links and reconciliation
// status. Every operation runs inside one storage transaction, so a failure
// leaves nothing behind.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/scorer"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// Config holds link writer configuration
type Config struct {
	AutoApplyThreshold int             // Lowest confidence written as an active link (default: 70)
	SplitTolerance     decimal.Decimal // Allowed split sum difference (default: 0.01)
	Actor              string          // Stored in created_by
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold: scorer.AutoApplyThreshold,
		SplitTolerance:     decimal.RequireFromString("0.01"),
		Actor:              "reconcile",
	}
}

// Linker applies match decisions to the ledger.
type Linker struct {
	repo   storage.Repository
	config Config
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewLinker creates a link writer.
func NewLinker(repo storage.Repository, config Config, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.AutoApplyThreshold == 0 {
		config.AutoApplyThreshold = scorer.AutoApplyThreshold
	}
	if config.SplitTolerance.IsZero() {
		config.SplitTolerance = decimal.RequireFromString("0.01")
	}
	return &Linker{
		repo:   repo,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// ApplyMatch links tx to target. Confidence at or above the auto-apply
// threshold produces an active link and moves both records to linked;
// anything lower produces a proposed link and moves them to
// candidate_proposed. Calling it again for the same pair returns the
// existing link.
//
// A zero target.Version skips the target version check.
func (l *Linker) ApplyMatch(ctx context.Context, tx *ledger.BankTransaction, target ledger.RecordRef, confidence int, method ledger.Method) (*ledger.MatchLink, error) {
	return l.applyMatch(ctx, tx, target, confidence, method, "")
}

// ProposeMatch is ApplyMatch for a candidate a human should look at. A new
// link and its review queue entry are written in the same transaction, so
// neither exists without the other.
func (l *Linker) ProposeMatch(ctx context.Context, tx *ledger.BankTransaction, target ledger.RecordRef, confidence int, method ledger.Method, reason string) (*ledger.MatchLink, error) {
	if reason == "" {
		reason = "needs review"
	}
	return l.applyMatch(ctx, tx, target, confidence, method, reason)
}

// applyMatch queues a review item alongside a newly inserted link when
// reviewReason is set.
func (l *Linker) applyMatch(ctx context.Context, tx *ledger.BankTransaction, target ledger.RecordRef, confidence int, method ledger.Method, reviewReason string) (*ledger.MatchLink, error) {
	if target.Type != ledger.RecordReceipt && target.Type != ledger.RecordPayment {
		return nil, fmt.Errorf("cannot link transaction to %s: %w", target.Type, ledger.ErrInvalidRecord)
	}
	active := confidence >= l.config.AutoApplyThreshold

	var (
		link     *ledger.MatchLink
		newState record
	)
	err := l.repo.WithTx(ctx, func(s storage.Store) error {
		existing, err := s.LinksForTransaction(ctx, tx.ID, ledger.LinkActive, ledger.LinkProposed)
		if err != nil {
			return err
		}
		for _, e := range existing {
			if e.TargetType != target.Type || e.TargetID != target.ID {
				continue
			}
			if e.IsActive() || !active {
				// already applied
				link = e
				return nil
			}
			// promote the proposal
			link, newState, err = l.confirm(ctx, s, e)
			return err
		}
		for _, e := range existing {
			if e.IsActive() {
				return fmt.Errorf("transaction %s holds link %s: %w", tx.ID, e.ID, ledger.ErrAlreadyLinked)
			}
		}

		cur, err := l.loadTransaction(ctx, s, tx)
		if err != nil {
			return err
		}
		tgt, err := loadTarget(ctx, s, target)
		if err != nil {
			return err
		}
		if holder, err := s.ActiveLinkForTarget(ctx, target.Type, target.ID); err != nil {
			return err
		} else if holder != nil {
			return fmt.Errorf("%s %s held by transaction %s: %w",
				target.Type, target.ID, holder.BankTransactionID, ledger.ErrAlreadyLinked)
		}

		link = &ledger.MatchLink{
			ID:                l.newID(),
			BankTransactionID: tx.ID,
			TargetType:        target.Type,
			TargetID:          target.ID,
			Amount:            tx.Magnitude(),
			Confidence:        confidence,
			Method:            method,
			State:             ledger.LinkProposed,
			CreatedAt:         l.now(),
			CreatedBy:         l.config.Actor,
		}
		to := ledger.StatusCandidateProposed
		if active {
			link.State = ledger.LinkActive
			to = ledger.StatusLinked
		}

		if newState, err = moveStatus(ctx, s, cur, to); err != nil {
			return err
		}
		if _, err := moveStatus(ctx, s, tgt, to); err != nil {
			return err
		}
		if err := s.InsertLink(ctx, link); err != nil {
			return err
		}
		if reviewReason != "" {
			if err := s.AddReviewItem(ctx, &ledger.ReviewItem{
				Kind:      ledger.ReviewMatch,
				Scope:     ledger.RecordTransaction,
				RecordIDs: []string{tx.ID, target.ID},
				Reason:    fmt.Sprintf("proposed link %s at confidence %d: %s", link.ID, confidence, reviewReason),
			}); err != nil {
				return err
			}
		}
		if active {
			if err := l.supersedeProposals(ctx, s, tx.ID, link.ID); err != nil {
				return err
			}
			return l.cascadeCharter(ctx, s, tgt.reserve)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("match not applied",
			"transaction_id", tx.ID,
			"target_type", target.Type,
			"target_id", target.ID,
			"amount", tx.Magnitude().StringFixed(2),
			"date", tx.Date.Format("2006-01-02"),
			"confidence", confidence,
			"error", err,
		)
		return nil, err
	}

	if newState.ref.ID != "" {
		tx.Status = newState.status
		tx.Version = newState.ref.Version
	}
	l.logger.Info("match applied",
		"transaction_id", tx.ID,
		"target_type", target.Type,
		"target_id", target.ID,
		"confidence", link.Confidence,
		"method", link.Method,
		"state", link.State,
	)
	return link, nil
}

// record is the part of a transaction, receipt or payment the link writer
// reasons about.
type record struct {
	ref     ledger.RecordRef
	status  ledger.Status
	exclude bool
	reserve string
	amount  decimal.Decimal
}

// loadTransaction re-reads tx and fails if it changed since the caller read it.
func (l *Linker) loadTransaction(ctx context.Context, s storage.Store, tx *ledger.BankTransaction) (record, error) {
	cur, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		return record{}, err
	}
	if tx.Version != 0 && cur.Version != tx.Version {
		return record{}, fmt.Errorf("transaction %s read at version %d, now %d: %w",
			tx.ID, tx.Version, cur.Version, ledger.ErrStaleVersion)
	}
	return record{ref: cur.Ref(), status: cur.Status, exclude: cur.ExcludeFromReports, amount: cur.Magnitude()}, nil
}

// loadTarget reads a receipt or payment. A missing row is ErrTargetNotFound.
func loadTarget(ctx context.Context, s storage.Store, ref ledger.RecordRef) (record, error) {
	rec, err := loadRecord(ctx, s, ref.Type, ref.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return record{}, fmt.Errorf("%s %s: %w", ref.Type, ref.ID, ledger.ErrTargetNotFound)
	}
	if err != nil {
		return record{}, err
	}
	if ref.Version != 0 && rec.ref.Version != ref.Version {
		return record{}, fmt.Errorf("%s %s read at version %d, now %d: %w",
			ref.Type, ref.ID, ref.Version, rec.ref.Version, ledger.ErrStaleVersion)
	}
	return rec, nil
}

func loadRecord(ctx context.Context, s storage.Store, typ ledger.RecordType, id string) (record, error) {
	switch typ {
	case ledger.RecordTransaction:
		t, err := s.GetTransaction(ctx, id)
		if err != nil {
			return record{}, err
		}
		return record{ref: t.Ref(), status: t.Status, exclude: t.ExcludeFromReports, amount: t.Magnitude()}, nil
	case ledger.RecordReceipt:
		r, err := s.GetReceipt(ctx, id)
		if err != nil {
			return record{}, err
		}
		return record{ref: r.Ref(), status: r.Status, exclude: r.ExcludeFromReports, amount: r.GrossAmount.Abs()}, nil
	case ledger.RecordPayment:
		p, err := s.GetPayment(ctx, id)
		if err != nil {
			return record{}, err
		}
		return record{ref: p.Ref(), status: p.Status, exclude: p.ExcludeFromReports, reserve: p.ReserveNumber, amount: p.Amount}, nil
	}
	return record{}, fmt.Errorf("unsupported record type %q: %w", typ, ledger.ErrInvalidRecord)
}

// moveStatus applies one state machine transition. Staying in the same
// state is not a write.
func moveStatus(ctx context.Context, s storage.Store, rec record, to ledger.Status) (record, error) {
	return moveStatusExclude(ctx, s, rec, to, rec.exclude)
}

func moveStatusExclude(ctx context.Context, s storage.Store, rec record, to ledger.Status, exclude bool) (record, error) {
	if rec.status == to && rec.exclude == exclude {
		return rec, nil
	}
	if _, err := ledger.Transition(rec.status, to); err != nil {
		return record{}, fmt.Errorf("%s %s: %w", rec.ref.Type, rec.ref.ID, err)
	}
	v, err := s.UpdateStatus(ctx, rec.ref, to, exclude)
	if err != nil {
		return record{}, err
	}
	rec.ref.Version = v
	rec.status = to
	rec.exclude = exclude
	return rec, nil
}

// supersedeProposals retires the other proposals of a transaction once one
// link is active, and releases targets no longer proposed anywhere.
func (l *Linker) supersedeProposals(ctx context.Context, s storage.Store, txID, keepID string) error {
	proposals, err := s.LinksForTransaction(ctx, txID, ledger.LinkProposed)
	if err != nil {
		return err
	}
	for _, p := range proposals {
		if p.ID == keepID {
			continue
		}
		if err := s.UpdateLinkState(ctx, p.ID, ledger.LinkProposed, ledger.LinkSuperseded, l.now()); err != nil {
			return err
		}
		if err := releaseTarget(ctx, s, p.TargetType, p.TargetID); err != nil {
			return err
		}
	}
	return nil
}

// releaseTarget moves a candidate_proposed target back to unmatched when no
// proposal still points at it.
func releaseTarget(ctx context.Context, s storage.Store, typ ledger.RecordType, id string) error {
	rest, err := s.ListLinks(ctx, storage.LinkFilter{TargetType: typ, TargetID: id, State: ledger.LinkProposed})
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return nil
	}
	rec, err := loadRecord(ctx, s, typ, id)
	if err != nil {
		return err
	}
	if rec.status != ledger.StatusCandidateProposed {
		return nil
	}
	_, err = moveStatus(ctx, s, rec, ledger.StatusUnmatched)
	return err
}
