package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/audit"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// AuditResult is the outcome of a balance audit.
type AuditResult struct {
	RunID int64
	*audit.Report
}

// AuditBalance replays an account from openingBalance and stores the
// variances it finds as the account's latest variance report. Variances
// are reported, never fatal; the ledger itself is not modified.
func (s *Service) AuditBalance(ctx context.Context, accountID string, openingBalance decimal.Decimal) (*AuditResult, error) {
	if !s.tryLockAccount(accountID) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrAccountBusy)
	}
	defer s.unlockAccount(accountID)

	runID := s.startRun(ctx, storage.RunAuditBalance, accountID, false)

	report, err := s.auditor.AuditAccount(ctx, accountID, openingBalance)
	if err == nil {
		err = s.repo.ReplaceVariances(ctx, accountID, report.Variances)
	}
	if err != nil {
		s.completeRun(ctx, runID, storage.RunSummary{Status: storage.RunStatusFailed, Notes: err.Error()})
		return nil, fmt.Errorf("audit of %s failed: %w", accountID, err)
	}

	s.completeRun(ctx, runID, storage.RunSummary{
		Status:    storage.RunStatusCompleted,
		Processed: report.Transactions,
		Errors:    len(report.Variances),
		Notes: fmt.Sprintf("checked=%d opening=%s closing=%s",
			report.Checked, report.OpeningBalance.StringFixed(2), report.ClosingBalance.StringFixed(2)),
	})

	s.logger.Info("balance audited",
		"account", accountID,
		"transactions", report.Transactions,
		"checked", report.Checked,
		"variances", len(report.Variances),
		"closing", report.ClosingBalance.StringFixed(2),
	)
	return &AuditResult{RunID: runID, Report: report}, nil
}
