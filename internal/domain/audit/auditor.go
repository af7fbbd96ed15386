// Package audit replays an account's transactions and checks the recomputed
// running balance against the balance printed on the statement.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// DefaultTolerance is the largest drift accepted between the running total
// and a stated balance.
var DefaultTolerance = decimal.RequireFromString("0.01")

// TransactionSource lists an account's transactions.
type TransactionSource interface {
	ListAccountTransactions(ctx context.Context, accountID string) ([]*ledger.BankTransaction, error)
}

// Report is the outcome of one audit.
type Report struct {
	AccountID      string
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal // running total after the last row
	Checked        int             // rows that carried a stated balance
	Transactions   int
	Variances      []ledger.Variance
}

// Auditor runs balance audits. It never writes to the ledger.
type Auditor struct {
	source    TransactionSource
	tolerance decimal.Decimal
	logger    *slog.Logger
}

// NewAuditor creates an auditor.
func NewAuditor(source TransactionSource, tolerance decimal.Decimal, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{source: source, tolerance: tolerance, logger: logger}
}

// AuditAccount replays every transaction of accountID from openingBalance.
func (a *Auditor) AuditAccount(ctx context.Context, accountID string, openingBalance decimal.Decimal) (*Report, error) {
	txs, err := a.source.ListAccountTransactions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", accountID, err)
	}

	report := Replay(accountID, txs, openingBalance, a.tolerance)
	for _, v := range report.Variances {
		a.logger.Warn("balance variance",
			"account", accountID,
			"transaction_id", v.TransactionID,
			"date", v.Date.Format("2006-01-02"),
			"expected", v.Expected.StringFixed(2),
			"stated", v.Stated.StringFixed(2),
			"delta", v.Delta.StringFixed(2),
		)
	}
	return report, nil
}

// Replay walks txs in (date, id) order keeping running += credit - debit.
// Where a row states a balance that differs from the running total by more
// than tolerance, a Variance is recorded and the running total resyncs to
// the stated balance, so one bad row does not taint the rest of the history.
// Replay does not modify txs.
func Replay(accountID string, txs []*ledger.BankTransaction, openingBalance, tolerance decimal.Decimal) *Report {
	ordered := make([]*ledger.BankTransaction, len(txs))
	copy(ordered, txs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	report := &Report{
		AccountID:      accountID,
		OpeningBalance: openingBalance,
		Transactions:   len(ordered),
		Variances:      make([]ledger.Variance, 0),
	}

	running := openingBalance
	for _, tx := range ordered {
		running = running.Add(tx.Credit).Sub(tx.Debit)

		if !tx.Balance.Valid {
			continue
		}
		report.Checked++

		stated := tx.Balance.Decimal
		delta := stated.Sub(running)
		if delta.Abs().GreaterThan(tolerance) {
			report.Variances = append(report.Variances, ledger.Variance{
				AccountID:     accountID,
				TransactionID: tx.ID,
				Date:          tx.Date,
				Expected:      running,
				Stated:        stated,
				Delta:         delta,
			})
			running = stated
		}
	}

	report.ClosingBalance = running
	return report
}
