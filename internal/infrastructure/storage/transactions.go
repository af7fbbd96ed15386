package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

const transactionColumns = `id, account_id, date, description, debit, credit, balance,
	source_hash, reconciliation_status, exclude_from_reports, version, created_at`

// InsertTransactions inserts new bank transactions. Missing IDs, hashes and
// statuses are filled in.
func (q *queries) InsertTransactions(ctx context.Context, txs []*ledger.BankTransaction) error {
	query := `
	INSERT INTO bank_transactions (` + transactionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return err
		}
		t.EnsureHash()
		if t.Status == "" {
			t.Status = ledger.StatusUnmatched
		}
		if t.Version == 0 {
			t.Version = 1
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = nowUTC()
		}

		_, err := q.db.ExecContext(ctx, query,
			t.ID, t.AccountID, utc(t.Date), t.Description, t.Debit, t.Credit, t.Balance,
			t.SourceHash, string(t.Status), t.ExcludeFromReports, t.Version, utc(t.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("transaction %s already exists: %w", t.ID, ledger.ErrInvalidRecord)
			}
			return fmt.Errorf("failed to insert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

// GetTransaction retrieves a transaction by ID
func (q *queries) GetTransaction(ctx context.Context, id string) (*ledger.BankTransaction, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM bank_transactions WHERE id = ?", id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	return t, err
}

// ListAccountTransactions returns every transaction of an account in
// statement order.
func (q *queries) ListAccountTransactions(ctx context.Context, accountID string) ([]*ledger.BankTransaction, error) {
	return q.ListTransactions(ctx, TransactionFilter{AccountID: accountID})
}

// ListTransactions returns transactions matching the filter ordered by (date, id).
func (q *queries) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*ledger.BankTransaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if len(filter.Statuses) > 0 {
		in, inArgs := inClause(filter.Statuses)
		where = append(where, "reconciliation_status IN "+in)
		args = append(args, inArgs...)
	}

	query := "SELECT " + transactionColumns + " FROM bank_transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAccounts returns the distinct account IDs that have transactions.
func (q *queries) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT DISTINCT account_id FROM bank_transactions ORDER BY account_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SourceHashes returns the hashes already imported for an account.
func (q *queries) SourceHashes(ctx context.Context, accountID string) (map[string]bool, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT source_hash FROM bank_transactions WHERE account_id = ?", accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = true
	}
	return hashes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*ledger.BankTransaction, error) {
	var (
		t      ledger.BankTransaction
		status string
	)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Date, &t.Description, &t.Debit, &t.Credit, &t.Balance,
		&t.SourceHash, &status, &t.ExcludeFromReports, &t.Version, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = ledger.Status(status)
	t.Date = t.Date.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}
