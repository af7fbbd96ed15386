package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// StartRun records the start of a run and returns its ID.
func (q *queries) StartRun(ctx context.Context, kind, scope string, dryRun bool) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
	INSERT INTO reconcile_runs (kind, scope, dry_run, started_at, status)
	VALUES (?, ?, ?, ?, ?)`,
		kind, scope, dryRun, nowUTC(), RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	return result.LastInsertId()
}

// CompleteRun records the outcome of a run.
func (q *queries) CompleteRun(ctx context.Context, runID int64, summary RunSummary) error {
	status := summary.Status
	if status == "" {
		status = RunStatusCompleted
	}

	res, err := q.db.ExecContext(ctx, `
	UPDATE reconcile_runs
	SET completed_at = ?, status = ?, processed = ?, applied = ?, proposed = ?,
	    skipped = ?, errors = ?, notes = ?
	WHERE id = ?`,
		nowUTC(), status, summary.Processed, summary.Applied, summary.Proposed,
		summary.Skipped, summary.Errors, summary.Notes, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d: %w", runID, ledger.ErrNotFound)
	}
	return nil
}

const runColumns = `id, kind, scope, dry_run, started_at, completed_at, status,
	processed, applied, proposed, skipped, errors, notes`

// GetRun retrieves a run by ID
func (q *queries) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM reconcile_runs WHERE id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", runID, ledger.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns the most recent runs first.
func (q *queries) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM reconcile_runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ReplaceVariances swaps the stored variance report of an account.
func (q *queries) ReplaceVariances(ctx context.Context, accountID string, variances []ledger.Variance) error {
	if _, err := q.db.ExecContext(ctx, "DELETE FROM variances WHERE account_id = ?", accountID); err != nil {
		return fmt.Errorf("failed to clear variances: %w", err)
	}
	for _, v := range variances {
		_, err := q.db.ExecContext(ctx, `
		INSERT INTO variances (account_id, transaction_id, date, expected, stated, delta, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
			accountID, v.TransactionID, utc(v.Date), v.Expected, v.Stated, v.Delta, nowUTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert variance: %w", err)
		}
	}
	return nil
}

// ListVariances returns the stored variances of an account in date order.
func (q *queries) ListVariances(ctx context.Context, accountID string) ([]ledger.Variance, error) {
	rows, err := q.db.QueryContext(ctx, `
	SELECT account_id, transaction_id, date, expected, stated, delta
	FROM variances WHERE account_id = ? ORDER BY date, transaction_id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Variance
	for rows.Next() {
		var v ledger.Variance
		if err := rows.Scan(&v.AccountID, &v.TransactionID, &v.Date, &v.Expected, &v.Stated, &v.Delta); err != nil {
			return nil, err
		}
		v.Date = v.Date.UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r         Run
		completed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Kind, &r.Scope, &r.DryRun, &r.StartedAt, &completed, &r.Status,
		&r.Processed, &r.Applied, &r.Proposed, &r.Skipped, &r.Errors, &r.Notes)
	if err != nil {
		return r, err
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return r, nil
}
