package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upRunsAndReview, downRunsAndReview)
}

// upRunsAndReview adds run history, the manual review queue and stored
// variance reports.
func upRunsAndReview(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE reconcile_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			dry_run INTEGER NOT NULL DEFAULT 1,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'running',
			processed INTEGER NOT NULL DEFAULT 0,
			applied INTEGER NOT NULL DEFAULT 0,
			proposed INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_reconcile_runs_started ON reconcile_runs(started_at)`,

		`CREATE TABLE review_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			record_ids TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE variances (
			account_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			date DATE NOT NULL,
			expected TEXT NOT NULL,
			stated TEXT NOT NULL,
			delta TEXT NOT NULL,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_variances_account ON variances(account_id, date)`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downRunsAndReview(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"variances", "review_items", "reconcile_runs"} {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return err
		}
	}
	return nil
}
