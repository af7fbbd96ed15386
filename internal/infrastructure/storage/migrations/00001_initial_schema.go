package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upInitialSchema, downInitialSchema)
}

// upInitialSchema creates the ledger tables. Money columns are decimal
// strings; every mutable row carries a version for optimistic concurrency.
func upInitialSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE bank_transactions (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			date DATE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			debit TEXT NOT NULL DEFAULT '0',
			credit TEXT NOT NULL DEFAULT '0',
			balance TEXT,
			source_hash TEXT NOT NULL DEFAULT '',
			reconciliation_status TEXT NOT NULL DEFAULT 'unmatched',
			exclude_from_reports INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_bank_transactions_account_date ON bank_transactions(account_id, date, id)`,
		`CREATE INDEX idx_bank_transactions_source_hash ON bank_transactions(account_id, source_hash)`,

		`CREATE TABLE receipts (
			id TEXT PRIMARY KEY,
			date DATE NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			gross_amount TEXT NOT NULL DEFAULT '0',
			gst_amount TEXT NOT NULL DEFAULT '0',
			source_system TEXT NOT NULL DEFAULT '',
			parent_receipt_id TEXT NOT NULL DEFAULT '',
			source_hash TEXT NOT NULL DEFAULT '',
			reconciliation_status TEXT NOT NULL DEFAULT 'unmatched',
			exclude_from_reports INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_receipts_date ON receipts(date)`,
		`CREATE INDEX idx_receipts_parent ON receipts(parent_receipt_id)`,

		`CREATE TABLE payments (
			id TEXT PRIMARY KEY,
			reserve_number TEXT NOT NULL DEFAULT '',
			date DATE NOT NULL,
			amount TEXT NOT NULL DEFAULT '0',
			method TEXT NOT NULL DEFAULT '',
			source_hash TEXT NOT NULL DEFAULT '',
			reconciliation_status TEXT NOT NULL DEFAULT 'unmatched',
			exclude_from_reports INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_payments_date ON payments(date)`,
		`CREATE INDEX idx_payments_reserve ON payments(reserve_number)`,

		`CREATE TABLE charters (
			id TEXT PRIMARY KEY,
			reserve_number TEXT NOT NULL UNIQUE,
			date DATE NOT NULL,
			total_amount_due TEXT NOT NULL DEFAULT '0',
			paid_amount TEXT NOT NULL DEFAULT '0',
			balance TEXT NOT NULL DEFAULT '0',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE charter_charges (
			id TEXT PRIMARY KEY,
			reserve_number TEXT NOT NULL REFERENCES charters(reserve_number),
			description TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE INDEX idx_charter_charges_reserve ON charter_charges(reserve_number)`,

		`CREATE TABLE match_links (
			id TEXT PRIMARY KEY,
			bank_transaction_id TEXT NOT NULL REFERENCES bank_transactions(id),
			target_type TEXT NOT NULL,
			target_id TEXT NOT NULL,
			amount TEXT NOT NULL DEFAULT '0',
			confidence INTEGER NOT NULL,
			method TEXT NOT NULL,
			state TEXT NOT NULL,
			split_group TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_by TEXT NOT NULL DEFAULT '',
			superseded_at TIMESTAMP
		)`,
		`CREATE INDEX idx_match_links_transaction ON match_links(bank_transaction_id)`,
		// at most one active link per target
		`CREATE UNIQUE INDEX ux_match_links_active_target ON match_links(target_type, target_id) WHERE state = 'active'`,
		// at most one active non-split link per transaction
		`CREATE UNIQUE INDEX ux_match_links_active_single ON match_links(bank_transaction_id) WHERE state = 'active' AND split_group = ''`,

		`CREATE TABLE duplicate_groups (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			classification TEXT NOT NULL,
			member_ids TEXT NOT NULL,
			kept_id TEXT NOT NULL DEFAULT '',
			deleted_ids TEXT NOT NULL DEFAULT '[]',
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_duplicate_groups_scope ON duplicate_groups(scope, classification)`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downInitialSchema(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{
		"duplicate_groups", "match_links", "charter_charges", "charters",
		"payments", "receipts", "bank_transactions",
	} {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return err
		}
	}
	return nil
}
