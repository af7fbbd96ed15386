package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// Storage provides SQLite database access for the ledger.
// It implements the Repository interface.
type Storage struct {
	*queries
	db     *sql.DB
	logger *slog.Logger
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used for migration and transaction messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStorage opens (or creates) the SQLite database at dbPath and applies
// pending migrations.
func NewStorage(dbPath string, opts ...Option) (*Storage, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// one writer; sqlite serialises writes anyway and this keeps
	// :memory: databases on a single connection
	db.SetMaxOpenConns(1)

	s := &Storage{
		queries: &queries{db: db},
		db:      db,
		logger:  discardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a single database transaction. The transaction commits
// only if fn returns nil.
func (s *Storage) WithTx(ctx context.Context, fn func(Store) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(&queries{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Store on top of a dbtx.
type queries struct {
	db dbtx
}

var _ Store = (*queries)(nil)

func tableFor(t ledger.RecordType) (string, error) {
	switch t {
	case ledger.RecordTransaction:
		return "bank_transactions", nil
	case ledger.RecordReceipt:
		return "receipts", nil
	case ledger.RecordPayment:
		return "payments", nil
	case ledger.RecordCharter:
		return "charters", nil
	}
	return "", fmt.Errorf("unknown record type %q: %w", t, ledger.ErrInvalidRecord)
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// versionConflict explains why a version-guarded write touched no rows.
func (q *queries) versionConflict(ctx context.Context, table, keyColumn, key string) error {
	var exists int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE "+keyColumn+" = ?", key).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%s %s: %w", table, key, ledger.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, key, ledger.ErrStaleVersion)
}

// UpdateStatus writes a new reconciliation status guarded by ref.Version.
func (q *queries) UpdateStatus(ctx context.Context, ref ledger.RecordRef, to ledger.Status, exclude bool) (int64, error) {
	if ref.Type == ledger.RecordCharter {
		return 0, fmt.Errorf("charters have no reconciliation status: %w", ledger.ErrInvalidRecord)
	}
	table, err := tableFor(ref.Type)
	if err != nil {
		return 0, err
	}

	res, err := q.db.ExecContext(ctx,
		"UPDATE "+table+" SET reconciliation_status = ?, exclude_from_reports = ?, version = version + 1 WHERE id = ? AND version = ?",
		string(to), exclude, ref.ID, ref.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, q.versionConflict(ctx, table, "id", ref.ID)
	}
	return ref.Version + 1, nil
}

// DeleteRecord removes a record guarded by ref.Version.
func (q *queries) DeleteRecord(ctx context.Context, ref ledger.RecordRef) error {
	table, err := tableFor(ref.Type)
	if err != nil {
		return err
	}

	res, err := q.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE id = ? AND version = ?", ref.ID, ref.Version)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, ref.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return q.versionConflict(ctx, table, "id", ref.ID)
	}
	return nil
}

// inClause returns "(?, ?, ?)" and the matching args for a status list.
func inClause(statuses []ledger.Status) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
