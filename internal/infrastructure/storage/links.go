package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

const linkColumns = `id, bank_transaction_id, target_type, target_id, amount, confidence,
	method, state, split_group, created_at, created_by, superseded_at`

// InsertLink stores a new match link. The partial unique indexes on
// match_links turn a second active claim into ledger.ErrAlreadyLinked.
func (q *queries) InsertLink(ctx context.Context, link *ledger.MatchLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = nowUTC()
	}

	var superseded sql.NullTime
	if link.SupersededAt != nil {
		superseded = sql.NullTime{Time: link.SupersededAt.UTC(), Valid: true}
	}

	_, err := q.db.ExecContext(ctx,
		"INSERT INTO match_links ("+linkColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		link.ID, link.BankTransactionID, string(link.TargetType), link.TargetID, link.Amount,
		link.Confidence, string(link.Method), string(link.State), link.SplitGroup,
		utc(link.CreatedAt), link.CreatedBy, superseded,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("link %s -> %s:%s: %w",
				link.BankTransactionID, link.TargetType, link.TargetID, ledger.ErrAlreadyLinked)
		}
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// GetLink retrieves a link by ID
func (q *queries) GetLink(ctx context.Context, id string) (*ledger.MatchLink, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+linkColumns+" FROM match_links WHERE id = ?", id)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %s: %w", id, ledger.ErrNotFound)
	}
	return l, err
}

// LinksForTransaction returns the links of one transaction, oldest first.
func (q *queries) LinksForTransaction(ctx context.Context, txID string, states ...ledger.LinkState) ([]*ledger.MatchLink, error) {
	query := "SELECT " + linkColumns + " FROM match_links WHERE bank_transaction_id = ?"
	args := []any{txID}
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, st := range states {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += " AND state IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY created_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return collectLinks(rows)
}

// ActiveLinkForTarget returns the active link that holds a target, or nil.
func (q *queries) ActiveLinkForTarget(ctx context.Context, targetType ledger.RecordType, targetID string) (*ledger.MatchLink, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+linkColumns+" FROM match_links WHERE target_type = ? AND target_id = ? AND state = 'active'",
		string(targetType), targetID)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// UpdateLinkState moves a link between states. Leaving the active state
// stamps superseded_at.
func (q *queries) UpdateLinkState(ctx context.Context, id string, from, to ledger.LinkState, at time.Time) error {
	var superseded sql.NullTime
	if to == ledger.LinkSuperseded {
		superseded = sql.NullTime{Time: at.UTC(), Valid: true}
	}

	res, err := q.db.ExecContext(ctx,
		"UPDATE match_links SET state = ?, superseded_at = COALESCE(?, superseded_at) WHERE id = ? AND state = ?",
		string(to), superseded, id, string(from))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("link %s: %w", id, ledger.ErrAlreadyLinked)
		}
		return fmt.Errorf("failed to update link %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return q.versionConflict(ctx, "match_links", "id", id)
	}
	return nil
}

// ListLinks returns links matching the filter, newest first.
func (q *queries) ListLinks(ctx context.Context, filter LinkFilter) ([]*ledger.MatchLink, error) {
	var (
		where []string
		args  []any
	)
	if filter.TransactionID != "" {
		where = append(where, "bank_transaction_id = ?")
		args = append(args, filter.TransactionID)
	}
	if filter.TargetID != "" {
		where = append(where, "target_type = ? AND target_id = ?")
		args = append(args, string(filter.TargetType), filter.TargetID)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}

	query := "SELECT " + linkColumns + " FROM match_links"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return collectLinks(rows)
}

// ActiveTargetKeys returns "type:id" for every target held by an active link.
func (q *queries) ActiveTargetKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT target_type, target_id FROM match_links WHERE state = 'active'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var typ, id string
		if err := rows.Scan(&typ, &id); err != nil {
			return nil, err
		}
		keys[typ+":"+id] = true
	}
	return keys, rows.Err()
}

func collectLinks(rows *sql.Rows) ([]*ledger.MatchLink, error) {
	defer rows.Close()
	var out []*ledger.MatchLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLink(row rowScanner) (*ledger.MatchLink, error) {
	var (
		l                         ledger.MatchLink
		targetType, method, state string
		superseded                sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.BankTransactionID, &targetType, &l.TargetID, &l.Amount, &l.Confidence,
		&method, &state, &l.SplitGroup, &l.CreatedAt, &l.CreatedBy, &superseded,
	)
	if err != nil {
		return nil, err
	}
	l.TargetType = ledger.RecordType(targetType)
	l.Method = ledger.Method(method)
	l.State = ledger.LinkState(state)
	l.CreatedAt = l.CreatedAt.UTC()
	if superseded.Valid {
		t := superseded.Time.UTC()
		l.SupersededAt = &t
	}
	return &l, nil
}
