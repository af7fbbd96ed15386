package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// SaveDuplicateGroup stores a classifier verdict.
func (q *queries) SaveDuplicateGroup(ctx context.Context, group *ledger.DuplicateGroup) error {
	members, err := json.Marshal(group.MemberIDs)
	if err != nil {
		return err
	}
	deleted := group.DeletedIDs
	if deleted == nil {
		deleted = []string{}
	}
	deletedJSON, err := json.Marshal(deleted)
	if err != nil {
		return err
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = nowUTC()
	}

	_, err = q.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO duplicate_groups
	(id, scope, classification, member_ids, kept_id, deleted_ids, reason, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, string(group.Scope), string(group.Classification), string(members),
		group.KeptID, string(deletedJSON), group.Reason, utc(group.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save duplicate group: %w", err)
	}
	return nil
}

// ListDuplicateGroups returns the stored groups for a scope, or all groups
// when scope is empty.
func (q *queries) ListDuplicateGroups(ctx context.Context, scope ledger.RecordType) ([]*ledger.DuplicateGroup, error) {
	query := `SELECT id, scope, classification, member_ids, kept_id, deleted_ids, reason, created_at
		FROM duplicate_groups`
	var args []any
	if scope != "" {
		query += " WHERE scope = ?"
		args = append(args, string(scope))
	}
	query += " ORDER BY created_at, id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list duplicate groups: %w", err)
	}
	defer rows.Close()

	var out []*ledger.DuplicateGroup
	for rows.Next() {
		var (
			g                        ledger.DuplicateGroup
			scopeStr, class          string
			membersJSON, deletedJSON string
		)
		if err := rows.Scan(&g.ID, &scopeStr, &class, &membersJSON, &g.KeptID, &deletedJSON, &g.Reason, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Scope = ledger.RecordType(scopeStr)
		g.Classification = ledger.Classification(class)
		if err := json.Unmarshal([]byte(membersJSON), &g.MemberIDs); err != nil {
			return nil, fmt.Errorf("group %s: bad member_ids: %w", g.ID, err)
		}
		if err := json.Unmarshal([]byte(deletedJSON), &g.DeletedIDs); err != nil {
			return nil, fmt.Errorf("group %s: bad deleted_ids: %w", g.ID, err)
		}
		g.CreatedAt = g.CreatedAt.UTC()
		out = append(out, &g)
	}
	return out, rows.Err()
}

// AddReviewItem queues something for a human to look at.
func (q *queries) AddReviewItem(ctx context.Context, item *ledger.ReviewItem) error {
	ids, err := json.Marshal(item.RecordIDs)
	if err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = nowUTC()
	}

	res, err := q.db.ExecContext(ctx, `
	INSERT INTO review_items (kind, scope, record_ids, reason, resolved, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		item.Kind, string(item.Scope), string(ids), item.Reason, item.Resolved, utc(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add review item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	return err
}

// ListReviewItems returns queued items, oldest first.
func (q *queries) ListReviewItems(ctx context.Context, unresolvedOnly bool) ([]*ledger.ReviewItem, error) {
	query := "SELECT id, kind, scope, record_ids, reason, resolved, created_at FROM review_items"
	if unresolvedOnly {
		query += " WHERE resolved = 0"
	}
	query += " ORDER BY id"

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	defer rows.Close()

	var out []*ledger.ReviewItem
	for rows.Next() {
		var (
			it            ledger.ReviewItem
			scope, idJSON string
		)
		if err := rows.Scan(&it.ID, &it.Kind, &scope, &idJSON, &it.Reason, &it.Resolved, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.Scope = ledger.RecordType(scope)
		if err := json.Unmarshal([]byte(idJSON), &it.RecordIDs); err != nil {
			return nil, fmt.Errorf("review item %d: bad record_ids: %w", it.ID, err)
		}
		it.CreatedAt = it.CreatedAt.UTC()
		out = append(out, &it)
	}
	return out, rows.Err()
}
