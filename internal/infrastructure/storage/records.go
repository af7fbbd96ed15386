package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

const receiptColumns = `id, date, vendor, gross_amount, gst_amount, source_system,
	parent_receipt_id, source_hash, reconciliation_status, exclude_from_reports, version, created_at`

const paymentColumns = `id, reserve_number, date, amount, method, source_hash,
	reconciliation_status, exclude_from_reports, version, created_at`

const charterColumns = `id, reserve_number, date, total_amount_due, paid_amount, balance, version, created_at`

// InsertReceipts inserts receipts in the unmatched state.
func (q *queries) InsertReceipts(ctx context.Context, receipts []*ledger.Receipt) error {
	query := "INSERT INTO receipts (" + receiptColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	for _, r := range receipts {
		if err := r.Validate(); err != nil {
			return err
		}
		r.EnsureHash()
		if r.Status == "" {
			r.Status = ledger.StatusUnmatched
		}
		if r.Version == 0 {
			r.Version = 1
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = nowUTC()
		}

		_, err := q.db.ExecContext(ctx, query,
			r.ID, utc(r.Date), r.Vendor, r.GrossAmount, r.GSTAmount, r.SourceSystem,
			r.ParentReceiptID, r.SourceHash, string(r.Status), r.ExcludeFromReports, r.Version, utc(r.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("receipt %s already exists: %w", r.ID, ledger.ErrInvalidRecord)
			}
			return fmt.Errorf("failed to insert receipt %s: %w", r.ID, err)
		}
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (q *queries) GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+receiptColumns+" FROM receipts WHERE id = ?", id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, ledger.ErrNotFound)
	}
	return r, err
}

// ListReceipts returns receipts within the filter's date range.
func (q *queries) ListReceipts(ctx context.Context, filter RecordFilter) ([]*ledger.Receipt, error) {
	where, args := recordWhere(filter)
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+receiptColumns+" FROM receipts"+where+" ORDER BY date, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	return collectReceipts(rows)
}

// ListChildReceipts returns the receipts split out of parentID.
func (q *queries) ListChildReceipts(ctx context.Context, parentID string) ([]*ledger.Receipt, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+receiptColumns+" FROM receipts WHERE parent_receipt_id = ? ORDER BY id", parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child receipts: %w", err)
	}
	return collectReceipts(rows)
}

// InsertPayments inserts payments in the unmatched state.
func (q *queries) InsertPayments(ctx context.Context, payments []*ledger.Payment) error {
	query := "INSERT INTO payments (" + paymentColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	for _, p := range payments {
		if err := p.Validate(); err != nil {
			return err
		}
		p.EnsureHash()
		if p.Status == "" {
			p.Status = ledger.StatusUnmatched
		}
		if p.Version == 0 {
			p.Version = 1
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = nowUTC()
		}

		_, err := q.db.ExecContext(ctx, query,
			p.ID, p.ReserveNumber, utc(p.Date), p.Amount, p.Method, p.SourceHash,
			string(p.Status), p.ExcludeFromReports, p.Version, utc(p.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("payment %s already exists: %w", p.ID, ledger.ErrInvalidRecord)
			}
			return fmt.Errorf("failed to insert payment %s: %w", p.ID, err)
		}
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (q *queries) GetPayment(ctx context.Context, id string) (*ledger.Payment, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	return p, err
}

// ListPayments returns payments within the filter's date range.
func (q *queries) ListPayments(ctx context.Context, filter RecordFilter) ([]*ledger.Payment, error) {
	where, args := recordWhere(filter)
	if filter.WithoutReserve {
		if where == "" {
			where = " WHERE reserve_number = ''"
		} else {
			where += " AND reserve_number = ''"
		}
	}

	rows, err := q.db.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments"+where+" ORDER BY date, id", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPaymentReserve ties a payment to a charter reserve number.
func (q *queries) SetPaymentReserve(ctx context.Context, ref ledger.RecordRef, reserveNumber string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		"UPDATE payments SET reserve_number = ?, version = version + 1 WHERE id = ? AND version = ?",
		reserveNumber, ref.ID, ref.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to set reserve number: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, q.versionConflict(ctx, "payments", "id", ref.ID)
	}
	return ref.Version + 1, nil
}

// InsertCharters inserts charters. Balance is derived from total and paid.
func (q *queries) InsertCharters(ctx context.Context, charters []*ledger.Charter) error {
	query := "INSERT INTO charters (" + charterColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	for _, c := range charters {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.ID == "" {
			c.ID = c.ReserveNumber
		}
		c.ApplyPaid(c.PaidAmount)
		if c.Version == 0 {
			c.Version = 1
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = nowUTC()
		}

		_, err := q.db.ExecContext(ctx, query,
			c.ID, c.ReserveNumber, utc(c.Date), c.TotalAmountDue, c.PaidAmount, c.Balance, c.Version, utc(c.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("charter %s already exists: %w", c.ReserveNumber, ledger.ErrInvalidRecord)
			}
			return fmt.Errorf("failed to insert charter %s: %w", c.ReserveNumber, err)
		}
	}
	return nil
}

// GetCharter retrieves a charter by reserve number.
func (q *queries) GetCharter(ctx context.Context, reserveNumber string) (*ledger.Charter, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+charterColumns+" FROM charters WHERE reserve_number = ?", reserveNumber)
	c, err := scanCharter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("charter %s: %w", reserveNumber, ledger.ErrNotFound)
	}
	return c, err
}

// ListOpenCharters returns charters that still have a balance owing.
func (q *queries) ListOpenCharters(ctx context.Context) ([]*ledger.Charter, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+charterColumns+" FROM charters ORDER BY date, reserve_number")
	if err != nil {
		return nil, fmt.Errorf("failed to list charters: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Charter
	for rows.Next() {
		c, err := scanCharter(rows)
		if err != nil {
			return nil, err
		}
		// balances are stored as text, so the filter runs here
		if c.Balance.IsPositive() {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// UpdateCharterPaid writes paid_amount and balance for a charter.
func (q *queries) UpdateCharterPaid(ctx context.Context, reserveNumber string, version int64, paid decimal.Decimal) error {
	c, err := q.GetCharter(ctx, reserveNumber)
	if err != nil {
		return err
	}
	if c.Version != version {
		return fmt.Errorf("charter %s: %w", reserveNumber, ledger.ErrStaleVersion)
	}
	c.ApplyPaid(paid)

	res, err := q.db.ExecContext(ctx,
		"UPDATE charters SET paid_amount = ?, balance = ?, version = version + 1 WHERE reserve_number = ? AND version = ?",
		c.PaidAmount, c.Balance, reserveNumber, version)
	if err != nil {
		return fmt.Errorf("failed to update charter %s: %w", reserveNumber, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return q.versionConflict(ctx, "charters", "reserve_number", reserveNumber)
	}
	return nil
}

// SumCharterPayments adds up the payments that count toward a charter.
func (q *queries) SumCharterPayments(ctx context.Context, reserveNumber string) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT amount FROM payments
		 WHERE reserve_number = ? AND reconciliation_status != 'disputed' AND exclude_from_reports = 0`,
		reserveNumber)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum payments: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amt decimal.Decimal
		if err := rows.Scan(&amt); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amt)
	}
	return total, rows.Err()
}

// InsertCharterCharges inserts charge lines for existing charters.
func (q *queries) InsertCharterCharges(ctx context.Context, charges []*ledger.CharterCharge) error {
	for _, ch := range charges {
		_, err := q.db.ExecContext(ctx,
			"INSERT INTO charter_charges (id, reserve_number, description, amount) VALUES (?, ?, ?, ?)",
			ch.ID, ch.ReserveNumber, ch.Description, ch.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert charge %s: %w", ch.ID, err)
		}
	}
	return nil
}

// ListCharterCharges returns the charges of a charter.
func (q *queries) ListCharterCharges(ctx context.Context, reserveNumber string) ([]*ledger.CharterCharge, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, reserve_number, description, amount FROM charter_charges WHERE reserve_number = ? ORDER BY id",
		reserveNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.CharterCharge
	for rows.Next() {
		var ch ledger.CharterCharge
		if err := rows.Scan(&ch.ID, &ch.ReserveNumber, &ch.Description, &ch.Amount); err != nil {
			return nil, err
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func recordWhere(filter RecordFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, utc(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, utc(filter.To))
	}
	if len(filter.Statuses) > 0 {
		in, inArgs := inClause(filter.Statuses)
		where = append(where, "reconciliation_status IN "+in)
		args = append(args, inArgs...)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func collectReceipts(rows *sql.Rows) ([]*ledger.Receipt, error) {
	defer rows.Close()
	var out []*ledger.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(row rowScanner) (*ledger.Receipt, error) {
	var (
		r      ledger.Receipt
		status string
	)
	err := row.Scan(
		&r.ID, &r.Date, &r.Vendor, &r.GrossAmount, &r.GSTAmount, &r.SourceSystem,
		&r.ParentReceiptID, &r.SourceHash, &status, &r.ExcludeFromReports, &r.Version, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = ledger.Status(status)
	r.Date = r.Date.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func scanPayment(row rowScanner) (*ledger.Payment, error) {
	var (
		p      ledger.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.ReserveNumber, &p.Date, &p.Amount, &p.Method, &p.SourceHash,
		&status, &p.ExcludeFromReports, &p.Version, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = ledger.Status(status)
	p.Date = p.Date.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func scanCharter(row rowScanner) (*ledger.Charter, error) {
	var c ledger.Charter
	err := row.Scan(
		&c.ID, &c.ReserveNumber, &c.Date, &c.TotalAmountDue, &c.PaidAmount, &c.Balance, &c.Version, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Date = c.Date.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
