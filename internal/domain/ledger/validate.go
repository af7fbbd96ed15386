package ledger

import "fmt"

func invalid(kind, id, reason string) error {
	return fmt.Errorf("%s %q: %s: %w", kind, id, reason, ErrInvalidRecord)
}

// Validate rejects rows that must never reach matching.
func (t *BankTransaction) Validate() error {
	switch {
	case t.ID == "":
		return invalid("transaction", t.ID, "missing id")
	case t.AccountID == "":
		return invalid("transaction", t.ID, "missing account_id")
	case t.Date.IsZero():
		return invalid("transaction", t.ID, "missing date")
	case t.Debit.IsNegative() || t.Credit.IsNegative():
		return invalid("transaction", t.ID, "debit and credit must be non-negative")
	case !t.Debit.IsZero() && !t.Credit.IsZero():
		return invalid("transaction", t.ID, "debit and credit are mutually exclusive")
	}
	return nil
}

// Validate rejects receipts missing required fields.
func (r *Receipt) Validate() error {
	switch {
	case r.ID == "":
		return invalid("receipt", r.ID, "missing id")
	case r.Date.IsZero():
		return invalid("receipt", r.ID, "missing date")
	case r.GSTAmount.IsNegative():
		return invalid("receipt", r.ID, "gst_amount must be non-negative")
	case r.ParentReceiptID == r.ID:
		return invalid("receipt", r.ID, "receipt cannot be its own parent")
	}
	return nil
}

// Validate rejects payments missing required fields.
func (p *Payment) Validate() error {
	switch {
	case p.ID == "":
		return invalid("payment", p.ID, "missing id")
	case p.Date.IsZero():
		return invalid("payment", p.ID, "missing date")
	case !p.Amount.IsPositive():
		return invalid("payment", p.ID, "amount must be positive")
	}
	return nil
}

// Validate rejects charters missing their business key.
func (c *Charter) Validate() error {
	switch {
	case c.ReserveNumber == "":
		return invalid("charter", c.ID, "missing reserve_number")
	case c.TotalAmountDue.IsNegative():
		return invalid("charter", c.ID, "total_amount_due must be non-negative")
	}
	return nil
}
