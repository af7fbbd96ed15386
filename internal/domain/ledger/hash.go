package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceHash is the content hash used to spot re-imported rows. The
// description is case and whitespace normalised so that the same row
// exported twice hashes identically.
func SourceHash(date time.Time, description string, amount decimal.Decimal) string {
	parts := []string{
		date.Format("2006-01-02"),
		strings.ToUpper(strings.Join(strings.Fields(description), " ")),
		amount.StringFixed(2),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// EnsureHash fills SourceHash from the row contents when the importer did
// not supply one.
func (t *BankTransaction) EnsureHash() {
	if t.SourceHash == "" {
		t.SourceHash = SourceHash(t.Date, t.Description, t.Amount())
	}
}

// EnsureHash fills SourceHash from the receipt contents. The source system
// and parent id are part of the hash, so a split child never collides with
// a top-level receipt or with a child of another parent.
func (r *Receipt) EnsureHash() {
	r.EnsureSplitHash(0)
}

// EnsureSplitHash is EnsureHash for the ordinal-th child of a parent that
// already has a sibling with identical contents. Ordinal 0 is the plain hash.
func (r *Receipt) EnsureSplitHash(ordinal int) {
	if r.SourceHash != "" {
		return
	}
	text := strings.Join([]string{r.SourceSystem, r.ParentReceiptID, r.Vendor}, " ")
	if ordinal > 0 {
		text += " #" + strconv.Itoa(ordinal)
	}
	r.SourceHash = SourceHash(r.Date, text, r.GrossAmount)
}

// EnsureHash fills SourceHash from the payment contents.
func (p *Payment) EnsureHash() {
	if p.SourceHash == "" {
		p.SourceHash = SourceHash(p.Date, p.ReserveNumber+" "+p.Method, p.Amount)
	}
}
