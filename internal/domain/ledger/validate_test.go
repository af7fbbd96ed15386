package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTx() BankTransaction {
	return BankTransaction{
		ID:          "tx-1",
		AccountID:   "acct-1",
		Date:        time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Description: "ACME SUPPLY",
		Debit:       decimal.RequireFromString("125.50"),
	}
}

func TestBankTransaction_Validate(t *testing.T) {
	tx := validTx()
	require.NoError(t, tx.Validate())

	both := validTx()
	both.Credit = decimal.NewFromInt(5)
	assert.ErrorIs(t, both.Validate(), ErrInvalidRecord)

	negative := validTx()
	negative.Debit = decimal.NewFromInt(-5)
	assert.ErrorIs(t, negative.Validate(), ErrInvalidRecord)

	noAccount := validTx()
	noAccount.AccountID = ""
	assert.ErrorIs(t, noAccount.Validate(), ErrInvalidRecord)
}

func TestBankTransaction_Amount(t *testing.T) {
	tx := validTx()
	assert.True(t, tx.Amount().Equal(decimal.RequireFromString("-125.50")))
	assert.True(t, tx.Magnitude().Equal(decimal.RequireFromString("125.50")))
}

func TestPayment_Validate(t *testing.T) {
	p := Payment{ID: "p-1", Date: time.Now(), Amount: decimal.NewFromInt(500)}
	require.NoError(t, p.Validate())

	p.Amount = decimal.Zero
	assert.ErrorIs(t, p.Validate(), ErrInvalidRecord)
}

func TestCharter_ApplyPaid(t *testing.T) {
	c := Charter{ReserveNumber: "R100", TotalAmountDue: decimal.NewFromInt(1200)}
	c.ApplyPaid(decimal.NewFromInt(500))
	assert.True(t, c.Balance.Equal(decimal.NewFromInt(700)))
}

func TestSourceHash_Normalizes(t *testing.T) {
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	a := SourceHash(d, "acme   supply", decimal.RequireFromString("-125.5"))
	b := SourceHash(d, "ACME SUPPLY", decimal.RequireFromString("-125.50"))
	c := SourceHash(d.AddDate(0, 0, 1), "ACME SUPPLY", decimal.RequireFromString("-125.50"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestEnsureHash_KeepsExisting(t *testing.T) {
	tx := validTx()
	tx.SourceHash = "given"
	tx.EnsureHash()
	assert.Equal(t, "given", tx.SourceHash)

	fresh := validTx()
	fresh.EnsureHash()
	assert.NotEmpty(t, fresh.SourceHash)
}

func TestReceiptHash_SplitChildren(t *testing.T) {
	d := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	receipt := func(parent, system string) *Receipt {
		return &Receipt{ID: "x", Date: d, Vendor: "COSTCO", GrossAmount: decimal.RequireFromString("50.00"), ParentReceiptID: parent, SourceSystem: system}
	}
	hash := func(r *Receipt, ordinal int) string {
		r.EnsureSplitHash(ordinal)
		return r.SourceHash
	}

	top := hash(receipt("", ""), 0)
	child := hash(receipt("p1", ""), 0)
	sibling := hash(receipt("p1", ""), 1)
	otherParent := hash(receipt("p2", ""), 0)
	otherSystem := hash(receipt("p1", "scanner"), 0)

	assert.Equal(t, SourceHash(d, "COSTCO", decimal.RequireFromString("50")), top)
	for _, h := range []string{child, sibling, otherParent, otherSystem} {
		assert.NotEqual(t, top, h)
	}
	assert.NotEqual(t, child, sibling)
	assert.NotEqual(t, child, otherParent)
	assert.NotEqual(t, child, otherSystem)
	assert.Equal(t, child, hash(receipt("p1", ""), 0))
}
