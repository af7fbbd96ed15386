package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

func TestAuditBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertTransactions(f.ctx, []*ledger.BankTransaction{
		{ID: "t1", AccountID: "chk", Date: day(1), Description: "PAY", Credit: money("1000.00"), Balance: decimal.NewNullDecimal(money("1000.00"))},
		{ID: "t2", AccountID: "chk", Date: day(2), Description: "RENT", Debit: money("400.00"), Balance: decimal.NewNullDecimal(money("650.00"))},
		{ID: "t3", AccountID: "chk", Date: day(3), Description: "FOOD", Debit: money("50.00"), Balance: decimal.NewNullDecimal(money("600.00"))},
	}))

	res, err := f.svc.AuditBalance(f.ctx, "chk", decimal.Zero)
	require.NoError(t, err)

	require.Len(t, res.Variances, 1)
	v := res.Variances[0]
	assert.Equal(t, "t2", v.TransactionID)
	assert.True(t, v.Expected.Equal(money("600.00")))
	assert.True(t, v.Delta.Equal(money("50.00")))
	assert.True(t, res.ClosingBalance.Equal(money("600.00")))
	assert.Equal(t, 3, res.Checked)

	stored, err := f.repo.ListVariances(f.ctx, "chk")
	require.NoError(t, err)
	assert.Equal(t, res.Variances, stored)

	run, err := f.repo.GetRun(f.ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunAuditBalance, run.Kind)
	assert.Equal(t, 1, run.Errors)

	// unchanged data gives the same report
	again, err := f.svc.AuditBalance(f.ctx, "chk", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, res.Variances, again.Variances)

	// the ledger itself is untouched
	assert.Empty(t, f.repo.StatusUpdates)
}
