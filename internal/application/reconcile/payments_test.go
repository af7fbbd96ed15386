package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

func march(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
}

func seedCharterPayment(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.repo.InsertCharters(f.ctx, []*ledger.Charter{
		{ReserveNumber: "R-1001", Date: march(4), TotalAmountDue: money("500.00")},
	}))
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{
		{ID: "pay1", Date: march(1), Amount: money("500.00"), Method: "e-transfer"},
	}))
}

func TestMatchPayments_WindowedCharter(t *testing.T) {
	t.Run("dry run proposes without writing", func(t *testing.T) {
		f := newFixture(t)
		seedCharterPayment(t, f)

		res, err := f.svc.MatchPayments(f.ctx, Options{DryRun: true})
		require.NoError(t, err)

		require.Len(t, res.Decisions, 1)
		d := res.Decisions[0]
		assert.Equal(t, 70, d.Confidence)
		assert.Equal(t, ledger.MethodWindowed, d.Method)
		assert.Equal(t, ledger.RecordCharter, d.TargetType)
		assert.Equal(t, []string{"R-1001"}, d.TargetIDs)
		assert.False(t, d.Written)

		p, err := f.repo.GetPayment(f.ctx, "pay1")
		require.NoError(t, err)
		assert.Empty(t, p.ReserveNumber)
		assert.Equal(t, ledger.StatusUnmatched, p.Status)
	})

	t.Run("write links payment and settles charter", func(t *testing.T) {
		f := newFixture(t)
		seedCharterPayment(t, f)

		res, err := f.svc.MatchPayments(f.ctx, Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Applied)
		assert.True(t, res.Decisions[0].Written)

		p, err := f.repo.GetPayment(f.ctx, "pay1")
		require.NoError(t, err)
		assert.Equal(t, "R-1001", p.ReserveNumber)
		assert.Equal(t, ledger.StatusUnmatched, p.Status, "bank link is made by the match pass")

		c, err := f.repo.GetCharter(f.ctx, "R-1001")
		require.NoError(t, err)
		assert.True(t, c.PaidAmount.Equal(money("500.00")))
		assert.True(t, c.Balance.IsZero())
		assert.Equal(t, 1, res.After[ledger.StatusUnmatched])
	})
}

func TestMatchPayments_DepositStillMatchesAssignedPayment(t *testing.T) {
	f := newFixture(t)
	seedCharterPayment(t, f)

	res, err := f.svc.MatchPayments(f.ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Applied)

	dep := &ledger.BankTransaction{ID: "dep", AccountID: "chk", Date: march(1), Description: "E-TRANSFER DEPOSIT", Credit: money("500.00")}
	require.NoError(t, f.repo.InsertTransactions(f.ctx, []*ledger.BankTransaction{dep}))

	mres, err := f.svc.MatchAccount(f.ctx, "chk", Options{})
	require.NoError(t, err)
	require.Len(t, mres.Decisions, 1)
	assert.Equal(t, ActionApply, mres.Decisions[0].Action)
	assert.Equal(t, []string{"pay1"}, mres.Decisions[0].TargetIDs)

	p, err := f.repo.GetPayment(f.ctx, "pay1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusLinked, p.Status)
	assert.Equal(t, "R-1001", p.ReserveNumber)
	assert.Equal(t, ledger.StatusLinked, f.txStatus(t, "dep"))

	c, err := f.repo.GetCharter(f.ctx, "R-1001")
	require.NoError(t, err)
	assert.True(t, c.PaidAmount.Equal(money("500.00")), "paid %s", c.PaidAmount)
	assert.True(t, c.Balance.IsZero())
}

func TestMatchPayments_SettledCharterLeavesPool(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertCharters(f.ctx, []*ledger.Charter{
		{ReserveNumber: "R-1", Date: march(1), TotalAmountDue: money("200.00")},
	}))
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{
		{ID: "a", Date: march(1), Amount: money("200.00"), Method: "cash"},
		{ID: "b", Date: march(2), Amount: money("200.00"), Method: "cash"},
	}))

	res, err := f.svc.MatchPayments(f.ctx, Options{DryRun: true})
	require.NoError(t, err)

	require.Len(t, res.Decisions, 2)
	assert.Equal(t, ActionApply, res.Decisions[0].Action)
	assert.Equal(t, ActionSkip, res.Decisions[1].Action)
}

func TestMatchPayments_NoCharter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{
		{ID: "a", Date: march(1), Amount: money("75.00"), Method: "cash"},
	}))

	res, err := f.svc.MatchPayments(f.ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.ErrorCount)
}
