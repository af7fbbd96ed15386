package linker

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLinker(repo storage.Repository) *Linker {
	l := NewLinker(repo, DefaultConfig(), nil)
	n := 0
	l.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	l.now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	return l
}

type fixture struct {
	repo *storage.MockRepository
	l    *Linker
	ctx  context.Context
}

func newFixture(t *testing.T) *fixture {
	repo := storage.NewMockRepository()
	return &fixture{repo: repo, l: newTestLinker(repo), ctx: context.Background()}
}

func (f *fixture) tx(t *testing.T, id string, d int, debit string) *ledger.BankTransaction {
	t.Helper()
	tx := &ledger.BankTransaction{ID: id, AccountID: "chk", Date: day(d), Description: "POS " + id, Debit: money(debit)}
	require.NoError(t, f.repo.InsertTransactions(f.ctx, []*ledger.BankTransaction{tx}))
	return tx
}

func (f *fixture) receipt(t *testing.T, id string, d int, amount string) *ledger.Receipt {
	t.Helper()
	r := &ledger.Receipt{ID: id, Date: day(d), Vendor: "ACME", GrossAmount: money(amount)}
	require.NoError(t, f.repo.InsertReceipts(f.ctx, []*ledger.Receipt{r}))
	return r
}

func (f *fixture) status(t *testing.T, typ ledger.RecordType, id string) ledger.Status {
	t.Helper()
	switch typ {
	case ledger.RecordTransaction:
		tx, err := f.repo.GetTransaction(f.ctx, id)
		require.NoError(t, err)
		return tx.Status
	case ledger.RecordReceipt:
		r, err := f.repo.GetReceipt(f.ctx, id)
		require.NoError(t, err)
		return r.Status
	default:
		p, err := f.repo.GetPayment(f.ctx, id)
		require.NoError(t, err)
		return p.Status
	}
}

func TestApplyMatch_ExactIsActiveAndIdempotent(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, "t1", 15, "125.50")
	r := f.receipt(t, "r1", 15, "125.50")

	link, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkActive, link.State)
	assert.Equal(t, ledger.StatusLinked, tx.Status, "caller's copy is refreshed")
	assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordReceipt, "r1"))

	again, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)
	assert.Equal(t, link.ID, again.ID)
	assert.Equal(t, 1, f.repo.InsertLinkCall)

	links, err := f.repo.LinksForTransaction(f.ctx, "t1", ledger.LinkActive)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestApplyMatch_LowConfidenceIsProposed(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, "t1", 15, "100.00")
	r := f.receipt(t, "r1", 17, "95.00")

	link, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 40, ledger.MethodFuzzy)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkProposed, link.State)
	assert.Equal(t, ledger.StatusCandidateProposed, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusCandidateProposed, f.status(t, ledger.RecordReceipt, "r1"))

	confirmed, err := f.l.ConfirmLink(f.ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkActive, confirmed.State)
	assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordReceipt, "r1"))
}

func TestApplyMatch_PromotesExistingProposal(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, "t1", 15, "100.00")
	r := f.receipt(t, "r1", 15, "100.00")
	other := f.receipt(t, "r2", 16, "98.00")

	_, err := f.l.ApplyMatch(f.ctx, tx, other.Ref(), 40, ledger.MethodFuzzy)
	require.NoError(t, err)
	proposal, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 40, ledger.MethodFuzzy)
	require.NoError(t, err)

	tx, err = f.repo.GetTransaction(f.ctx, "t1")
	require.NoError(t, err)
	link, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)
	assert.Equal(t, proposal.ID, link.ID)
	assert.Equal(t, ledger.LinkActive, link.State)

	// the losing proposal is retired and its target released
	assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordReceipt, "r2"))
	proposed, err := f.repo.LinksForTransaction(f.ctx, "t1", ledger.LinkProposed)
	require.NoError(t, err)
	assert.Empty(t, proposed)
}

func TestApplyMatch_Failures(t *testing.T) {
	t.Run("transaction already linked elsewhere", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "10.00")
		r1 := f.receipt(t, "r1", 15, "10.00")
		r2 := f.receipt(t, "r2", 15, "10.00")

		_, err := f.l.ApplyMatch(f.ctx, tx, r1.Ref(), 100, ledger.MethodExact)
		require.NoError(t, err)
		_, err = f.l.ApplyMatch(f.ctx, tx, r2.Ref(), 100, ledger.MethodExact)
		assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)
		assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordReceipt, "r2"))
	})

	t.Run("target held by another transaction", func(t *testing.T) {
		f := newFixture(t)
		t1 := f.tx(t, "t1", 15, "10.00")
		t2 := f.tx(t, "t2", 15, "10.00")
		r := f.receipt(t, "r1", 15, "10.00")

		_, err := f.l.ApplyMatch(f.ctx, t1, r.Ref(), 100, ledger.MethodExact)
		require.NoError(t, err)
		_, err = f.l.ApplyMatch(f.ctx, t2, ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r1"}, 100, ledger.MethodExact)
		assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)
		assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordTransaction, "t2"))
	})

	t.Run("missing target", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "10.00")
		_, err := f.l.ApplyMatch(f.ctx, tx, ledger.RecordRef{Type: ledger.RecordReceipt, ID: "ghost"}, 100, ledger.MethodExact)
		assert.ErrorIs(t, err, ledger.ErrTargetNotFound)
	})

	t.Run("stale transaction", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "10.00")
		r := f.receipt(t, "r1", 15, "10.00")

		stale := *tx
		stale.Version = 7
		_, err := f.l.ApplyMatch(f.ctx, &stale, r.Ref(), 100, ledger.MethodExact)
		assert.ErrorIs(t, err, ledger.ErrStaleVersion)
		assert.Equal(t, 0, f.repo.InsertLinkCall)
		assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordReceipt, "r1"))
	})

	t.Run("charter is not a link target", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "10.00")
		_, err := f.l.ApplyMatch(f.ctx, tx, ledger.RecordRef{Type: ledger.RecordCharter, ID: "R1"}, 100, ledger.MethodExact)
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})
}

func TestApplyMatch_PaymentCascadesCharter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertCharters(f.ctx, []*ledger.Charter{{
		ReserveNumber: "R100", Date: day(10), TotalAmountDue: money("800.00"),
	}}))
	p := &ledger.Payment{ID: "p1", ReserveNumber: "R100", Date: day(12), Amount: money("300.00"), Method: "cheque"}
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{p}))
	tx := &ledger.BankTransaction{ID: "t1", AccountID: "chk", Date: day(12), Description: "DEPOSIT", Credit: money("300.00")}
	require.NoError(t, f.repo.InsertTransactions(f.ctx, []*ledger.BankTransaction{tx}))

	_, err := f.l.ApplyMatch(f.ctx, tx, p.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)

	c, err := f.repo.GetCharter(f.ctx, "R100")
	require.NoError(t, err)
	assert.True(t, c.PaidAmount.Equal(money("300.00")), "paid %s", c.PaidAmount)
	assert.True(t, c.Balance.Equal(money("500.00")), "balance %s", c.Balance)
}

func TestApplySplit(t *testing.T) {
	t.Run("sum mismatch writes nothing", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "100.00")
		f.receipt(t, "r1", 15, "60.00")
		f.receipt(t, "r2", 15, "30.00")

		_, err := f.l.ApplySplit(f.ctx, tx, []Allocation{
			{Target: ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r1"}, Amount: money("60.00")},
			{Target: ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r2"}, Amount: money("30.00")},
		})
		assert.ErrorIs(t, err, ledger.ErrSplitSumMismatch)
		assert.Equal(t, 0, f.repo.WithTxCalls)
		assert.Equal(t, 0, f.repo.InsertLinkCall)
	})

	t.Run("within a cent is applied and idempotent", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "100.00")
		f.receipt(t, "r1", 15, "60.00")
		f.receipt(t, "r2", 15, "39.99")

		allocs := []Allocation{
			{Target: ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r1"}, Amount: money("60.00")},
			{Target: ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r2"}, Amount: money("39.99")},
		}
		links, err := f.l.ApplySplit(f.ctx, tx, allocs)
		require.NoError(t, err)
		require.Len(t, links, 2)
		assert.Equal(t, links[0].SplitGroup, links[1].SplitGroup)
		assert.NotEmpty(t, links[0].SplitGroup)
		assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordTransaction, "t1"))
		assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordReceipt, "r2"))

		again, err := f.l.ApplySplit(f.ctx, tx, allocs)
		require.NoError(t, err)
		assert.Len(t, again, 2)
		assert.Equal(t, 2, f.repo.InsertLinkCall)
	})

	t.Run("one bad part rolls back the rest", func(t *testing.T) {
		f := newFixture(t)
		other := f.tx(t, "t0", 14, "40.00")
		tx := f.tx(t, "t1", 15, "100.00")
		f.receipt(t, "r1", 15, "60.00")
		r2 := f.receipt(t, "r2", 15, "40.00")

		_, err := f.l.ApplyMatch(f.ctx, other, r2.Ref(), 100, ledger.MethodExact)
		require.NoError(t, err)

		_, err = f.l.ApplySplit(f.ctx, tx, []Allocation{
			{Target: ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r1"}, Amount: money("60.00")},
			{Target: ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r2"}, Amount: money("40.00")},
		})
		require.Error(t, err)

		assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordTransaction, "t1"))
		assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordReceipt, "r1"))
		links, err := f.repo.LinksForTransaction(f.ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("duplicate target rejected", func(t *testing.T) {
		f := newFixture(t)
		tx := f.tx(t, "t1", 15, "20.00")
		ref := ledger.RecordRef{Type: ledger.RecordReceipt, ID: "r1"}
		_, err := f.l.ApplySplit(f.ctx, tx, []Allocation{{Target: ref, Amount: money("10.00")}, {Target: ref, Amount: money("10.00")}})
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})
}

func TestRejectLink_ReleasesRecords(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, "t1", 15, "100.00")
	r := f.receipt(t, "r1", 18, "97.00")

	link, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 40, ledger.MethodFuzzy)
	require.NoError(t, err)
	require.NoError(t, f.l.RejectLink(f.ctx, link.ID))

	assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordReceipt, "r1"))

	got, err := f.repo.GetLink(f.ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkSuperseded, got.State)

	// rejecting twice is harmless
	require.NoError(t, f.l.RejectLink(f.ctx, link.ID))

	_, err = f.l.ConfirmLink(f.ctx, link.ID)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestDisputeAndReopen(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, "t1", 15, "50.00")
	r := f.receipt(t, "r1", 15, "50.00")

	link, err := f.l.ApplyMatch(f.ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)

	err = f.l.Reopen(f.ctx, "t1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition, "only disputed transactions reopen")

	require.NoError(t, f.l.Dispute(f.ctx, "t1", "receipt belongs to another account"))
	assert.Equal(t, ledger.StatusDisputed, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusDisputed, f.status(t, ledger.RecordReceipt, "r1"))

	items, err := f.repo.ListReviewItems(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"t1"}, items[0].RecordIDs)

	require.NoError(t, f.l.Reopen(f.ctx, "t1"))
	assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusUnmatched, f.status(t, ledger.RecordReceipt, "r1"))

	got, err := f.repo.GetLink(f.ctx, link.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkSuperseded, got.State, "soft-superseded, never deleted")
	assert.NotNil(t, got.SupersededAt)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, "t1", 15, "50.00")
	r := f.receipt(t, "r1", 15, "50.00")

	err := f.l.Verify(f.ctx, "t1")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition, "unmatched cannot be verified")

	_, err = f.l.ApplyMatch(f.ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)
	require.NoError(t, f.l.Verify(f.ctx, "t1"))

	assert.Equal(t, ledger.StatusVerified, f.status(t, ledger.RecordTransaction, "t1"))
	assert.Equal(t, ledger.StatusVerified, f.status(t, ledger.RecordReceipt, "r1"))
}

func TestAssignReserve(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertCharters(f.ctx, []*ledger.Charter{{
		ReserveNumber: "R7", Date: day(1), TotalAmountDue: money("500.00"),
	}}))
	p := &ledger.Payment{ID: "p1", Date: day(3), Amount: money("500.00"), Method: "etransfer"}
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{p}))

	err := f.l.AssignReserve(f.ctx, p, "R7", 40)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	err = f.l.AssignReserve(f.ctx, p, "NOPE", 70)
	assert.ErrorIs(t, err, ledger.ErrTargetNotFound)

	require.NoError(t, f.l.AssignReserve(f.ctx, p, "R7", 70))
	got, err := f.repo.GetPayment(f.ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "R7", got.ReserveNumber)
	assert.Equal(t, ledger.StatusUnmatched, got.Status, "bank link still open")
	links, err := f.repo.ListLinks(f.ctx, storage.LinkFilter{TargetType: ledger.RecordPayment, TargetID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, links)

	c, err := f.repo.GetCharter(f.ctx, "R7")
	require.NoError(t, err)
	assert.True(t, c.Balance.IsZero(), "balance %s", c.Balance)

	// same reserve again is a no-op, a different one is refused
	require.NoError(t, f.l.AssignReserve(f.ctx, got, "R7", 70))
	err = f.l.AssignReserve(f.ctx, got, "R8", 70)
	assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)
}

func TestAssignReserve_DepositStillLinks(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertCharters(f.ctx, []*ledger.Charter{{
		ReserveNumber: "R7", Date: day(1), TotalAmountDue: money("500.00"),
	}}))
	p := &ledger.Payment{ID: "p1", Date: day(3), Amount: money("500.00"), Method: "etransfer"}
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{p}))
	require.NoError(t, f.l.AssignReserve(f.ctx, p, "R7", 90))

	dep := &ledger.BankTransaction{ID: "dep", AccountID: "chk", Date: day(4), Description: "E-TRANSFER DEPOSIT", Credit: money("500.00")}
	require.NoError(t, f.repo.InsertTransactions(f.ctx, []*ledger.BankTransaction{dep}))

	link, err := f.l.ApplyMatch(f.ctx, dep, ledger.RecordRef{Type: ledger.RecordPayment, ID: "p1"}, 90, ledger.MethodExact)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkActive, link.State)
	assert.Equal(t, ledger.StatusLinked, f.status(t, ledger.RecordPayment, "p1"))

	c, err := f.repo.GetCharter(f.ctx, "R7")
	require.NoError(t, err)
	assert.True(t, c.PaidAmount.Equal(money("500.00")), "paid %s", c.PaidAmount)

	// a disputed deposit takes the payment out of the charter
	require.NoError(t, f.l.Dispute(f.ctx, "dep", "bounced"))
	c, err = f.repo.GetCharter(f.ctx, "R7")
	require.NoError(t, err)
	assert.True(t, c.PaidAmount.IsZero(), "paid %s", c.PaidAmount)
	assert.True(t, c.Balance.Equal(money("500.00")), "balance %s", c.Balance)
}

func TestResolveDuplicateGroup_PaymentsCascadeCharter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.InsertCharters(f.ctx, []*ledger.Charter{{
		ReserveNumber: "R7", Date: day(1), TotalAmountDue: money("500.00"),
	}}))
	require.NoError(t, f.repo.InsertPayments(f.ctx, []*ledger.Payment{
		{ID: "a", Date: day(3), Amount: money("250.00"), Method: "etransfer", ReserveNumber: "R7", SourceHash: "h-a"},
		{ID: "b", Date: day(3), Amount: money("250.00"), Method: "etransfer", ReserveNumber: "R7", SourceHash: "h-b"},
	}))
	require.NoError(t, f.l.RecomputeCharters(f.ctx, f.repo, []string{"R7"}))

	paid := func() decimal.Decimal {
		c, err := f.repo.GetCharter(f.ctx, "R7")
		require.NoError(t, err)
		return c.PaidAmount
	}
	assert.True(t, paid().Equal(money("500.00")))

	require.NoError(t, f.l.ResolveDuplicateGroup(f.ctx, &ledger.DuplicateGroup{
		ID: "g1", Scope: ledger.RecordPayment, MemberIDs: []string{"a", "b"},
		Classification: ledger.ClassTrueDuplicate, KeptID: "a", DeletedIDs: []string{"b"},
	}))
	assert.True(t, paid().Equal(money("250.00")), "paid %s", paid())
}

func TestResolveDuplicateGroup(t *testing.T) {
	t.Run("reversal pair is excluded, never deleted", func(t *testing.T) {
		f := newFixture(t)
		f.tx(t, "nsf", 15, "2000.00")
		rev := &ledger.BankTransaction{ID: "rev", AccountID: "chk", Date: day(15), Description: "NSF REVERSAL", Credit: money("2000.00")}
		require.NoError(t, f.repo.InsertTransactions(f.ctx, []*ledger.BankTransaction{rev}))

		group := &ledger.DuplicateGroup{
			ID: "g1", Scope: ledger.RecordTransaction, MemberIDs: []string{"nsf", "rev"},
			Classification: ledger.ClassReversalPair,
		}
		require.NoError(t, f.l.ResolveDuplicateGroup(f.ctx, group))

		for _, id := range []string{"nsf", "rev"} {
			tx, err := f.repo.GetTransaction(f.ctx, id)
			require.NoError(t, err)
			assert.Equal(t, ledger.StatusExcluded, tx.Status)
			assert.True(t, tx.ExcludeFromReports)
		}
		assert.Empty(t, f.repo.DeletedRecords)
	})

	t.Run("true duplicate deletes only the flagged copy", func(t *testing.T) {
		f := newFixture(t)
		f.tx(t, "a", 15, "42.00")
		f.tx(t, "b", 15, "42.00")

		group := &ledger.DuplicateGroup{
			ID: "g1", Scope: ledger.RecordTransaction, MemberIDs: []string{"a", "b"},
			Classification: ledger.ClassTrueDuplicate, KeptID: "a", DeletedIDs: []string{"b"},
		}
		require.NoError(t, f.l.ResolveDuplicateGroup(f.ctx, group))

		_, err := f.repo.GetTransaction(f.ctx, "a")
		assert.NoError(t, err)
		_, err = f.repo.GetTransaction(f.ctx, "b")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		groups, err := f.repo.ListDuplicateGroups(f.ctx, ledger.RecordTransaction)
		require.NoError(t, err)
		assert.Len(t, groups, 1)
	})

	t.Run("linked duplicate is refused", func(t *testing.T) {
		f := newFixture(t)
		f.tx(t, "a", 15, "42.00")
		b := f.tx(t, "b", 15, "42.00")
		r := f.receipt(t, "r1", 15, "42.00")
		_, err := f.l.ApplyMatch(f.ctx, b, r.Ref(), 100, ledger.MethodExact)
		require.NoError(t, err)

		group := &ledger.DuplicateGroup{
			ID: "g1", Scope: ledger.RecordTransaction, MemberIDs: []string{"a", "b"},
			Classification: ledger.ClassTrueDuplicate, KeptID: "a", DeletedIDs: []string{"b"},
		}
		err = f.l.ResolveDuplicateGroup(f.ctx, group)
		assert.ErrorIs(t, err, ledger.ErrAlreadyLinked)

		_, err = f.repo.GetTransaction(f.ctx, "b")
		assert.NoError(t, err)
		groups, err := f.repo.ListDuplicateGroups(f.ctx, "")
		require.NoError(t, err)
		assert.Empty(t, groups)
	})

	t.Run("review goes to the queue", func(t *testing.T) {
		f := newFixture(t)
		group := &ledger.DuplicateGroup{
			ID: "g1", Scope: ledger.RecordReceipt, MemberIDs: []string{"x", "y"},
			Classification: ledger.ClassReview, Reason: "same day, different hash",
		}
		require.NoError(t, f.l.ResolveDuplicateGroup(f.ctx, group))
		items, err := f.repo.ListReviewItems(f.ctx, true)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, ledger.ReviewDuplicate, items[0].Kind)
	})
}

// TestApplyMatch_SQLite runs the ACME scenario against the real store.
func TestApplyMatch_SQLite(t *testing.T) {
	tmp, err := os.CreateTemp("", "linker_*.db")
	require.NoError(t, err)
	tmp.Close()
	defer os.Remove(tmp.Name())

	store, err := storage.NewStorage(tmp.Name())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tx := &ledger.BankTransaction{ID: "t1", AccountID: "chk", Date: day(15), Description: "ACME SUPPLY", Debit: money("125.50")}
	r := &ledger.Receipt{ID: "r1", Date: day(15), Vendor: "ACME", GrossAmount: money("125.50")}
	require.NoError(t, store.InsertTransactions(ctx, []*ledger.BankTransaction{tx}))
	require.NoError(t, store.InsertReceipts(ctx, []*ledger.Receipt{r}))

	l := NewLinker(store, DefaultConfig(), nil)
	link, err := l.ApplyMatch(ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)
	assert.Equal(t, ledger.LinkActive, link.State)

	_, err = l.ApplyMatch(ctx, tx, r.Ref(), 100, ledger.MethodExact)
	require.NoError(t, err)

	links, err := store.LinksForTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, links, 1)

	got, err := store.GetReceipt(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusLinked, got.Status)
	assert.Equal(t, int64(2), got.Version)
}
