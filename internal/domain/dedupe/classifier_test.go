package dedupe

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

func date(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func rec(id string, d time.Time, amount, text, hash string, inserted int) Record {
	return Record{
		ID:         id,
		Date:       d,
		Amount:     decimal.RequireFromString(amount),
		Text:       text,
		SourceHash: hash,
		InsertedAt: time.Date(2025, 6, 1, 0, 0, inserted, 0, time.UTC),
	}
}

func newTestClassifier() *Classifier {
	c := NewClassifier(DefaultConfig())
	c.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	n := 0
	c.newID = func() string {
		n++
		return "grp-" + string(rune('0'+n))
	}
	return c
}

func TestClassify_ReversalPair(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("dep", date(3, 4), "2000.00", "CHQ DEPOSIT", "h1", 1),
		rec("nsf", date(3, 4), "-2000.00", "NSF RETURNED ITEM", "h2", 2),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	require.Len(t, result.Groups, 1)
	g := result.Groups[0]
	assert.Equal(t, ledger.ClassReversalPair, g.Classification)
	assert.ElementsMatch(t, []string{"dep", "nsf"}, g.MemberIDs)
	assert.Empty(t, g.DeletedIDs, "reversal pairs are never deleted")
	assert.Empty(t, g.KeptID)
	assert.Empty(t, result.Review)
}

func TestClassify_ReversalNeedsCounterpart(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("void", date(3, 4), "-50.00", "VOID CHEQUE 101", "h1", 1),
		rec("other", date(3, 20), "50.00", "DEPOSIT", "h2", 2),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	assert.Equal(t, 0, result.Count(ledger.ClassReversalPair))
}

func TestClassify_MarkerMustBeWholeWord(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("a", date(3, 4), "-75.00", "AVOIDANCE FEES", "h1", 1),
		rec("b", date(3, 4), "75.00", "REFUND", "h2", 2),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	assert.Equal(t, 0, result.Count(ledger.ClassReversalPair))
}

func TestClassify_TrueDuplicateKeepsEarliest(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("later", date(1, 15), "-125.50", "ACME", "same", 5),
		rec("earlier", date(1, 15), "-125.50", "ACME", "same", 1),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	require.Len(t, result.Groups, 1)
	g := result.Groups[0]
	assert.Equal(t, ledger.ClassTrueDuplicate, g.Classification)
	assert.Equal(t, "earlier", g.KeptID)
	assert.Equal(t, []string{"later"}, g.DeletedIDs)
}

func TestClassify_RecurringIsNotDuplicate(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("jan", date(1, 1), "-1500.00", "RENT - PROPERTY MGMT", "h1", 1),
		rec("feb", date(2, 1), "-1500.00", "Rent Property Mgmt", "h2", 2),
		rec("mar", date(3, 1), "-1500.00", "RENT PROPERTY MGMT", "h3", 3),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	require.Len(t, result.Groups, 1)
	g := result.Groups[0]
	assert.Equal(t, ledger.ClassRecurring, g.Classification)
	assert.Equal(t, []string{"jan", "feb", "mar"}, g.MemberIDs)
	assert.Empty(t, g.DeletedIDs)
}

func TestClassify_SameDayWithoutHashGoesToReview(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("a", date(1, 1), "-4.50", "COFFEE", "h1", 1),
		rec("b", date(1, 1), "-4.50", "COFFEE", "h2", 2),
		rec("c", date(1, 8), "-4.50", "COFFEE", "h3", 3),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	require.Len(t, result.Review, 1)
	assert.Equal(t, []string{"a", "b"}, result.Review[0].MemberIDs)
	assert.Empty(t, result.Review[0].DeletedIDs)
	// the remaining single coffee is not a series on its own
	assert.Empty(t, result.Groups)
}

func TestClassify_RecurringSkipsSameDayMembers(t *testing.T) {
	c := newTestClassifier()
	records := []Record{
		rec("jan", date(1, 15), "-9.99", "STREAMING CO", "h1", 1),
		rec("jan-2", date(1, 15), "-9.99", "STREAMING CO", "h2", 2),
		rec("feb", date(2, 15), "-9.99", "STREAMING CO", "h3", 3),
		rec("mar", date(3, 15), "-9.99", "STREAMING CO", "h4", 4),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	require.Len(t, result.Groups, 1)
	assert.Equal(t, ledger.ClassRecurring, result.Groups[0].Classification)
	assert.Equal(t, []string{"feb", "mar"}, result.Groups[0].MemberIDs)
	require.Len(t, result.Review, 1)
	assert.Equal(t, []string{"jan", "jan-2"}, result.Review[0].MemberIDs)
}

func TestClassify_FirstRuleWins(t *testing.T) {
	c := newTestClassifier()
	// the reversal side shares a hash with a re-imported copy; pairing wins
	records := []Record{
		rec("chg", date(4, 2), "100.00", "DEPOSIT", "h-dep", 1),
		rec("rev", date(4, 3), "-100.00", "REVERSAL DEPOSIT", "h-rev", 2),
		rec("rev-copy", date(4, 3), "-100.00", "REVERSAL DEPOSIT", "h-rev", 3),
	}

	result := c.Classify(ledger.RecordTransaction, records)

	assert.Equal(t, 1, result.Count(ledger.ClassReversalPair))
	assert.Equal(t, 0, result.Count(ledger.ClassTrueDuplicate))
	for _, g := range result.Groups {
		if g.Classification == ledger.ClassReversalPair {
			assert.ElementsMatch(t, []string{"chg", "rev"}, g.MemberIDs)
		}
	}
}

func TestClassify_NothingToDo(t *testing.T) {
	c := newTestClassifier()
	result := c.Classify(ledger.RecordReceipt, []Record{
		rec("a", date(1, 1), "10.00", "A", "h1", 1),
		rec("b", date(1, 2), "20.00", "B", "h2", 2),
	})

	assert.Empty(t, result.Groups)
	assert.Empty(t, result.Review)
}

func TestFromTransaction(t *testing.T) {
	tx := &ledger.BankTransaction{ID: "t", Debit: decimal.NewFromInt(5), SourceHash: "h"}
	r := FromTransaction(tx)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(-5)))
	assert.Equal(t, "h", r.SourceHash)
}
