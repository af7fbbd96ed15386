// Package dedupe decides whether records that look alike are a duplicate
// import, a legitimate recurring charge, or a reversal pair, and detects
// whole-file re-imports.
//
// Rules are evaluated in order and the first match wins:
//  1. reversal marker plus an opposite-sign counterpart of equal magnitude
//     nearby: reversal_pair, both sides excluded, nothing deleted
//  2. identical source_hash: true_duplicate, earliest inserted is kept
//  3. same text and amount on different dates: recurring, no action
//  4. same date and amount but nothing else in common: manual review
//
// The classifier never decides deletion for anything outside rule 2.
package dedupe

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/matcher"
)

// Config holds classifier configuration.
type Config struct {
	ReversalWindowDays int      // How far apart a reversal and its charge may post (default: 3)
	ReimportThreshold  float64  // Share of known hashes that marks a re-import (default: 0.95)
	ReversalMarkers    []string // Description phrases that flag a reversal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReversalWindowDays: 3,
		ReimportThreshold:  DefaultReimportThreshold,
		ReversalMarkers: []string{
			"NSF", "NON SUFFICIENT", "REVERSAL", "REVERSED", "VOID", "VOIDED",
			"STOP PAYMENT", "STOP PMT", "RETURNED ITEM", "RETURN ITEM", "CHARGEBACK",
		},
	}
}

// Record is the classifier's view of a transaction, receipt or payment.
type Record struct {
	ID         string
	Date       time.Time
	Amount     decimal.Decimal // signed
	Text       string
	SourceHash string
	InsertedAt time.Time
}

// FromTransaction adapts a bank transaction.
func FromTransaction(tx *ledger.BankTransaction) Record {
	return Record{ID: tx.ID, Date: tx.Date, Amount: tx.Amount(), Text: tx.Description, SourceHash: tx.SourceHash, InsertedAt: tx.CreatedAt}
}

// FromReceipt adapts a receipt. Refund receipts carry a negative gross.
func FromReceipt(r *ledger.Receipt) Record {
	return Record{ID: r.ID, Date: r.Date, Amount: r.GrossAmount, Text: r.Vendor, SourceHash: r.SourceHash, InsertedAt: r.CreatedAt}
}

// FromPayment adapts a payment.
func FromPayment(p *ledger.Payment) Record {
	return Record{ID: p.ID, Date: p.Date, Amount: p.Amount, Text: p.Method + " " + p.ReserveNumber, SourceHash: p.SourceHash, InsertedAt: p.CreatedAt}
}

// Result is the outcome of one classification pass.
type Result struct {
	Groups []ledger.DuplicateGroup // reversal pairs, true duplicates, recurring series
	Review []ledger.DuplicateGroup // nothing decided, needs a human
}

// Count returns how many groups carry the given classification.
func (r *Result) Count(class ledger.Classification) int {
	if class == ledger.ClassReview {
		return len(r.Review)
	}
	n := 0
	for _, g := range r.Groups {
		if g.Classification == class {
			n++
		}
	}
	return n
}

// Classifier groups look-alike records.
type Classifier struct {
	config Config
	now    func() time.Time
	newID  func() string
}

// NewClassifier creates a classifier.
func NewClassifier(config Config) *Classifier {
	return &Classifier{
		config: config,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Classify runs every rule over records of one scope.
func (c *Classifier) Classify(scope ledger.RecordType, records []Record) *Result {
	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].InsertedAt.Equal(ordered[j].InsertedAt) {
			return ordered[i].InsertedAt.Before(ordered[j].InsertedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	result := &Result{}
	used := make(map[string]bool, len(ordered))

	c.pairReversals(scope, ordered, used, result)
	c.groupByHash(scope, ordered, used, result)
	c.groupRecurring(scope, ordered, used, result)
	c.flagSameDay(scope, ordered, used, result)

	return result
}

// pairReversals applies rule 1.
func (c *Classifier) pairReversals(scope ledger.RecordType, records []Record, used map[string]bool, result *Result) {
	for _, r := range records {
		if used[r.ID] || r.Amount.IsZero() {
			continue
		}
		marker := c.reversalMarker(r.Text)
		if marker == "" {
			continue
		}

		counterpart := -1
		bestGap := 0
		for i, o := range records {
			if o.ID == r.ID || used[o.ID] {
				continue
			}
			if !o.Amount.Equal(r.Amount.Neg()) {
				continue
			}
			gap := matcher.DaysBetween(r.Date, o.Date)
			if gap > c.config.ReversalWindowDays {
				continue
			}
			if counterpart == -1 || gap < bestGap {
				counterpart = i
				bestGap = gap
			}
		}
		if counterpart == -1 {
			continue
		}

		o := records[counterpart]
		used[r.ID] = true
		used[o.ID] = true
		result.Groups = append(result.Groups, c.group(scope, ledger.ClassReversalPair,
			[]string{o.ID, r.ID}, "", nil,
			fmt.Sprintf("%q on %s offsets %s %s", marker, r.ID, o.ID, o.Amount.StringFixed(2))))
	}
}

// groupByHash applies rule 2.
func (c *Classifier) groupByHash(scope ledger.RecordType, records []Record, used map[string]bool, result *Result) {
	byHash := make(map[string][]Record)
	var order []string
	for _, r := range records {
		if used[r.ID] || r.SourceHash == "" {
			continue
		}
		if _, seen := byHash[r.SourceHash]; !seen {
			order = append(order, r.SourceHash)
		}
		byHash[r.SourceHash] = append(byHash[r.SourceHash], r)
	}

	for _, hash := range order {
		members := byHash[hash]
		if len(members) < 2 {
			continue
		}
		ids := idsOf(members)
		for _, id := range ids {
			used[id] = true
		}
		result.Groups = append(result.Groups, c.group(scope, ledger.ClassTrueDuplicate,
			ids, ids[0], ids[1:],
			fmt.Sprintf("identical source_hash %s, keeping earliest inserted %s", shortHash(hash), ids[0])))
	}
}

// flagSameDay applies rule 4: look-alikes on the same day that no earlier
// rule could place.
func (c *Classifier) flagSameDay(scope ledger.RecordType, records []Record, used map[string]bool, result *Result) {
	buckets := make(map[string][]Record)
	var order []string
	for _, r := range records {
		if used[r.ID] {
			continue
		}
		key := r.Date.Format("2006-01-02") + "|" + r.Amount.StringFixed(2)
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], r)
	}

	for _, key := range order {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		ids := idsOf(members)
		for _, id := range ids {
			used[id] = true
		}
		result.Review = append(result.Review, c.group(scope, ledger.ClassReview,
			ids, "", nil,
			fmt.Sprintf("%d records on %s for %s with different source hashes",
				len(ids), members[0].Date.Format("2006-01-02"), members[0].Amount.StringFixed(2))))
	}
}

// groupRecurring applies rule 3. A series only holds records on distinct
// dates; members sharing a date inside their series are left to rule 4.
func (c *Classifier) groupRecurring(scope ledger.RecordType, records []Record, used map[string]bool, result *Result) {
	series := make(map[string][]Record)
	var order []string
	for _, r := range records {
		if used[r.ID] {
			continue
		}
		text := normalizeText(r.Text)
		if text == "" {
			continue
		}
		key := text + "|" + r.Amount.StringFixed(2)
		if _, seen := series[key]; !seen {
			order = append(order, key)
		}
		series[key] = append(series[key], r)
	}

	for _, key := range order {
		members := distinctDates(series[key])
		if len(members) < 2 {
			continue
		}
		ids := idsOf(members)
		for _, id := range ids {
			used[id] = true
		}
		result.Groups = append(result.Groups, c.group(scope, ledger.ClassRecurring,
			ids, "", nil,
			fmt.Sprintf("%s recurs %d times for %s", normalizeText(members[0].Text), len(ids), members[0].Amount.StringFixed(2))))
	}
}

// distinctDates drops every record whose date occurs more than once.
func distinctDates(records []Record) []Record {
	perDay := make(map[string]int, len(records))
	for _, r := range records {
		perDay[r.Date.Format("2006-01-02")]++
	}
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if perDay[r.Date.Format("2006-01-02")] == 1 {
			kept = append(kept, r)
		}
	}
	return kept
}

func (c *Classifier) group(scope ledger.RecordType, class ledger.Classification, members []string, kept string, deleted []string, reason string) ledger.DuplicateGroup {
	return ledger.DuplicateGroup{
		ID:             c.newID(),
		Scope:          scope,
		MemberIDs:      members,
		Classification: class,
		KeptID:         kept,
		DeletedIDs:     deleted,
		Reason:         reason,
		CreatedAt:      c.now(),
	}
}

// reversalMarker returns the first configured marker found as whole words
// in text, or "".
func (c *Classifier) reversalMarker(text string) string {
	padded := " " + normalizeText(text) + " "
	for _, marker := range c.config.ReversalMarkers {
		if strings.Contains(padded, " "+marker+" ") {
			return marker
		}
	}
	return ""
}

// normalizeText uppercases and collapses anything that is not a letter or
// digit into single spaces.
func normalizeText(s string) string {
	fields := strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9')
	})
	return strings.Join(fields, " ")
}

func idsOf(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
