package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// Printer writes the human-readable run summaries to stdout.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) rule() {
	p.printf("%s\n", strings.Repeat("-", 60))
}

// Header prints the command and whether it writes.
func (p *Printer) Header(command, scope string, dryRun bool) {
	mode := "WRITE"
	if dryRun {
		mode = "DRY-RUN"
	}
	p.printf("recon: %s %s (%s mode)\n", command, scope, mode)
}

// MatchResult prints one account's match run.
func (p *Printer) MatchResult(res *reconcile.Result, decisions bool) {
	p.rule()
	p.printf("Account %s: Processed=%d Applied=%d Proposed=%d Skipped=%d Errors=%d\n",
		res.AccountID, res.Processed, res.Applied, res.Proposed, res.Skipped, res.ErrorCount)
	p.statusTable(res.Before, res.After)

	if decisions {
		for _, d := range res.Decisions {
			p.decision(d)
		}
	}
	p.errors(res.Errors)
}

// Outcomes prints a multi-account run.
func (p *Printer) Outcomes(outcomes []reconcile.AccountOutcome, decisions bool) {
	for _, o := range outcomes {
		if o.Err != nil {
			p.rule()
			p.printf("Account %s: FAILED: %v\n", o.AccountID, o.Err)
			continue
		}
		p.MatchResult(o.Result, decisions)
	}
}

func (p *Printer) decision(d reconcile.Decision) {
	target := strings.Join(d.TargetIDs, "+")
	if target == "" {
		target = "-"
	}
	written := ""
	if d.Written {
		written = " written"
	}
	p.printf("  %-8s %-12s %10s -> %s %s conf=%d %s%s",
		d.Action, d.RecordID, d.Amount.StringFixed(2), d.TargetType, target, d.Confidence, d.Method, written)
	if d.Reason != "" {
		p.printf(" (%s)", d.Reason)
	}
	p.printf("\n")
}

// statusTable prints record counts per status before and after the run.
func (p *Printer) statusTable(before, after reconcile.StatusCounts) {
	if len(before) == 0 && len(after) == 0 {
		return
	}
	seen := make(reconcile.StatusCounts)
	for k := range before {
		seen[k] = 0
	}
	for k := range after {
		seen[k] = 0
	}
	p.printf("  %-20s %8s %8s\n", "status", "before", "after")
	for _, s := range seen.Keys() {
		p.printf("  %-20s %8d %8d\n", s, before[s], after[s])
	}
}

func (p *Printer) errors(errs []error) {
	if len(errs) == 0 {
		return
	}
	p.printf("\nErrors:\n")
	for _, err := range errs {
		p.printf("  - %v\n", err)
	}
}

// Audit prints a balance audit.
func (p *Printer) Audit(res *reconcile.AuditResult) {
	p.rule()
	p.printf("Account %s: Transactions=%d Checked=%d Opening=%s Closing=%s Variances=%d\n",
		res.AccountID, res.Transactions, res.Checked,
		res.OpeningBalance.StringFixed(2), res.ClosingBalance.StringFixed(2), len(res.Variances))
	for _, v := range res.Variances {
		p.printf("  %s %-12s expected=%s stated=%s delta=%s\n",
			v.Date.Format("2006-01-02"), v.TransactionID,
			v.Expected.StringFixed(2), v.Stated.StringFixed(2), v.Delta.StringFixed(2))
	}
}

// Dedupe prints a dedupe run.
func (p *Printer) Dedupe(res *reconcile.DedupeResult) {
	p.rule()
	p.printf("Scope %s: Scanned=%d Groups=%d Review=%d Resolved=%d Unchanged=%d Errors=%d\n",
		res.Scope.Scope(), res.Scanned, len(res.Groups), len(res.Review), res.Resolved, res.Unchanged, res.ErrorCount)
	for _, class := range []ledger.Classification{
		ledger.ClassTrueDuplicate, ledger.ClassReversalPair, ledger.ClassRecurring, ledger.ClassReview,
	} {
		if n := res.Count(class); n > 0 {
			p.printf("  %-16s %d\n", class, n)
		}
	}
	for _, g := range append(append([]ledger.DuplicateGroup(nil), res.Groups...), res.Review...) {
		p.printf("  %-16s %s", g.Classification, strings.Join(g.MemberIDs, ","))
		if len(g.DeletedIDs) > 0 {
			p.printf(" delete=%s", strings.Join(g.DeletedIDs, ","))
		}
		if g.Reason != "" {
			p.printf(" (%s)", g.Reason)
		}
		p.printf("\n")
	}
	p.errors(res.Errors)
}

// Import prints an import run.
func (p *Printer) Import(res *reconcile.ImportResult) {
	p.rule()
	p.printf("Transactions: Total=%d New=%d Known=%d Inserted=%d Invalid=%d\n",
		res.Total, res.New, res.Known, res.Inserted, res.Invalid)
	p.printf("Receipts=%d Payments=%d Charters=%d Charges=%d\n",
		res.Receipts, res.Payments, res.Charters, res.Charges)
	for _, acc := range res.FullReimport {
		p.printf("  account %s: full re-import detected, rows skipped\n", acc)
	}
	p.errors(res.Errors)
}
