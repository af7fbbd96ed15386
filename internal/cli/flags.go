package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// errUsage marks a bad command line; it maps to ExitUsage.
var errUsage = errors.New("usage error")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// MatchFlags are the flags of the match command.
type MatchFlags struct {
	AccountID string
	All       bool
	Write     bool
	Decisions bool
}

// ParseMatchFlags parses `match --account <id> [--write]`.
func ParseMatchFlags(args []string, output io.Writer) (MatchFlags, error) {
	var f MatchFlags
	fs := newFlagSet("match", output)
	fs.StringVar(&f.AccountID, "account", "", "Account to reconcile")
	fs.BoolVar(&f.All, "all", false, "Reconcile every account")
	fs.BoolVar(&f.Write, "write", false, "Write links (default is a dry run)")
	fs.BoolVar(&f.Decisions, "decisions", false, "Print every decision")
	if err := parse(fs, args); err != nil {
		return f, err
	}
	if f.AccountID == "" && !f.All {
		return f, usagef("match needs --account <id> or --all")
	}
	if f.AccountID != "" && f.All {
		return f, usagef("--account and --all are exclusive")
	}
	return f, nil
}

// WriteFlags are the flags of commands that only take --write.
type WriteFlags struct {
	Write     bool
	Decisions bool
}

// ParseMatchPaymentsFlags parses `match-payments [--write]`.
func ParseMatchPaymentsFlags(args []string, output io.Writer) (WriteFlags, error) {
	var f WriteFlags
	fs := newFlagSet("match-payments", output)
	fs.BoolVar(&f.Write, "write", false, "Assign reserve numbers (default is a dry run)")
	fs.BoolVar(&f.Decisions, "decisions", false, "Print every decision")
	return f, parse(fs, args)
}

// AuditFlags are the flags of the audit-balance command.
type AuditFlags struct {
	AccountID string
	Opening   decimal.Decimal
}

// ParseAuditFlags parses `audit-balance --account <id> [--opening <amount>]`.
func ParseAuditFlags(args []string, output io.Writer) (AuditFlags, error) {
	var (
		f       AuditFlags
		opening string
	)
	fs := newFlagSet("audit-balance", output)
	fs.StringVar(&f.AccountID, "account", "", "Account to audit")
	fs.StringVar(&opening, "opening", "0", "Opening balance before the first row")
	if err := parse(fs, args); err != nil {
		return f, err
	}
	if f.AccountID == "" {
		return f, usagef("audit-balance needs --account <id>")
	}
	d, err := decimal.NewFromString(opening)
	if err != nil {
		return f, usagef("invalid --opening %q", opening)
	}
	f.Opening = d
	return f, nil
}

// DedupeFlags are the flags of the dedupe command.
type DedupeFlags struct {
	Scope     ledger.RecordType
	AccountID string
	Write     bool
}

// ParseDedupeFlags parses `dedupe --scope <table> [--account <id>] [--write]`.
func ParseDedupeFlags(args []string, output io.Writer) (DedupeFlags, error) {
	var (
		f     DedupeFlags
		scope string
	)
	fs := newFlagSet("dedupe", output)
	fs.StringVar(&scope, "scope", "", "Table to scan: bank_transactions, receipts or payments")
	fs.StringVar(&f.AccountID, "account", "", "Limit bank_transactions to one account")
	fs.BoolVar(&f.Write, "write", false, "Resolve groups (default is a dry run)")
	if err := parse(fs, args); err != nil {
		return f, err
	}
	st, ok := ledger.ParseScope(scope)
	if !ok {
		return f, usagef("dedupe needs --scope bank_transactions|receipts|payments, got %q", scope)
	}
	if f.AccountID != "" && st != ledger.RecordTransaction {
		return f, usagef("--account only applies to bank_transactions")
	}
	f.Scope = st
	return f, nil
}

// ImportFlags are the flags of the import command.
type ImportFlags struct {
	File  string
	Write bool
}

// ParseImportFlags parses `import --file batch.json [--write]`.
func ParseImportFlags(args []string, output io.Writer) (ImportFlags, error) {
	var f ImportFlags
	fs := newFlagSet("import", output)
	fs.StringVar(&f.File, "file", "", "JSON batch to import")
	fs.BoolVar(&f.Write, "write", false, "Insert rows (default is a dry run)")
	if err := parse(fs, args); err != nil {
		return f, err
	}
	if f.File == "" {
		return f, usagef("import needs --file <batch.json>")
	}
	return f, nil
}

// ServeFlags holds the CLI flags for the serve command.
type ServeFlags struct {
	Port int
}

// ParseServeFlags parses `serve [--port N]`. Zero keeps the configured port.
func ParseServeFlags(args []string, output io.Writer) (ServeFlags, error) {
	var f ServeFlags
	fs := newFlagSet("serve", output)
	fs.IntVar(&f.Port, "port", 0, "Port to listen on (default from config)")
	return f, parse(fs, args)
}

func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return usagef("unexpected arguments: %v", fs.Args())
	}
	return nil
}
