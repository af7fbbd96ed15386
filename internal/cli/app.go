// Package cli implements the recon command line: matching, balance audits,
// dedupe, imports and the API server. Every command that changes the ledger
// is a dry run unless --write is given.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/logging"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitUnresolved = 1 // the run finished but left integrity errors or variances
	ExitUsage      = 2
	ExitFailure    = 3 // the run could not complete
)

// App wires configuration, storage and the reconcile service for one
// command invocation.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// OpenRepo opens the ledger database. Tests replace it.
	OpenRepo func(path string, logger *slog.Logger) (storage.Repository, error)

	// Serve runs the API server until ctx is done.
	Serve func(ctx context.Context, cfg *config.Config, repo storage.Repository, svc *reconcile.Service, logger *slog.Logger) error
}

// NewApp returns an App using the real database and os streams.
func NewApp() *App {
	return &App{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		OpenRepo: func(path string, logger *slog.Logger) (storage.Repository, error) {
			return storage.NewStorage(path, storage.WithLogger(logger))
		},
		Serve: RunServe,
	}
}

// env is what a command needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	repo   storage.Repository
	svc    *reconcile.Service
	out    *Printer
}

// Run executes args (without the program name) and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	global := newFlagSet("recon", a.Stderr)
	configPath := global.String("config", "config.yaml", "Configuration file path")
	verbose := global.Bool("verbose", false, "Enable debug logging")
	global.Usage = func() { a.usage() }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if global.NArg() == 0 {
		a.usage()
		return ExitUsage
	}

	command, cmdArgs := global.Arg(0), global.Args()[1:]
	run, ok := a.commands()[command]
	if !ok {
		_, _ = fmt.Fprintf(a.Stderr, "unknown command: %s\n\n", command)
		a.usage()
		return ExitUsage
	}

	cfg := config.LoadOrEnv_WithPath(*configPath)
	if *verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := logging.NewLoggerTo(a.Stderr, cfg.Observability.Logging).With("system", command)

	code, err := run(ctx, cfg, logger, cmdArgs)
	switch {
	case err == nil:
		return code
	case errors.Is(err, flag.ErrHelp):
		return ExitOK
	case errors.Is(err, errUsage):
		_, _ = fmt.Fprintf(a.Stderr, "%v\n", err)
		return ExitUsage
	default:
		logger.Error("command failed", "command", command, "error", err)
		return ExitFailure
	}
}

type commandFunc func(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error)

func (a *App) commands() map[string]commandFunc {
	return map[string]commandFunc{
		"match":          a.runMatch,
		"match-payments": a.runMatchPayments,
		"audit-balance":  a.runAudit,
		"dedupe":         a.runDedupe,
		"import":         a.runImport,
		"serve":          a.runServe,
	}
}

func (a *App) usage() {
	_, _ = fmt.Fprint(a.Stderr, `Usage: recon [-config config.yaml] [-verbose] <command> [options]

Commands:
  match --account <id> | --all [--write] [--decisions]
  match-payments [--write] [--decisions]
  audit-balance --account <id> [--opening <amount>]
  dedupe --scope bank_transactions|receipts|payments [--account <id>] [--write]
  import --file <batch.json> [--write]
  serve [--port N]

Commands are dry runs unless --write is given.
`)
}

// open loads storage and the service. The caller closes env.repo.
func (a *App) open(cfg *config.Config, logger *slog.Logger) (*env, error) {
	rc, err := ReconcileConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	repo, err := a.OpenRepo(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Storage.DatabasePath, err)
	}
	return &env{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		svc:    reconcile.NewService(repo, rc, logger),
		out:    NewPrinter(a.Stdout),
	}, nil
}

func (a *App) runMatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error) {
	flags, err := ParseMatchFlags(args, a.Stderr)
	if err != nil {
		return ExitUsage, err
	}
	e, err := a.open(cfg, logger)
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = e.repo.Close() }()

	opts := reconcile.Options{DryRun: !flags.Write}
	if flags.All {
		e.out.Header("match", "all accounts", opts.DryRun)
		outcomes, err := e.svc.MatchAll(ctx, opts)
		if err != nil {
			return ExitFailure, err
		}
		e.out.Outcomes(outcomes, flags.Decisions)
		for _, o := range outcomes {
			if o.Err != nil || o.Result.ErrorCount > 0 {
				return ExitUnresolved, nil
			}
		}
		return ExitOK, nil
	}

	e.out.Header("match", "account "+flags.AccountID, opts.DryRun)
	res, err := e.svc.MatchAccount(ctx, flags.AccountID, opts)
	if err != nil {
		return ExitFailure, err
	}
	e.out.MatchResult(res, flags.Decisions)
	return unresolved(res.ErrorCount), nil
}

func (a *App) runMatchPayments(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error) {
	flags, err := ParseMatchPaymentsFlags(args, a.Stderr)
	if err != nil {
		return ExitUsage, err
	}
	e, err := a.open(cfg, logger)
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = e.repo.Close() }()

	e.out.Header("match-payments", "payments", !flags.Write)
	res, err := e.svc.MatchPayments(ctx, reconcile.Options{DryRun: !flags.Write})
	if err != nil {
		return ExitFailure, err
	}
	e.out.MatchResult(res, flags.Decisions)
	return unresolved(res.ErrorCount), nil
}

func (a *App) runAudit(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error) {
	flags, err := ParseAuditFlags(args, a.Stderr)
	if err != nil {
		return ExitUsage, err
	}
	e, err := a.open(cfg, logger)
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = e.repo.Close() }()

	// the audit never changes the ledger; it only stores its report
	e.out.Header("audit-balance", "account "+flags.AccountID, true)
	res, err := e.svc.AuditBalance(ctx, flags.AccountID, flags.Opening)
	if err != nil {
		return ExitFailure, err
	}
	e.out.Audit(res)
	return unresolved(len(res.Variances)), nil
}

func (a *App) runDedupe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error) {
	flags, err := ParseDedupeFlags(args, a.Stderr)
	if err != nil {
		return ExitUsage, err
	}
	e, err := a.open(cfg, logger)
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = e.repo.Close() }()

	scope := flags.Scope.Scope()
	if flags.AccountID != "" {
		scope += " account " + flags.AccountID
	}
	e.out.Header("dedupe", scope, !flags.Write)
	res, err := e.svc.Dedupe(ctx, flags.Scope, flags.AccountID, reconcile.Options{DryRun: !flags.Write})
	if err != nil {
		return ExitFailure, err
	}
	e.out.Dedupe(res)
	return unresolved(res.ErrorCount), nil
}

func (a *App) runImport(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error) {
	flags, err := ParseImportFlags(args, a.Stderr)
	if err != nil {
		return ExitUsage, err
	}
	batch, err := readBatch(flags.File)
	if err != nil {
		return ExitFailure, err
	}
	e, err := a.open(cfg, logger)
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = e.repo.Close() }()

	e.out.Header("import", flags.File, !flags.Write)
	res, err := e.svc.Import(ctx, batch, reconcile.Options{DryRun: !flags.Write})
	if err != nil {
		return ExitFailure, err
	}
	e.out.Import(res)
	return unresolved(len(res.Errors)), nil
}

func (a *App) runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) (int, error) {
	flags, err := ParseServeFlags(args, a.Stderr)
	if err != nil {
		return ExitUsage, err
	}
	if flags.Port > 0 {
		cfg.API.Port = flags.Port
	}
	e, err := a.open(cfg, logger)
	if err != nil {
		return ExitFailure, err
	}
	defer func() { _ = e.repo.Close() }()

	if err := a.Serve(ctx, cfg, e.repo, e.svc, logger); err != nil {
		return ExitFailure, err
	}
	return ExitOK, nil
}

func readBatch(path string) (*reconcile.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var batch reconcile.Batch
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &batch, nil
}

func unresolved(n int) int {
	if n > 0 {
		return ExitUnresolved
	}
	return ExitOK
}
