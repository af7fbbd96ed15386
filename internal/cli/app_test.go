package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/config"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

type testApp struct {
	app    *App
	repo   *storage.MockRepository
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	config string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	repo := storage.NewMockRepository()
	ta := &testApp{
		repo:   repo,
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		config: filepath.Join(t.TempDir(), "missing.yaml"),
	}
	ta.app = &App{
		Stdout: ta.stdout,
		Stderr: ta.stderr,
		OpenRepo: func(string, *slog.Logger) (storage.Repository, error) {
			return repo, nil
		},
		Serve: func(context.Context, *config.Config, storage.Repository, *reconcile.Service, *slog.Logger) error {
			return errors.New("serve not expected")
		},
	}
	return ta
}

func (ta *testApp) run(args ...string) int {
	return ta.app.Run(context.Background(), append([]string{"-config", ta.config}, args...))
}

func (ta *testApp) seedMatch(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	date := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ta.repo.InsertTransactions(ctx, []*ledger.BankTransaction{{
		ID: "t1", AccountID: "chk", Date: date, Description: "ACME", Debit: decimal.RequireFromString("125.50"),
	}}))
	require.NoError(t, ta.repo.InsertReceipts(ctx, []*ledger.Receipt{{
		ID: "r1", Date: date, Vendor: "ACME", GrossAmount: decimal.RequireFromString("125.50"),
	}}))
}

func (ta *testApp) txStatus(t *testing.T, id string) ledger.Status {
	t.Helper()
	tx, err := ta.repo.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx.Status
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"sync"}},
		{"match without account", []string{"match"}},
		{"match with both", []string{"match", "--account", "chk", "--all"}},
		{"match stray argument", []string{"match", "--account", "chk", "extra"}},
		{"audit without account", []string{"audit-balance"}},
		{"audit bad opening", []string{"audit-balance", "--account", "chk", "--opening", "lots"}},
		{"dedupe bad scope", []string{"dedupe", "--scope", "orders"}},
		{"dedupe account on receipts", []string{"dedupe", "--scope", "receipts", "--account", "chk"}},
		{"import without file", []string{"import"}},
		{"unknown flag", []string{"match", "--acount", "chk"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t)
			assert.Equal(t, ExitUsage, ta.run(tt.args...))
			assert.Empty(t, ta.stdout.String())
		})
	}
}

func TestRun_MatchDryRunByDefault(t *testing.T) {
	ta := newTestApp(t)
	ta.seedMatch(t)

	code := ta.run("match", "--account", "chk", "--decisions")

	assert.Equal(t, ExitOK, code)
	out := ta.stdout.String()
	assert.Contains(t, out, "recon: match account chk (DRY-RUN mode)")
	assert.Contains(t, out, "Applied=1")
	assert.Contains(t, out, "r1")
	assert.Equal(t, ledger.StatusUnmatched, ta.txStatus(t, "t1"))
}

func TestRun_MatchWrite(t *testing.T) {
	ta := newTestApp(t)
	ta.seedMatch(t)

	code := ta.run("match", "--account", "chk", "--write")

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, ta.stdout.String(), "(WRITE mode)")
	assert.Equal(t, ledger.StatusLinked, ta.txStatus(t, "t1"))
}

func TestRun_MatchAll(t *testing.T) {
	ta := newTestApp(t)
	ta.seedMatch(t)

	assert.Equal(t, ExitOK, ta.run("match", "--all"))
	assert.Contains(t, ta.stdout.String(), "Account chk:")
}

func TestRun_MatchUnresolvedErrorsExitNonZero(t *testing.T) {
	ta := newTestApp(t)
	ta.seedMatch(t)
	ta.repo.StaleOnce = 2

	code := ta.run("match", "--account", "chk", "--write")

	assert.Equal(t, ExitUnresolved, code)
	assert.Contains(t, ta.stdout.String(), "Errors=1")
	assert.Contains(t, ta.stdout.String(), "stale")
}

func TestRun_AuditBalance(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()
	d := func(day int) time.Time { return time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC) }
	m := decimal.RequireFromString
	require.NoError(t, ta.repo.InsertTransactions(ctx, []*ledger.BankTransaction{
		{ID: "t1", AccountID: "chk", Date: d(1), Description: "PAY", Credit: m("1000"), Balance: decimal.NewNullDecimal(m("1100"))},
		{ID: "t2", AccountID: "chk", Date: d(2), Description: "RENT", Debit: m("400"), Balance: decimal.NewNullDecimal(m("700"))},
	}))

	t.Run("clean with the right opening balance", func(t *testing.T) {
		ta.stdout.Reset()
		assert.Equal(t, ExitOK, ta.run("audit-balance", "--account", "chk", "--opening", "100"))
		assert.Contains(t, ta.stdout.String(), "Variances=0")
	})

	t.Run("variance exits non-zero", func(t *testing.T) {
		ta.stdout.Reset()
		assert.Equal(t, ExitUnresolved, ta.run("audit-balance", "--account", "chk"))
		assert.Contains(t, ta.stdout.String(), "delta=100.00")
	})
}

func TestRun_DedupeWrite(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()
	date := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ta.repo.InsertTransactions(ctx, []*ledger.BankTransaction{
		{ID: "d1", AccountID: "chk", Date: date, Description: "HYDRO", Debit: decimal.RequireFromString("80"), SourceHash: "h-hydro"},
		{ID: "d2", AccountID: "chk", Date: date, Description: "HYDRO", Debit: decimal.RequireFromString("80"), SourceHash: "h-hydro"},
	}))

	code := ta.run("dedupe", "--scope", "bank_transactions", "--write")

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, ta.stdout.String(), "true_duplicate")
	_, err := ta.repo.GetTransaction(ctx, "d2")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRun_Import(t *testing.T) {
	write := func(t *testing.T, body string) string {
		path := filepath.Join(t.TempDir(), "batch.json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}

	t.Run("dry run inserts nothing", func(t *testing.T) {
		ta := newTestApp(t)
		path := write(t, `{"transactions":[{"account_id":"chk","date":"2025-01-15T00:00:00Z","description":"ACME","debit":"12.00","credit":"0"}]}`)

		assert.Equal(t, ExitOK, ta.run("import", "--file", path))
		assert.Contains(t, ta.stdout.String(), "New=1")

		accounts, err := ta.repo.ListAccounts(context.Background())
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})

	t.Run("write inserts rows", func(t *testing.T) {
		ta := newTestApp(t)
		path := write(t, `{"transactions":[{"account_id":"chk","date":"2025-01-15T00:00:00Z","description":"ACME","debit":"12.00","credit":"0"}]}`)

		assert.Equal(t, ExitOK, ta.run("import", "--file", path, "--write"))
		assert.Contains(t, ta.stdout.String(), "Inserted=1")
	})

	t.Run("invalid rows exit non-zero", func(t *testing.T) {
		ta := newTestApp(t)
		path := write(t, `{"transactions":[{"account_id":"chk","date":"2025-01-15T00:00:00Z","description":"BAD","debit":"5","credit":"5"}]}`)

		assert.Equal(t, ExitUnresolved, ta.run("import", "--file", path))
		assert.Contains(t, ta.stdout.String(), "Invalid=1")
	})

	t.Run("unreadable file fails", func(t *testing.T) {
		ta := newTestApp(t)
		assert.Equal(t, ExitFailure, ta.run("import", "--file", filepath.Join(t.TempDir(), "none.json")))
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		ta := newTestApp(t)
		path := write(t, `{"orders":[]}`)
		assert.Equal(t, ExitFailure, ta.run("import", "--file", path))
	})
}

func TestRun_Serve(t *testing.T) {
	ta := newTestApp(t)
	var gotPort int
	ta.app.Serve = func(_ context.Context, cfg *config.Config, _ storage.Repository, svc *reconcile.Service, _ *slog.Logger) error {
		gotPort = cfg.API.Port
		require.NotNil(t, svc)
		return nil
	}

	assert.Equal(t, ExitOK, ta.run("serve", "--port", "9099"))
	assert.Equal(t, 9099, gotPort)
}

func TestRun_OpenFailure(t *testing.T) {
	ta := newTestApp(t)
	ta.app.OpenRepo = func(string, *slog.Logger) (storage.Repository, error) {
		return nil, errors.New("disk full")
	}

	assert.Equal(t, ExitFailure, ta.run("match", "--account", "chk"))
	assert.Contains(t, ta.stderr.String(), "disk full")
}
