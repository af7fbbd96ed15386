package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/ledger-reconcile/internal/api"
	"github.com/eshaffer321/ledger-reconcile/internal/api/dto"
	"github.com/eshaffer321/ledger-reconcile/internal/application/linker"
	"github.com/eshaffer321/ledger-reconcile/internal/application/reconcile"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

type testServer struct {
	server *api.Server
	repo   *storage.MockRepository
	linker *linker.Linker
}

func newTestServer(t *testing.T, withJobs bool) *testServer {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := linker.NewLinker(repo, linker.DefaultConfig(), logger)

	var jobs *reconcile.JobService
	if withJobs {
		jobs = reconcile.NewJobService(reconcile.NewService(repo, reconcile.DefaultConfig(), logger), logger)
	}
	return &testServer{
		server: api.NewServer(api.DefaultConfig(), repo, l, jobs, logger),
		repo:   repo,
		linker: l,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (ts *testServer) seedTx(t *testing.T, id, account, amount string) *ledger.BankTransaction {
	t.Helper()
	tx := &ledger.BankTransaction{
		ID:          id,
		AccountID:   account,
		Date:        time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Description: "STARBUCKS #123",
		Debit:       decimal.RequireFromString(amount),
	}
	require.NoError(t, ts.repo.InsertTransactions(context.Background(), []*ledger.BankTransaction{tx}))
	return tx
}

func (ts *testServer) seedReceipt(t *testing.T, id, amount string) *ledger.Receipt {
	t.Helper()
	r := &ledger.Receipt{
		ID:          id,
		Date:        time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Vendor:      "Starbucks",
		GrossAmount: decimal.RequireFromString(amount),
	}
	require.NoError(t, ts.repo.InsertReceipts(context.Background(), []*ledger.Receipt{r}))
	return r
}

// propose creates a proposed link between a fresh transaction and receipt.
func (ts *testServer) propose(t *testing.T, txID, receiptID string) *ledger.MatchLink {
	t.Helper()
	tx := ts.seedTx(t, txID, "chk", "10.50")
	r := ts.seedReceipt(t, receiptID, "10.00")
	link, err := ts.linker.ApplyMatch(context.Background(), tx, r.Ref(), 40, ledger.MethodFuzzy)
	require.NoError(t, err)
	require.Equal(t, ledger.LinkProposed, link.State)
	return link
}

func TestServer_HealthEndpoint(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	response := decode[dto.HealthResponse](t, rec)
	assert.Equal(t, "ok", response.Status)
}

func TestServer_TransactionsEndpoints(t *testing.T) {
	t.Run("GET /api/transactions filters by account", func(t *testing.T) {
		ts := newTestServer(t, false)
		ts.seedTx(t, "t1", "chk", "12.00")
		ts.seedTx(t, "t2", "sav", "8.00")

		rec := ts.do(t, http.MethodGet, "/api/transactions?account=chk", "")

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.TransactionListResponse](t, rec)
		require.Equal(t, 1, response.Count)
		assert.Equal(t, "t1", response.Transactions[0].ID)
		assert.Equal(t, "-12.00", response.Transactions[0].Amount)
		assert.Equal(t, "unmatched", response.Transactions[0].Status)
	})

	t.Run("GET /api/transactions rejects bad params", func(t *testing.T) {
		ts := newTestServer(t, false)

		rec := ts.do(t, http.MethodGet, "/api/transactions?status=lost", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = ts.do(t, http.MethodGet, "/api/transactions?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET /api/transactions/:id includes links", func(t *testing.T) {
		ts := newTestServer(t, false)
		link := ts.propose(t, "t1", "r1")

		rec := ts.do(t, http.MethodGet, "/api/transactions/t1", "")

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.TransactionDetailResponse](t, rec)
		assert.Equal(t, "candidate_proposed", response.Status)
		require.Len(t, response.Links, 1)
		assert.Equal(t, link.ID, response.Links[0].ID)
		assert.Equal(t, "proposed", response.Links[0].State)
	})

	t.Run("GET /api/transactions/:id returns 404 for missing transaction", func(t *testing.T) {
		ts := newTestServer(t, false)

		rec := ts.do(t, http.MethodGet, "/api/transactions/missing", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, dto.ErrCodeNotFound, decode[dto.APIError](t, rec).Code)
	})
}

func TestServer_HumanGate(t *testing.T) {
	ts := newTestServer(t, false)
	link := ts.propose(t, "t1", "r1")

	rec := ts.do(t, http.MethodGet, "/api/links?transaction_id=t1&state=proposed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[dto.LinkListResponse](t, rec).Count)

	rec = ts.do(t, http.MethodPost, "/api/links/"+link.ID+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decode[dto.LinkResponse](t, rec).State)

	// confirming again is a no-op
	rec = ts.do(t, http.MethodPost, "/api/links/"+link.ID+"/confirm", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// an active link cannot be rejected
	rec = ts.do(t, http.MethodPost, "/api/links/"+link.ID+"/reject", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/transactions/t1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "verified", decode[dto.TransactionResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/api/transactions/t1/dispute", `{"reason":"wrong vendor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disputed", decode[dto.TransactionResponse](t, rec).Status)

	rec = ts.do(t, http.MethodGet, "/api/review", "")
	require.Equal(t, http.StatusOK, rec.Code)
	review := decode[dto.ReviewListResponse](t, rec)
	require.NotZero(t, review.Count)
	assert.Equal(t, "disputed: wrong vendor", review.Items[review.Count-1].Reason)

	rec = ts.do(t, http.MethodPost, "/api/transactions/t1/reopen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unmatched", decode[dto.TransactionResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/api/transactions/t1/reopen", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, dto.ErrCodeConflict, decode[dto.APIError](t, rec).Code)

	// the link is kept, superseded
	rec = ts.do(t, http.MethodGet, "/api/links?transaction_id=t1", "")
	links := decode[dto.LinkListResponse](t, rec)
	require.Equal(t, 1, links.Count)
	assert.Equal(t, "superseded", links.Links[0].State)
	assert.NotNil(t, links.Links[0].SupersededAt)
}

func TestServer_RejectLink(t *testing.T) {
	ts := newTestServer(t, false)
	link := ts.propose(t, "t1", "r1")

	rec := ts.do(t, http.MethodPost, "/api/links/"+link.ID+"/reject", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "superseded", decode[dto.LinkResponse](t, rec).State)

	tx, err := ts.repo.GetTransaction(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusUnmatched, tx.Status)

	rec = ts.do(t, http.MethodPost, "/api/links/nope/reject", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DisputeUnlinkedIsConflict(t *testing.T) {
	ts := newTestServer(t, false)
	ts.seedTx(t, "t1", "chk", "5.00")

	rec := ts.do(t, http.MethodPost, "/api/transactions/t1/dispute", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ReportEndpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("GET /api/variances requires an account", func(t *testing.T) {
		ts := newTestServer(t, false)
		rec := ts.do(t, http.MethodGet, "/api/variances", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET /api/variances returns the stored report", func(t *testing.T) {
		ts := newTestServer(t, false)
		require.NoError(t, ts.repo.ReplaceVariances(ctx, "chk", []ledger.Variance{{
			AccountID:     "chk",
			TransactionID: "t2",
			Date:          time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
			Expected:      decimal.RequireFromString("550"),
			Stated:        decimal.RequireFromString("600"),
			Delta:         decimal.RequireFromString("50"),
		}}))

		rec := ts.do(t, http.MethodGet, "/api/variances?account=chk", "")

		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.VarianceListResponse](t, rec)
		require.Equal(t, 1, response.Count)
		assert.Equal(t, "50.00", response.Variances[0].Delta)
		assert.Equal(t, "2025-01-03", response.Variances[0].Date)
	})

	t.Run("GET /api/duplicates filters by scope", func(t *testing.T) {
		ts := newTestServer(t, false)
		require.NoError(t, ts.repo.SaveDuplicateGroup(ctx, &ledger.DuplicateGroup{
			ID:             "g1",
			Scope:          ledger.RecordTransaction,
			MemberIDs:      []string{"d1", "d2"},
			Classification: ledger.ClassTrueDuplicate,
			KeptID:         "d1",
		}))

		rec := ts.do(t, http.MethodGet, "/api/duplicates?scope=bank_transactions", "")
		require.Equal(t, http.StatusOK, rec.Code)
		response := decode[dto.DuplicateListResponse](t, rec)
		require.Equal(t, 1, response.Count)
		assert.Equal(t, "true_duplicate", response.Groups[0].Classification)

		rec = ts.do(t, http.MethodGet, "/api/duplicates?scope=receipts", "")
		assert.Equal(t, 0, decode[dto.DuplicateListResponse](t, rec).Count)

		rec = ts.do(t, http.MethodGet, "/api/duplicates?scope=orders", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_RunsEndpoints(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t, false)
	id, err := ts.repo.StartRun(ctx, storage.RunMatch, "chk", true)
	require.NoError(t, err)
	require.NoError(t, ts.repo.CompleteRun(ctx, id, storage.RunSummary{Processed: 3, Applied: 2, Skipped: 1}))

	rec := ts.do(t, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[dto.RunListResponse](t, rec).Count)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/runs/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[dto.RunResponse](t, rec)
	assert.Equal(t, "match", run.Kind)
	assert.True(t, run.DryRun)
	assert.Equal(t, 2, run.Applied)
	assert.NotNil(t, run.CompletedAt)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/runs/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/runs/99", "").Code)
}

func TestServer_JobsEndpoints(t *testing.T) {
	t.Run("not mounted without a job service", func(t *testing.T) {
		ts := newTestServer(t, false)
		rec := ts.do(t, http.MethodGet, "/api/jobs", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("runs a match job as a dry run by default", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.seedTx(t, "t1", "chk", "10.00")
		ts.seedReceipt(t, "r1", "10.00")

		job := ts.runJob(t, `{"kind":"match","account_id":"chk"}`)

		require.Len(t, job.Accounts, 1)
		assert.Equal(t, "chk", job.Accounts[0].AccountID)
		assert.Equal(t, 1, job.Accounts[0].Applied)
		assert.True(t, job.DryRun)

		tx, err := ts.repo.GetTransaction(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusUnmatched, tx.Status)
		links, err := ts.repo.LinksForTransaction(context.Background(), "t1")
		require.NoError(t, err)
		assert.Empty(t, links)

		rec := ts.do(t, http.MethodGet, "/api/jobs", "")
		assert.Equal(t, 1, decode[dto.JobListResponse](t, rec).Count)

		// finished jobs cannot be cancelled
		rec = ts.do(t, http.MethodPost, "/api/jobs/"+job.JobID+"/cancel", "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("writes only when asked", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.seedTx(t, "t1", "chk", "10.00")
		ts.seedReceipt(t, "r1", "10.00")

		job := ts.runJob(t, `{"kind":"match","account_id":"chk","write":true}`)
		assert.False(t, job.DryRun)

		tx, err := ts.repo.GetTransaction(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusLinked, tx.Status)
	})

	t.Run("validates requests", func(t *testing.T) {
		ts := newTestServer(t, true)

		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/jobs", "{").Code)
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/jobs", `{"kind":"sync"}`).Code)
		assert.Equal(t, http.StatusBadRequest,
			ts.do(t, http.MethodPost, "/api/jobs", `{"kind":"match_payments","account_id":"chk"}`).Code)
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/jobs/nope", "").Code)
		assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/jobs/nope/cancel", "").Code)
	})
}

// runJob starts a job and waits for it to complete.
func (ts *testServer) runJob(t *testing.T, body string) dto.JobResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decode[dto.StartJobResponse](t, rec)
	require.NotEmpty(t, started.JobID)

	var job dto.JobResponse
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/jobs/"+started.JobID, "")
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			return false
		}
		return job.Status == string(reconcile.JobCompleted)
	}, 2*time.Second, 5*time.Millisecond)
	return job
}
