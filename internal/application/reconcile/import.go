package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/dedupe"
	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
	"github.com/eshaffer321/ledger-reconcile/internal/infrastructure/storage"
)

// Batch is one delivery of typed rows from an importer.
type Batch struct {
	Transactions []*ledger.BankTransaction `json:"transactions"`
	Receipts     []*ledger.Receipt         `json:"receipts"`
	Payments     []*ledger.Payment         `json:"payments"`
	Charters     []*ledger.Charter         `json:"charters"`
	Charges      []*ledger.CharterCharge   `json:"charges"`
}

// Import validates a batch, drops rows whose source hash is already
// stored, and in write mode inserts the rest in one transaction. When most
// of an account's rows are already known the batch is a re-import and only
// the strictly new rows go in. Every imported row starts unmatched.
func (s *Service) Import(ctx context.Context, batch *Batch, opts Options) (*ImportResult, error) {
	result := &ImportResult{DryRun: opts.DryRun, Total: len(batch.Transactions)}
	result.RunID = s.startRun(ctx, storage.RunImport, "batch", opts.DryRun)

	fresh, err := s.planImport(ctx, batch, result)
	if err == nil && !opts.DryRun {
		err = s.repo.WithTx(ctx, func(st storage.Store) error {
			if err := st.InsertCharters(ctx, fresh.Charters); err != nil {
				return err
			}
			if err := st.InsertCharterCharges(ctx, fresh.Charges); err != nil {
				return err
			}
			if err := st.InsertReceipts(ctx, fresh.Receipts); err != nil {
				return err
			}
			if err := st.InsertPayments(ctx, fresh.Payments); err != nil {
				return err
			}
			if err := s.linker.RecomputeCharters(ctx, st, paidCharters(fresh.Payments)); err != nil {
				return err
			}
			return st.InsertTransactions(ctx, fresh.Transactions)
		})
		if err == nil {
			result.Inserted = len(fresh.Transactions)
		}
	}

	summary := storage.RunSummary{
		Status:    storage.RunStatusCompleted,
		Processed: result.Total,
		Applied:   result.Inserted,
		Proposed:  result.New,
		Skipped:   result.Known,
		Errors:    result.Invalid,
	}
	if err != nil {
		summary.Status = storage.RunStatusFailed
		summary.Notes = err.Error()
	}
	s.completeRun(ctx, result.RunID, summary)
	if err != nil {
		return result, fmt.Errorf("import failed: %w", err)
	}

	s.logger.Info("batch imported",
		"dry_run", opts.DryRun,
		"transactions", result.Total,
		"new", result.New,
		"known", result.Known,
		"invalid", result.Invalid,
		"inserted", result.Inserted,
		"reimports", len(result.FullReimport),
	)
	return result, nil
}

// planImport returns the subset of batch that is valid and not yet stored.
// Rows are rejected one by one; only storage failures end the plan.
func (s *Service) planImport(ctx context.Context, batch *Batch, result *ImportResult) (*Batch, error) {
	fresh := &Batch{}
	reject := func(err error) {
		result.Invalid++
		result.Errors = append(result.Errors, err)
		s.logger.Warn("row rejected", "error", err)
	}

	byAccount := make(map[string][]*ledger.BankTransaction)
	for _, tx := range batch.Transactions {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		if err := tx.Validate(); err != nil {
			reject(err)
			continue
		}
		tx.Status, tx.Version = ledger.StatusUnmatched, 0
		tx.EnsureHash()
		byAccount[tx.AccountID] = append(byAccount[tx.AccountID], tx)
	}

	accounts := make([]string, 0, len(byAccount))
	for acct := range byAccount {
		accounts = append(accounts, acct)
	}
	sort.Strings(accounts)

	ids := make(map[string]bool)
	lookupTx := func(ctx context.Context, id string) error {
		_, err := s.repo.GetTransaction(ctx, id)
		return err
	}
	for _, acct := range accounts {
		rows := byAccount[acct]
		existing, err := s.repo.SourceHashes(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("failed to read hashes for %s: %w", acct, err)
		}
		hashes := make([]string, len(rows))
		for i, tx := range rows {
			hashes[i] = tx.SourceHash
		}

		reimport, newCount := dedupe.DetectReimport(hashes, existing, s.config.Dedupe.ReimportThreshold)
		if reimport {
			result.FullReimport = append(result.FullReimport, acct)
			s.logger.Info("batch is a re-import", "account", acct, "rows", len(rows), "new", newCount)
		}
		repeats := dedupe.BatchRepeats(hashes, existing)
		for _, i := range repeats {
			reject(repeatedRow("transaction", rows[i].ID, rows[i].SourceHash))
		}
		for _, i := range dedupe.NewRowIndexes(hashes, existing) {
			tx := rows[i]
			free, err := claimID(ctx, ids, tx.ID, lookupTx)
			if err != nil {
				return nil, fmt.Errorf("failed to check transaction %s: %w", tx.ID, err)
			}
			if !free {
				reject(takenID("transaction", tx.ID))
				continue
			}
			fresh.Transactions = append(fresh.Transactions, tx)
			result.New++
		}
		result.Known += len(rows) - newCount - len(repeats)
	}

	if err := s.planReceipts(ctx, batch, fresh, reject); err != nil {
		return nil, err
	}
	if err := s.planPayments(ctx, batch, fresh, reject); err != nil {
		return nil, err
	}
	if err := s.planCharters(ctx, batch, fresh, reject); err != nil {
		return nil, err
	}

	result.Receipts = len(fresh.Receipts)
	result.Payments = len(fresh.Payments)
	result.Charters = len(fresh.Charters)
	result.Charges = len(fresh.Charges)
	return fresh, nil
}

func (s *Service) planReceipts(ctx context.Context, batch *Batch, fresh *Batch, reject func(error)) error {
	if len(batch.Receipts) == 0 {
		return nil
	}
	stored, err := s.repo.ListReceipts(ctx, storage.RecordFilter{})
	if err != nil {
		return fmt.Errorf("failed to list receipts: %w", err)
	}
	existing := make(map[string]bool, len(stored))
	for _, r := range stored {
		existing[r.SourceHash] = true
	}

	valid := make([]*ledger.Receipt, 0, len(batch.Receipts))
	hashes := make([]string, 0, len(batch.Receipts))
	siblings := make(map[string]int)
	for _, r := range batch.Receipts {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if err := r.Validate(); err != nil {
			reject(err)
			continue
		}
		r.Status, r.Version = ledger.StatusUnmatched, 0
		if r.SourceHash == "" && r.ParentReceiptID != "" {
			// an even split gives children identical contents
			base := *r
			base.EnsureHash()
			n := siblings[base.SourceHash]
			siblings[base.SourceHash]++
			r.EnsureSplitHash(n)
		} else {
			r.EnsureHash()
		}
		valid = append(valid, r)
		hashes = append(hashes, r.SourceHash)
	}

	for _, i := range dedupe.BatchRepeats(hashes, existing) {
		reject(repeatedRow("receipt", valid[i].ID, valid[i].SourceHash))
	}
	ids := make(map[string]bool)
	lookup := func(ctx context.Context, id string) error {
		_, err := s.repo.GetReceipt(ctx, id)
		return err
	}
	for _, i := range dedupe.NewRowIndexes(hashes, existing) {
		r := valid[i]
		free, err := claimID(ctx, ids, r.ID, lookup)
		if err != nil {
			return fmt.Errorf("failed to check receipt %s: %w", r.ID, err)
		}
		if !free {
			reject(takenID("receipt", r.ID))
			continue
		}
		fresh.Receipts = append(fresh.Receipts, r)
	}
	// parents first so children can reference them
	sort.SliceStable(fresh.Receipts, func(i, j int) bool {
		return fresh.Receipts[i].ParentReceiptID == "" && fresh.Receipts[j].ParentReceiptID != ""
	})
	return nil
}

func (s *Service) planPayments(ctx context.Context, batch *Batch, fresh *Batch, reject func(error)) error {
	if len(batch.Payments) == 0 {
		return nil
	}
	stored, err := s.repo.ListPayments(ctx, storage.RecordFilter{})
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	existing := make(map[string]bool, len(stored))
	for _, p := range stored {
		existing[p.SourceHash] = true
	}

	valid := make([]*ledger.Payment, 0, len(batch.Payments))
	hashes := make([]string, 0, len(batch.Payments))
	for _, p := range batch.Payments {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if err := p.Validate(); err != nil {
			reject(err)
			continue
		}
		p.Status, p.Version = ledger.StatusUnmatched, 0
		p.EnsureHash()
		valid = append(valid, p)
		hashes = append(hashes, p.SourceHash)
	}

	for _, i := range dedupe.BatchRepeats(hashes, existing) {
		reject(repeatedRow("payment", valid[i].ID, valid[i].SourceHash))
	}
	ids := make(map[string]bool)
	lookup := func(ctx context.Context, id string) error {
		_, err := s.repo.GetPayment(ctx, id)
		return err
	}
	for _, i := range dedupe.NewRowIndexes(hashes, existing) {
		p := valid[i]
		free, err := claimID(ctx, ids, p.ID, lookup)
		if err != nil {
			return fmt.Errorf("failed to check payment %s: %w", p.ID, err)
		}
		if !free {
			reject(takenID("payment", p.ID))
			continue
		}
		fresh.Payments = append(fresh.Payments, p)
	}
	return nil
}

// claimID reports whether id is neither stored nor used earlier in the
// batch, and marks it used.
func claimID(ctx context.Context, used map[string]bool, id string, lookup func(context.Context, string) error) (bool, error) {
	if used[id] {
		return false, nil
	}
	err := lookup(ctx, id)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, ledger.ErrNotFound):
		return false, err
	}
	used[id] = true
	return true, nil
}

func takenID(kind, id string) error {
	return fmt.Errorf("%s %q: id already exists: %w", kind, id, ledger.ErrInvalidRecord)
}

func repeatedRow(kind, id, hash string) error {
	return fmt.Errorf("%s %q: source_hash %.12s: %w", kind, id, hash, ledger.ErrDuplicateRow)
}

// planCharters keeps charters whose reserve number is new, and the charges
// of every charter that exists or is about to.
func (s *Service) planCharters(ctx context.Context, batch *Batch, fresh *Batch, reject func(error)) error {
	known := make(map[string]bool)
	for _, c := range batch.Charters {
		if err := c.Validate(); err != nil {
			reject(err)
			continue
		}
		if known[c.ReserveNumber] {
			continue
		}
		_, err := s.repo.GetCharter(ctx, c.ReserveNumber)
		switch {
		case err == nil:
			known[c.ReserveNumber] = true
			continue
		case !errors.Is(err, ledger.ErrNotFound):
			return fmt.Errorf("failed to read charter %s: %w", c.ReserveNumber, err)
		}
		known[c.ReserveNumber] = true
		fresh.Charters = append(fresh.Charters, c)
	}

	stored := make(map[string]map[string]bool)
	for _, ch := range batch.Charges {
		if ch.ReserveNumber == "" {
			reject(fmt.Errorf("charge %q: missing reserve_number: %w", ch.ID, ledger.ErrInvalidRecord))
			continue
		}
		if !known[ch.ReserveNumber] {
			if _, err := s.repo.GetCharter(ctx, ch.ReserveNumber); err != nil {
				reject(fmt.Errorf("charge %q: charter %s: %w", ch.ID, ch.ReserveNumber, err))
				continue
			}
			known[ch.ReserveNumber] = true
		}
		if _, ok := stored[ch.ReserveNumber]; !ok {
			existing, err := s.repo.ListCharterCharges(ctx, ch.ReserveNumber)
			if err != nil {
				return fmt.Errorf("failed to list charges of %s: %w", ch.ReserveNumber, err)
			}
			stored[ch.ReserveNumber] = make(map[string]bool, len(existing))
			for _, e := range existing {
				stored[ch.ReserveNumber][chargeKey(e)] = true
			}
		}
		if stored[ch.ReserveNumber][chargeKey(ch)] {
			continue
		}
		stored[ch.ReserveNumber][chargeKey(ch)] = true
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		fresh.Charges = append(fresh.Charges, ch)
	}
	return nil
}

func chargeKey(ch *ledger.CharterCharge) string {
	return ch.Description + "|" + ch.Amount.StringFixed(2)
}

// paidCharters lists the reserve numbers carried by payments, once each.
func paidCharters(payments []*ledger.Payment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range payments {
		if p.ReserveNumber == "" || seen[p.ReserveNumber] {
			continue
		}
		seen[p.ReserveNumber] = true
		out = append(out, p.ReserveNumber)
	}
	return out
}
