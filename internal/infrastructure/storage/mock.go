package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/ledger-reconcile/internal/domain/ledger"
)

// MockRepository is an in-memory implementation of Repository for testing.
// It enforces the same link uniqueness and version rules as the SQLite
// store, and WithTx restores a snapshot when fn fails.
type MockRepository struct {
	mu sync.Mutex

	transactions map[string]*ledger.BankTransaction
	receipts     map[string]*ledger.Receipt
	payments     map[string]*ledger.Payment
	charters     map[string]*ledger.Charter // keyed by reserve number
	charges      []*ledger.CharterCharge
	links        []*ledger.MatchLink
	groups       []*ledger.DuplicateGroup
	review       []*ledger.ReviewItem
	runs         map[int64]*Run
	variances    map[string][]ledger.Variance
	nextRunID    int64
	nextReviewID int64

	// Hooks for test assertions
	WithTxCalls    int
	InsertLinkCall int
	StatusUpdates  []ledger.RecordRef
	DeletedRecords []ledger.RecordRef

	// Error injection for testing error paths
	InsertLinkErr    error
	UpdateStatusErr  error
	StartRunErr      error
	ListAccountsErr  error
	AddReviewItemErr error

	// StaleOnce makes the next N UpdateStatus calls fail with
	// ledger.ErrStaleVersion.
	StaleOnce int
}

type mockSnapshot struct {
	transactions map[string]*ledger.BankTransaction
	receipts     map[string]*ledger.Receipt
	payments     map[string]*ledger.Payment
	charters     map[string]*ledger.Charter
	charges      []*ledger.CharterCharge
	links        []*ledger.MatchLink
	groups       []*ledger.DuplicateGroup
	review       []*ledger.ReviewItem
	variances    map[string][]ledger.Variance
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		transactions: make(map[string]*ledger.BankTransaction),
		receipts:     make(map[string]*ledger.Receipt),
		payments:     make(map[string]*ledger.Payment),
		charters:     make(map[string]*ledger.Charter),
		runs:         make(map[int64]*Run),
		variances:    make(map[string][]ledger.Variance),
		nextRunID:    1,
		nextReviewID: 1,
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// WithTx runs fn against the mock and rolls back its writes on error.
func (m *MockRepository) WithTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	m.WithTxCalls++
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Close is a no-op.
func (m *MockRepository) Close() error { return nil }

func (m *MockRepository) snapshot() mockSnapshot {
	s := mockSnapshot{
		transactions: make(map[string]*ledger.BankTransaction, len(m.transactions)),
		receipts:     make(map[string]*ledger.Receipt, len(m.receipts)),
		payments:     make(map[string]*ledger.Payment, len(m.payments)),
		charters:     make(map[string]*ledger.Charter, len(m.charters)),
		variances:    make(map[string][]ledger.Variance, len(m.variances)),
	}
	for k, v := range m.transactions {
		c := *v
		s.transactions[k] = &c
	}
	for k, v := range m.receipts {
		c := *v
		s.receipts[k] = &c
	}
	for k, v := range m.payments {
		c := *v
		s.payments[k] = &c
	}
	for k, v := range m.charters {
		c := *v
		s.charters[k] = &c
	}
	for k, v := range m.variances {
		s.variances[k] = append([]ledger.Variance(nil), v...)
	}
	for _, l := range m.links {
		c := *l
		s.links = append(s.links, &c)
	}
	s.charges = append(s.charges, m.charges...)
	s.groups = append(s.groups, m.groups...)
	s.review = append(s.review, m.review...)
	return s
}

func (m *MockRepository) restore(s mockSnapshot) {
	m.transactions = s.transactions
	m.receipts = s.receipts
	m.payments = s.payments
	m.charters = s.charters
	m.charges = s.charges
	m.links = s.links
	m.groups = s.groups
	m.review = s.review
	m.variances = s.variances
}

// ============================================================================
// TransactionStore
// ============================================================================

func (m *MockRepository) InsertTransactions(ctx context.Context, txs []*ledger.BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, ok := m.transactions[t.ID]; ok {
			return fmt.Errorf("transaction %s already exists: %w", t.ID, ledger.ErrInvalidRecord)
		}
		t.EnsureHash()
		if t.Status == "" {
			t.Status = ledger.StatusUnmatched
		}
		if t.Version == 0 {
			t.Version = 1
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = nowUTC()
		}
		c := *t
		m.transactions[t.ID] = &c
	}
	return nil
}

func (m *MockRepository) GetTransaction(ctx context.Context, id string) (*ledger.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, ledger.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (m *MockRepository) ListAccountTransactions(ctx context.Context, accountID string) ([]*ledger.BankTransaction, error) {
	return m.ListTransactions(ctx, TransactionFilter{AccountID: accountID})
}

func (m *MockRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*ledger.BankTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ledger.BankTransaction
	for _, t := range m.transactions {
		if filter.AccountID != "" && t.AccountID != filter.AccountID {
			continue
		}
		if !statusIn(t.Status, filter.Statuses) {
			continue
		}
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MockRepository) ListAccounts(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListAccountsErr != nil {
		return nil, m.ListAccountsErr
	}

	seen := make(map[string]bool)
	var accounts []string
	for _, t := range m.transactions {
		if !seen[t.AccountID] {
			seen[t.AccountID] = true
			accounts = append(accounts, t.AccountID)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (m *MockRepository) SourceHashes(ctx context.Context, accountID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hashes := make(map[string]bool)
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			hashes[t.SourceHash] = true
		}
	}
	return hashes, nil
}

// ============================================================================
// TargetStore
// ============================================================================

func (m *MockRepository) InsertReceipts(ctx context.Context, receipts []*ledger.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range receipts {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := m.receipts[r.ID]; ok {
			return fmt.Errorf("receipt %s already exists: %w", r.ID, ledger.ErrInvalidRecord)
		}
		r.EnsureHash()
		if r.Status == "" {
			r.Status = ledger.StatusUnmatched
		}
		if r.Version == 0 {
			r.Version = 1
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = nowUTC()
		}
		c := *r
		m.receipts[r.ID] = &c
	}
	return nil
}

func (m *MockRepository) GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", id, ledger.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (m *MockRepository) ListReceipts(ctx context.Context, filter RecordFilter) ([]*ledger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Receipt
	for _, r := range m.receipts {
		if !inRange(r.Date, filter) || !statusIn(r.Status, filter.Statuses) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sortReceipts(out)
	return out, nil
}

func (m *MockRepository) ListChildReceipts(ctx context.Context, parentID string) ([]*ledger.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Receipt
	for _, r := range m.receipts {
		if r.ParentReceiptID == parentID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockRepository) InsertPayments(ctx context.Context, payments []*ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payments {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := m.payments[p.ID]; ok {
			return fmt.Errorf("payment %s already exists: %w", p.ID, ledger.ErrInvalidRecord)
		}
		p.EnsureHash()
		if p.Status == "" {
			p.Status = ledger.StatusUnmatched
		}
		if p.Version == 0 {
			p.Version = 1
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = nowUTC()
		}
		c := *p
		m.payments[p.ID] = &c
	}
	return nil
}

func (m *MockRepository) GetPayment(ctx context.Context, id string) (*ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (m *MockRepository) ListPayments(ctx context.Context, filter RecordFilter) ([]*ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Payment
	for _, p := range m.payments {
		if !inRange(p.Date, filter) || !statusIn(p.Status, filter.Statuses) {
			continue
		}
		if filter.WithoutReserve && p.ReserveNumber != "" {
			continue
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MockRepository) SetPaymentReserve(ctx context.Context, ref ledger.RecordRef, reserveNumber string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[ref.ID]
	if !ok {
		return 0, fmt.Errorf("payments %s: %w", ref.ID, ledger.ErrNotFound)
	}
	if p.Version != ref.Version {
		return 0, fmt.Errorf("payments %s: %w", ref.ID, ledger.ErrStaleVersion)
	}
	p.ReserveNumber = reserveNumber
	p.Version++
	return p.Version, nil
}

// ============================================================================
// CharterStore
// ============================================================================

func (m *MockRepository) InsertCharters(ctx context.Context, charters []*ledger.Charter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range charters {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, ok := m.charters[c.ReserveNumber]; ok {
			return fmt.Errorf("charter %s already exists: %w", c.ReserveNumber, ledger.ErrInvalidRecord)
		}
		if c.ID == "" {
			c.ID = c.ReserveNumber
		}
		c.ApplyPaid(c.PaidAmount)
		if c.Version == 0 {
			c.Version = 1
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = nowUTC()
		}
		cp := *c
		m.charters[c.ReserveNumber] = &cp
	}
	return nil
}

func (m *MockRepository) GetCharter(ctx context.Context, reserveNumber string) (*ledger.Charter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charters[reserveNumber]
	if !ok {
		return nil, fmt.Errorf("charter %s: %w", reserveNumber, ledger.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MockRepository) ListOpenCharters(ctx context.Context) ([]*ledger.Charter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Charter
	for _, c := range m.charters {
		if c.Balance.IsPositive() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ReserveNumber < out[j].ReserveNumber
	})
	return out, nil
}

func (m *MockRepository) UpdateCharterPaid(ctx context.Context, reserveNumber string, version int64, paid decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charters[reserveNumber]
	if !ok {
		return fmt.Errorf("charter %s: %w", reserveNumber, ledger.ErrNotFound)
	}
	if c.Version != version {
		return fmt.Errorf("charter %s: %w", reserveNumber, ledger.ErrStaleVersion)
	}
	c.ApplyPaid(paid)
	c.Version++
	return nil
}

func (m *MockRepository) SumCharterPayments(ctx context.Context, reserveNumber string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.payments {
		if p.ReserveNumber != reserveNumber || p.Status == ledger.StatusDisputed || p.ExcludeFromReports {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (m *MockRepository) InsertCharterCharges(ctx context.Context, charges []*ledger.CharterCharge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range charges {
		if _, ok := m.charters[ch.ReserveNumber]; !ok {
			return fmt.Errorf("charge %s: charter %s: %w", ch.ID, ch.ReserveNumber, ledger.ErrNotFound)
		}
		c := *ch
		m.charges = append(m.charges, &c)
	}
	return nil
}

func (m *MockRepository) ListCharterCharges(ctx context.Context, reserveNumber string) ([]*ledger.CharterCharge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.CharterCharge
	for _, ch := range m.charges {
		if ch.ReserveNumber == reserveNumber {
			c := *ch
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ============================================================================
// StatusStore
// ============================================================================

func (m *MockRepository) UpdateStatus(ctx context.Context, ref ledger.RecordRef, to ledger.Status, exclude bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateStatusErr != nil {
		return 0, m.UpdateStatusErr
	}
	if m.StaleOnce > 0 {
		m.StaleOnce--
		return 0, fmt.Errorf("%s %s: %w", ref.Type, ref.ID, ledger.ErrStaleVersion)
	}

	status, version, ok := m.statusFields(ref)
	if !ok {
		return 0, fmt.Errorf("%s %s: %w", ref.Type, ref.ID, ledger.ErrNotFound)
	}
	if *version != ref.Version {
		return 0, fmt.Errorf("%s %s: %w", ref.Type, ref.ID, ledger.ErrStaleVersion)
	}
	*status = to
	*version++
	switch ref.Type {
	case ledger.RecordTransaction:
		m.transactions[ref.ID].ExcludeFromReports = exclude
	case ledger.RecordReceipt:
		m.receipts[ref.ID].ExcludeFromReports = exclude
	case ledger.RecordPayment:
		m.payments[ref.ID].ExcludeFromReports = exclude
	}
	m.StatusUpdates = append(m.StatusUpdates, ref)
	return *version, nil
}

func (m *MockRepository) statusFields(ref ledger.RecordRef) (*ledger.Status, *int64, bool) {
	switch ref.Type {
	case ledger.RecordTransaction:
		if t, ok := m.transactions[ref.ID]; ok {
			return &t.Status, &t.Version, true
		}
	case ledger.RecordReceipt:
		if r, ok := m.receipts[ref.ID]; ok {
			return &r.Status, &r.Version, true
		}
	case ledger.RecordPayment:
		if p, ok := m.payments[ref.ID]; ok {
			return &p.Status, &p.Version, true
		}
	}
	return nil, nil, false
}

func (m *MockRepository) DeleteRecord(ctx context.Context, ref ledger.RecordRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, version, ok := m.statusFields(ref)
	if !ok {
		return fmt.Errorf("%s %s: %w", ref.Type, ref.ID, ledger.ErrNotFound)
	}
	if *version != ref.Version {
		return fmt.Errorf("%s %s: %w", ref.Type, ref.ID, ledger.ErrStaleVersion)
	}
	if ref.Type == ledger.RecordTransaction {
		for _, l := range m.links {
			if l.BankTransactionID == ref.ID {
				return fmt.Errorf("transaction %s still has links", ref.ID)
			}
		}
	}
	switch ref.Type {
	case ledger.RecordTransaction:
		delete(m.transactions, ref.ID)
	case ledger.RecordReceipt:
		delete(m.receipts, ref.ID)
	case ledger.RecordPayment:
		delete(m.payments, ref.ID)
	}
	m.DeletedRecords = append(m.DeletedRecords, ref)
	return nil
}

// ============================================================================
// LinkStore
// ============================================================================

func (m *MockRepository) InsertLink(ctx context.Context, link *ledger.MatchLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertLinkCall++
	if m.InsertLinkErr != nil {
		return m.InsertLinkErr
	}
	if _, ok := m.transactions[link.BankTransactionID]; !ok {
		return fmt.Errorf("link %s: transaction %s: %w", link.ID, link.BankTransactionID, ledger.ErrNotFound)
	}
	if link.State == ledger.LinkActive {
		if err := m.checkActiveUnique(link); err != nil {
			return err
		}
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = nowUTC()
	}
	c := *link
	m.links = append(m.links, &c)
	return nil
}

// checkActiveUnique mirrors the partial unique indexes on match_links.
func (m *MockRepository) checkActiveUnique(link *ledger.MatchLink) error {
	for _, l := range m.links {
		if l.ID == link.ID || l.State != ledger.LinkActive {
			continue
		}
		if l.TargetType == link.TargetType && l.TargetID == link.TargetID {
			return fmt.Errorf("link %s -> %s:%s: %w",
				link.BankTransactionID, link.TargetType, link.TargetID, ledger.ErrAlreadyLinked)
		}
		if link.SplitGroup == "" && l.SplitGroup == "" && l.BankTransactionID == link.BankTransactionID {
			return fmt.Errorf("link %s -> %s:%s: %w",
				link.BankTransactionID, link.TargetType, link.TargetID, ledger.ErrAlreadyLinked)
		}
	}
	return nil
}

func (m *MockRepository) GetLink(ctx context.Context, id string) (*ledger.MatchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID == id {
			c := *l
			return &c, nil
		}
	}
	return nil, fmt.Errorf("link %s: %w", id, ledger.ErrNotFound)
}

func (m *MockRepository) LinksForTransaction(ctx context.Context, txID string, states ...ledger.LinkState) ([]*ledger.MatchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.MatchLink
	for _, l := range m.links {
		if l.BankTransactionID != txID || !linkStateIn(l.State, states) {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	return out, nil
}

func (m *MockRepository) ActiveLinkForTarget(ctx context.Context, targetType ledger.RecordType, targetID string) (*ledger.MatchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.State == ledger.LinkActive && l.TargetType == targetType && l.TargetID == targetID {
			c := *l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MockRepository) UpdateLinkState(ctx context.Context, id string, from, to ledger.LinkState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.links {
		if l.ID != id {
			continue
		}
		if l.State != from {
			return fmt.Errorf("match_links %s: %w", id, ledger.ErrStaleVersion)
		}
		if to == ledger.LinkActive {
			moved := *l
			moved.State = to
			if err := m.checkActiveUnique(&moved); err != nil {
				return err
			}
		}
		l.State = to
		if to == ledger.LinkSuperseded {
			t := at.UTC()
			l.SupersededAt = &t
		}
		return nil
	}
	return fmt.Errorf("match_links %s: %w", id, ledger.ErrNotFound)
}

func (m *MockRepository) ListLinks(ctx context.Context, filter LinkFilter) ([]*ledger.MatchLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.MatchLink
	for i := len(m.links) - 1; i >= 0; i-- {
		l := m.links[i]
		if filter.TransactionID != "" && l.BankTransactionID != filter.TransactionID {
			continue
		}
		if filter.TargetID != "" && (l.TargetType != filter.TargetType || l.TargetID != filter.TargetID) {
			continue
		}
		if filter.State != "" && l.State != filter.State {
			continue
		}
		c := *l
		out = append(out, &c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MockRepository) ActiveTargetKeys(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]bool)
	for _, l := range m.links {
		if l.State == ledger.LinkActive {
			keys[string(l.TargetType)+":"+l.TargetID] = true
		}
	}
	return keys, nil
}

// ============================================================================
// DedupeStore
// ============================================================================

func (m *MockRepository) SaveDuplicateGroup(ctx context.Context, group *ledger.DuplicateGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = nowUTC()
	}
	c := *group
	for i, g := range m.groups {
		if g.ID == group.ID {
			m.groups[i] = &c
			return nil
		}
	}
	m.groups = append(m.groups, &c)
	return nil
}

func (m *MockRepository) ListDuplicateGroups(ctx context.Context, scope ledger.RecordType) ([]*ledger.DuplicateGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.DuplicateGroup
	for _, g := range m.groups {
		if scope == "" || g.Scope == scope {
			c := *g
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockRepository) AddReviewItem(ctx context.Context, item *ledger.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddReviewItemErr != nil {
		return m.AddReviewItemErr
	}
	item.ID = m.nextReviewID
	m.nextReviewID++
	if item.CreatedAt.IsZero() {
		item.CreatedAt = nowUTC()
	}
	c := *item
	m.review = append(m.review, &c)
	return nil
}

func (m *MockRepository) ListReviewItems(ctx context.Context, unresolvedOnly bool) ([]*ledger.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.ReviewItem
	for _, it := range m.review {
		if unresolvedOnly && it.Resolved {
			continue
		}
		c := *it
		out = append(out, &c)
	}
	return out, nil
}

// ============================================================================
// RunStore
// ============================================================================

func (m *MockRepository) StartRun(ctx context.Context, kind, scope string, dryRun bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartRunErr != nil {
		return 0, m.StartRunErr
	}
	id := m.nextRunID
	m.nextRunID++
	m.runs[id] = &Run{
		ID:        id,
		Kind:      kind,
		Scope:     scope,
		DryRun:    dryRun,
		StartedAt: nowUTC(),
		Status:    RunStatusRunning,
	}
	return id, nil
}

func (m *MockRepository) CompleteRun(ctx context.Context, runID int64, summary RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %d: %w", runID, ledger.ErrNotFound)
	}
	now := nowUTC()
	r.CompletedAt = &now
	r.Status = summary.Status
	if r.Status == "" {
		r.Status = RunStatusCompleted
	}
	r.Processed = summary.Processed
	r.Applied = summary.Applied
	r.Proposed = summary.Proposed
	r.Skipped = summary.Skipped
	r.Errors = summary.Errors
	r.Notes = summary.Notes
	return nil
}

func (m *MockRepository) GetRun(ctx context.Context, runID int64) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %d: %w", runID, ledger.ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (m *MockRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for id := m.nextRunID - 1; id >= 1; id-- {
		if r, ok := m.runs[id]; ok {
			out = append(out, *r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockRepository) ReplaceVariances(ctx context.Context, accountID string, variances []ledger.Variance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variances[accountID] = append([]ledger.Variance(nil), variances...)
	return nil
}

func (m *MockRepository) ListVariances(ctx context.Context, accountID string) ([]ledger.Variance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Variance(nil), m.variances[accountID]...), nil
}

// ============================================================================
// Helpers
// ============================================================================

func statusIn(s ledger.Status, statuses []ledger.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func linkStateIn(s ledger.LinkState, states []ledger.LinkState) bool {
	if len(states) == 0 {
		return true
	}
	for _, st := range states {
		if s == st {
			return true
		}
	}
	return false
}

func inRange(d time.Time, filter RecordFilter) bool {
	if !filter.From.IsZero() && d.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && d.After(filter.To) {
		return false
	}
	return true
}

func sortReceipts(rs []*ledger.Receipt) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Date.Equal(rs[j].Date) {
			return rs[i].Date.Before(rs[j].Date)
		}
		return rs[i].ID < rs[j].ID
	})
}
