package settle

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memrepo is an in-memory repository used when no DB is configured, and by
// tests. Mirrors the postgres behavior including idempotency and the
// paired entry/balance invariant.
type memrepo struct {
	mu sync.RWMutex

	nextTxID    int64
	nextMatchID int64

	accounts map[string]*UserAccount
	txByID   map[int64]*Transaction
	txByRef  map[string]*Transaction
	txByUser map[string][]*Transaction

	matchesBySession map[string]*Match
}

func NewMemoryRepository() Repository {
	return &memrepo{
		accounts:         make(map[string]*UserAccount),
		txByID:           make(map[int64]*Transaction),
		txByRef:          make(map[string]*Transaction),
		txByUser:         make(map[string][]*Transaction),
		matchesBySession: make(map[string]*Match),
	}
}

func (m *memrepo) Account(ctx context.Context, userID string) (*UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNoAccount
	}
	cp := *acct
	cp.Stats = copyStats(acct.Stats)
	return &cp, nil
}

func (m *memrepo) UpsertAccount(ctx context.Context, acct *UserAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.accounts[acct.ID]
	now := time.Now()
	if !ok {
		cp := *acct
		if cp.Level < 1 {
			cp.Level = 1
		}
		cp.Stats = copyStats(acct.Stats)
		cp.CreatedAt = now
		cp.UpdatedAt = now
		m.accounts[cp.ID] = &cp
		return nil
	}
	if acct.DisplayName != "" {
		existing.DisplayName = acct.DisplayName
	}
	existing.UpdatedAt = now
	return nil
}

func (m *memrepo) ApplySettlement(ctx context.Context, plan *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if plan.Match != nil {
		code := strings.ToUpper(plan.Match.SessionCode)
		if _, exists := m.matchesBySession[code]; exists {
			return ErrAlreadySettled
		}
	}

	// Validate the whole plan before touching anything; a failing entry must
	// leave accounts, ledger and match record untouched, matching the SQL
	// transaction rollback.
	staged := make(map[string]float64, len(plan.Entries))
	for _, e := range plan.Entries {
		if _, exists := m.txByRef[e.Reference]; exists {
			return ErrDuplicateRef
		}
		bal, ok := staged[e.UserID]
		if !ok {
			if acct, exists := m.accounts[e.UserID]; exists {
				bal = acct.Balance
			}
		}
		if bal+e.Amount < 0 {
			return ErrInsufficientFunds
		}
		staged[e.UserID] = bal + e.Amount
	}

	if plan.Match != nil {
		code := strings.ToUpper(plan.Match.SessionCode)
		m.nextMatchID++
		cp := *plan.Match
		cp.ID = m.nextMatchID
		cp.SessionCode = code
		cp.CreatedAt = time.Now()
		cp.Players = append([]MatchPlayer(nil), plan.Match.Players...)
		m.matchesBySession[code] = &cp
	}

	for _, e := range plan.Entries {
		if _, err := m.applyEntryLocked(e); err != nil {
			return err
		}
	}
	for _, d := range plan.Stats {
		acct := m.ensureAccountLocked(d.UserID)
		applyStats(acct, d)
		acct.UpdatedAt = time.Now()
	}
	return nil
}

func (m *memrepo) CreatePending(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txByRef[tx.Reference]; exists {
		return ErrDuplicateRef
	}
	acct := m.ensureAccountLocked(tx.UserID)

	m.nextTxID++
	cp := *tx
	cp.ID = m.nextTxID
	cp.Status = TxPending
	cp.BalanceBefore = acct.Balance
	cp.BalanceAfter = acct.Balance
	cp.CreatedAt = time.Now()

	m.txByID[cp.ID] = &cp
	m.txByRef[cp.Reference] = &cp
	m.txByUser[cp.UserID] = append(m.txByUser[cp.UserID], &cp)
	return nil
}

func (m *memrepo) CompleteDeposit(ctx context.Context, reference string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txByRef[reference]
	if !ok {
		return nil, ErrNoTransaction
	}
	if tx.Status == TxCompleted {
		cp := *tx
		return &cp, nil
	}
	if tx.Status != TxPending {
		return nil, ErrNoTransaction
	}
	acct := m.ensureAccountLocked(tx.UserID)
	tx.BalanceBefore = acct.Balance
	acct.Balance += tx.Amount
	tx.BalanceAfter = acct.Balance
	tx.Status = TxCompleted
	tx.ProcessedAt = time.Now()
	acct.UpdatedAt = tx.ProcessedAt
	cp := *tx
	return &cp, nil
}

func (m *memrepo) ApplyEntry(ctx context.Context, entry LedgerEntry) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyEntryLocked(entry)
}

func (m *memrepo) applyEntryLocked(entry LedgerEntry) (*Transaction, error) {
	if _, exists := m.txByRef[entry.Reference]; exists {
		return nil, ErrDuplicateRef
	}
	acct := m.ensureAccountLocked(entry.UserID)
	if acct.Balance+entry.Amount < 0 {
		return nil, ErrInsufficientFunds
	}

	now := time.Now()
	m.nextTxID++
	tx := &Transaction{
		ID:            m.nextTxID,
		UserID:        entry.UserID,
		Kind:          entry.Kind,
		Amount:        entry.Amount,
		BalanceBefore: acct.Balance,
		Reference:     entry.Reference,
		Status:        TxCompleted,
		Description:   entry.Description,
		CreatedAt:     now,
		ProcessedAt:   now,
	}
	acct.Balance += entry.Amount
	tx.BalanceAfter = acct.Balance
	acct.UpdatedAt = now

	m.txByID[tx.ID] = tx
	m.txByRef[tx.Reference] = tx
	m.txByUser[tx.UserID] = append(m.txByUser[tx.UserID], tx)
	cp := *tx
	return &cp, nil
}

func (m *memrepo) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txByRef[reference]
	if !ok {
		return nil, ErrNoTransaction
	}
	cp := *tx
	return &cp, nil
}

func (m *memrepo) TransactionsByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.txByUser[userID]
	items := make([]*Transaction, 0, len(list))
	for _, tx := range list {
		cp := *tx
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID > items[j].ID })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) MatchBySession(ctx context.Context, sessionCode string) (*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matchesBySession[strings.ToUpper(sessionCode)]
	if !ok {
		return nil, nil
	}
	cp := *match
	cp.Players = append([]MatchPlayer(nil), match.Players...)
	return &cp, nil
}

func (m *memrepo) ensureAccountLocked(userID string) *UserAccount {
	acct, ok := m.accounts[userID]
	if !ok {
		now := time.Now()
		acct = &UserAccount{ID: userID, Level: 1, Stats: make(map[string]GameStats), CreatedAt: now, UpdatedAt: now}
		m.accounts[userID] = acct
	}
	return acct
}

func copyStats(in map[string]GameStats) map[string]GameStats {
	out := make(map[string]GameStats, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
