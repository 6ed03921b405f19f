package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
)

// MemoryStore is a mutex-guarded in-process Store. It exists for tests and
// mirrors the Postgres semantics exactly, including the compare-and-swap on
// status updates.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	transactions map[string]*models.Transaction
	currencies   map[string]*models.Currency
	setting      *models.Setting
	settingLogs  []models.SettingsUpdateLog
	fiatAccounts map[string]*models.UserFiatAccount
	wallets      map[string]*models.UserWallet
	auditLogs    []models.AuditLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*models.Transaction),
		currencies:   make(map[string]*models.Currency),
		fiatAccounts: make(map[string]*models.UserFiatAccount),
		wallets:      make(map[string]*models.UserWallet),
	}
}

func (s *MemoryStore) nextSeq() int64 {
	s.nextID++
	return s.nextID
}

// SeedCurrency registers a currency row for tests.
func (s *MemoryStore) SeedCurrency(c models.Currency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextSeq()
	s.currencies[c.UniqueID] = &c
}

// SeedSetting installs the singleton settings row for tests.
func (s *MemoryStore) SeedSetting(st models.Setting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = 1
	s.setting = &st
}

// SettingsUpdateLogs returns a copy of the recorded settings change log.
func (s *MemoryStore) SettingsUpdateLogs() []models.SettingsUpdateLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SettingsUpdateLog, len(s.settingLogs))
	copy(out, s.settingLogs)
	return out
}

// AuditLogs returns a copy of the recorded audit trail.
func (s *MemoryStore) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.auditLogs))
	copy(out, s.auditLogs)
	return out
}

func (s *MemoryStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[txn.UniqueID]; ok {
		return fmt.Errorf("transaction %s already exists", txn.UniqueID)
	}
	now := time.Now().UTC()
	txn.ID = s.nextSeq()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	cp := *txn
	s.transactions[txn.UniqueID] = &cp
	return nil
}

func (s *MemoryStore) GetTransaction(ctx context.Context, uniqueID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[uniqueID]
	if !ok || t.IsDeleted {
		return nil, fmt.Errorf("transaction %s: %w", uniqueID, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.FiatProviderTxRef == ref && !t.IsDeleted {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("transaction ref %s: %w", ref, domain.ErrNotFound)
}

func (s *MemoryStore) list(match func(*models.Transaction) bool) []models.Transaction {
	var out []models.Transaction
	for _, t := range s.transactions {
		if !t.IsDeleted && match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(t *models.Transaction) bool { return t.UserID == userID }), nil
}

func (s *MemoryStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(t *models.Transaction) bool {
		if filter.ProcessedBy != "" && t.ProcessedBy != filter.ProcessedBy {
			return false
		}
		if filter.UserID != "" && t.UserID != filter.UserID {
			return false
		}
		if filter.Type != "" && t.Type != filter.Type {
			return false
		}
		return true
	}), nil
}

func (s *MemoryStore) ListTransactionsByStatusAndType(ctx context.Context, status, txType string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(t *models.Transaction) bool {
		return t.Status == status && t.Type == txType
	}), nil
}

func (s *MemoryStore) HasPendingOfframp(ctx context.Context, userID, senderCurrencyID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.IsDeleted {
			continue
		}
		if t.UserID == userID && t.SenderCurrencyID == senderCurrencyID &&
			t.Type == domain.TxTypeCryptoOfframp && t.Status == domain.StatusCreated {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateTransactionStatus(ctx context.Context, upd StatusUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[upd.UniqueID]
	if !ok || t.IsDeleted {
		return 0, nil
	}
	allowed := false
	for _, from := range upd.FromStatuses {
		if t.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return 0, nil
	}
	t.Status = upd.ToStatus
	if upd.TransactionHash != nil {
		t.TransactionHash = *upd.TransactionHash
	}
	if upd.ClearProcessedBy {
		t.ProcessedBy = ""
	} else if upd.ProcessedBy != nil {
		t.ProcessedBy = *upd.ProcessedBy
	}
	if upd.SettledBy != nil {
		t.SettledBy = *upd.SettledBy
	}
	if upd.SettledAt != nil {
		at := *upd.SettledAt
		t.SettledAt = &at
	}
	if upd.SettlementProof != nil {
		t.SettlementProof = *upd.SettlementProof
	}
	if upd.FiatProviderResult != nil {
		t.FiatProviderResult = *upd.FiatProviderResult
	}
	t.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (s *MemoryStore) GetCurrency(ctx context.Context, uniqueID string) (*models.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.currencies[uniqueID]
	if !ok || c.IsDeleted {
		return nil, fmt.Errorf("currency %s: %w", uniqueID, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetFiatCurrency(ctx context.Context, symbol string) (*models.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.currencies {
		if c.Symbol == symbol && c.Type == domain.CurrencyTypeFiat && !c.IsDeleted {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("fiat currency %s: %w", symbol, domain.ErrNotFound)
}

func (s *MemoryStore) ListCryptoCurrencies(ctx context.Context, network string) ([]models.Currency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Currency
	for _, c := range s.currencies {
		if c.Type == domain.CurrencyTypeCrypto && (network == "" || c.Network == network) && !c.IsDeleted {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetSetting(ctx context.Context) (*models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setting == nil {
		return nil, fmt.Errorf("settings row: %w", domain.ErrNotFound)
	}
	cp := *s.setting
	return &cp, nil
}

func (s *MemoryStore) UpdateSetting(ctx context.Context, setting *models.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setting == nil {
		return fmt.Errorf("update settings: %w", domain.ErrNotFound)
	}
	cp := *setting
	cp.ID = s.setting.ID
	cp.UpdatedAt = time.Now().UTC()
	s.setting = &cp
	return nil
}

func (s *MemoryStore) InsertSettingsUpdateLog(ctx context.Context, entry *models.SettingsUpdateLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextSeq()
	entry.CreatedAt = time.Now().UTC()
	s.settingLogs = append(s.settingLogs, *entry)
	return nil
}

func (s *MemoryStore) GetActiveFiatAccount(ctx context.Context, userID string) (*models.UserFiatAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.UserFiatAccount
	for _, a := range s.fiatAccounts {
		if a.UserID == userID && !a.IsDeleted {
			if latest == nil || a.ID > latest.ID {
				latest = a
			}
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("fiat account for user %s: %w", userID, domain.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) CreateFiatAccount(ctx context.Context, account *models.UserFiatAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account.ID = s.nextSeq()
	account.CreatedAt = time.Now().UTC()
	cp := *account
	s.fiatAccounts[account.UniqueID] = &cp
	return nil
}

func (s *MemoryStore) SoftDeleteFiatAccount(ctx context.Context, uniqueID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.fiatAccounts[uniqueID]
	if !ok || a.IsDeleted || a.UserID != userID {
		return fmt.Errorf("delete fiat account: %w", domain.ErrNotFound)
	}
	a.IsDeleted = true
	return nil
}

func (s *MemoryStore) GetActiveWallet(ctx context.Context, userID, network string) (*models.UserWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.UserWallet
	for _, w := range s.wallets {
		if w.UserID == userID && w.Network == network && !w.IsDeleted {
			if latest == nil || w.ID > latest.ID {
				latest = w
			}
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("wallet for user %s on %s: %w", userID, network, domain.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) CreateWallet(ctx context.Context, wallet *models.UserWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallet.ID = s.nextSeq()
	wallet.CreatedAt = time.Now().UTC()
	cp := *wallet
	s.wallets[wallet.UniqueID] = &cp
	return nil
}

func (s *MemoryStore) InsertAuditLog(ctx context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextSeq()
	entry.CreatedAt = time.Now().UTC()
	s.auditLogs = append(s.auditLogs, *entry)
	return nil
}
