package repository

import (
	"context"
	"time"

	"github.com/ayodele-m/fiatramp/internal/models"
)

// TransactionFilter narrows admin transaction listings.
type TransactionFilter struct {
	ProcessedBy string
	UserID      string
	Type        string
}

// StatusUpdate describes one conditional status transition. The update must
// be applied as a single compare-and-swap: rows are touched only while the
// current status is one of FromStatuses, and the affected count is returned
// so callers can detect a lost race.
type StatusUpdate struct {
	UniqueID     string
	FromStatuses []string
	ToStatus     string

	TransactionHash    *string
	ProcessedBy        *string
	ClearProcessedBy   bool
	SettledBy          *string
	SettledAt          *time.Time
	SettlementProof    *string
	FiatProviderResult *string
}

// Store is the persistence contract for the settlement pipeline. Two
// implementations exist: Postgres for production and an in-memory store for
// tests.
type Store interface {
	// Transactions.
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransaction(ctx context.Context, uniqueID string) (*models.Transaction, error)
	GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error)
	ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
	ListTransactionsByStatusAndType(ctx context.Context, status, txType string) ([]models.Transaction, error)
	HasPendingOfframp(ctx context.Context, userID, senderCurrencyID string) (bool, error)
	UpdateTransactionStatus(ctx context.Context, upd StatusUpdate) (int64, error)

	// Currencies.
	GetCurrency(ctx context.Context, uniqueID string) (*models.Currency, error)
	GetFiatCurrency(ctx context.Context, symbol string) (*models.Currency, error)
	// ListCryptoCurrencies filters by network; an empty network lists all.
	ListCryptoCurrencies(ctx context.Context, network string) ([]models.Currency, error)

	// Settings.
	GetSetting(ctx context.Context) (*models.Setting, error)
	UpdateSetting(ctx context.Context, setting *models.Setting) error
	InsertSettingsUpdateLog(ctx context.Context, entry *models.SettingsUpdateLog) error

	// Fiat accounts and deposit wallets.
	GetActiveFiatAccount(ctx context.Context, userID string) (*models.UserFiatAccount, error)
	CreateFiatAccount(ctx context.Context, account *models.UserFiatAccount) error
	SoftDeleteFiatAccount(ctx context.Context, uniqueID, userID string) error
	GetActiveWallet(ctx context.Context, userID, network string) (*models.UserWallet, error)
	CreateWallet(ctx context.Context, wallet *models.UserWallet) error

	// Audit trail.
	InsertAuditLog(ctx context.Context, entry *models.AuditLog) error
}
