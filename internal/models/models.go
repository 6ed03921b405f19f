package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the central settlement record. The economic snapshot
// (amount, currency ids, rates, fee) is locked at creation and never
// mutated; only the lifecycle fields change afterwards.
type Transaction struct {
	ID        int64  `json:"-"`
	UniqueID  string `json:"unique_id"`
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`

	SenderCurrencyID   string          `json:"sender_currency_id"`
	ReceiverCurrencyID string          `json:"receiver_currency_id"`
	AmountType         string          `json:"amount_type"`
	PaymentType        string          `json:"payment_type,omitempty"`
	AmountInUSD        decimal.Decimal `json:"amount_in_usd"`
	Fee                decimal.Decimal `json:"fee"` // in USD
	SendingUSDRate     decimal.Decimal `json:"sending_currency_usd_rate"`
	ReceivingUSDRate   decimal.Decimal `json:"receiving_currency_usd_rate"`

	// Leg amounts derived from the USD snapshot at creation. SendingAmount
	// is gross, ReceivingAmount is net of fee.
	SendingAmount   decimal.Decimal `json:"sending_amount"`
	ReceivingAmount decimal.Decimal `json:"receiving_amount"`

	// Deposit address the user must fund (offramp) / address the system
	// pays out to (buy).
	WalletAddress          string `json:"wallet_address,omitempty"`
	ReceivingWalletAddress string `json:"receiving_wallet_address,omitempty"`

	FiatProviderTxRef  string `json:"fiat_provider_tx_ref,omitempty"`
	FiatProviderResult string `json:"fiat_provider_result,omitempty"`

	TransactionHash string     `json:"transaction_hash,omitempty"`
	ProcessedBy     string     `json:"processed_by,omitempty"`
	SettledBy       string     `json:"settled_by,omitempty"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
	SettlementProof string     `json:"settlement_proof,omitempty"`

	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Currency is a reference entity. MarketUSDRate means "units per 1 USD" for
// fiat and "USD per 1 unit" for crypto; it is refreshed by an external rate
// collaborator, never by the settlement pipeline.
type Currency struct {
	ID            int64           `json:"-"`
	UniqueID      string          `json:"unique_id"`
	Type          string          `json:"type"` // fiat | crypto
	Network       string          `json:"network"`
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	MarketUSDRate decimal.Decimal `json:"market_usd_rate"`
	TokenAddress  string          `json:"token_address,omitempty"`
	Decimals      int32           `json:"decimals,omitempty"`
	IsBlocked     bool            `json:"is_blocked"`
	IsDeleted     bool            `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Setting is the system-wide singleton read by the settlement pipeline and
// mutated only through privileged admin action.
type Setting struct {
	ID                       int64           `json:"-"`
	EnforceKYC               bool            `json:"enforce_kyc"`
	TransactionFeePercentage decimal.Decimal `json:"transaction_fee_percentage"`
	BuyRatePercentage        decimal.Decimal `json:"buy_rate_percentage"`
	SellRatePercentage       decimal.Decimal `json:"sell_rate_percentage"`
	TransactionProcessing    string          `json:"transaction_processing_type"` // AUTO | MANUAL
	DefaultAccountBank       string          `json:"default_account_bank"`
	DefaultAccountName       string          `json:"default_account_name"`
	DefaultAccountNo         string          `json:"default_account_no"`
	MinTransactionAmount     decimal.Decimal `json:"min_transaction_amount"` // USD
	MaxTransactionAmount     decimal.Decimal `json:"max_transaction_amount"` // USD
	UpdatedAt                time.Time       `json:"updated_at"`
}

// SettingsUpdateLog is one append-only record of an admin settings change.
type SettingsUpdateLog struct {
	ID        int64     `json:"-"`
	AdminID   string    `json:"admin_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	CreatedAt time.Time `json:"created_at"`
}

// UserFiatAccount is the payout destination for offramp settlements. At most
// one active account per user in the simplified model.
type UserFiatAccount struct {
	ID          int64     `json:"-"`
	UniqueID    string    `json:"unique_id"`
	UserID      string    `json:"user_id"`
	AccountName string    `json:"account_name"`
	AccountNo   string    `json:"account_no"`
	BankName    string    `json:"bank_name"`
	BankCode    string    `json:"bank_code"`
	IsDeleted   bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserWallet is a per-user deposit address; one active record per
// (user, network) pair.
type UserWallet struct {
	ID            int64     `json:"-"`
	UniqueID      string    `json:"unique_id"`
	UserID        string    `json:"user_id"`
	Network       string    `json:"network"`
	WalletAddress string    `json:"wallet_address"`
	IsDeleted     bool      `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditLog is one immutable record of a status transition or admin action.
type AuditLog struct {
	ID         int64     `json:"-"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	Action     string    `json:"action"`
	PrevState  string    `json:"prev_state,omitempty"`
	NextState  string    `json:"next_state,omitempty"`
	Metadata   []byte    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
