package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
)

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const transactionColumns = `
	id, unique_id, type, user_id, status,
	sender_currency_id, receiver_currency_id, amount_type, payment_type,
	amount_in_usd, fee, sending_usd_rate, receiving_usd_rate,
	sending_amount, receiving_amount,
	wallet_address, receiving_wallet_address,
	fiat_provider_tx_ref, fiat_provider_result,
	transaction_hash, processed_by, settled_by, settled_at, settlement_proof,
	is_deleted, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	var settledAt *time.Time
	err := row.Scan(
		&t.ID, &t.UniqueID, &t.Type, &t.UserID, &t.Status,
		&t.SenderCurrencyID, &t.ReceiverCurrencyID, &t.AmountType, &t.PaymentType,
		&t.AmountInUSD, &t.Fee, &t.SendingUSDRate, &t.ReceivingUSDRate,
		&t.SendingAmount, &t.ReceivingAmount,
		&t.WalletAddress, &t.ReceivingWalletAddress,
		&t.FiatProviderTxRef, &t.FiatProviderResult,
		&t.TransactionHash, &t.ProcessedBy, &t.SettledBy, &settledAt, &t.SettlementProof,
		&t.IsDeleted, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.SettledAt = settledAt
	return &t, nil
}

func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			unique_id, type, user_id, status,
			sender_currency_id, receiver_currency_id, amount_type, payment_type,
			amount_in_usd, fee, sending_usd_rate, receiving_usd_rate,
			sending_amount, receiving_amount,
			wallet_address, receiving_wallet_address, fiat_provider_tx_ref,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id`,
		txn.UniqueID, txn.Type, txn.UserID, txn.Status,
		txn.SenderCurrencyID, txn.ReceiverCurrencyID, txn.AmountType, txn.PaymentType,
		txn.AmountInUSD, txn.Fee, txn.SendingUSDRate, txn.ReceivingUSDRate,
		txn.SendingAmount, txn.ReceivingAmount,
		txn.WalletAddress, txn.ReceivingWalletAddress, txn.FiatProviderTxRef,
		txn.CreatedAt, txn.UpdatedAt,
	).Scan(&txn.ID)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, uniqueID string) (*models.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+transactionColumns+` FROM transactions WHERE unique_id = $1 AND is_deleted = false`,
		uniqueID)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", uniqueID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTransactionByProviderRef(ctx context.Context, ref string) (*models.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+transactionColumns+` FROM transactions WHERE fiat_provider_tx_ref = $1 AND is_deleted = false`,
		ref)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction ref %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by ref: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) collectTransactions(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	return s.collectTransactions(ctx,
		`SELECT`+transactionColumns+` FROM transactions
		 WHERE user_id = $1 AND is_deleted = false ORDER BY created_at DESC`,
		userID)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	clauses := []string{"is_deleted = false"}
	var args []any
	if filter.ProcessedBy != "" {
		args = append(args, filter.ProcessedBy)
		clauses = append(clauses, fmt.Sprintf("processed_by = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC`
	return s.collectTransactions(ctx, query, args...)
}

func (s *PostgresStore) ListTransactionsByStatusAndType(ctx context.Context, status, txType string) ([]models.Transaction, error) {
	return s.collectTransactions(ctx,
		`SELECT`+transactionColumns+` FROM transactions
		 WHERE status = $1 AND type = $2 AND is_deleted = false ORDER BY created_at ASC`,
		status, txType)
}

func (s *PostgresStore) HasPendingOfframp(ctx context.Context, userID, senderCurrencyID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND sender_currency_id = $2 AND type = $3
			  AND status = $4 AND is_deleted = false
		)`,
		userID, senderCurrencyID, domain.TxTypeCryptoOfframp, domain.StatusCreated,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending offramp: %w", err)
	}
	return exists, nil
}

// UpdateTransactionStatus applies one guarded transition. The WHERE clause
// carries the expected-status set so concurrent writers race on the row
// itself; callers inspect the affected count.
func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, upd StatusUpdate) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET
			status = $1,
			transaction_hash = COALESCE($2, transaction_hash),
			processed_by = CASE WHEN $3 THEN '' ELSE COALESCE($4, processed_by) END,
			settled_by = COALESCE($5, settled_by),
			settled_at = COALESCE($6, settled_at),
			settlement_proof = COALESCE($7, settlement_proof),
			fiat_provider_result = COALESCE($8, fiat_provider_result),
			updated_at = now()
		WHERE unique_id = $9 AND status = ANY($10) AND is_deleted = false`,
		upd.ToStatus,
		upd.TransactionHash,
		upd.ClearProcessedBy, upd.ProcessedBy,
		upd.SettledBy,
		upd.SettledAt,
		upd.SettlementProof,
		upd.FiatProviderResult,
		upd.UniqueID, upd.FromStatuses,
	)
	if err != nil {
		return 0, fmt.Errorf("update transaction status: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetCurrency(ctx context.Context, uniqueID string) (*models.Currency, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, unique_id, type, network, name, symbol, market_usd_rate,
		       token_address, decimals, is_blocked, is_deleted, created_at, updated_at
		FROM currencies WHERE unique_id = $1 AND is_deleted = false`,
		uniqueID)
	c, err := scanCurrency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("currency %s: %w", uniqueID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get currency: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetFiatCurrency(ctx context.Context, symbol string) (*models.Currency, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, unique_id, type, network, name, symbol, market_usd_rate,
		       token_address, decimals, is_blocked, is_deleted, created_at, updated_at
		FROM currencies WHERE symbol = $1 AND type = $2 AND is_deleted = false`,
		symbol, domain.CurrencyTypeFiat)
	c, err := scanCurrency(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fiat currency %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fiat currency: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCryptoCurrencies(ctx context.Context, network string) ([]models.Currency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, unique_id, type, network, name, symbol, market_usd_rate,
		       token_address, decimals, is_blocked, is_deleted, created_at, updated_at
		FROM currencies WHERE type = $1 AND ($2 = '' OR network = $2) AND is_deleted = false`,
		domain.CurrencyTypeCrypto, network)
	if err != nil {
		return nil, fmt.Errorf("list crypto currencies: %w", err)
	}
	defer rows.Close()

	var out []models.Currency
	for rows.Next() {
		c, err := scanCurrency(rows)
		if err != nil {
			return nil, fmt.Errorf("scan currency: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCurrency(row pgx.Row) (*models.Currency, error) {
	var c models.Currency
	err := row.Scan(
		&c.ID, &c.UniqueID, &c.Type, &c.Network, &c.Name, &c.Symbol, &c.MarketUSDRate,
		&c.TokenAddress, &c.Decimals, &c.IsBlocked, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetSetting(ctx context.Context) (*models.Setting, error) {
	var st models.Setting
	err := s.pool.QueryRow(ctx, `
		SELECT id, enforce_kyc, transaction_fee_percentage, buy_rate_percentage,
		       sell_rate_percentage, transaction_processing,
		       default_account_bank, default_account_name, default_account_no,
		       min_transaction_amount, max_transaction_amount, updated_at
		FROM settings ORDER BY id LIMIT 1`).Scan(
		&st.ID, &st.EnforceKYC, &st.TransactionFeePercentage, &st.BuyRatePercentage,
		&st.SellRatePercentage, &st.TransactionProcessing,
		&st.DefaultAccountBank, &st.DefaultAccountName, &st.DefaultAccountNo,
		&st.MinTransactionAmount, &st.MaxTransactionAmount, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("settings row: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) UpdateSetting(ctx context.Context, setting *models.Setting) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE settings SET
			enforce_kyc = $1, transaction_fee_percentage = $2,
			buy_rate_percentage = $3, sell_rate_percentage = $4,
			transaction_processing = $5,
			default_account_bank = $6, default_account_name = $7, default_account_no = $8,
			min_transaction_amount = $9, max_transaction_amount = $10,
			updated_at = now()
		WHERE id = $11`,
		setting.EnforceKYC, setting.TransactionFeePercentage,
		setting.BuyRatePercentage, setting.SellRatePercentage,
		setting.TransactionProcessing,
		setting.DefaultAccountBank, setting.DefaultAccountName, setting.DefaultAccountNo,
		setting.MinTransactionAmount, setting.MaxTransactionAmount,
		setting.ID,
	)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return requireExactlyOne(tag.RowsAffected(), "update settings")
}

func (s *PostgresStore) InsertSettingsUpdateLog(ctx context.Context, entry *models.SettingsUpdateLog) error {
	entry.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings_update_logs (admin_id, field, old_value, new_value, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		entry.AdminID, entry.Field, entry.OldValue, entry.NewValue, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert settings update log: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveFiatAccount(ctx context.Context, userID string) (*models.UserFiatAccount, error) {
	var a models.UserFiatAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, unique_id, user_id, account_name, account_no, bank_name, bank_code,
		       is_deleted, created_at
		FROM user_fiat_accounts
		WHERE user_id = $1 AND is_deleted = false
		ORDER BY created_at DESC LIMIT 1`,
		userID).Scan(
		&a.ID, &a.UniqueID, &a.UserID, &a.AccountName, &a.AccountNo, &a.BankName, &a.BankCode,
		&a.IsDeleted, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fiat account for user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fiat account: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) CreateFiatAccount(ctx context.Context, account *models.UserFiatAccount) error {
	account.CreatedAt = time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_fiat_accounts (unique_id, user_id, account_name, account_no, bank_name, bank_code, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		account.UniqueID, account.UserID, account.AccountName, account.AccountNo,
		account.BankName, account.BankCode, account.CreatedAt,
	).Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("insert fiat account: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteFiatAccount(ctx context.Context, uniqueID, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_fiat_accounts SET is_deleted = true
		WHERE unique_id = $1 AND user_id = $2 AND is_deleted = false`,
		uniqueID, userID)
	if err != nil {
		return fmt.Errorf("delete fiat account: %w", err)
	}
	return requireExactlyOne(tag.RowsAffected(), "delete fiat account")
}

func (s *PostgresStore) GetActiveWallet(ctx context.Context, userID, network string) (*models.UserWallet, error) {
	var w models.UserWallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, unique_id, user_id, network, wallet_address, is_deleted, created_at
		FROM user_wallets
		WHERE user_id = $1 AND network = $2 AND is_deleted = false
		ORDER BY created_at DESC LIMIT 1`,
		userID, network).Scan(
		&w.ID, &w.UniqueID, &w.UserID, &w.Network, &w.WalletAddress, &w.IsDeleted, &w.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet for user %s on %s: %w", userID, network, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, wallet *models.UserWallet) error {
	wallet.CreatedAt = time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO user_wallets (unique_id, user_id, network, wallet_address, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		wallet.UniqueID, wallet.UserID, wallet.Network, wallet.WalletAddress, wallet.CreatedAt,
	).Scan(&wallet.ID)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry *models.AuditLog) error {
	entry.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.EntityType, entry.EntityID, entry.ActorID, entry.Action,
		entry.PrevState, entry.NextState, entry.Metadata, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func requireExactlyOne(affected int64, op string) error {
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if affected > 1 {
		return fmt.Errorf("%s: expected one row, updated %d", op, affected)
	}
	return nil
}
