package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/api"
	"github.com/ayodele-m/fiatramp/internal/api/handler"
	"github.com/ayodele-m/fiatramp/internal/api/middleware"
	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/idempotency"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/notify"
	"github.com/ayodele-m/fiatramp/internal/observability"
	"github.com/ayodele-m/fiatramp/internal/provider"
	"github.com/ayodele-m/fiatramp/internal/repository"
	"github.com/ayodele-m/fiatramp/internal/service"
	"github.com/ayodele-m/fiatramp/internal/watcher"
)

const testJWTSecret = "test-secret-0123456789-test-secret"

// stubRail answers every provider capability with canned data.
type stubRail struct {
	mu      sync.Mutex
	payouts int
}

func (s *stubRail) Name() string { return "paystack" }

func (s *stubRail) VerifyWebhook(signature string, body []byte) error {
	if signature != "good-signature" {
		return fmt.Errorf("bad signature: %w", domain.ErrAuthorization)
	}
	return nil
}

func (s *stubRail) ParseWebhook(body []byte) (*provider.WebhookEvent, error) {
	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string          `json:"reference"`
			Status    string          `json:"status"`
			Amount    decimal.Decimal `json:"amount"`
			Currency  string          `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse webhook: %w", domain.ErrValidation)
	}
	return &provider.WebhookEvent{
		Provider:  "paystack",
		Event:     payload.Event,
		Reference: payload.Data.Reference,
		Status:    payload.Data.Status,
		Amount:    payload.Data.Amount,
		Currency:  payload.Data.Currency,
		Raw:       body,
	}, nil
}

func (s *stubRail) VerifyPayment(ctx context.Context, reference string) (*provider.Verification, error) {
	return &provider.Verification{
		Success:          true,
		TransactionFound: true,
		Amount:           decimal.NewFromInt(1_600_000),
		Currency:         "NGN",
	}, nil
}

func (s *stubRail) GenerateReceivingAccount(ctx context.Context, req provider.GenerateAccountRequest) (*provider.ReceivingAccount, error) {
	return &provider.ReceivingAccount{
		AccountNumber: "9876543210",
		AccountName:   "FiatRamp Checkout",
		BankName:      "Providus Bank",
	}, nil
}

func (s *stubRail) InitializeCharge(ctx context.Context, req provider.GenerateAccountRequest) (*provider.ChargeSession, error) {
	return &provider.ChargeSession{AuthorizationURL: "https://checkout.example/" + req.Reference, Reference: req.Reference}, nil
}

func (s *stubRail) InitiatePayout(ctx context.Context, req provider.PayoutRequest) (*provider.PayoutResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts++
	return &provider.PayoutResult{Reference: req.Reference, ProviderRef: "TRF_" + req.Reference, Status: "pending"}, nil
}

type stubWallet struct{}

func (stubWallet) Address() string { return "0xsystem" }

func (stubWallet) TransferToken(ctx context.Context, tokenAddress, to string, amount decimal.Decimal, decimals int32) (string, error) {
	return "0xsettled", nil
}

type stubWatch struct{}

func (stubWatch) Await(ctx context.Context, w watcher.Watch) (watcher.Result, error) {
	return watcher.Result{Matched: true, TxHash: "0xdeposit", Confirmed: true}, nil
}

func (stubWatch) AwaitConfirmations(ctx context.Context, w watcher.Watch, txHash string) (watcher.Result, error) {
	return watcher.Result{Matched: true, TxHash: txHash, Confirmed: true}, nil
}

type inlineRunner struct{}

func (inlineRunner) Submit(name string, fn func(ctx context.Context)) { fn(context.Background()) }

func seedCurrencies(store *repository.MemoryStore) {
	store.SeedCurrency(models.Currency{
		UniqueID:      "cur-ngn",
		Type:          domain.CurrencyTypeFiat,
		Network:       domain.NetworkFiat,
		Name:          "Nigerian Naira",
		Symbol:        "NGN",
		MarketUSDRate: decimal.NewFromInt(1600),
	})
	store.SeedCurrency(models.Currency{
		UniqueID:      "cur-usdt",
		Type:          domain.CurrencyTypeCrypto,
		Network:       domain.NetworkBSC,
		Name:          "Tether USD",
		Symbol:        "USDT",
		MarketUSDRate: decimal.NewFromInt(1),
		TokenAddress:  "0x55d398326f99059fF775485246999027B3197955",
		Decimals:      18,
	})
	store.SeedSetting(models.Setting{
		TransactionFeePercentage: decimal.Zero,
		SellRatePercentage:       decimal.Zero,
		BuyRatePercentage:        decimal.Zero,
		TransactionProcessing:    domain.ProcessingAuto,
		DefaultAccountBank:       "Zenith Bank",
		DefaultAccountName:       "FiatRamp Ltd",
		DefaultAccountNo:         "1112223334",
	})
}

func newTestServer(t *testing.T) (*httptest.Server, *repository.MemoryStore) {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore()
	seedCurrencies(store)

	metrics := observability.NewMetrics()
	hub := notify.NewHub(log)
	t.Cleanup(hub.CloseAll)
	registry := notify.NewRegistry(notify.NewMemoryPairStore(), hub, log)

	audit := service.NewAuditService(store, log)
	sm := service.NewTransactionStateMachine(store, audit, registry, log)
	rates := service.NewRateEngine(store, log)
	txns := service.NewTransactionService(store, sm, log)
	settings := service.NewSettingsService(store, audit, log)
	accounts := service.NewFiatAccountService(store, audit, log)

	rail := &stubRail{}
	chains := service.ChainSet{
		domain.NetworkBSC: {
			Wallet:  stubWallet{},
			Watcher: stubWatch{},
			NewDepositAddress: func() (string, string, error) {
				return "0xdeposit-addr", "priv", nil
			},
		},
	}
	orch := service.NewSettlementOrchestrator(store, rates, sm,
		provider.NewRegistry(rail, rail, rail), chains,
		inlineRunner{}, idempotency.NewMemoryDeduper(), audit, log)
	wallets := service.NewSystemWalletService(store, chains, nil, log)

	router := &api.Router{
		JWTSecret:          testJWTSecret,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		Log:                log,
		Metrics:            metrics,
		Health:             handler.NewHealthHandler(nil, nil),
		Currencies:         handler.NewCurrencyHandler(store),
		Transactions:       handler.NewTransactionHandler(orch, txns),
		FiatAccounts:       handler.NewFiatAccountHandler(accounts),
		Settings:           handler.NewSettingsHandler(settings),
		Wallets:            handler.NewWalletHandler(wallets),
		Webhooks:           handler.NewWebhookHandler(orch, metrics, log),
		Notify:             handler.NewNotifyHandler(hub, registry, txns, log),
	}

	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)
	return server, store
}

func signToken(t *testing.T, subject, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func doRequest(t *testing.T, server *httptest.Server, method, path, token string, body any) (*http.Response, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp, env.Data
}

func TestRoutesRequireAuthentication(t *testing.T) {
	server, _ := newTestServer(t)

	resp, _ := doRequest(t, server, http.MethodGet, "/v1/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, server, http.MethodGet, "/v1/admin/settings", signToken(t, "user-1", "user"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQuoteEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	resp, data := doRequest(t, server, http.MethodPost, "/v1/quotes", signToken(t, "user-1", "user"), map[string]any{
		"sending_currency_id":   "cur-ngn",
		"receiving_currency_id": "cur-usdt",
		"amount_in_usd":         "1000",
		"direction":             domain.TxTypeBuyCrypto,
		"amount_type":           domain.AmountTypeSending,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var quote struct {
		AmountUserSends    decimal.Decimal `json:"amount_user_sends"`
		AmountUserReceives decimal.Decimal `json:"amount_user_receives"`
	}
	require.NoError(t, json.Unmarshal(data, &quote))
	assert.True(t, quote.AmountUserSends.Equal(decimal.NewFromInt(1_600_000)),
		"got %s", quote.AmountUserSends)
	assert.True(t, quote.AmountUserReceives.Equal(decimal.NewFromInt(1000)))
}

func TestBuyOrderAndWebhookOverHTTP(t *testing.T) {
	server, store := newTestServer(t)
	token := signToken(t, "user-1", "user")

	resp, data := doRequest(t, server, http.MethodPost, "/v1/orders/buy", token, map[string]any{
		"customer_email":           "ada@example.com",
		"customer_name":            "Ada Obi",
		"sending_currency_id":      "cur-ngn",
		"receiving_currency_id":    "cur-usdt",
		"amount_in_usd":            "1000",
		"amount_type":              domain.AmountTypeSending,
		"payment_type":             domain.PaymentTypeBankTransfer,
		"receiving_wallet_address": "0xuserwallet",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var order struct {
		Transaction struct {
			UniqueID          string `json:"unique_id"`
			FiatProviderTxRef string `json:"fiat_provider_tx_ref"`
		} `json:"transaction"`
		Instructions struct {
			AccountNumber string `json:"account_number"`
		} `json:"payment_instructions"`
	}
	require.NoError(t, json.Unmarshal(data, &order))
	assert.Equal(t, "9876543210", order.Instructions.AccountNumber)

	webhook := fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":"%s","status":"success","amount":1600000,"currency":"NGN"}}`,
		order.Transaction.FiatProviderTxRef)

	// Unsigned delivery must not touch the transaction.
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/webhooks/paystack", bytes.NewBufferString(webhook))
	require.NoError(t, err)
	resp2, err := server.Client().Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	txn, err := store.GetTransaction(context.Background(), order.Transaction.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, txn.Status)

	// Signed delivery settles the order synchronously under the inline
	// runner.
	req, err = http.NewRequest(http.MethodPost, server.URL+"/v1/webhooks/paystack", bytes.NewBufferString(webhook))
	require.NoError(t, err)
	req.Header.Set("x-paystack-signature", "good-signature")
	resp3, err := server.Client().Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusOK, resp3.StatusCode)

	resp4, data := doRequest(t, server, http.MethodGet, "/v1/transactions/"+order.Transaction.UniqueID, token, nil)
	require.Equal(t, http.StatusOK, resp4.StatusCode)
	var final struct {
		Status          string `json:"status"`
		SettlementProof string `json:"settlement_proof"`
	}
	require.NoError(t, json.Unmarshal(data, &final))
	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "0xsettled", final.SettlementProof)
}

func TestTransactionOwnershipEnforced(t *testing.T) {
	server, _ := newTestServer(t)

	_, data := doRequest(t, server, http.MethodPost, "/v1/orders/buy", signToken(t, "user-1", "user"), map[string]any{
		"sending_currency_id":      "cur-ngn",
		"receiving_currency_id":    "cur-usdt",
		"amount_in_usd":            "1000",
		"amount_type":              domain.AmountTypeSending,
		"payment_type":             domain.PaymentTypeBankTransfer,
		"receiving_wallet_address": "0xuserwallet",
	})
	var order struct {
		Transaction struct {
			UniqueID string `json:"unique_id"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(data, &order))

	resp, _ := doRequest(t, server, http.MethodGet, "/v1/transactions/"+order.Transaction.UniqueID,
		signToken(t, "user-2", "user"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFiatAccountLifecycleOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	token := signToken(t, "user-1", "user")

	resp, data := doRequest(t, server, http.MethodPost, "/v1/fiat-accounts", token, map[string]any{
		"account_name": "Ada Obi",
		"account_no":   "0123456789",
		"bank_name":    "GTBank",
		"bank_code":    "058",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var account struct {
		UniqueID string `json:"unique_id"`
	}
	require.NoError(t, json.Unmarshal(data, &account))

	resp, data = doRequest(t, server, http.MethodGet, "/v1/fiat-accounts", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched struct {
		AccountNo string `json:"account_no"`
	}
	require.NoError(t, json.Unmarshal(data, &fetched))
	assert.Equal(t, "0123456789", fetched.AccountNo)

	resp, _ = doRequest(t, server, http.MethodDelete, "/v1/fiat-accounts/"+account.UniqueID, token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, server, http.MethodGet, "/v1/fiat-accounts", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminClaimFlowOverHTTP(t *testing.T) {
	server, _ := newTestServer(t)
	admin := signToken(t, "op-1", middleware.RoleAdmin)

	_, data := doRequest(t, server, http.MethodPost, "/v1/orders/buy", signToken(t, "user-1", "user"), map[string]any{
		"sending_currency_id":      "cur-ngn",
		"receiving_currency_id":    "cur-usdt",
		"amount_in_usd":            "1000",
		"amount_type":              domain.AmountTypeSending,
		"payment_type":             domain.PaymentTypeBankTransfer,
		"receiving_wallet_address": "0xuserwallet",
	})
	var order struct {
		Transaction struct {
			UniqueID string `json:"unique_id"`
		} `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(data, &order))
	id := order.Transaction.UniqueID

	resp, data := doRequest(t, server, http.MethodPost, "/v1/admin/transactions/"+id+"/claim", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var claimed struct {
		Status      string `json:"status"`
		ProcessedBy string `json:"processed_by"`
	}
	require.NoError(t, json.Unmarshal(data, &claimed))
	assert.Equal(t, domain.StatusProcessing, claimed.Status)
	assert.Equal(t, "op-1", claimed.ProcessedBy)

	// A second operator cannot complete someone else's claim.
	resp, _ = doRequest(t, server, http.MethodPost, "/v1/admin/transactions/"+id+"/complete",
		signToken(t, "op-2", middleware.RoleAdmin), map[string]any{"settlement_proof": "bank-slip-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data = doRequest(t, server, http.MethodPost, "/v1/admin/transactions/"+id+"/complete",
		admin, map[string]any{"settlement_proof": "bank-slip-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var completed struct {
		Status          string `json:"status"`
		SettlementProof string `json:"settlement_proof"`
	}
	require.NoError(t, json.Unmarshal(data, &completed))
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	assert.Equal(t, "bank-slip-1", completed.SettlementProof)
}

func TestSettingsUpdateOverHTTP(t *testing.T) {
	server, store := newTestServer(t)
	admin := signToken(t, "op-1", middleware.RoleAdmin)

	resp, data := doRequest(t, server, http.MethodPut, "/v1/admin/settings", admin, map[string]any{
		"transaction_fee_percentage":  "1.5",
		"buy_rate_percentage":         "2",
		"sell_rate_percentage":        "3",
		"transaction_processing_type": domain.ProcessingManual,
		"default_account_bank":        "Zenith Bank",
		"default_account_name":        "FiatRamp Ltd",
		"default_account_no":          "1112223334",
		"min_transaction_amount":      "10",
		"max_transaction_amount":      "10000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated struct {
		TransactionProcessing string `json:"transaction_processing_type"`
	}
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, domain.ProcessingManual, updated.TransactionProcessing)
	assert.NotEmpty(t, store.SettingsUpdateLogs())
}
