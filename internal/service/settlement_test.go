package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/idempotency"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/provider"
	"github.com/ayodele-m/fiatramp/internal/repository"
	"github.com/ayodele-m/fiatramp/internal/watcher"
)

// fakeRail is a scriptable provider implementing both rail capabilities.
type fakeRail struct {
	name   string
	secret string

	mu           sync.Mutex
	verification provider.Verification
	verifyErr    error
	accountCalls int
	payouts      []provider.PayoutRequest
}

func (f *fakeRail) Name() string { return f.name }

func (f *fakeRail) VerifyWebhook(signature string, body []byte) error {
	if signature != f.secret {
		return fmt.Errorf("bad signature: %w", domain.ErrAuthorization)
	}
	return nil
}

func (f *fakeRail) ParseWebhook(body []byte) (*provider.WebhookEvent, error) {
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
		Provider:  f.name,
		Event:     payload.Event,
		Reference: payload.Data.Reference,
		Status:    payload.Data.Status,
		Amount:    payload.Data.Amount,
		Currency:  payload.Data.Currency,
		Raw:       body,
	}, nil
}

func (f *fakeRail) VerifyPayment(ctx context.Context, reference string) (*provider.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	v := f.verification
	return &v, nil
}

func (f *fakeRail) GenerateReceivingAccount(ctx context.Context, req provider.GenerateAccountRequest) (*provider.ReceivingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	return &provider.ReceivingAccount{
		AccountNumber: "9876543210",
		AccountName:   "FiatRamp Checkout",
		BankName:      "Providus Bank",
	}, nil
}

func (f *fakeRail) InitializeCharge(ctx context.Context, req provider.GenerateAccountRequest) (*provider.ChargeSession, error) {
	return &provider.ChargeSession{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (f *fakeRail) InitiatePayout(ctx context.Context, req provider.PayoutRequest) (*provider.PayoutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, req)
	return &provider.PayoutResult{Reference: req.Reference, ProviderRef: "TRF_" + req.Reference, Status: "pending"}, nil
}

func (f *fakeRail) payoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payouts)
}

// fakeWallet records outbound token transfers.
type fakeWallet struct {
	mu        sync.Mutex
	transfers []string
	err       error
}

func (f *fakeWallet) Address() string { return "0xsystem" }

func (f *fakeWallet) TransferToken(ctx context.Context, tokenAddress, to string, amount decimal.Decimal, decimals int32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	hash := fmt.Sprintf("0xtransfer%d", len(f.transfers)+1)
	f.transfers = append(f.transfers, hash)
	return hash, nil
}

func (f *fakeWallet) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}

// fakeWatch replays scripted results.
type fakeWatch struct {
	awaitRes   watcher.Result
	awaitErr   error
	confirmRes watcher.Result
	confirmErr error
}

func (f *fakeWatch) Await(ctx context.Context, w watcher.Watch) (watcher.Result, error) {
	return f.awaitRes, f.awaitErr
}

func (f *fakeWatch) AwaitConfirmations(ctx context.Context, w watcher.Watch, txHash string) (watcher.Result, error) {
	if f.confirmRes.Matched && f.confirmRes.TxHash == "" {
		res := f.confirmRes
		res.TxHash = txHash
		return res, f.confirmErr
	}
	return f.confirmRes, f.confirmErr
}

// inlineRunner executes tasks synchronously so tests observe final state
// without sleeping.
type inlineRunner struct{}

func (inlineRunner) Submit(name string, fn func(ctx context.Context)) { fn(context.Background()) }

type settlementFixture struct {
	orch     *SettlementOrchestrator
	store    *repository.MemoryStore
	rail     *fakeRail
	wallet   *fakeWallet
	watch    *fakeWatch
	notifier *recordingNotifier
}

func newSettlementFixture(t *testing.T, setting models.Setting) *settlementFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	seedRateFixtures(store, setting)

	log := zap.NewNop()
	rail := &fakeRail{
		name:   "paystack",
		secret: "good-signature",
		verification: provider.Verification{
			Success:          true,
			TransactionFound: true,
			Amount:           decimal.NewFromInt(1_600_000),
			Currency:         "NGN",
		},
	}
	wallet := &fakeWallet{}
	watch := &fakeWatch{
		awaitRes:   watcher.Result{Matched: true, TxHash: "0xdeposit", Confirmed: true},
		confirmRes: watcher.Result{Matched: true, Confirmed: true},
	}
	notifier := &recordingNotifier{}
	audit := NewAuditService(store, log)
	sm := NewTransactionStateMachine(store, audit, notifier, log)
	rates := NewRateEngine(store, log)
	registry := provider.NewRegistry(rail, rail, rail)
	chains := ChainSet{
		domain.NetworkBSC: {
			Wallet:  wallet,
			Watcher: watch,
			NewDepositAddress: func() (string, string, error) {
				return "0xdeposit-addr", "priv", nil
			},
		},
	}
	orch := NewSettlementOrchestrator(store, rates, sm, registry, chains,
		inlineRunner{}, idempotency.NewMemoryDeduper(), audit, log)
	return &settlementFixture{
		orch:     orch,
		store:    store,
		rail:     rail,
		wallet:   wallet,
		watch:    watch,
		notifier: notifier,
	}
}

func autoSetting() models.Setting {
	return models.Setting{
		TransactionFeePercentage: decimal.Zero,
		SellRatePercentage:       decimal.Zero,
		BuyRatePercentage:        decimal.Zero,
		TransactionProcessing:    domain.ProcessingAuto,
		DefaultAccountBank:       "Zenith Bank",
		DefaultAccountName:       "FiatRamp Ltd",
		DefaultAccountNo:         "1112223334",
	}
}

func registerFiatAccount(t *testing.T, store *repository.MemoryStore, userID string) {
	t.Helper()
	require.NoError(t, store.CreateFiatAccount(context.Background(), &models.UserFiatAccount{
		UniqueID:    "acct-" + userID,
		UserID:      userID,
		AccountName: "Ada Obi",
		AccountNo:   "0123456789",
		BankName:    "GTBank",
		BankCode:    "058",
	}))
}

func fundingWebhook(reference string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":"%s","status":"success","amount":1600000,"currency":"NGN"}}`,
		reference))
}

func TestBuyFlowEndToEnd(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()

	order, err := fx.orch.CreateBuyOrder(ctx, BuyOrderRequest{
		UserID:                 "user-1",
		CustomerEmail:          "ada@example.com",
		CustomerName:           "Ada Obi",
		SendingCurrencyID:      "cur-ngn",
		ReceivingCurrencyID:    "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		AmountType:             domain.AmountTypeSending,
		PaymentType:            domain.PaymentTypeBankTransfer,
		ReceivingWalletAddress: "0xuserwallet",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingAuto, order.Instructions.Mode)
	assert.Equal(t, "9876543210", order.Instructions.AccountNumber)
	assert.Equal(t, 1, fx.rail.accountCalls)

	txn, err := fx.store.GetTransaction(ctx, order.Transaction.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, txn.Status)
	assert.True(t, txn.SendingAmount.Equal(decimal.NewFromInt(1_600_000)))

	require.NoError(t, fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature",
		fundingWebhook(txn.FiatProviderTxRef)))

	txn, err = fx.store.GetTransaction(ctx, txn.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, "0xtransfer1", txn.TransactionHash)
	assert.Equal(t, "0xtransfer1", txn.SettlementProof)
	assert.Equal(t, 1, fx.wallet.count())
	assert.Contains(t, fx.notifier.all(), txn.UniqueID+":"+domain.StatusConfirmed)
	assert.Contains(t, fx.notifier.all(), txn.UniqueID+":"+domain.StatusCompleted)
}

func TestWebhookReplayTriggersOneTransfer(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()

	order, err := fx.orch.CreateBuyOrder(ctx, BuyOrderRequest{
		UserID:                 "user-1",
		SendingCurrencyID:      "cur-ngn",
		ReceivingCurrencyID:    "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		AmountType:             domain.AmountTypeSending,
		PaymentType:            domain.PaymentTypeBankTransfer,
		ReceivingWalletAddress: "0xuserwallet",
	})
	require.NoError(t, err)
	body := fundingWebhook(order.Transaction.FiatProviderTxRef)

	require.NoError(t, fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature", body))
	require.NoError(t, fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature", body))
	require.NoError(t, fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature", body))

	assert.Equal(t, 1, fx.wallet.count(), "replays must not re-trigger the token transfer")
	confirms := 0
	for _, e := range fx.notifier.all() {
		if e == order.Transaction.UniqueID+":"+domain.StatusConfirmed {
			confirms++
		}
	}
	assert.Equal(t, 1, confirms, "exactly one confirmation transition")
}

func TestWebhookBadSignatureLeavesNoStateChange(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()

	order, err := fx.orch.CreateBuyOrder(ctx, BuyOrderRequest{
		UserID:                 "user-1",
		SendingCurrencyID:      "cur-ngn",
		ReceivingCurrencyID:    "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		AmountType:             domain.AmountTypeSending,
		PaymentType:            domain.PaymentTypeBankTransfer,
		ReceivingWalletAddress: "0xuserwallet",
	})
	require.NoError(t, err)

	err = fx.orch.HandleProviderWebhook(ctx, "paystack", "forged",
		fundingWebhook(order.Transaction.FiatProviderTxRef))
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	txn, _ := fx.store.GetTransaction(ctx, order.Transaction.UniqueID)
	assert.Equal(t, domain.StatusCreated, txn.Status)
	assert.Equal(t, 0, fx.wallet.count())
	assert.Empty(t, fx.notifier.all())
}

func TestWebhookAmountMismatchFailsTransaction(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()

	order, err := fx.orch.CreateBuyOrder(ctx, BuyOrderRequest{
		UserID:                 "user-1",
		SendingCurrencyID:      "cur-ngn",
		ReceivingCurrencyID:    "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		AmountType:             domain.AmountTypeSending,
		PaymentType:            domain.PaymentTypeBankTransfer,
		ReceivingWalletAddress: "0xuserwallet",
	})
	require.NoError(t, err)

	// Provider saw less than the locked sending amount.
	fx.rail.verification.Amount = decimal.NewFromInt(100)

	require.NoError(t, fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature",
		fundingWebhook(order.Transaction.FiatProviderTxRef)))

	txn, _ := fx.store.GetTransaction(ctx, order.Transaction.UniqueID)
	assert.Equal(t, domain.StatusFailed, txn.Status)
	assert.Equal(t, 0, fx.wallet.count(), "an underpaid buy never triggers a transfer")
}

func TestWebhookVerifyErrorDoesNotFinalize(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()

	order, err := fx.orch.CreateBuyOrder(ctx, BuyOrderRequest{
		UserID:                 "user-1",
		SendingCurrencyID:      "cur-ngn",
		ReceivingCurrencyID:    "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		AmountType:             domain.AmountTypeSending,
		PaymentType:            domain.PaymentTypeBankTransfer,
		ReceivingWalletAddress: "0xuserwallet",
	})
	require.NoError(t, err)

	fx.rail.verifyErr = fmt.Errorf("rail down: %w", domain.ErrProvider)
	err = fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature",
		fundingWebhook(order.Transaction.FiatProviderTxRef))
	assert.ErrorIs(t, err, domain.ErrProvider)

	// Transient verification failure is not failure of payment.
	txn, _ := fx.store.GetTransaction(ctx, order.Transaction.UniqueID)
	assert.Equal(t, domain.StatusCreated, txn.Status)
}

func TestBuyManualModeUsesSettlementBank(t *testing.T) {
	setting := autoSetting()
	setting.TransactionProcessing = domain.ProcessingManual
	fx := newSettlementFixture(t, setting)

	order, err := fx.orch.CreateBuyOrder(context.Background(), BuyOrderRequest{
		UserID:                 "user-1",
		SendingCurrencyID:      "cur-ngn",
		ReceivingCurrencyID:    "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		AmountType:             domain.AmountTypeSending,
		PaymentType:            domain.PaymentTypeBankTransfer,
		ReceivingWalletAddress: "0xuserwallet",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingManual, order.Instructions.Mode)
	assert.Equal(t, "1112223334", order.Instructions.AccountNumber)
	assert.Equal(t, "Zenith Bank", order.Instructions.BankName)
	assert.Equal(t, 0, fx.rail.accountCalls, "manual mode must not call the provider")
}

func TestSellFlowConfirmsAndPaysOut(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()
	registerFiatAccount(t, fx.store, "user-1")

	order, err := fx.orch.CreateSellOrder(ctx, SellOrderRequest{
		UserID:              "user-1",
		SendingCurrencyID:   "cur-usdt",
		ReceivingCurrencyID: "cur-ngn",
		AmountInUSD:         decimal.NewFromInt(100),
		AmountType:          domain.AmountTypeSending,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdeposit-addr", order.DepositAddress)

	// The inline runner already ran the watch to confirmation.
	txn, err := fx.store.GetTransaction(ctx, order.Transaction.UniqueID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, txn.Status)
	assert.Equal(t, "0xdeposit", txn.TransactionHash)
	require.Equal(t, 1, fx.rail.payoutCount())
	payout := fx.rail.payouts[0]
	assert.Equal(t, "0123456789", payout.AccountNumber)
	assert.Equal(t, "058", payout.BankCode)
	assert.True(t, payout.Amount.Equal(txn.ReceivingAmount))

	// Provider payout-success webhook completes the sell.
	body := []byte(fmt.Sprintf(
		`{"event":"transfer.success","data":{"reference":"%s","status":"success","amount":160000,"currency":"NGN"}}`,
		txn.FiatProviderTxRef))
	require.NoError(t, fx.orch.HandleProviderWebhook(ctx, "paystack", "good-signature", body))

	txn, _ = fx.store.GetTransaction(ctx, txn.UniqueID)
	assert.Equal(t, domain.StatusCompleted, txn.Status)
	assert.Equal(t, "payout:"+txn.FiatProviderTxRef, txn.SettlementProof)
}

func TestSellRequiresFiatAccountAndNoPendingOfframp(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()

	_, err := fx.orch.CreateSellOrder(ctx, SellOrderRequest{
		UserID:              "user-1",
		SendingCurrencyID:   "cur-usdt",
		ReceivingCurrencyID: "cur-ngn",
		AmountInUSD:         decimal.NewFromInt(100),
		AmountType:          domain.AmountTypeSending,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	registerFiatAccount(t, fx.store, "user-1")
	// Keep the first order pending by making the watch time out silently.
	fx.watch.awaitErr = watcher.ErrAborted

	_, err = fx.orch.CreateSellOrder(ctx, SellOrderRequest{
		UserID:              "user-1",
		SendingCurrencyID:   "cur-usdt",
		ReceivingCurrencyID: "cur-ngn",
		AmountInUSD:         decimal.NewFromInt(100),
		AmountType:          domain.AmountTypeSending,
	})
	require.NoError(t, err)

	_, err = fx.orch.CreateSellOrder(ctx, SellOrderRequest{
		UserID:              "user-1",
		SendingCurrencyID:   "cur-usdt",
		ReceivingCurrencyID: "cur-ngn",
		AmountInUSD:         decimal.NewFromInt(100),
		AmountType:          domain.AmountTypeSending,
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "second identical offramp must be rejected")
}

func TestSellWatchTimeoutFailsTransaction(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()
	registerFiatAccount(t, fx.store, "user-1")
	fx.watch.awaitRes = watcher.Result{Matched: false}

	order, err := fx.orch.CreateSellOrder(ctx, SellOrderRequest{
		UserID:              "user-1",
		SendingCurrencyID:   "cur-usdt",
		ReceivingCurrencyID: "cur-ngn",
		AmountInUSD:         decimal.NewFromInt(100),
		AmountType:          domain.AmountTypeSending,
	})
	require.NoError(t, err)

	txn, _ := fx.store.GetTransaction(ctx, order.Transaction.UniqueID)
	assert.Equal(t, domain.StatusFailed, txn.Status)
	assert.Equal(t, 0, fx.rail.payoutCount())
	assert.Equal(t, []string{order.Transaction.UniqueID + ":" + domain.StatusFailed}, fx.notifier.all())
}

func TestRecoverPendingSweepsBothDirections(t *testing.T) {
	fx := newSettlementFixture(t, autoSetting())
	ctx := context.Background()
	registerFiatAccount(t, fx.store, "user-1")

	// A sell stranded in CREATED from before a restart.
	require.NoError(t, fx.store.CreateTransaction(ctx, &models.Transaction{
		UniqueID:           "txn-sell",
		Type:               domain.TxTypeCryptoOfframp,
		UserID:             "user-1",
		Status:             domain.StatusCreated,
		SenderCurrencyID:   "cur-usdt",
		ReceiverCurrencyID: "cur-ngn",
		AmountInUSD:        decimal.NewFromInt(100),
		SendingAmount:      decimal.NewFromInt(100),
		ReceivingAmount:    decimal.NewFromInt(160000),
		WalletAddress:      "0xdeposit-addr",
		FiatProviderTxRef:  "ref-sell",
	}))
	// A buy whose token leg was broadcast but unconfirmed.
	require.NoError(t, fx.store.CreateTransaction(ctx, &models.Transaction{
		UniqueID:               "txn-buy",
		Type:                   domain.TxTypeBuyCrypto,
		UserID:                 "user-1",
		Status:                 domain.StatusConfirmed,
		SenderCurrencyID:       "cur-ngn",
		ReceiverCurrencyID:     "cur-usdt",
		AmountInUSD:            decimal.NewFromInt(1000),
		SendingAmount:          decimal.NewFromInt(1600000),
		ReceivingAmount:        decimal.NewFromInt(1000),
		ReceivingWalletAddress: "0xuserwallet",
		TransactionHash:        "0xinflight",
		FiatProviderTxRef:      "ref-buy",
	}))

	require.NoError(t, fx.orch.RecoverPending(ctx))

	sell, _ := fx.store.GetTransaction(ctx, "txn-sell")
	assert.Equal(t, domain.StatusConfirmed, sell.Status, "recovered sell watch confirmed the deposit")
	assert.Equal(t, 1, fx.rail.payoutCount())

	buy, _ := fx.store.GetTransaction(ctx, "txn-buy")
	assert.Equal(t, domain.StatusCompleted, buy.Status, "recovered buy resumed from the known hash")
	assert.Equal(t, "0xinflight", buy.SettlementProof)
	assert.Equal(t, 0, fx.wallet.count(), "a broadcast transfer is never re-sent")
}
