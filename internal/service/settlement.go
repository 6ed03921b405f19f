package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/provider"
	"github.com/ayodele-m/fiatramp/internal/repository"
	"github.com/ayodele-m/fiatramp/internal/watcher"
)

// TokenWallet signs outbound token transfers on one network.
type TokenWallet interface {
	Address() string
	TransferToken(ctx context.Context, tokenAddress, to string, amount decimal.Decimal, decimals int32) (string, error)
}

// DepositWatcher waits for an inbound transfer or a known hash to confirm.
type DepositWatcher interface {
	Await(ctx context.Context, w watcher.Watch) (watcher.Result, error)
	AwaitConfirmations(ctx context.Context, w watcher.Watch, txHash string) (watcher.Result, error)
}

// ChainGateway bundles everything the orchestrator needs on one network.
type ChainGateway struct {
	Wallet            TokenWallet
	Watcher           DepositWatcher
	NewDepositAddress func() (address, privateKeyHex string, err error)
}

// ChainSet maps network name to its gateway.
type ChainSet map[string]ChainGateway

// TaskRunner schedules a settlement task off the request path.
type TaskRunner interface {
	Submit(name string, fn func(ctx context.Context))
}

// WebhookDeduper reports whether a webhook event key is seen for the first
// time. Replays return false.
type WebhookDeduper interface {
	FirstDelivery(ctx context.Context, key string) (bool, error)
}

// BuyOrderRequest creates a fiat-in, crypto-out order.
type BuyOrderRequest struct {
	UserID                 string
	CustomerEmail          string
	CustomerName           string
	SendingCurrencyID      string
	ReceivingCurrencyID    string
	AmountInUSD            decimal.Decimal
	AmountType             string
	PaymentType            string
	ReceivingWalletAddress string
}

// PaymentInstructions tells the user where to send fiat.
type PaymentInstructions struct {
	Mode             string `json:"mode"` // AUTO | MANUAL
	AccountNumber    string `json:"account_number,omitempty"`
	AccountName      string `json:"account_name,omitempty"`
	BankName         string `json:"bank_name,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	Reference        string `json:"reference"`
}

// BuyOrder is the creation response for a buy.
type BuyOrder struct {
	Transaction  *models.Transaction  `json:"transaction"`
	Quote        *Quote               `json:"quote"`
	Instructions *PaymentInstructions `json:"payment_instructions"`
}

// SellOrderRequest creates a crypto-in, fiat-out order.
type SellOrderRequest struct {
	UserID              string
	SendingCurrencyID   string
	ReceivingCurrencyID string
	AmountInUSD         decimal.Decimal
	AmountType          string
}

// SellOrder is the creation response for an offramp.
type SellOrder struct {
	Transaction    *models.Transaction `json:"transaction"`
	Quote          *Quote              `json:"quote"`
	DepositAddress string              `json:"deposit_address"`
}

// SettlementOrchestrator sequences order creation, funding detection, and
// the counter-leg transfer for both flows.
type SettlementOrchestrator struct {
	store     repository.Store
	rates     *RateEngine
	sm        *TransactionStateMachine
	providers *provider.Registry
	chains    ChainSet
	tasks     TaskRunner
	dedupe    WebhookDeduper
	audit     *AuditService
	log       *zap.Logger

	// active guards against a recovery sweep doubling up a watch that is
	// already running in this process.
	active sync.Map
}

func NewSettlementOrchestrator(
	store repository.Store,
	rates *RateEngine,
	sm *TransactionStateMachine,
	providers *provider.Registry,
	chains ChainSet,
	tasks TaskRunner,
	dedupe WebhookDeduper,
	audit *AuditService,
	log *zap.Logger,
) *SettlementOrchestrator {
	return &SettlementOrchestrator{
		store:     store,
		rates:     rates,
		sm:        sm,
		providers: providers,
		chains:    chains,
		tasks:     tasks,
		dedupe:    dedupe,
		audit:     audit,
		log:       log,
	}
}

// QuoteOnly prices an order without creating anything. It uses the same
// formula as creation so a validated quote never drifts from the stored
// snapshot.
func (o *SettlementOrchestrator) QuoteOnly(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := o.checkBounds(ctx, req.AmountInUSD); err != nil {
		return nil, err
	}
	return o.rates.Quote(ctx, req)
}

func (o *SettlementOrchestrator) checkBounds(ctx context.Context, amountUSD decimal.Decimal) error {
	setting, err := o.store.GetSetting(ctx)
	if err != nil {
		return err
	}
	if setting.MinTransactionAmount.IsPositive() && amountUSD.LessThan(setting.MinTransactionAmount) {
		return fmt.Errorf("amount below minimum of %s USD: %w", setting.MinTransactionAmount, domain.ErrValidation)
	}
	if setting.MaxTransactionAmount.IsPositive() && amountUSD.GreaterThan(setting.MaxTransactionAmount) {
		return fmt.Errorf("amount above maximum of %s USD: %w", setting.MaxTransactionAmount, domain.ErrValidation)
	}
	return nil
}

// CreateBuyOrder locks a quote, obtains payment instructions, and persists
// the transaction in TRANSACTION_CREATED.
func (o *SettlementOrchestrator) CreateBuyOrder(ctx context.Context, req BuyOrderRequest) (*BuyOrder, error) {
	if req.ReceivingWalletAddress == "" {
		return nil, fmt.Errorf("receiving wallet address required: %w", domain.ErrValidation)
	}
	if err := o.checkBounds(ctx, req.AmountInUSD); err != nil {
		return nil, err
	}

	quote, err := o.rates.Quote(ctx, QuoteRequest{
		SendingCurrencyID:   req.SendingCurrencyID,
		ReceivingCurrencyID: req.ReceivingCurrencyID,
		AmountInUSD:         req.AmountInUSD,
		Direction:           domain.TxTypeBuyCrypto,
		AmountType:          req.AmountType,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := o.chains[quote.ReceivingCurrency.Network]; !ok {
		return nil, fmt.Errorf("network %s not configured: %w", quote.ReceivingCurrency.Network, domain.ErrValidation)
	}

	setting, err := o.store.GetSetting(ctx)
	if err != nil {
		return nil, err
	}

	txRef := uuid.NewString()
	instructions, err := o.paymentInstructions(ctx, setting, req, quote, txRef)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		UniqueID:               uuid.NewString(),
		Type:                   domain.TxTypeBuyCrypto,
		UserID:                 req.UserID,
		Status:                 domain.StatusCreated,
		SenderCurrencyID:       req.SendingCurrencyID,
		ReceiverCurrencyID:     req.ReceivingCurrencyID,
		AmountType:             req.AmountType,
		PaymentType:            req.PaymentType,
		AmountInUSD:            req.AmountInUSD,
		Fee:                    quote.Fee,
		SendingUSDRate:         quote.SendingRate,
		ReceivingUSDRate:       quote.ReceivingRate,
		SendingAmount:          quote.AmountUserSends,
		ReceivingAmount:        quote.AmountUserReceives,
		ReceivingWalletAddress: req.ReceivingWalletAddress,
		FiatProviderTxRef:      txRef,
	}
	if err := o.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	o.log.Info("buy order created",
		zap.String("txn_id", txn.UniqueID),
		zap.String("user_id", req.UserID),
		zap.String("mode", instructions.Mode),
		zap.String("provider_ref", txRef),
	)
	return &BuyOrder{Transaction: txn, Quote: quote, Instructions: instructions}, nil
}

// paymentInstructions picks the funding path. MANUAL mode hands out the
// settlement bank from Setting and touches no provider.
func (o *SettlementOrchestrator) paymentInstructions(ctx context.Context, setting *models.Setting, req BuyOrderRequest, quote *Quote, txRef string) (*PaymentInstructions, error) {
	if setting.TransactionProcessing == domain.ProcessingManual {
		return &PaymentInstructions{
			Mode:          domain.ProcessingManual,
			AccountNumber: setting.DefaultAccountNo,
			AccountName:   setting.DefaultAccountName,
			BankName:      setting.DefaultAccountBank,
			Reference:     txRef,
		}, nil
	}

	genReq := provider.GenerateAccountRequest{
		Reference:     txRef,
		Amount:        quote.AmountUserSends,
		Currency:      quote.SendingCurrency.Symbol,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
	}
	switch req.PaymentType {
	case domain.PaymentTypeBankTransfer:
		rail, err := o.providers.BankTransfer()
		if err != nil {
			return nil, err
		}
		account, err := rail.GenerateReceivingAccount(ctx, genReq)
		if err != nil {
			return nil, err
		}
		return &PaymentInstructions{
			Mode:          domain.ProcessingAuto,
			AccountNumber: account.AccountNumber,
			AccountName:   account.AccountName,
			BankName:      account.BankName,
			Reference:     txRef,
		}, nil
	case domain.PaymentTypeDebitCard:
		rail, err := o.providers.Card()
		if err != nil {
			return nil, err
		}
		session, err := rail.InitializeCharge(ctx, genReq)
		if err != nil {
			return nil, err
		}
		return &PaymentInstructions{
			Mode:             domain.ProcessingAuto,
			AuthorizationURL: session.AuthorizationURL,
			Reference:        txRef,
		}, nil
	default:
		return nil, fmt.Errorf("unknown payment type %q: %w", req.PaymentType, domain.ErrValidation)
	}
}

// CreateSellOrder locks a quote, allocates a deposit address, persists the
// transaction, and starts the sell watcher.
func (o *SettlementOrchestrator) CreateSellOrder(ctx context.Context, req SellOrderRequest) (*SellOrder, error) {
	if err := o.checkBounds(ctx, req.AmountInUSD); err != nil {
		return nil, err
	}

	// A payout destination must exist before any crypto is accepted.
	if _, err := o.store.GetActiveFiatAccount(ctx, req.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no fiat payout account registered: %w", domain.ErrValidation)
		}
		return nil, err
	}

	pending, err := o.store.HasPendingOfframp(ctx, req.UserID, req.SendingCurrencyID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("an offramp for this currency is still awaiting funds: %w", domain.ErrValidation)
	}

	quote, err := o.rates.Quote(ctx, QuoteRequest{
		SendingCurrencyID:   req.SendingCurrencyID,
		ReceivingCurrencyID: req.ReceivingCurrencyID,
		AmountInUSD:         req.AmountInUSD,
		Direction:           domain.TxTypeCryptoOfframp,
		AmountType:          req.AmountType,
	})
	if err != nil {
		return nil, err
	}
	network := quote.SendingCurrency.Network
	gateway, ok := o.chains[network]
	if !ok {
		return nil, fmt.Errorf("network %s not configured: %w", network, domain.ErrValidation)
	}

	deposit, err := o.depositAddress(ctx, req.UserID, network, gateway)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		UniqueID:           uuid.NewString(),
		Type:               domain.TxTypeCryptoOfframp,
		UserID:             req.UserID,
		Status:             domain.StatusCreated,
		SenderCurrencyID:   req.SendingCurrencyID,
		ReceiverCurrencyID: req.ReceivingCurrencyID,
		AmountType:         req.AmountType,
		AmountInUSD:        req.AmountInUSD,
		Fee:                quote.Fee,
		SendingUSDRate:     quote.SendingRate,
		ReceivingUSDRate:   quote.ReceivingRate,
		SendingAmount:      quote.AmountUserSends,
		ReceivingAmount:    quote.AmountUserReceives,
		WalletAddress:      deposit,
		FiatProviderTxRef:  uuid.NewString(),
	}
	if err := o.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	o.launchSellWatch(*txn, *quote.SendingCurrency)
	o.log.Info("sell order created",
		zap.String("txn_id", txn.UniqueID),
		zap.String("user_id", req.UserID),
		zap.String("deposit_address", deposit),
	)
	return &SellOrder{Transaction: txn, Quote: quote, DepositAddress: deposit}, nil
}

// depositAddress reuses the user's active wallet on the network or mints a
// fresh one.
func (o *SettlementOrchestrator) depositAddress(ctx context.Context, userID, network string, gateway ChainGateway) (string, error) {
	if wallet, err := o.store.GetActiveWallet(ctx, userID, network); err == nil {
		return wallet.WalletAddress, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	address, _, err := gateway.NewDepositAddress()
	if err != nil {
		return "", err
	}
	wallet := &models.UserWallet{
		UniqueID:      uuid.NewString(),
		UserID:        userID,
		Network:       network,
		WalletAddress: address,
	}
	if err := o.store.CreateWallet(ctx, wallet); err != nil {
		return "", err
	}
	return address, nil
}

// HandleProviderWebhook authenticates, deduplicates, and dispatches one
// inbound provider event. An authentication failure is the only error that
// should surface as a rejection; everything after it is acknowledged.
func (o *SettlementOrchestrator) HandleProviderWebhook(ctx context.Context, providerName, signature string, body []byte) error {
	p, err := o.providers.ByName(providerName)
	if err != nil {
		return err
	}
	if err := p.VerifyWebhook(signature, body); err != nil {
		return err
	}
	evt, err := p.ParseWebhook(body)
	if err != nil {
		return err
	}

	first, err := o.dedupe.FirstDelivery(ctx, webhookEventKey(evt))
	if err != nil {
		// The status CAS still protects against double-crediting; a dedupe
		// store outage must not drop real events.
		o.log.Warn("webhook dedupe unavailable", zap.Error(err))
	} else if !first {
		o.log.Info("duplicate webhook delivery ignored",
			zap.String("provider", evt.Provider),
			zap.String("reference", evt.Reference),
			zap.String("event", evt.Event),
		)
		return nil
	}

	switch classifyWebhookEvent(evt.Event) {
	case webhookFunding:
		return o.handleFundingEvent(ctx, p, evt)
	case webhookPayout:
		return o.handlePayoutEvent(ctx, evt)
	default:
		o.log.Debug("webhook event ignored",
			zap.String("provider", evt.Provider),
			zap.String("event", evt.Event),
		)
		return nil
	}
}

// handleFundingEvent drives a buy from CREATED to TRANSFER_CONFIRMED and
// schedules the token counter-leg. The provider is always re-queried; the
// webhook payload alone is never trusted.
func (o *SettlementOrchestrator) handleFundingEvent(ctx context.Context, p provider.Provider, evt *provider.WebhookEvent) error {
	txn, err := o.store.GetTransactionByProviderRef(ctx, evt.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.log.Warn("webhook for unknown reference",
				zap.String("provider", evt.Provider),
				zap.String("reference", evt.Reference),
			)
			return nil
		}
		return err
	}
	if txn.Status != domain.StatusCreated {
		o.log.Info("webhook replay on settled transaction",
			zap.String("txn_id", txn.UniqueID),
			zap.String("status", txn.Status),
		)
		return nil
	}

	verification, err := p.VerifyPayment(ctx, evt.Reference)
	if err != nil {
		// Transient verification failure: neither confirm nor fail.
		return fmt.Errorf("verify %s with %s: %w", evt.Reference, evt.Provider, err)
	}

	if !verification.Success || !verification.TransactionFound {
		return o.failFunding(ctx, txn, "provider reports payment unsuccessful")
	}
	if verification.Currency != "" && verification.Currency != domain.FiatSymbol {
		return o.failFunding(ctx, txn, fmt.Sprintf("paid in %s, expected %s", verification.Currency, domain.FiatSymbol))
	}
	if verification.Amount.LessThan(txn.SendingAmount) {
		return o.failFunding(ctx, txn, fmt.Sprintf("paid %s, expected %s", verification.Amount, txn.SendingAmount))
	}

	if err := o.sm.MarkConfirmed(ctx, txn.UniqueID, ""); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrAlreadyFinalized) {
			// Lost the race to a concurrent delivery.
			o.log.Info("funding already recorded", zap.String("txn_id", txn.UniqueID))
			return nil
		}
		return err
	}
	o.recordProviderResult(ctx, txn.UniqueID, string(evt.Raw))

	o.launchBuySettlement(*txn)
	return nil
}

func (o *SettlementOrchestrator) failFunding(ctx context.Context, txn *models.Transaction, reason string) error {
	o.log.Warn("funding rejected",
		zap.String("txn_id", txn.UniqueID),
		zap.String("reason", reason),
	)
	err := o.sm.Fail(ctx, txn.UniqueID, reason, "")
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		return nil
	}
	return err
}

// handlePayoutEvent completes a sell once the rail confirms the outbound
// transfer landed.
func (o *SettlementOrchestrator) handlePayoutEvent(ctx context.Context, evt *provider.WebhookEvent) error {
	txn, err := o.store.GetTransactionByProviderRef(ctx, evt.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			o.log.Warn("payout webhook for unknown reference", zap.String("reference", evt.Reference))
			return nil
		}
		return err
	}
	if !payoutSucceeded(evt.Status) {
		o.log.Warn("payout reported unsuccessful, leaving for operator",
			zap.String("txn_id", txn.UniqueID),
			zap.String("status", evt.Status),
		)
		return nil
	}

	err = o.sm.Complete(ctx, txn.UniqueID, "payout:"+evt.Reference, "")
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrAlreadyFinalized) {
		o.log.Info("payout completion replayed", zap.String("txn_id", txn.UniqueID))
		return nil
	}
	if err == nil {
		o.recordProviderResult(ctx, txn.UniqueID, string(evt.Raw))
	}
	return err
}

// launchSellWatch runs the offramp deposit watch off the request path.
func (o *SettlementOrchestrator) launchSellWatch(txn models.Transaction, sending models.Currency) {
	if _, running := o.active.LoadOrStore(txn.UniqueID, struct{}{}); running {
		return
	}
	o.tasks.Submit("sell-watch:"+txn.UniqueID, func(ctx context.Context) {
		defer o.active.Delete(txn.UniqueID)
		o.runSellWatch(ctx, txn, sending)
	})
}

func (o *SettlementOrchestrator) runSellWatch(ctx context.Context, txn models.Transaction, sending models.Currency) {
	gateway, ok := o.chains[sending.Network]
	if !ok {
		o.log.Error("sell watch on unconfigured network",
			zap.String("txn_id", txn.UniqueID),
			zap.String("network", sending.Network),
		)
		return
	}

	res, err := gateway.Watcher.Await(ctx, watcher.Watch{
		TxnID:          txn.UniqueID,
		TokenAddress:   sending.TokenAddress,
		TokenDecimals:  sending.Decimals,
		Destination:    txn.WalletAddress,
		ExpectedAmount: txn.SendingAmount,
		Status:         o.statusProbe(txn.UniqueID),
	})
	if err != nil {
		if errors.Is(err, watcher.ErrAborted) || errors.Is(err, context.Canceled) {
			return
		}
		o.failFromTask(ctx, txn.UniqueID, "deposit watch error: "+err.Error())
		return
	}
	if !res.Matched {
		o.failFromTask(ctx, txn.UniqueID, "no matching deposit before the watch window closed")
		return
	}
	if !res.Confirmed {
		o.failFromTask(ctx, txn.UniqueID, "deposit never reached confirmation depth")
		return
	}

	if err := o.sm.MarkConfirmed(ctx, txn.UniqueID, res.TxHash); err != nil {
		o.log.Error("confirm after deposit failed",
			zap.String("txn_id", txn.UniqueID),
			zap.Error(err),
		)
		return
	}

	o.initiatePayout(ctx, txn)
}

// initiatePayout starts the fiat leg of a sell in AUTO mode. A payout
// initiation failure leaves the transaction in TRANSFER_CONFIRMED for an
// operator; the user's funds are already on our side of the chain.
func (o *SettlementOrchestrator) initiatePayout(ctx context.Context, txn models.Transaction) {
	setting, err := o.store.GetSetting(ctx)
	if err != nil {
		o.log.Error("settings read before payout failed", zap.Error(err))
		return
	}
	if setting.TransactionProcessing == domain.ProcessingManual {
		o.log.Info("manual mode, payout left for operator", zap.String("txn_id", txn.UniqueID))
		return
	}

	account, err := o.store.GetActiveFiatAccount(ctx, txn.UserID)
	if err != nil {
		o.log.Error("payout account lookup failed",
			zap.String("txn_id", txn.UniqueID),
			zap.Error(err),
		)
		return
	}
	rail, err := o.providers.Payout()
	if err != nil {
		o.log.Error("no payout rail", zap.Error(err))
		return
	}

	result, err := rail.InitiatePayout(ctx, provider.PayoutRequest{
		Reference:     txn.FiatProviderTxRef,
		Amount:        txn.ReceivingAmount,
		Currency:      domain.FiatSymbol,
		AccountNumber: account.AccountNo,
		AccountName:   account.AccountName,
		BankCode:      account.BankCode,
		Narration:     "crypto offramp settlement",
	})
	if err != nil {
		o.log.Error("payout initiation failed, leaving for operator",
			zap.String("txn_id", txn.UniqueID),
			zap.Error(err),
		)
		return
	}
	o.recordProviderResult(ctx, txn.UniqueID, string(result.Raw))
	o.log.Info("payout initiated",
		zap.String("txn_id", txn.UniqueID),
		zap.String("provider_ref", result.ProviderRef),
	)
}

// launchBuySettlement sends the token counter-leg and tracks it to depth.
func (o *SettlementOrchestrator) launchBuySettlement(txn models.Transaction) {
	if _, running := o.active.LoadOrStore(txn.UniqueID, struct{}{}); running {
		return
	}
	o.tasks.Submit("buy-settle:"+txn.UniqueID, func(ctx context.Context) {
		defer o.active.Delete(txn.UniqueID)
		o.runBuySettlement(ctx, txn)
	})
}

func (o *SettlementOrchestrator) runBuySettlement(ctx context.Context, txn models.Transaction) {
	receiving, err := o.store.GetCurrency(ctx, txn.ReceiverCurrencyID)
	if err != nil {
		o.failFromTask(ctx, txn.UniqueID, "receiving currency lookup failed")
		return
	}
	gateway, ok := o.chains[receiving.Network]
	if !ok {
		o.failFromTask(ctx, txn.UniqueID, "network "+receiving.Network+" not configured")
		return
	}

	txHash := txn.TransactionHash
	if txHash == "" {
		txHash, err = gateway.Wallet.TransferToken(ctx, receiving.TokenAddress, txn.ReceivingWalletAddress, txn.ReceivingAmount, receiving.Decimals)
		if err != nil {
			o.failFromTask(ctx, txn.UniqueID, "token transfer failed: "+err.Error())
			return
		}
		o.recordTxHash(ctx, txn.UniqueID, txHash)
	}

	res, err := gateway.Watcher.AwaitConfirmations(ctx, watcher.Watch{
		TxnID:  txn.UniqueID,
		Status: o.statusProbe(txn.UniqueID),
	}, txHash)
	if err != nil {
		if errors.Is(err, watcher.ErrAborted) || errors.Is(err, context.Canceled) {
			return
		}
		o.failFromTask(ctx, txn.UniqueID, "confirmation watch error: "+err.Error())
		return
	}
	if !res.Confirmed {
		o.failFromTask(ctx, txn.UniqueID, "token transfer never reached confirmation depth")
		return
	}

	if err := o.sm.Complete(ctx, txn.UniqueID, txHash, ""); err != nil &&
		!errors.Is(err, domain.ErrAlreadyFinalized) {
		o.log.Error("buy completion failed",
			zap.String("txn_id", txn.UniqueID),
			zap.Error(err),
		)
	}
}

// RecoverPending relaunches settlement tasks after a restart: offramps
// still waiting for a deposit, and buys whose token leg was in flight.
func (o *SettlementOrchestrator) RecoverPending(ctx context.Context) error {
	sells, err := o.store.ListTransactionsByStatusAndType(ctx, domain.StatusCreated, domain.TxTypeCryptoOfframp)
	if err != nil {
		return err
	}
	for _, txn := range sells {
		sending, err := o.store.GetCurrency(ctx, txn.SenderCurrencyID)
		if err != nil {
			o.log.Error("recovery currency lookup failed",
				zap.String("txn_id", txn.UniqueID),
				zap.Error(err),
			)
			continue
		}
		o.launchSellWatch(txn, *sending)
	}

	buys, err := o.store.ListTransactionsByStatusAndType(ctx, domain.StatusConfirmed, domain.TxTypeBuyCrypto)
	if err != nil {
		return err
	}
	for _, txn := range buys {
		o.launchBuySettlement(txn)
	}

	o.log.Info("recovery sweep scheduled",
		zap.Int("sell_watches", len(sells)),
		zap.Int("buy_settlements", len(buys)),
	)
	return nil
}

func (o *SettlementOrchestrator) statusProbe(txnID string) watcher.StatusFn {
	return func(ctx context.Context) (string, error) {
		txn, err := o.store.GetTransaction(ctx, txnID)
		if err != nil {
			return "", err
		}
		return txn.Status, nil
	}
}

func (o *SettlementOrchestrator) failFromTask(ctx context.Context, txnID, reason string) {
	err := o.sm.Fail(ctx, txnID, reason, "")
	if err != nil && !errors.Is(err, domain.ErrAlreadyFinalized) {
		o.log.Error("failing transaction from settlement task",
			zap.String("txn_id", txnID),
			zap.Error(err),
		)
	}
}

// recordProviderResult stores the raw provider payload without touching the
// status. A same-status CAS keeps the write conditional on the row being
// alive.
func (o *SettlementOrchestrator) recordProviderResult(ctx context.Context, txnID, raw string) {
	txn, err := o.store.GetTransaction(ctx, txnID)
	if err != nil {
		return
	}
	if domain.IsTerminalStatus(txn.Status) {
		return
	}
	if _, err := o.store.UpdateTransactionStatus(ctx, repository.StatusUpdate{
		UniqueID:           txnID,
		FromStatuses:       []string{txn.Status},
		ToStatus:           txn.Status,
		FiatProviderResult: &raw,
	}); err != nil {
		o.log.Warn("storing provider result failed", zap.String("txn_id", txnID), zap.Error(err))
	}
}

func (o *SettlementOrchestrator) recordTxHash(ctx context.Context, txnID, txHash string) {
	if _, err := o.store.UpdateTransactionStatus(ctx, repository.StatusUpdate{
		UniqueID:        txnID,
		FromStatuses:    []string{domain.StatusConfirmed},
		ToStatus:        domain.StatusConfirmed,
		TransactionHash: &txHash,
	}); err != nil {
		o.log.Warn("storing tx hash failed", zap.String("txn_id", txnID), zap.Error(err))
	}
}

type webhookKind int

const (
	webhookOther webhookKind = iota
	webhookFunding
	webhookPayout
)

// classifyWebhookEvent maps each rail's event vocabulary onto the two legs
// the pipeline cares about.
func classifyWebhookEvent(event string) webhookKind {
	switch event {
	case "charge.success", "charge.completed", "SUCCESSFUL_TRANSACTION":
		return webhookFunding
	case "transfer.success", "transfer.completed", "SUCCESSFUL_DISBURSEMENT":
		return webhookPayout
	default:
		return webhookOther
	}
}

func payoutSucceeded(status string) bool {
	switch status {
	case "success", "successful", "SUCCESS", "PAID":
		return true
	default:
		return false
	}
}

func webhookEventKey(evt *provider.WebhookEvent) string {
	sum := sha256.Sum256(evt.Raw)
	return fmt.Sprintf("webhook:%s:%s", evt.Provider, hex.EncodeToString(sum[:]))
}
