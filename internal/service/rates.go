package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// QuoteRequest identifies one pricing question. Direction follows the
// transaction type: BUY_CRYPTO means the user sends fiat and receives
// crypto, CRYPTO_OFFRAMP the reverse.
type QuoteRequest struct {
	SendingCurrencyID   string
	ReceivingCurrencyID string
	AmountInUSD         decimal.Decimal
	Direction           string // domain.TxTypeBuyCrypto | domain.TxTypeCryptoOfframp
	AmountType          string // domain.AmountTypeSending | domain.AmountTypeReceiving
}

// Quote is a locked pricing snapshot. Rates already carry the system margin;
// the fee is expressed in USD and netted only from the receiving side.
type Quote struct {
	SendingCurrency    *models.Currency `json:"sending_currency"`
	ReceivingCurrency  *models.Currency `json:"receiving_currency"`
	SendingRate        decimal.Decimal  `json:"sending_rate"`
	ReceivingRate      decimal.Decimal  `json:"receiving_rate"`
	Fee                decimal.Decimal  `json:"fee"`
	AmountUserSends    decimal.Decimal  `json:"amount_user_sends"`
	AmountUserReceives decimal.Decimal  `json:"amount_user_receives"`
}

// RateEngine prices orders from market rates and system settings.
//
// Rate convention: a fiat currency's MarketUSDRate is units per 1 USD
// (NGN = 1600), a crypto currency's is USD per 1 unit (USDT ~ 1). The
// margin lands on whichever leg the user is NOT fixing: amountType=sending
// puts it on the receiving rate, amountType=receiving on the sending rate.
// Buys add the sell margin, offramps subtract the buy margin. Fiat rates
// and fiat amounts round to 2 decimal places; crypto values keep full
// precision until on-chain submission.
type RateEngine struct {
	store repository.Store
	log   *zap.Logger
}

func NewRateEngine(store repository.Store, log *zap.Logger) *RateEngine {
	return &RateEngine{store: store, log: log}
}

func (e *RateEngine) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.AmountType != domain.AmountTypeSending && req.AmountType != domain.AmountTypeReceiving {
		return nil, fmt.Errorf("amount type %q: %w", req.AmountType, domain.ErrValidation)
	}
	if req.Direction != domain.TxTypeBuyCrypto && req.Direction != domain.TxTypeCryptoOfframp {
		return nil, fmt.Errorf("direction %q: %w", req.Direction, domain.ErrValidation)
	}
	if !req.AmountInUSD.IsPositive() {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrValidation)
	}

	sending, err := e.store.GetCurrency(ctx, req.SendingCurrencyID)
	if err != nil {
		return nil, err
	}
	receiving, err := e.store.GetCurrency(ctx, req.ReceivingCurrencyID)
	if err != nil {
		return nil, err
	}
	if err := validateCurrencyPair(sending, receiving, req.Direction); err != nil {
		return nil, err
	}

	setting, err := e.store.GetSetting(ctx)
	if err != nil {
		return nil, err
	}

	fee := domain.ApplyPercentage(req.AmountInUSD, setting.TransactionFeePercentage)

	sendRate := sending.MarketUSDRate
	recvRate := receiving.MarketUSDRate
	switch req.Direction {
	case domain.TxTypeBuyCrypto:
		// System sells crypto, margin is added.
		if req.AmountType == domain.AmountTypeSending {
			recvRate = applyMargin(recvRate, setting.SellRatePercentage, true, receiving)
		} else {
			sendRate = applyMargin(sendRate, setting.SellRatePercentage, true, sending)
		}
	case domain.TxTypeCryptoOfframp:
		// System buys crypto, margin is subtracted.
		if req.AmountType == domain.AmountTypeSending {
			recvRate = applyMargin(recvRate, setting.BuyRatePercentage, false, receiving)
		} else {
			sendRate = applyMargin(sendRate, setting.BuyRatePercentage, false, sending)
		}
	}

	net := req.AmountInUSD.Sub(fee)
	q := &Quote{
		SendingCurrency:   sending,
		ReceivingCurrency: receiving,
		SendingRate:       sendRate,
		ReceivingRate:     recvRate,
		Fee:               fee,
	}
	switch req.Direction {
	case domain.TxTypeBuyCrypto:
		q.AmountUserSends = domain.RoundFiat(req.AmountInUSD.Mul(sendRate))
		q.AmountUserReceives = net.Div(recvRate)
	case domain.TxTypeCryptoOfframp:
		q.AmountUserSends = req.AmountInUSD.Div(sendRate)
		q.AmountUserReceives = domain.RoundFiat(net.Mul(recvRate))
	}

	e.log.Debug("rate quote locked",
		zap.String("direction", req.Direction),
		zap.String("amount_type", req.AmountType),
		zap.String("sending_rate", q.SendingRate.String()),
		zap.String("receiving_rate", q.ReceivingRate.String()),
		zap.String("fee_usd", q.Fee.String()),
	)
	return q, nil
}

// applyMargin shifts a market rate by pct percent in the system's favor.
// Fiat rates settle to 2 decimal places, crypto rates keep full precision.
func applyMargin(rate, pct decimal.Decimal, add bool, cur *models.Currency) decimal.Decimal {
	delta := domain.ApplyPercentage(rate, pct)
	var out decimal.Decimal
	if add {
		out = rate.Add(delta)
	} else {
		out = rate.Sub(delta)
	}
	if cur.Type == domain.CurrencyTypeFiat {
		out = domain.RoundFiat(out)
	}
	return out
}

func validateCurrencyPair(sending, receiving *models.Currency, direction string) error {
	if sending.UniqueID == receiving.UniqueID {
		return fmt.Errorf("sending and receiving currency must differ: %w", domain.ErrValidation)
	}
	if sending.IsBlocked || receiving.IsBlocked {
		return fmt.Errorf("currency is blocked: %w", domain.ErrValidation)
	}
	fiatCount := 0
	for _, c := range []*models.Currency{sending, receiving} {
		if c.Type == domain.CurrencyTypeFiat {
			fiatCount++
		}
	}
	if fiatCount != 1 {
		return fmt.Errorf("pair must be exactly one fiat and one crypto currency: %w", domain.ErrValidation)
	}
	if !sending.MarketUSDRate.IsPositive() || !receiving.MarketUSDRate.IsPositive() {
		return fmt.Errorf("market rate must be positive: %w", domain.ErrValidation)
	}
	switch direction {
	case domain.TxTypeBuyCrypto:
		if sending.Type != domain.CurrencyTypeFiat {
			return fmt.Errorf("buy orders send fiat: %w", domain.ErrValidation)
		}
	case domain.TxTypeCryptoOfframp:
		if sending.Type != domain.CurrencyTypeCrypto {
			return fmt.Errorf("offramp orders send crypto: %w", domain.ErrValidation)
		}
	}
	return nil
}
