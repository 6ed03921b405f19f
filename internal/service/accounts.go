package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// FiatAccountService manages the user's payout destination. The simplified
// model allows one active account per user; registering a new one replaces
// the old.
type FiatAccountService struct {
	store repository.Store
	audit *AuditService
	log   *zap.Logger
}

func NewFiatAccountService(store repository.Store, audit *AuditService, log *zap.Logger) *FiatAccountService {
	return &FiatAccountService{store: store, audit: audit, log: log}
}

func (s *FiatAccountService) Get(ctx context.Context, userID string) (*models.UserFiatAccount, error) {
	return s.store.GetActiveFiatAccount(ctx, userID)
}

func (s *FiatAccountService) Register(ctx context.Context, account *models.UserFiatAccount) (*models.UserFiatAccount, error) {
	if account.AccountNo == "" || account.AccountName == "" || account.BankCode == "" {
		return nil, fmt.Errorf("account number, name and bank code are required: %w", domain.ErrValidation)
	}
	if len(account.AccountNo) != 10 {
		return nil, fmt.Errorf("account number must be 10 digits: %w", domain.ErrValidation)
	}

	// Retire any previous account first.
	if prev, err := s.store.GetActiveFiatAccount(ctx, account.UserID); err == nil {
		if err := s.store.SoftDeleteFiatAccount(ctx, prev.UniqueID, account.UserID); err != nil {
			return nil, err
		}
	}

	account.UniqueID = uuid.NewString()
	if err := s.store.CreateFiatAccount(ctx, account); err != nil {
		return nil, err
	}
	s.audit.AdminAction(ctx, "fiat_account", account.UniqueID, account.UserID, "fiat_account_registered", nil)
	return account, nil
}

func (s *FiatAccountService) Delete(ctx context.Context, uniqueID, userID string) error {
	return s.store.SoftDeleteFiatAccount(ctx, uniqueID, userID)
}

// BalanceProbe reads the system wallet's balances on one network.
// Satisfied by chain.EthClient.
type BalanceProbe interface {
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, tokenAddress, holder string, decimals int32) (decimal.Decimal, error)
}

// TokenBalanceView is one token row of the admin system-wallet view.
type TokenBalanceView struct {
	Symbol  string `json:"symbol"`
	Balance string `json:"balance"`
}

// WalletOverview is one row of the admin system-wallet view.
type WalletOverview struct {
	Network       string             `json:"network"`
	Address       string             `json:"address"`
	NativeBalance string             `json:"native_balance"`
	Tokens        []TokenBalanceView `json:"tokens,omitempty"`
}

// SystemWalletService exposes the admin view over the system's settlement
// wallets.
type SystemWalletService struct {
	store  repository.Store
	chains ChainSet
	probes map[string]BalanceProbe
	log    *zap.Logger
}

func NewSystemWalletService(store repository.Store, chains ChainSet, probes map[string]BalanceProbe, log *zap.Logger) *SystemWalletService {
	return &SystemWalletService{store: store, chains: chains, probes: probes, log: log}
}

// Balances probes every configured network for the native coin plus every
// listed token. A failing probe is reported as an empty balance instead of
// failing the whole view.
func (s *SystemWalletService) Balances(ctx context.Context) []WalletOverview {
	out := make([]WalletOverview, 0, len(s.chains))
	for network, gateway := range s.chains {
		row := WalletOverview{Network: network, Address: gateway.Wallet.Address()}
		probe, ok := s.probes[network]
		if !ok {
			out = append(out, row)
			continue
		}

		if balance, err := probe.NativeBalance(ctx, row.Address); err != nil {
			s.log.Warn("balance probe failed",
				zap.String("network", network),
				zap.Error(err),
			)
		} else {
			row.NativeBalance = balance.String()
		}

		currencies, err := s.store.ListCryptoCurrencies(ctx, network)
		if err != nil {
			s.log.Warn("token listing failed", zap.String("network", network), zap.Error(err))
		}
		for _, cur := range currencies {
			if cur.TokenAddress == "" {
				continue
			}
			view := TokenBalanceView{Symbol: cur.Symbol}
			balance, err := probe.TokenBalance(ctx, cur.TokenAddress, row.Address, cur.Decimals)
			if err != nil {
				s.log.Warn("token balance probe failed",
					zap.String("network", network),
					zap.String("symbol", cur.Symbol),
					zap.Error(err),
				)
			} else {
				view.Balance = balance.String()
			}
			row.Tokens = append(row.Tokens, view)
		}
		out = append(out, row)
	}
	return out
}
