package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// transferMethodID is the 4-byte selector of transfer(address,uint256).
var transferMethodID = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

const tokenTransferGasLimit = 100_000

// SystemWallet signs and broadcasts outbound token transfers for one
// (network, address) pair. Nonce allocation and broadcast happen under one
// mutex so concurrent settlements never collide on a nonce.
type SystemWallet struct {
	network string
	chainID *big.Int
	key     *ecdsa.PrivateKey
	address common.Address
	client  *EthClient
	log     *zap.Logger

	mu sync.Mutex
}

func NewSystemWallet(ctx context.Context, client *EthClient, privateKeyHex string, log *zap.Logger) (*SystemWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse system wallet key: %w", err)
	}
	chainID, err := client.rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id on %s: %w: %v", client.network, domain.ErrChain, err)
	}
	return &SystemWallet{
		network: client.network,
		chainID: chainID,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		client:  client,
		log:     log,
	}, nil
}

func (w *SystemWallet) Network() string { return w.network }

func (w *SystemWallet) Address() string { return w.address.Hex() }

// TransferToken moves amount of the token to the destination address and
// returns the broadcast transaction hash.
func (w *SystemWallet) TransferToken(ctx context.Context, tokenAddress, to string, amount decimal.Decimal, decimals int32) (string, error) {
	raw := domain.ToTokenUnits(amount, decimals)
	if raw.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive: %w", domain.ErrValidation)
	}
	data := packTransfer(common.HexToAddress(to), raw)

	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.client.rpc.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("pending nonce on %s: %w: %v", w.network, domain.ErrChain, err)
	}
	gasPrice, err := w.client.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price on %s: %w: %v", w.network, domain.ErrChain, err)
	}

	token := common.HexToAddress(tokenAddress)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Value:    big.NewInt(0),
		Gas:      tokenTransferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}
	if err := w.client.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast transfer on %s: %w: %v", w.network, domain.ErrChain, err)
	}

	hash := signed.Hash().Hex()
	w.log.Info("token transfer broadcast",
		zap.String("network", w.network),
		zap.String("token", tokenAddress),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.Uint64("nonce", nonce),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

// packTransfer builds transfer(address,uint256) calldata.
func packTransfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// NewDepositAddress mints a fresh keypair for a user deposit wallet. The
// private key is handed to the caller for custody storage and never
// persisted by this package.
func NewDepositAddress() (address, privateKeyHex string, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("generate deposit key: %w", err)
	}
	address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	privateKeyHex = hex.EncodeToString(crypto.FromECDSA(key))
	return address, privateKeyHex, nil
}
