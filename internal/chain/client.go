// Package chain wraps blockchain RPC access: transfer-event scanning,
// confirmation counting, and outbound token transfers from the system
// wallet.
package chain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// TransferEvent is one decoded ERC20 Transfer log.
type TransferEvent struct {
	TxHash       string
	BlockNumber  uint64
	From         string
	To           string
	RawAmount    *big.Int
	TokenAddress string
}

// Amount converts the raw token units using the token's decimals.
func (e TransferEvent) Amount(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(e.RawAmount, 0).Shift(-decimals)
}

// Client is the read-side RPC surface the watchers poll. Implementations
// must be safe for concurrent use.
type Client interface {
	// HeadBlock returns the current chain head number.
	HeadBlock(ctx context.Context) (uint64, error)
	// FilterTransfers returns Transfer events on the token contract whose
	// destination is "to", over the inclusive block range.
	FilterTransfers(ctx context.Context, tokenAddress, to string, fromBlock, toBlock uint64) ([]TransferEvent, error)
	// Confirmations returns how many blocks are stacked on top of the
	// transaction's inclusion block, or 0 if it is still pending.
	Confirmations(ctx context.Context, txHash string) (uint64, error)
	// NativeBalance probes liveness and funds of an address.
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
}
