package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/ayodele-m/fiatramp/internal/domain"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EthClient implements Client over a JSON-RPC endpoint.
type EthClient struct {
	rpc     *ethclient.Client
	network string
}

func Dial(ctx context.Context, network, rpcURL string) (*EthClient, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s rpc: %w: %v", network, domain.ErrChain, err)
	}
	return &EthClient{rpc: rpc, network: network}, nil
}

func (c *EthClient) Network() string { return c.network }

func (c *EthClient) Close() { c.rpc.Close() }

func (c *EthClient) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("head block on %s: %w: %v", c.network, domain.ErrChain, err)
	}
	return head, nil
}

func (c *EthClient) FilterTransfers(ctx context.Context, tokenAddress, to string, fromBlock, toBlock uint64) ([]TransferEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{common.HexToAddress(tokenAddress)},
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(common.HexToAddress(to).Bytes())},
		},
	}
	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs on %s: %w: %v", c.network, domain.ErrChain, err)
	}

	events := make([]TransferEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 || len(lg.Data) == 0 {
			continue
		}
		events = append(events, TransferEvent{
			TxHash:       lg.TxHash.Hex(),
			BlockNumber:  lg.BlockNumber,
			From:         common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			To:           common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			RawAmount:    new(big.Int).SetBytes(lg.Data),
			TokenAddress: lg.Address.Hex(),
		})
	}
	return events, nil
}

func (c *EthClient) Confirmations(ctx context.Context, txHash string) (uint64, error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("receipt %s on %s: %w: %v", txHash, c.network, domain.ErrChain, err)
	}
	head, err := c.HeadBlock(ctx)
	if err != nil {
		return 0, err
	}
	included := receipt.BlockNumber.Uint64()
	if head < included {
		return 0, nil
	}
	return head - included + 1, nil
}

func (c *EthClient) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	wei, err := c.rpc.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance of %s on %s: %w: %v", address, c.network, domain.ErrChain, err)
	}
	return domain.FromTokenUnits(wei, 18), nil
}

// balanceOfMethodID is the 4-byte selector of balanceOf(address).
var balanceOfMethodID = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

func (c *EthClient) TokenBalance(ctx context.Context, tokenAddress, holder string, decimals int32) (decimal.Decimal, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfMethodID...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(holder).Bytes(), 32)...)

	token := common.HexToAddress(tokenAddress)
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf %s on %s: %w: %v", tokenAddress, c.network, domain.ErrChain, err)
	}
	return domain.FromTokenUnits(new(big.Int).SetBytes(out), decimals), nil
}
