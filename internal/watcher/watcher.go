// Package watcher polls a chain for an expected inbound token transfer and
// tracks it to confirmation depth. It is deliberately free of settlement
// logic: callers inject a status probe and act on the returned result.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/chain"
	"github.com/ayodele-m/fiatramp/internal/domain"
)

// ErrAborted signals that the transaction reached a terminal state through
// another path while the watch was running.
var ErrAborted = errors.New("watch aborted: transaction already finalized")

// Config bounds one watch. LookaheadBlocks is the hard timeout expressed in
// blocks past the start head (roughly one hour on a 3s chain at 1200).
type Config struct {
	LookaheadBlocks    uint64
	StartSafetyMargin  uint64
	PollInterval       time.Duration
	ConfirmInterval    time.Duration
	MaxConfirmAttempts int
	MinConfirmations   uint64
}

func DefaultConfig() Config {
	return Config{
		LookaheadBlocks:    1200,
		StartSafetyMargin:  5,
		PollInterval:       15 * time.Second,
		ConfirmInterval:    10 * time.Second,
		MaxConfirmAttempts: 30,
		MinConfirmations:   12,
	}
}

// StatusFn re-reads the transaction's current status from the store.
type StatusFn func(ctx context.Context) (string, error)

// Watch describes the transfer being waited for. ExpectedAmount is in token
// major units; matching uses >= so over-payment is accepted.
type Watch struct {
	TxnID          string
	TokenAddress   string
	TokenDecimals  int32
	Destination    string
	ExpectedAmount decimal.Decimal
	Status         StatusFn
}

// Result is the outcome of one watch. Matched without Confirmed means a
// transfer was seen but never reached the confirmation depth.
type Result struct {
	Matched   bool
	TxHash    string
	Confirmed bool
}

type Watcher struct {
	client chain.Client
	cfg    Config
	log    *zap.Logger
}

func New(client chain.Client, cfg Config, log *zap.Logger) *Watcher {
	return &Watcher{client: client, cfg: cfg, log: log}
}

// Await blocks until the expected transfer is confirmed, the lookahead
// window closes, or the transaction is finalized elsewhere. RPC errors are
// returned immediately rather than retried so the caller can fail the
// transaction instead of looping forever.
func (w *Watcher) Await(ctx context.Context, watch Watch) (Result, error) {
	head, err := w.client.HeadBlock(ctx)
	if err != nil {
		return Result{}, err
	}
	startBlock := head
	if startBlock > w.cfg.StartSafetyMargin {
		startBlock -= w.cfg.StartSafetyMargin
	}
	endBlock := startBlock + w.cfg.LookaheadBlocks
	lastScanned := startBlock

	w.log.Info("deposit watch started",
		zap.String("txn_id", watch.TxnID),
		zap.String("destination", watch.Destination),
		zap.Uint64("start_block", startBlock),
		zap.Uint64("end_block", endBlock),
	)

	for {
		if err := w.checkAbort(ctx, watch); err != nil {
			return Result{}, err
		}

		head, err := w.client.HeadBlock(ctx)
		if err != nil {
			return Result{}, err
		}

		upTo := head
		if upTo > endBlock {
			upTo = endBlock
		}
		if upTo >= lastScanned {
			events, err := w.client.FilterTransfers(ctx, watch.TokenAddress, watch.Destination, lastScanned, upTo)
			if err != nil {
				return Result{}, err
			}
			for _, evt := range events {
				amount := evt.Amount(watch.TokenDecimals)
				if amount.LessThan(watch.ExpectedAmount) {
					w.log.Debug("transfer below expected amount",
						zap.String("txn_id", watch.TxnID),
						zap.String("seen", amount.String()),
						zap.String("expected", watch.ExpectedAmount.String()),
					)
					continue
				}
				// First sufficient transfer wins.
				return w.awaitConfirmations(ctx, watch, evt.TxHash)
			}
			lastScanned = upTo + 1
		}

		if head > endBlock {
			w.log.Warn("deposit watch window closed without a match",
				zap.String("txn_id", watch.TxnID),
				zap.Uint64("end_block", endBlock),
			)
			return Result{Matched: false}, nil
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// AwaitConfirmations tracks an already-known transaction hash to depth.
// Used for the buy counter-leg, where the system broadcast the transfer
// itself and only needs receipt confirmation.
func (w *Watcher) AwaitConfirmations(ctx context.Context, watch Watch, txHash string) (Result, error) {
	return w.awaitConfirmations(ctx, watch, txHash)
}

func (w *Watcher) awaitConfirmations(ctx context.Context, watch Watch, txHash string) (Result, error) {
	for attempt := 0; attempt < w.cfg.MaxConfirmAttempts; attempt++ {
		if err := w.checkAbort(ctx, watch); err != nil {
			return Result{}, err
		}
		confs, err := w.client.Confirmations(ctx, txHash)
		if err != nil {
			return Result{}, err
		}
		if confs >= w.cfg.MinConfirmations {
			w.log.Info("deposit confirmed",
				zap.String("txn_id", watch.TxnID),
				zap.String("tx_hash", txHash),
				zap.Uint64("confirmations", confs),
			)
			return Result{Matched: true, TxHash: txHash, Confirmed: true}, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(w.cfg.ConfirmInterval):
		}
	}
	return Result{Matched: true, TxHash: txHash, Confirmed: false}, nil
}

func (w *Watcher) checkAbort(ctx context.Context, watch Watch) error {
	if watch.Status == nil {
		return nil
	}
	status, err := watch.Status(ctx)
	if err != nil {
		return fmt.Errorf("status probe for %s: %w", watch.TxnID, err)
	}
	if domain.IsTerminalStatus(status) {
		return fmt.Errorf("%s is %s: %w", watch.TxnID, status, ErrAborted)
	}
	return nil
}
