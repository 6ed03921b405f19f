package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// Notifier delivers status changes to whatever client is watching the
// transaction. Implementations must be safe for concurrent use.
type Notifier interface {
	NotifyStatus(ctx context.Context, txnID, status string)
}

// transitions is the legal status graph. COMPLETED and FAILED have no
// outgoing edges; TRANSFER_CONFIRMED -> COMPLETED exists for automatic
// settlement, PROCESSING <-> TRANSFER_CONFIRMED for operator claim/release.
var transitions = map[string]map[string]struct{}{
	domain.StatusCreated: {
		domain.StatusConfirmed:  {},
		domain.StatusProcessing: {},
		domain.StatusFailed:     {},
	},
	domain.StatusConfirmed: {
		domain.StatusProcessing: {},
		domain.StatusCompleted:  {},
		domain.StatusFailed:     {},
	},
	domain.StatusProcessing: {
		domain.StatusConfirmed: {},
		domain.StatusCompleted: {},
		domain.StatusFailed:    {},
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to string) bool {
	_, ok := transitions[from][to]
	return ok
}

// predecessors returns every state with a legal edge into "to".
func predecessors(to string) []string {
	var from []string
	for src, outs := range transitions {
		if _, ok := outs[to]; ok {
			from = append(from, src)
		}
	}
	return from
}

// TransactionStateMachine owns every status mutation. Each transition is a
// single compare-and-swap against the store; a zero affected count is
// resolved by re-reading the row to distinguish a finalized transaction
// from a plain illegal transition.
type TransactionStateMachine struct {
	store    repository.Store
	audit    *AuditService
	notifier Notifier
	log      *zap.Logger
}

func NewTransactionStateMachine(store repository.Store, audit *AuditService, notifier Notifier, log *zap.Logger) *TransactionStateMachine {
	return &TransactionStateMachine{store: store, audit: audit, notifier: notifier, log: log}
}

// apply runs one guarded transition and resolves the race outcome.
func (m *TransactionStateMachine) apply(ctx context.Context, upd repository.StatusUpdate, actorID string) error {
	for _, from := range upd.FromStatuses {
		if !CanTransition(from, upd.ToStatus) {
			return fmt.Errorf("%s -> %s: %w", from, upd.ToStatus, domain.ErrInvalidTransition)
		}
	}

	affected, err := m.store.UpdateTransactionStatus(ctx, upd)
	if err != nil {
		return err
	}
	if affected == 0 {
		return m.transitionErr(ctx, upd)
	}

	m.audit.TransactionTransition(ctx, upd.UniqueID, actorID, upd.FromStatuses, upd.ToStatus)
	m.log.Info("transaction status changed",
		zap.String("txn_id", upd.UniqueID),
		zap.String("status", upd.ToStatus),
		zap.String("actor", actorID),
	)
	if m.notifier != nil {
		m.notifier.NotifyStatus(ctx, upd.UniqueID, upd.ToStatus)
	}
	return nil
}

// transitionErr explains a lost compare-and-swap.
func (m *TransactionStateMachine) transitionErr(ctx context.Context, upd repository.StatusUpdate) error {
	txn, err := m.store.GetTransaction(ctx, upd.UniqueID)
	if err != nil {
		return err
	}
	if domain.IsTerminalStatus(txn.Status) {
		return fmt.Errorf("transaction %s is %s: %w", upd.UniqueID, txn.Status, domain.ErrAlreadyFinalized)
	}
	return fmt.Errorf("%s -> %s: %w", txn.Status, upd.ToStatus, domain.ErrInvalidTransition)
}

// MarkConfirmed records the funding transfer. Legal only from
// TRANSACTION_CREATED so a replayed webhook or a second watcher match
// surfaces as an error instead of silently succeeding.
func (m *TransactionStateMachine) MarkConfirmed(ctx context.Context, txnID, txHash string) error {
	upd := repository.StatusUpdate{
		UniqueID:     txnID,
		FromStatuses: []string{domain.StatusCreated},
		ToStatus:     domain.StatusConfirmed,
	}
	if txHash != "" {
		upd.TransactionHash = &txHash
	}
	return m.apply(ctx, upd, "")
}

// Claim assigns the transaction to an operator for manual settlement.
func (m *TransactionStateMachine) Claim(ctx context.Context, txnID, operatorID string) error {
	if operatorID == "" {
		return fmt.Errorf("operator id required: %w", domain.ErrValidation)
	}
	return m.apply(ctx, repository.StatusUpdate{
		UniqueID:     txnID,
		FromStatuses: []string{domain.StatusCreated, domain.StatusConfirmed},
		ToStatus:     domain.StatusProcessing,
		ProcessedBy:  &operatorID,
	}, operatorID)
}

// Release returns a claimed transaction to the pool.
func (m *TransactionStateMachine) Release(ctx context.Context, txnID, operatorID string) error {
	return m.apply(ctx, repository.StatusUpdate{
		UniqueID:         txnID,
		FromStatuses:     []string{domain.StatusProcessing},
		ToStatus:         domain.StatusConfirmed,
		ClearProcessedBy: true,
	}, operatorID)
}

// Complete finalizes a settled transaction. Proof is mandatory.
func (m *TransactionStateMachine) Complete(ctx context.Context, txnID, settlementProof, operatorID string) error {
	if settlementProof == "" {
		return fmt.Errorf("settlement proof required: %w", domain.ErrValidation)
	}
	now := time.Now().UTC()
	settledBy := operatorID
	if settledBy == "" {
		settledBy = "system"
	}
	return m.apply(ctx, repository.StatusUpdate{
		UniqueID:        txnID,
		FromStatuses:    predecessors(domain.StatusCompleted),
		ToStatus:        domain.StatusCompleted,
		SettlementProof: &settlementProof,
		SettledBy:       &settledBy,
		SettledAt:       &now,
	}, operatorID)
}

// Fail finalizes a transaction from any non-terminal state. A transaction
// that already reached COMPLETED stays completed.
func (m *TransactionStateMachine) Fail(ctx context.Context, txnID, reason, operatorID string) error {
	upd := repository.StatusUpdate{
		UniqueID:     txnID,
		FromStatuses: predecessors(domain.StatusFailed),
		ToStatus:     domain.StatusFailed,
	}
	if reason != "" {
		upd.FiatProviderResult = &reason
	}
	return m.apply(ctx, upd, operatorID)
}
