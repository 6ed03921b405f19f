package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// TransactionService covers the user and operator surface over transaction
// records: listing, ownership checks, and the manual settlement actions
// that delegate into the state machine.
type TransactionService struct {
	store repository.Store
	sm    *TransactionStateMachine
	log   *zap.Logger
}

func NewTransactionService(store repository.Store, sm *TransactionStateMachine, log *zap.Logger) *TransactionService {
	return &TransactionService{store: store, sm: sm, log: log}
}

// GetForUser fetches a transaction the user owns.
func (s *TransactionService) GetForUser(ctx context.Context, txnID, userID string) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", txnID, domain.ErrAuthorization)
	}
	return txn, nil
}

func (s *TransactionService) ListForUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	return s.store.ListUserTransactions(ctx, userID)
}

// Get fetches a transaction without an ownership check, for operators.
func (s *TransactionService) Get(ctx context.Context, txnID string) (*models.Transaction, error) {
	return s.store.GetTransaction(ctx, txnID)
}

func (s *TransactionService) List(ctx context.Context, filter repository.TransactionFilter) ([]models.Transaction, error) {
	return s.store.ListTransactions(ctx, filter)
}

// Claim assigns a confirmed transaction to the calling operator.
func (s *TransactionService) Claim(ctx context.Context, txnID, operatorID string) error {
	return s.sm.Claim(ctx, txnID, operatorID)
}

// Release puts a claimed transaction back in the pool. Only the claiming
// operator may release it.
func (s *TransactionService) Release(ctx context.Context, txnID, operatorID string) error {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	if txn.ProcessedBy != operatorID {
		return fmt.Errorf("transaction %s claimed by %s: %w", txnID, txn.ProcessedBy, domain.ErrAuthorization)
	}
	return s.sm.Release(ctx, txnID, operatorID)
}

// Complete settles a claimed transaction with the operator's proof.
func (s *TransactionService) Complete(ctx context.Context, txnID, settlementProof, operatorID string) error {
	txn, err := s.store.GetTransaction(ctx, txnID)
	if err != nil {
		return err
	}
	if txn.Status == domain.StatusProcessing && txn.ProcessedBy != operatorID {
		return fmt.Errorf("transaction %s claimed by %s: %w", txnID, txn.ProcessedBy, domain.ErrAuthorization)
	}
	return s.sm.Complete(ctx, txnID, settlementProof, operatorID)
}

// Fail finalizes a transaction as failed on operator action.
func (s *TransactionService) Fail(ctx context.Context, txnID, reason, operatorID string) error {
	return s.sm.Fail(ctx, txnID, reason, operatorID)
}
