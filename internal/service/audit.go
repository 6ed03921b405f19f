package service

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/models"
	"github.com/ayodele-m/fiatramp/internal/repository"
)

// AuditService appends immutable records of state transitions and admin
// actions. Audit writes never fail the operation they describe; a write
// error is logged and dropped.
type AuditService struct {
	store repository.Store
	log   *zap.Logger
}

func NewAuditService(store repository.Store, log *zap.Logger) *AuditService {
	return &AuditService{store: store, log: log}
}

func (a *AuditService) TransactionTransition(ctx context.Context, txnID, actorID string, from []string, to string) {
	a.record(ctx, &models.AuditLog{
		EntityType: "transaction",
		EntityID:   txnID,
		ActorID:    actorID,
		Action:     "status_transition",
		PrevState:  strings.Join(from, "|"),
		NextState:  to,
	})
}

func (a *AuditService) AdminAction(ctx context.Context, entityType, entityID, actorID, action string, metadata any) {
	entry := &models.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err == nil {
			entry.Metadata = raw
		}
	}
	a.record(ctx, entry)
}

func (a *AuditService) record(ctx context.Context, entry *models.AuditLog) {
	if err := a.store.InsertAuditLog(ctx, entry); err != nil {
		a.log.Error("audit write failed",
			zap.String("entity_id", entry.EntityID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
