package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ayodele-m/fiatramp/internal/api/middleware"
	"github.com/ayodele-m/fiatramp/internal/api/problem"
	"github.com/ayodele-m/fiatramp/internal/domain"
	"github.com/ayodele-m/fiatramp/internal/notify"
	"github.com/ayodele-m/fiatramp/internal/service"
)

// NotifyHandler upgrades clients to websocket and pairs them with the
// transaction they want status updates for.
type NotifyHandler struct {
	hub      *notify.Hub
	registry *notify.Registry
	txns     *service.TransactionService
	log      *zap.Logger
}

func NewNotifyHandler(hub *notify.Hub, registry *notify.Registry, txns *service.TransactionService, log *zap.Logger) *NotifyHandler {
	return &NotifyHandler{hub: hub, registry: registry, txns: txns, log: log}
}

// Subscribe pairs the caller's websocket with the transaction named by the
// txnId query parameter. Ownership is checked before the upgrade so a user
// cannot watch someone else's transaction.
func (h *NotifyHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	txnID := r.URL.Query().Get("txnId")
	if txnID == "" {
		problem.RenderError(w, r, domain.ErrValidation)
		return
	}
	userID := middleware.UserID(r.Context())
	if middleware.Role(r.Context()) != middleware.RoleAdmin {
		if _, err := h.txns.GetForUser(r.Context(), txnID, userID); err != nil {
			problem.RenderError(w, r, err)
			return
		}
	}

	connID, err := h.hub.Accept(w, r, func(connID string) {
		// The request context is gone by the time the client disconnects.
		h.registry.Unregister(context.Background(), connID)
	})
	if err != nil {
		// Upgrade failures already wrote a response.
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if err := h.registry.Register(r.Context(), txnID, connID); err != nil {
		h.log.Error("pairing registration failed",
			zap.String("txn_id", txnID),
			zap.String("conn_id", connID),
			zap.Error(err))
		h.hub.Close(connID)
	}
}
