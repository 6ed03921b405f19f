// Package notify delivers transaction status changes to the clients
// watching them. Pairings between transaction ids and websocket connection
// ids live in an explicit registry instead of any global socket state.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// StatusEvent is the wire shape every client receives on a status change.
type StatusEvent struct {
	Event string          `json:"event"`
	Data  StatusEventData `json:"data"`
}

type StatusEventData struct {
	Status string `json:"status"`
	TxnID  string `json:"txnId"`
}

// PairStore persists {txnId, connectionId} pairings for lookup at emit
// time. Backed by Redis in production so any instance can resolve a
// pairing registered on another.
type PairStore interface {
	AddPair(ctx context.Context, txnID, connID string) error
	Connections(ctx context.Context, txnID string) ([]string, error)
	RemoveConnection(ctx context.Context, connID string) error
}

// Emitter pushes an event to one live connection.
type Emitter interface {
	Emit(connID string, event any) error
	Close(connID string)
}

// Registry is the NotificationSink: it pairs transactions with
// connections and fans status changes out to them.
type Registry struct {
	pairs   PairStore
	emitter Emitter
	log     *zap.Logger
}

func NewRegistry(pairs PairStore, emitter Emitter, log *zap.Logger) *Registry {
	return &Registry{pairs: pairs, emitter: emitter, log: log}
}

// Register pairs a transaction with a connection for future emits.
func (r *Registry) Register(ctx context.Context, txnID, connID string) error {
	return r.pairs.AddPair(ctx, txnID, connID)
}

// Unregister drops every pairing a closed connection held.
func (r *Registry) Unregister(ctx context.Context, connID string) {
	if err := r.pairs.RemoveConnection(ctx, connID); err != nil {
		r.log.Warn("unregister connection failed", zap.String("conn_id", connID), zap.Error(err))
	}
}

// NotifyStatus emits to every connection registered for the transaction.
// Delivery is best effort; a dead connection is closed and skipped.
func (r *Registry) NotifyStatus(ctx context.Context, txnID, status string) {
	conns, err := r.pairs.Connections(ctx, txnID)
	if err != nil {
		r.log.Warn("pair lookup failed", zap.String("txn_id", txnID), zap.Error(err))
		return
	}
	event := StatusEvent{
		Event: "transaction_status",
		Data:  StatusEventData{Status: status, TxnID: txnID},
	}
	for _, connID := range conns {
		if err := r.emitter.Emit(connID, event); err != nil {
			r.log.Debug("emit failed, dropping connection",
				zap.String("conn_id", connID),
				zap.Error(err),
			)
			r.emitter.Close(connID)
			r.Unregister(ctx, connID)
		}
	}
}

// MemoryPairStore is the in-process PairStore used in tests and
// single-instance deployments.
type MemoryPairStore struct {
	mu     sync.Mutex
	byTxn  map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

func NewMemoryPairStore() *MemoryPairStore {
	return &MemoryPairStore{
		byTxn:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryPairStore) AddPair(ctx context.Context, txnID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTxn[txnID] == nil {
		s.byTxn[txnID] = make(map[string]struct{})
	}
	s.byTxn[txnID][connID] = struct{}{}
	if s.byConn[connID] == nil {
		s.byConn[connID] = make(map[string]struct{})
	}
	s.byConn[connID][txnID] = struct{}{}
	return nil
}

func (s *MemoryPairStore) Connections(ctx context.Context, txnID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]string, 0, len(s.byTxn[txnID]))
	for connID := range s.byTxn[txnID] {
		conns = append(conns, connID)
	}
	return conns, nil
}

func (s *MemoryPairStore) RemoveConnection(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for txnID := range s.byConn[connID] {
		delete(s.byTxn[txnID], connID)
		if len(s.byTxn[txnID]) == 0 {
			delete(s.byTxn, txnID)
		}
	}
	delete(s.byConn, connID)
	return nil
}
