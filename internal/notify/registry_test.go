package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEmitter struct {
	mu     sync.Mutex
	sent   map[string][]any
	dead   map[string]bool
	closed []string
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{sent: make(map[string][]any), dead: make(map[string]bool)}
}

func (f *fakeEmitter) Emit(connID string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead[connID] {
		return errors.New("connection gone")
	}
	f.sent[connID] = append(f.sent[connID], event)
	return nil
}

func (f *fakeEmitter) Close(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, connID)
}

func TestRegistryEmitsToRegisteredConnections(t *testing.T) {
	emitter := newFakeEmitter()
	reg := NewRegistry(NewMemoryPairStore(), emitter, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "txn-1", "conn-a"))
	require.NoError(t, reg.Register(ctx, "txn-1", "conn-b"))
	require.NoError(t, reg.Register(ctx, "txn-2", "conn-c"))

	reg.NotifyStatus(ctx, "txn-1", "TRANSFER_CONFIRMED")

	assert.Len(t, emitter.sent["conn-a"], 1)
	assert.Len(t, emitter.sent["conn-b"], 1)
	assert.Empty(t, emitter.sent["conn-c"], "unrelated connection must not receive the event")

	evt, ok := emitter.sent["conn-a"][0].(StatusEvent)
	require.True(t, ok)
	assert.Equal(t, "transaction_status", evt.Event)
	assert.Equal(t, "TRANSFER_CONFIRMED", evt.Data.Status)
	assert.Equal(t, "txn-1", evt.Data.TxnID)
}

func TestRegistryDropsDeadConnections(t *testing.T) {
	emitter := newFakeEmitter()
	reg := NewRegistry(NewMemoryPairStore(), emitter, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "txn-1", "conn-dead"))
	emitter.dead["conn-dead"] = true

	reg.NotifyStatus(ctx, "txn-1", "COMPLETED")
	assert.Equal(t, []string{"conn-dead"}, emitter.closed)

	// The pairing is gone afterwards.
	emitter.dead["conn-dead"] = false
	reg.NotifyStatus(ctx, "txn-1", "COMPLETED")
	assert.Empty(t, emitter.sent["conn-dead"])
}

func TestRegistryUnregisterRemovesAllPairings(t *testing.T) {
	emitter := newFakeEmitter()
	reg := NewRegistry(NewMemoryPairStore(), emitter, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "txn-1", "conn-a"))
	require.NoError(t, reg.Register(ctx, "txn-2", "conn-a"))
	reg.Unregister(ctx, "conn-a")

	reg.NotifyStatus(ctx, "txn-1", "FAILED")
	reg.NotifyStatus(ctx, "txn-2", "FAILED")
	assert.Empty(t, emitter.sent["conn-a"])
}
