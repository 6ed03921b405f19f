package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper is what the recovery worker drives; in practice the settlement
// orchestrator's RecoverPending.
type Sweeper interface {
	RecoverPending(ctx context.Context) error
}

// RecoveryWorker re-launches settlement tasks for transactions left
// in-flight by a crash. It sweeps once at start and then on an interval as
// a safety net for tasks lost mid-process.
type RecoveryWorker struct {
	sweeper  Sweeper
	interval time.Duration
	log      *zap.Logger
	stopCh   chan struct{}
}

func NewRecoveryWorker(sweeper Sweeper, interval time.Duration, log *zap.Logger) *RecoveryWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &RecoveryWorker{
		sweeper:  sweeper,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run starts the sweep loop and returns a stop function.
func (w *RecoveryWorker) Run(ctx context.Context) func() {
	go w.loop(ctx)
	return func() { close(w.stopCh) }
}

func (w *RecoveryWorker) loop(ctx context.Context) {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *RecoveryWorker) sweep(ctx context.Context) {
	if err := w.sweeper.RecoverPending(ctx); err != nil {
		w.log.Error("recovery sweep failed", zap.Error(err))
	}
}
