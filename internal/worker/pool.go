// Package worker runs settlement tasks and background sweeps in-process,
// bounded by a semaphore so a burst of orders cannot exhaust goroutines or
// RPC connections.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pool schedules named tasks on a bounded set of goroutines. Task contexts
// descend from the pool's root context so Shutdown cancels everything still
// polling.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup
	log    *zap.Logger
}

func NewPool(size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    make(chan struct{}, size),
		log:    log,
	}
}

// Submit runs fn on the pool. It blocks only while the pool is saturated; a
// panicking task is logged and absorbed so one bad settlement never takes
// the process down.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-p.ctx.Done():
			return
		}

		started := time.Now()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
				)
			}
			p.log.Debug("task finished",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(started)),
			)
		}()
		fn(p.ctx)
	}()
}

// Shutdown cancels running tasks and waits for them up to the timeout.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.log.Warn("pool shutdown timed out with tasks still running")
	}
}
