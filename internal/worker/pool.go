// Package worker runs the dispatch loop: a pool of goroutines that drain the
// global ready ring, backing off while the node is idle.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushrushgogogo/skynet/internal/core"
)

const (
	idleSleepMin = 100 * time.Microsecond
	idleSleepMax = 5 * time.Millisecond
)

// Pool drives the kernel's dispatch loop across count goroutines.
type Pool struct {
	system *core.System
	count  int
	logger *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewPool sizes a stopped pool.
func NewPool(system *core.System, count int, logger *slog.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		system: system,
		count:  count,
		logger: logger.With("component", "worker"),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.count; i++ {
		p.group.Go(func() error {
			p.run(ctx)
			return nil
		})
	}
	p.logger.Info("workers started", "count", p.count)
}

// Stop asks the workers to finish their current iteration and waits.
func (p *Pool) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return p.group.Wait()
}

func (p *Pool) run(ctx context.Context) {
	sleep := idleSleepMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.system.DispatchMessage() {
			sleep = idleSleepMin
			continue
		}
		// Idle: back off so an empty node doesn't spin.
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		if sleep < idleSleepMax {
			sleep *= 2
		}
	}
}
