package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/beaconctl/internal/protocol"
	"golang.org/x/sync/semaphore"
)

// Gate is the reader/writer discipline over shared plugin state: many readers or one writer.
// Waiters are served in arrival order, so a queued writer holds back later readers.
type Gate struct {
	sem     *semaphore.Weighted
	readers int64
	timeout time.Duration
}

// NewGate admits up to readers concurrent readers. A positive timeout bounds every wait.
func NewGate(readers int64, timeout time.Duration) *Gate {
	if readers < 1 {
		readers = 1
	}
	return &Gate{sem: semaphore.NewWeighted(readers), readers: readers, timeout: timeout}
}

func (g *Gate) RLock(ctx context.Context) (func(), error) {
	return g.acquire(ctx, 1)
}

// Lock takes every reader slot.
func (g *Gate) Lock(ctx context.Context) (func(), error) {
	return g.acquire(ctx, g.readers)
}

func (g *Gate) acquire(ctx context.Context, n int64) (func(), error) {
	waitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.sem.Acquire(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waited %s for %d slot(s)", protocol.ErrPoolContention, g.timeout, n)
		}
		return nil, err
	}
	return func() { g.sem.Release(n) }, nil
}
