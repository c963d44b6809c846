// Package gpugate provides a simple counting semaphore gating access to the
// GPU-bound step of the pipeline (voice cloning). Only one caller at a time
// holds a permit by default, matching the single local GPU this system was
// built to drive; other pipeline steps run uncontended.
package gpugate

import (
	"context"
	"fmt"
)

// Gate is a FIFO counting semaphore, grounded on the teacher's
// converter.MockConverter channel-semaphore pattern.
type Gate struct {
	sem chan struct{}
}

// New creates a Gate with the given number of permits. permits <= 0 is
// normalized to 1, since the GPU gate must always allow some progress.
func New(permits int) *Gate {
	if permits <= 0 {
		permits = 1
	}
	return &Gate{sem: make(chan struct{}, permits)}
}

// Acquire blocks until a permit is available or ctx is done. Callers arrive
// in roughly FIFO order because Go's channel send queue is FIFO for
// blocked senders.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gpugate: acquire canceled: %w", ctx.Err())
	}
}

// Release returns a permit to the pool. Callers must call Release exactly
// once for every successful Acquire, on every exit path including panics
// and step failures.
func (g *Gate) Release() {
	<-g.sem
}
