// Package scheduler runs a bounded, in-process FIFO work queue backed by a
// fixed worker pool. It replaces the teacher's NATS JetStream pull-subscribe
// hop: the spec is explicitly single-process, so dispatch is a buffered Go
// channel rather than a broker.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiostory/orchestrator/internal/domain"
)

// Runner executes one submitted task id. The pipeline package supplies this.
type Runner interface {
	Run(ctx context.Context, taskID string)
}

// Scheduler dispatches task ids to a fixed pool of workers.
type Scheduler struct {
	queue   chan string
	runner  Runner
	workers int
	log     *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Scheduler with the given queue depth and worker count.
// workers <= 0 defaults to 5; queueDepth <= 0 defaults to 64.
func New(runner Runner, workers, queueDepth int, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 5
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if log == nil {
		log = slog.Default()
	}

	return &Scheduler{
		queue:   make(chan string, queueDepth),
		runner:  runner,
		workers: workers,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool. It returns immediately; workers run until
// ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i)
	}
	s.log.Info("scheduler started", "workers", s.workers)
}

func (s *Scheduler) runWorker(ctx context.Context, id int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case taskID, ok := <-s.queue:
			if !ok {
				return
			}
			s.runner.Run(ctx, taskID)
		}
	}
}

// Submit enqueues a task id for execution. It never blocks: if the queue is
// full, it returns domain.ErrQueueFull immediately so the HTTP handler can
// report it to the caller rather than stalling the request.
func (s *Scheduler) Submit(taskID string) error {
	select {
	case s.queue <- taskID:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Stop signals all workers to exit and waits for them to drain their
// current task. It does not close the queue, so any task already admitted
// via Submit but not yet picked up is simply left unrun.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
