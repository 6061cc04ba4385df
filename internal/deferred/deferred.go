// Package deferred runs fire-and-forget background tasks on a bounded worker
// pool. Spawn returns as soon as the task is registered; execution order is
// unspecified, failures are logged and never propagate to the caller, and a
// full queue falls back to a tracked goroutine so accepted work is never
// silently dropped.
package deferred

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/observability/metrics"
)

// Task is a unit of deferred work. The context is cancelled when the runner
// shuts down.
type Task func(ctx context.Context) error

// Stats is a point-in-time snapshot of runner counters.
type Stats struct {
	Spawned    uint64
	Completed  uint64
	Failed     uint64
	Overflowed uint64
	QueueDepth int
}

type job struct {
	name string
	task Task
}

// Runner is a worker-pool task runner.
type Runner struct {
	queue   chan job
	workers int
	logger  *slog.Logger
	metrics *metrics.DeferredMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // workers
	taskWG sync.WaitGroup // in-flight tasks, including overflow goroutines

	// mu orders enqueues against the queue close: Spawn holds the read lock
	// from the shutdown check through the send, Shutdown closes the queue
	// under the write lock.
	mu sync.RWMutex

	spawned    atomic.Uint64
	completed  atomic.Uint64
	failed     atomic.Uint64
	overflowed atomic.Uint64

	shutdown atomic.Bool
}

// New creates and starts a runner with the given worker count and queue size.
// The metrics argument may be nil.
func New(workers, queueSize int, m *metrics.DeferredMetrics) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:   make(chan job, queueSize),
		workers: workers,
		logger:  logging.ForService("deferred"),
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	r.logger.Info("deferred task runner started",
		"workers", workers,
		"queue_size", queueSize)
	return r
}

// Spawn registers a task for background execution and returns immediately.
// The task is registered before Spawn returns: a Shutdown issued right after
// Spawn still waits for it. If the queue is full the task runs on its own
// tracked goroutine instead of being dropped.
func (r *Runner) Spawn(name string, task Task) error {
	if task == nil {
		return errors.Newf("deferred task must not be nil").
			Category(errors.CategoryValidation).
			Context("task_name", name).
			Component("deferred").
			Build()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.shutdown.Load() {
		return errors.Newf("deferred task runner is shut down").
			Category(errors.CategoryWorker).
			Context("task_name", name).
			Component("deferred").
			Build()
	}

	r.spawned.Add(1)
	if r.metrics != nil {
		r.metrics.Spawned.Inc()
	}

	j := job{name: name, task: task}
	select {
	case r.queue <- j:
		r.observeQueueDepth()
	default:
		// Queue saturated. Run on a tracked goroutine rather than drop:
		// accepted work must always execute.
		r.overflowed.Add(1)
		if r.metrics != nil {
			r.metrics.Overflowed.Inc()
		}
		r.logger.Warn("task queue full, running task on overflow goroutine",
			"task_name", name,
			"queue_size", cap(r.queue))
		r.taskWG.Add(1)
		go func() {
			defer r.taskWG.Done()
			r.run(j)
		}()
	}
	return nil
}

// Shutdown stops accepting new tasks and waits up to timeout for queued and
// in-flight tasks to finish. Tasks still running after the timeout have their
// context cancelled.
func (r *Runner) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	if !r.shutdown.CompareAndSwap(false, true) {
		r.mu.Unlock()
		return nil
	}
	// Spawn never blocks on the send, so the write lock cannot deadlock
	// against a reader stuck on a full queue.
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		r.taskWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("deferred task runner stopped", "stats", r.Stats())
		return nil
	case <-time.After(timeout):
		r.cancel()
		r.logger.Warn("deferred task runner shutdown timed out",
			"timeout", timeout,
			"stats", r.Stats())
		return errors.Newf("shutdown timed out after %s", timeout).
			Category(errors.CategoryTimeout).
			Component("deferred").
			Build()
	}
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Spawned:    r.spawned.Load(),
		Completed:  r.completed.Load(),
		Failed:     r.failed.Load(),
		Overflowed: r.overflowed.Load(),
		QueueDepth: len(r.queue),
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for j := range r.queue {
		r.run(j)
		r.observeQueueDepth()
	}
}

func (r *Runner) run(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.failed.Add(1)
			if r.metrics != nil {
				r.metrics.Failed.Inc()
			}
			r.logger.Error("deferred task panicked",
				"task_name", j.name,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := j.task(r.ctx); err != nil {
		r.failed.Add(1)
		if r.metrics != nil {
			r.metrics.Failed.Inc()
		}
		r.logger.Error("deferred task failed",
			"task_name", j.name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return
	}

	r.completed.Add(1)
	if r.metrics != nil {
		r.metrics.Completed.Inc()
	}
	r.logger.Debug("deferred task completed",
		"task_name", j.name,
		"duration_ms", time.Since(start).Milliseconds())
}

func (r *Runner) observeQueueDepth() {
	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(len(r.queue)))
	}
}
