// Package dispatch provides the bounded worker pool that processes ready
// files.
//
// The Dispatcher owns a fixed number of worker goroutines fed by a bounded
// queue. Submit blocks when the queue is full, so a fast producer is slowed to
// the pace of the workers. A path is never owned by more than one task at a
// time: the in-flight set rejects duplicate submissions until the running
// task has released the path.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/logging"
	"github.com/conneroisu/ocrwatch/internal/readiness"
)

// ErrDispatcherClosed is returned by Submit once Shutdown has begun.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Task is one unit of work handed to a worker.
type Task struct {
	ID         string
	File       readiness.ReadyFile
	EnqueuedAt time.Time
}

// Outcome describes a successfully finished task.
type Outcome struct {
	Transformed bool
	Bytes       int64
}

// TaskFunc processes one task. It runs synchronously on a worker goroutine
// and must honour ctx cancellation.
type TaskFunc func(ctx context.Context, task Task) (Outcome, error)

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of concurrent workers; values below 1 mean 1.
	Workers int
	// QueueSize bounds the number of accepted tasks waiting for a worker.
	// Zero means twice the number of workers.
	QueueSize int
	Handle    TaskFunc
	// OnFailure receives every task failure. It is called from worker
	// goroutines and must not block for long.
	OnFailure func(ingesterrors.Failure)
	Logger    logging.Logger
	Metrics   *Metrics
}

// Dispatcher runs tasks on a fixed pool of workers.
type Dispatcher struct {
	workers   int
	queue     chan Task
	handle    TaskFunc
	onFailure func(ingesterrors.Failure)
	inflight  *InFlight
	metrics   *Metrics
	logger    logging.Logger

	// sendMu is held for reading while a Submit is sending on queue and for
	// writing while Shutdown closes it.
	sendMu    sync.RWMutex
	closing   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	startOnce sync.Once
	workerWg  sync.WaitGroup
	done      chan struct{}
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// New creates a dispatcher. Workers are not running until Start is called.
func New(opts Options) (*Dispatcher, error) {
	if opts.Handle == nil {
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeConfigInvalid, "dispatcher requires a task handler")
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 2 * workers
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	return &Dispatcher{
		workers:   workers,
		queue:     make(chan Task, queueSize),
		handle:    opts.Handle,
		onFailure: opts.OnFailure,
		inflight:  NewInFlight(),
		metrics:   metrics,
		logger:    logger.WithComponent("dispatcher"),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start launches the workers. Cancelling ctx aborts running tasks and makes
// the workers drop whatever is still queued; use Shutdown for an orderly
// drain. Calls after the first are no-ops.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		ctx, d.cancel = context.WithCancel(ctx)
		for i := 0; i < d.workers; i++ {
			d.workerWg.Add(1)
			go d.worker(ctx, i)
		}
		go func() {
			d.workerWg.Wait()
			close(d.done)
		}()

		d.logger.Debug(ctx, "workers started", "workers", d.workers, "queue_size", cap(d.queue))
	})
}

// Submit hands a ready file to the pool. It returns false without error when
// the path is already in flight. When the queue is full Submit blocks until
// a worker frees a slot, ctx is cancelled, or Shutdown begins.
func (d *Dispatcher) Submit(ctx context.Context, file readiness.ReadyFile) (bool, error) {
	if d.closed.Load() {
		return false, ErrDispatcherClosed
	}
	if !d.inflight.Add(file.Path) {
		d.metrics.RecordDuplicate()
		d.logger.Debug(ctx, "duplicate submission ignored", "path", file.Path)
		return false, nil
	}

	task := Task{
		ID:         uuid.NewString(),
		File:       file,
		EnqueuedAt: time.Now(),
	}

	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed.Load() {
		d.inflight.Remove(file.Path)
		return false, ErrDispatcherClosed
	}

	select {
	case d.queue <- task:
		d.metrics.RecordSubmitted()
		return true, nil
	case <-ctx.Done():
		d.inflight.Remove(file.Path)
		return false, ctx.Err()
	case <-d.closing:
		d.inflight.Remove(file.Path)
		return false, ErrDispatcherClosed
	}
}

// Shutdown stops accepting work and waits for queued and running tasks to
// finish. If ctx ends first the workers' context is cancelled, which aborts
// running tasks, and ctx.Err() is returned without waiting further.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.closing)
		d.sendMu.Lock()
		close(d.queue)
		d.sendMu.Unlock()
	})

	// Never started: nothing will consume the queue.
	d.startOnce.Do(func() {
		for task := range d.queue {
			d.inflight.Remove(task.File.Path)
			d.metrics.RecordAbandoned()
		}
		close(d.done)
	})

	select {
	case <-d.done:
		d.logger.Debug(ctx, "workers drained")
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		if d.cancel != nil {
			d.cancel()
		}
		d.mu.Unlock()
		d.logger.Warn(ctx, ctx.Err(), "drain deadline exceeded, aborting running tasks",
			"in_flight", d.inflight.Len())
		return ctx.Err()
	}
}

// Done is closed once every worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// InFlight returns the set of paths currently owned by the pool.
func (d *Dispatcher) InFlight() *InFlight {
	return d.inflight
}

// Metrics returns the dispatcher's metrics.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Workers returns the number of workers.
func (d *Dispatcher) Workers() int {
	return d.workers
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.workerWg.Done()

	for task := range d.queue {
		if ctx.Err() != nil {
			d.inflight.Remove(task.File.Path)
			d.metrics.RecordAbandoned()
			continue
		}
		d.run(ctx, id, task)
	}
}

// run executes one task and always releases its path afterwards.
func (d *Dispatcher) run(ctx context.Context, workerID int, task Task) {
	defer d.inflight.Remove(task.File.Path)

	op := logging.StartOperation(d.logger, "process",
		"task_id", task.ID, "path", task.File.Path, "worker", workerID)

	outcome, err := d.safeHandle(ctx, task)
	d.metrics.RecordTask(outcome, err, op.Elapsed())

	if err != nil {
		fields := make([]interface{}, 0, 8)
		for k, v := range ingesterrors.GetErrorContext(err) {
			if k != "path" && k != "message" {
				fields = append(fields, "error_"+k, v)
			}
		}
		op.EndWithError(ctx, err, "task failed", fields...)
		if d.onFailure != nil {
			d.onFailure(ingesterrors.Failure{
				TaskID: task.ID,
				Path:   task.File.Path,
				Err:    err,
			})
		}
		return
	}

	op.End(ctx, "task completed",
		"transformed", outcome.Transformed,
		"size", humanize.Bytes(uint64(outcome.Bytes)),
		"queued_ms", time.Since(task.EnqueuedAt).Milliseconds())
}

// safeHandle converts a panic in the handler into an internal error so one
// bad file cannot take down a worker.
func (d *Dispatcher) safeHandle(ctx context.Context, task Task) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{}
			err = ingesterrors.FromPanic(r, task.File.Path).WithComponent("dispatcher")
		}
	}()
	return d.handle(ctx, task)
}
