package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher runs posted tasks one at a time, in FIFO order, on the goroutine
// that called Run.
//
// A Dispatcher can be suspended: tasks keep queueing but none run until
// Resume. Suspend and Resume are idempotent and safe from any goroutine.
//
// Panics raised by a task are recovered and logged; the loop continues with
// the next task. Application callbacks run on dispatchers, and a buggy
// callback must not take the communicator down.
type Dispatcher struct {
	name   string
	queue  *taskQueue
	logger *slog.Logger

	mu        sync.Mutex
	suspended bool
	resume    chan struct{} // buffered, size 1
	stopped   chan struct{}
	stopOnce  sync.Once
}

// NewDispatcher creates an active (not suspended) dispatcher.
func NewDispatcher(name string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		name:    name,
		queue:   newTaskQueue(),
		logger:  logger.With("dispatcher", name),
		resume:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Post enqueues t. Safe from any goroutine.
// Returns false if the dispatcher has been stopped.
func (d *Dispatcher) Post(t Task) bool {
	return d.queue.Enqueue(t)
}

// Suspend pauses task execution. Idempotent.
func (d *Dispatcher) Suspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.suspended {
		d.logger.Debug("dispatcher suspended")
	}
	d.suspended = true
}

// Resume restarts task execution. Idempotent.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	wasSuspended := d.suspended
	d.suspended = false
	d.mu.Unlock()

	if wasSuspended {
		d.logger.Debug("dispatcher resumed")
	}
	select {
	case d.resume <- struct{}{}:
	default:
	}
}

// Suspended reports whether task execution is paused.
func (d *Dispatcher) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// Len returns the number of queued tasks.
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// Run executes tasks until ctx is cancelled or Stop is called.
// Must be called from exactly one goroutine.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Debug("dispatcher starting")
	defer d.queue.Close()

	for {
		if d.Suspended() {
			select {
			case <-ctx.Done():
				d.logger.Debug("dispatcher stopping: context cancelled")
				return ctx.Err()
			case <-d.stopped:
				return nil
			case <-d.resume:
				continue
			}
		}

		if task, ok := d.queue.TryDequeue(); ok {
			d.runTask(task)
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Debug("dispatcher stopping: context cancelled")
			return ctx.Err()
		case <-d.stopped:
			return nil
		case <-d.resume:
		case <-d.queue.Wait():
			// The signal channel closes with the queue; exit once drained.
			if d.queue.isClosed() && d.queue.Len() == 0 {
				return nil
			}
		}
	}
}

// Stop makes Run return. Queued tasks are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.queue.Close()
		close(d.stopped)
	})
}

func (d *Dispatcher) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	task()
}
