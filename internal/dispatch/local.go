package dispatch

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when the in-process buffer has no room.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Local runs tasks on an in-process worker pool fed by a buffered channel.
type Local struct {
	registry *Registry
	opts     options
	metrics  *dispatchMetrics

	mu     sync.RWMutex
	closed bool
	queue  chan Task
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewLocal starts the workers immediately.
func NewLocal(registry *Registry, opts ...Option) *Local {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Local{
		registry: registry,
		opts:     o,
		metrics:  globalDispatchMetrics(),
		queue:    make(chan Task, o.QueueSize),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for i := 0; i < o.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Dispatch enqueues task without waiting for it to run.
func (l *Local) Dispatch(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- task:
		l.metrics.enqueued(task.Kind, "local")
		return nil
	default:
		l.metrics.rejected(task.Kind, "local")
		return ErrQueueFull
	}
}

// Close stops intake and waits for queued tasks to finish.
// If ctx expires first the running handlers are cancelled.
func (l *Local) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.cancel()
		<-done
		return ctx.Err()
	}
}

// Pending returns the number of queued tasks not yet picked up.
func (l *Local) Pending() int {
	return len(l.queue)
}

func (l *Local) worker() {
	defer l.wg.Done()
	for task := range l.queue {
		runTask(l.baseCtx, l.registry, task, l.opts, l.metrics, "local")
	}
}

// runTask executes one task with the configured timeout and logs failures.
func runTask(parent context.Context, registry *Registry, task Task, o options, m *dispatchMetrics, backend string) error {
	ctx, cancel := context.WithTimeout(parent, o.Timeout)
	defer cancel()

	done := m.started(task.Kind, backend)
	err := registry.Handle(ctx, task)
	done(err)
	if err != nil {
		o.Logger.Printf("dispatch: task %s (%s) failed: %v", task.ID, task.Kind, err)
	}
	return err
}
