package dispatch

import (
	"context"
	"sync"
)

// Recorder is a Dispatcher that stores tasks instead of running them.
type Recorder struct {
	mu    sync.Mutex
	tasks []Task
	// Err, when set, is returned by Dispatch and nothing is recorded.
	Err error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Dispatch records task.
func (r *Recorder) Dispatch(_ context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

// Tasks returns a copy of the recorded tasks.
func (r *Recorder) Tasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

// OfKind returns the recorded tasks with the given kind.
func (r *Recorder) OfKind(kind Kind) []Task {
	var out []Task
	for _, t := range r.Tasks() {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Reset forgets recorded tasks.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = nil
}

// Drain runs recorded tasks through registry in FIFO order, including
// tasks recorded while draining, and returns the handler errors.
func (r *Recorder) Drain(ctx context.Context, registry *Registry) []error {
	var errs []error
	for {
		r.mu.Lock()
		if len(r.tasks) == 0 {
			r.mu.Unlock()
			return errs
		}
		task := r.tasks[0]
		r.tasks = r.tasks[1:]
		r.mu.Unlock()

		if err := registry.Handle(ctx, task); err != nil {
			errs = append(errs, err)
		}
	}
}
