// Package dispatch runs follow-up work without blocking the caller.
// Producers build a Task and hand it to a Dispatcher; workers route it to
// the handler registered for its Kind.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a unit of background work.
type Kind string

const (
	KindAssessTicket    Kind = "ticket.assess"
	KindSplitTicket     Kind = "ticket.split"
	KindReconcileTicket Kind = "ticket.reconcile"
	KindTrackerNotify   Kind = "tracker.notify"
)

// Task is one queued unit of work.
type Task struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Dispatcher accepts tasks for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// NewTask marshals payload into a new task.
func NewTask(kind Kind, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("dispatch: marshal %s payload: %w", kind, err)
	}
	return Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("dispatch: decode %s payload: %w", t.Kind, err)
	}
	return nil
}

// Submit builds a task and dispatches it.
func Submit(ctx context.Context, d Dispatcher, kind Kind, payload any) error {
	task, err := NewTask(kind, payload)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, task)
}

// TicketPayload identifies the ticket a task operates on.
type TicketPayload struct {
	TicketID int64 `json:"ticket_id"`
}

// NotifyPayload asks for a tracker status push.
type NotifyPayload struct {
	TicketID int64  `json:"ticket_id"`
	Status   string `json:"status"`
}
