// Package reconcile records job completion and pushes the final ticket status
// to the tracker once every job of a ticket is done.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/repository"
	"github.com/goatkit/ticketforge/internal/tracker"
)

var (
	// ErrTicketNotFound is returned when the ticket to reconcile does not exist.
	ErrTicketNotFound = errors.New("reconcile: ticket not found")
	// ErrInvalidCompletion rejects a completion without a change request id or finish time.
	ErrInvalidCompletion = errors.New("reconcile: change request id and finish time are required")
)

// Status is the result class of a reconcile check.
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// Skip reasons.
const (
	ReasonNoJobs     = "no jobs"
	ReasonIncomplete = "incomplete"
	ReasonNoTracker  = "no tracker url"
)

// Outcome reports what CheckAndReconcile did.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type ticketStore interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
}

type jobStore interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]*models.Job, error)
	MarkFinished(ctx context.Context, id int64, prID string, finishedAt time.Time) (bool, error)
}

type credentialStore interface {
	GetCredentials(ctx context.Context, projectID int64) (*models.Credentials, error)
}

// Notifier pushes a status change to the tracker.
type Notifier interface {
	UpdateStatus(ctx context.Context, url, externalID string, status tracker.Status) error
}

// Service ties job completion to tracker status updates.
type Service struct {
	tickets    ticketStore
	jobs       jobStore
	creds      credentialStore
	notifier   Notifier
	dispatcher dispatch.Dispatcher
	logger     *log.Logger
	metrics    *reconcileMetrics
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a reconcile service.
func NewService(tickets ticketStore, jobs jobStore, creds credentialStore, notifier Notifier, dispatcher dispatch.Dispatcher, opts ...Option) *Service {
	s := &Service{
		tickets:    tickets,
		jobs:       jobs,
		creds:      creds,
		notifier:   notifier,
		dispatcher: dispatcher,
		logger:     log.New(log.Writer(), "[RECONCILE] ", log.LstdFlags),
		metrics:    globalReconcileMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnJobFinished records that a job produced a change request and schedules a
// reconcile of its ticket. A job that was already finished keeps its first
// values and no reconcile is scheduled.
func (s *Service) OnJobFinished(ctx context.Context, jobID int64, prID string, finishedAt time.Time) error {
	prID = strings.TrimSpace(prID)
	if prID == "" || finishedAt.IsZero() {
		return ErrInvalidCompletion
	}
	applied, err := s.jobs.MarkFinished(ctx, jobID, prID, finishedAt)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", jobID, err)
	}
	if !applied {
		s.logger.Printf("reconcile: job %d was already finished", jobID)
		return nil
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("finish job %d: %w", jobID, err)
	}
	if err := dispatch.Submit(ctx, s.dispatcher, dispatch.KindReconcileTicket, dispatch.TicketPayload{TicketID: job.TicketID}); err != nil {
		s.logger.Printf("reconcile: ticket %d reconcile not scheduled: %v", job.TicketID, err)
	}
	return nil
}

// CheckAndReconcile pushes status done to the tracker when every job of the
// ticket is complete. A failed push is reported, never retried, and local
// state is left as is.
func (s *Service) CheckAndReconcile(ctx context.Context, ticketID int64) (*Outcome, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
		}
		return nil, err
	}

	jobs, err := s.jobs.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return s.skip(ticketID, ReasonNoJobs), nil
	}
	if !models.AllJobsComplete(jobs) {
		return s.skip(ticketID, ReasonIncomplete), nil
	}

	url, err := s.trackerURL(ctx, ticket.ProjectID)
	if err != nil {
		return nil, err
	}
	if url == "" {
		return s.skip(ticketID, ReasonNoTracker), nil
	}

	if err := s.notifier.UpdateStatus(ctx, url, ticket.ExternalID, tracker.StatusDone); err != nil {
		s.logger.Printf("reconcile: ticket %d status update failed: %v", ticketID, err)
		s.metrics.record(StatusFailed)
		return &Outcome{Status: StatusFailed, Reason: err.Error()}, fmt.Errorf("reconcile ticket %d: %w", ticketID, err)
	}
	s.metrics.record(StatusSynced)
	s.logger.Printf("reconcile: ticket %d (%s) marked done on tracker", ticketID, ticket.ExternalID)
	return &Outcome{Status: StatusSynced}, nil
}

func (s *Service) skip(ticketID int64, reason string) *Outcome {
	s.metrics.record(StatusSkipped)
	s.logger.Printf("reconcile: ticket %d skipped: %s", ticketID, reason)
	return &Outcome{Status: StatusSkipped, Reason: reason}
}

func (s *Service) trackerURL(ctx context.Context, projectID int64) (string, error) {
	creds, err := s.creds.GetCredentials(ctx, projectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	if !creds.HasTrackerSource() {
		return "", nil
	}
	return strings.TrimSpace(creds.TrackerSourceURL), nil
}

// Notify pushes an arbitrary status for one ticket, used for rejections.
// A project without a tracker URL is skipped.
func (s *Service) Notify(ctx context.Context, ticketID int64, status tracker.Status) error {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrTicketNotFound, ticketID)
		}
		return err
	}
	url, err := s.trackerURL(ctx, ticket.ProjectID)
	if err != nil {
		return err
	}
	if url == "" {
		s.logger.Printf("reconcile: ticket %d has no tracker url, status %s not sent", ticketID, status)
		return nil
	}
	if err := s.notifier.UpdateStatus(ctx, url, ticket.ExternalID, status); err != nil {
		s.logger.Printf("reconcile: ticket %d status %s not sent: %v", ticketID, status, err)
		return err
	}
	return nil
}

// HandleReconcileTask is the dispatch handler for dispatch.KindReconcileTicket.
func (s *Service) HandleReconcileTask(ctx context.Context, task dispatch.Task) error {
	var p dispatch.TicketPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	_, err := s.CheckAndReconcile(ctx, p.TicketID)
	return err
}

// HandleNotifyTask is the dispatch handler for dispatch.KindTrackerNotify.
func (s *Service) HandleNotifyTask(ctx context.Context, task dispatch.Task) error {
	var p dispatch.NotifyPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	return s.Notify(ctx, p.TicketID, tracker.Status(p.Status))
}
