// Package ticketsync imports tickets from each project's tracker export and
// queues new or changed tickets for assessment.
package ticketsync

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"

	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/repository"
)

type projectStore interface {
	GetCredentials(ctx context.Context, projectID int64) (*models.Credentials, error)
	ListTrackerSources(ctx context.Context) ([]*models.Credentials, error)
}

type ticketStore interface {
	Upsert(ctx context.Context, projectID int64, ext models.ExternalTicket) (*repository.UpsertResult, error)
}

// Fetcher reads a tracker export.
type Fetcher interface {
	FetchTickets(ctx context.Context, url string) ([]models.ExternalTicket, error)
}

// SyncResult counts what one project sync did. Total is the number of
// tickets read from the export.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// ProjectFailure records a project whose sync failed during a sweep.
type ProjectFailure struct {
	ProjectID int64  `json:"project_id"`
	Error     string `json:"error"`
}

// SweepResult aggregates a sync over every project with a tracker source.
type SweepResult struct {
	Projects     int              `json:"projects"`
	TotalAdded   int              `json:"total_added"`
	TotalUpdated int              `json:"total_updated"`
	TotalSeen    int              `json:"total_seen"`
	Failed       []ProjectFailure `json:"failed,omitempty"`
}

// Service synchronises tracker exports into the tickets table.
type Service struct {
	projects   projectStore
	tickets    ticketStore
	fetcher    Fetcher
	dispatcher dispatch.Dispatcher
	policy     *bluemonday.Policy
	logger     *log.Logger
	metrics    *syncMetrics
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

// NewService creates a ticket sync service.
func NewService(projects projectStore, tickets ticketStore, fetcher Fetcher, dispatcher dispatch.Dispatcher, opts ...Option) *Service {
	s := &Service{
		projects:   projects,
		tickets:    tickets,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		policy:     bluemonday.StrictPolicy(),
		logger:     log.New(log.Writer(), "[TICKET-SYNC] ", log.LstdFlags),
		metrics:    globalSyncMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync imports the tracker export of one project. A project without a
// tracker source URL yields an empty result.
func (s *Service) Sync(ctx context.Context, projectID int64) (*SyncResult, error) {
	creds, err := s.projects.GetCredentials(ctx, projectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("sync project %d: %w", projectID, err)
	}
	if !creds.HasTrackerSource() {
		return &SyncResult{}, nil
	}
	return s.syncSource(ctx, projectID, creds.TrackerSourceURL)
}

func (s *Service) syncSource(ctx context.Context, projectID int64, url string) (*SyncResult, error) {
	start := time.Now()
	external, err := s.fetcher.FetchTickets(ctx, url)
	if err != nil {
		s.metrics.recordRun("error", time.Since(start))
		return nil, fmt.Errorf("sync project %d: %w", projectID, err)
	}

	result := &SyncResult{Total: len(external)}
	var toAssess []int64
	var upsertErr error
	for _, ext := range external {
		ext = s.normalize(ext)
		res, err := s.tickets.Upsert(ctx, projectID, ext)
		if err != nil {
			upsertErr = fmt.Errorf("sync project %d: %w", projectID, err)
			break
		}
		switch res.Action {
		case repository.UpsertAdded:
			result.Added++
			toAssess = append(toAssess, res.TicketID)
		case repository.UpsertUpdated:
			result.Updated++
			toAssess = append(toAssess, res.TicketID)
		}
	}

	// committed tickets are queued even when a later upsert failed
	for _, id := range toAssess {
		if err := dispatch.Submit(ctx, s.dispatcher, dispatch.KindAssessTicket, dispatch.TicketPayload{TicketID: id}); err != nil {
			s.logger.Printf("sync: ticket %d assessment not scheduled: %v", id, err)
		}
	}

	s.metrics.recordTickets(result.Added, result.Updated)
	if upsertErr != nil {
		s.metrics.recordRun("error", time.Since(start))
		return nil, upsertErr
	}
	s.metrics.recordRun("success", time.Since(start))
	s.logger.Printf("sync: project %d: %d added, %d updated, %d seen", projectID, result.Added, result.Updated, result.Total)
	return result, nil
}

// SyncAll syncs every project with a tracker source. A failing project is
// recorded in the result and the sweep continues.
func (s *Service) SyncAll(ctx context.Context) (*SweepResult, error) {
	sources, err := s.projects.ListTrackerSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync sweep: %w", err)
	}
	sweep := &SweepResult{}
	for _, creds := range sources {
		if err := ctx.Err(); err != nil {
			return sweep, err
		}
		if !creds.HasTrackerSource() {
			continue
		}
		sweep.Projects++
		res, err := s.syncSource(ctx, creds.ProjectID, creds.TrackerSourceURL)
		if err != nil {
			s.logger.Printf("sync: project %d failed: %v", creds.ProjectID, err)
			sweep.Failed = append(sweep.Failed, ProjectFailure{ProjectID: creds.ProjectID, Error: err.Error()})
			continue
		}
		sweep.TotalAdded += res.Added
		sweep.TotalUpdated += res.Updated
		sweep.TotalSeen += res.Total
	}
	s.logger.Printf("sync: sweep over %d projects: %d added, %d updated, %d seen, %d failed",
		sweep.Projects, sweep.TotalAdded, sweep.TotalUpdated, sweep.TotalSeen, len(sweep.Failed))
	return sweep, nil
}

// RunSweep runs SyncAll for the scheduler.
func (s *Service) RunSweep(ctx context.Context) error {
	_, err := s.SyncAll(ctx)
	return err
}

// normalize strips markup, applies NFC and trims the text fields.
func (s *Service) normalize(ext models.ExternalTicket) models.ExternalTicket {
	ext.ExternalID = strings.TrimSpace(ext.ExternalID)
	ext.Title = s.cleanText(ext.Title)
	ext.Description = s.cleanText(ext.Description)
	return ext
}

func (s *Service) cleanText(v string) string {
	if strings.ContainsAny(v, "<>") {
		// StrictPolicy escapes entities in what it keeps
		v = html.UnescapeString(s.policy.Sanitize(v))
	}
	return strings.TrimSpace(norm.NFC.String(v))
}
