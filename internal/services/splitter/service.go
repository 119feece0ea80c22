// Package splitter breaks an accepted ticket into independently implementable jobs.
package splitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/goatkit/ticketforge/internal/completion"
	"github.com/goatkit/ticketforge/internal/convert"
	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/prompts"
	"github.com/goatkit/ticketforge/internal/repository"
)

const (
	DefaultJobTitle = "Untitled Job"
	DefaultJobTasks = "No tasks specified"

	cleanupTimeout = 10 * time.Second
)

// ErrInvalidJobs is returned when the response holds no usable jobs array.
var ErrInvalidJobs = errors.New("splitter: response has no jobs array")

const jobsSchema = `{
	"type": "object",
	"required": ["jobs"],
	"properties": {
		"jobs": {"type": "array"}
	}
}`

var schema = mustSchema(jobsSchema)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(err)
	}
	return s
}

type ticketStore interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	SetCreatingJobs(ctx context.Context, id int64, creating bool) error
}

type jobStore interface {
	CreateBatch(ctx context.Context, ticketID, projectID int64, drafts []models.JobDraft) ([]int64, error)
}

// SplitInput is the accepted ticket to split.
type SplitInput struct {
	TicketID    int64
	ProjectID   int64
	Title       string
	Description string
}

// SplitResult reports the persisted jobs.
type SplitResult struct {
	JobsCreated int
	JobIDs      []int64
}

// Service runs ticket splits.
type Service struct {
	tickets   ticketStore
	jobs      jobStore
	completer completion.Completer
	prompt    *prompts.Prompt
	model     string
	logger    *log.Logger
	metrics   *splitterMetrics
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

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// NewService creates a splitter. completer should already carry the retry policy.
func NewService(tickets ticketStore, jobs jobStore, completer completion.Completer, opts ...Option) (*Service, error) {
	prompt, err := prompts.Load(prompts.Splitting)
	if err != nil {
		return nil, err
	}
	s := &Service{
		tickets:   tickets,
		jobs:      jobs,
		completer: completer,
		prompt:    prompt,
		logger:    log.New(log.Writer(), "[SPLITTER] ", log.LstdFlags),
		metrics:   globalSplitterMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Split asks the completion API for a job breakdown and stores every returned
// job in one transaction. The ticket's creating_jobs flag is cleared on every
// exit path.
func (s *Service) Split(ctx context.Context, in SplitInput) (result *SplitResult, err error) {
	err = s.withJobCreation(ctx, in.TicketID, func() error {
		drafts, err := s.requestJobs(ctx, in)
		if err != nil {
			return err
		}
		ids, err := s.jobs.CreateBatch(ctx, in.TicketID, in.ProjectID, drafts)
		if err != nil {
			return fmt.Errorf("store jobs for ticket %d: %w", in.TicketID, err)
		}
		result = &SplitResult{JobsCreated: len(ids), JobIDs: ids}
		return nil
	})
	if err != nil {
		s.metrics.record("error", 0)
		s.logger.Printf("splitter: ticket %d: %v", in.TicketID, err)
		return nil, err
	}
	s.metrics.record("created", result.JobsCreated)
	s.logger.Printf("splitter: ticket %d split into %d jobs", in.TicketID, result.JobsCreated)
	return result, nil
}

// withJobCreation runs fn and then clears the ticket's creating_jobs flag.
// A panic in fn is returned as an error after the flag is cleared.
func (s *Service) withJobCreation(ctx context.Context, ticketID int64, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("splitter: panic while creating jobs: %v", r)
		}
		if cerr := s.releaseJobCreation(ctx, ticketID); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn()
}

// releaseJobCreation clears creating_jobs on a context detached from ctx, so
// cancelled or timed-out callers still release the flag.
func (s *Service) releaseJobCreation(ctx context.Context, ticketID int64) error {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err := s.tickets.SetCreatingJobs(clearCtx, ticketID, false)
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	s.logger.Printf("splitter: ticket %d creating_jobs not cleared: %v", ticketID, err)
	return fmt.Errorf("clear creating_jobs: %w", err)
}

func (s *Service) requestJobs(ctx context.Context, in SplitInput) ([]models.JobDraft, error) {
	if s.completer == nil {
		return nil, completion.ErrNotConfigured
	}
	text, err := s.prompt.Render(map[string]any{
		"title":       in.Title,
		"description": in.Description,
	})
	if err != nil {
		return nil, err
	}
	content, err := s.completer.Complete(ctx, completion.Request{
		Prompt:      text,
		MaxTokens:   s.prompt.MaxTokens,
		Temperature: s.prompt.Temperature,
		Model:       s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("split ticket %d: %w", in.TicketID, err)
	}
	return ParseJobs(content)
}

// ParseJobs extracts job drafts from a completion response. Entries are
// never dropped; missing titles and tasks get placeholder text.
func ParseJobs(content string) ([]models.JobDraft, error) {
	span, ok := completion.FirstJSONObject(completion.StripCodeFences(content))
	if !ok {
		return nil, ErrInvalidJobs
	}
	res, err := schema.Validate(gojsonschema.NewStringLoader(span))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobs, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidJobs, strings.Join(msgs, "; "))
	}

	var payload struct {
		Jobs []any `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(span), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobs, err)
	}
	drafts := make([]models.JobDraft, 0, len(payload.Jobs))
	for _, entry := range payload.Jobs {
		fields, _ := entry.(map[string]any)
		drafts = append(drafts, models.JobDraft{
			Title: convert.ToNonEmptyString(fields["title"], DefaultJobTitle),
			Tasks: convert.ToNonEmptyString(fields["tasks"], DefaultJobTasks),
		})
	}
	return drafts, nil
}

// HandleTask is the dispatch handler for dispatch.KindSplitTicket.
func (s *Service) HandleTask(ctx context.Context, task dispatch.Task) error {
	var p dispatch.TicketPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	ticket, err := s.tickets.GetByID(ctx, p.TicketID)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Printf("splitter: ticket %d no longer exists, skipping", p.TicketID)
		return nil
	}
	if err != nil {
		s.metrics.record("error", 0)
		return errors.Join(fmt.Errorf("load ticket %d: %w", p.TicketID, err), s.releaseJobCreation(ctx, p.TicketID))
	}
	if !ticket.Accepted() {
		s.logger.Printf("splitter: ticket %d is not accepted, skipping", ticket.ID)
		if ticket.CreatingJobs {
			return s.releaseJobCreation(ctx, ticket.ID)
		}
		return nil
	}
	_, err = s.Split(ctx, SplitInput{
		TicketID:    ticket.ID,
		ProjectID:   ticket.ProjectID,
		Title:       ticket.Title,
		Description: ticket.Description,
	})
	return err
}
