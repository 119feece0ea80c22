// Package assessment decides whether an imported ticket is specified well
// enough to be split into jobs.
package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/goatkit/ticketforge/internal/completion"
	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/prompts"
	"github.com/goatkit/ticketforge/internal/tracker"
)

// MaxReasonLength bounds the reason taken from an unparseable response.
const MaxReasonLength = 200

type ticketStore interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	SetVerdict(ctx context.Context, id int64, verdict models.Verdict, reason string, creatingJobs bool) error
	SetCreatingJobs(ctx context.Context, id int64, creating bool) error
}

// AssessInput is the ticket content to classify.
type AssessInput struct {
	TicketID    int64
	Title       string
	Description string
}

// Verdict is the classifier decision.
type Verdict struct {
	Rejected bool   `json:"rejected"`
	Reason   string `json:"reason"`
	// Heuristic is set when the response held no parseable JSON.
	Heuristic bool `json:"-"`
}

// Service runs ticket assessments.
type Service struct {
	tickets    ticketStore
	completer  completion.Completer
	dispatcher dispatch.Dispatcher
	prompt     *prompts.Prompt
	model      string
	logger     *log.Logger
	metrics    *assessmentMetrics
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

// WithPrompt replaces the bundled assessment prompt.
func WithPrompt(p *prompts.Prompt) Option {
	return func(s *Service) {
		if p != nil {
			s.prompt = p
		}
	}
}

// NewService creates an assessment service. completer should already carry
// the retry policy (see completion.WithRetry).
func NewService(tickets ticketStore, completer completion.Completer, dispatcher dispatch.Dispatcher, opts ...Option) (*Service, error) {
	prompt, err := prompts.Load(prompts.Assessment)
	if err != nil {
		return nil, err
	}
	s := &Service{
		tickets:    tickets,
		completer:  completer,
		dispatcher: dispatcher,
		prompt:     prompt,
		logger:     log.New(log.Writer(), "[ASSESSMENT] ", log.LstdFlags),
		metrics:    globalAssessmentMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Assess classifies one ticket, stores the verdict and schedules the follow-up:
// a split for accepted tickets, a tracker notification for rejected ones.
// Nothing is written when the completion call fails.
func (s *Service) Assess(ctx context.Context, in AssessInput) (*Verdict, error) {
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
		s.metrics.record("error")
		if errors.Is(err, completion.ErrNotConfigured) {
			s.logger.Printf("assessment: ticket %d skipped: %v", in.TicketID, err)
			return nil, err
		}
		return nil, fmt.Errorf("assess ticket %d: %w", in.TicketID, err)
	}

	verdict := ParseVerdict(content)
	if verdict.Heuristic {
		s.logger.Printf("assessment: ticket %d response was not JSON, used keyword heuristic", in.TicketID)
	}

	if verdict.Rejected {
		if err := s.tickets.SetVerdict(ctx, in.TicketID, models.VerdictRejected, verdict.Reason, false); err != nil {
			return nil, fmt.Errorf("store verdict for ticket %d: %w", in.TicketID, err)
		}
		s.metrics.record("rejected")
		err := dispatch.Submit(ctx, s.dispatcher, dispatch.KindTrackerNotify, dispatch.NotifyPayload{
			TicketID: in.TicketID,
			Status:   string(tracker.StatusRejected),
		})
		if err != nil {
			s.logger.Printf("assessment: ticket %d rejection notice not scheduled: %v", in.TicketID, err)
		}
		return verdict, nil
	}

	// verdict and flag land in one write so the split is only ever
	// scheduled after the accepted verdict is committed
	if err := s.tickets.SetVerdict(ctx, in.TicketID, models.VerdictAccepted, verdict.Reason, true); err != nil {
		return nil, fmt.Errorf("store verdict for ticket %d: %w", in.TicketID, err)
	}
	s.metrics.record("accepted")
	if err := dispatch.Submit(ctx, s.dispatcher, dispatch.KindSplitTicket, dispatch.TicketPayload{TicketID: in.TicketID}); err != nil {
		s.logger.Printf("assessment: ticket %d split not scheduled: %v", in.TicketID, err)
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if cerr := s.tickets.SetCreatingJobs(clearCtx, in.TicketID, false); cerr != nil {
			s.logger.Printf("assessment: ticket %d creating_jobs not cleared: %v", in.TicketID, cerr)
		}
	}
	return verdict, nil
}

// HandleTask is the dispatch handler for dispatch.KindAssessTicket.
func (s *Service) HandleTask(ctx context.Context, task dispatch.Task) error {
	var p dispatch.TicketPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	ticket, err := s.tickets.GetByID(ctx, p.TicketID)
	if err != nil {
		return err
	}
	_, err = s.Assess(ctx, AssessInput{
		TicketID:    ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
	})
	return err
}

var rejectKeywords = []string{"reject", "incomplete", "insufficient"}

// ParseVerdict reads {"rejected": bool, "reason": string} from the first
// JSON object in content. Any object that decodes is a verdict, and a missing
// rejected flag means accepted. Only text without a decodable object falls
// back to a keyword scan.
func ParseVerdict(content string) *Verdict {
	if span, ok := completion.FirstJSONObject(content); ok {
		var raw struct {
			Rejected any    `json:"rejected"`
			Reason   any    `json:"reason"`
			Verdict  string `json:"verdict"`
		}
		if err := json.Unmarshal([]byte(span), &raw); err == nil {
			v := &Verdict{Rejected: truthy(raw.Rejected), Reason: reasonText(raw.Reason)}
			if raw.Rejected == nil {
				v.Rejected = strings.EqualFold(strings.TrimSpace(raw.Verdict), "rejected")
			}
			return v
		}
	}

	lower := strings.ToLower(content)
	rejected := false
	for _, kw := range rejectKeywords {
		if strings.Contains(lower, kw) {
			rejected = true
			break
		}
	}
	return &Verdict{
		Rejected:  rejected,
		Reason:    completion.Truncate(strings.TrimSpace(content), MaxReasonLength),
		Heuristic: true,
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	case float64:
		return b != 0
	}
	return false
}

func reasonText(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case nil:
		return ""
	default:
		b, _ := json.Marshal(r)
		return string(b)
	}
}
