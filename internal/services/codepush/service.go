// Package codepush turns a job into a pull request: it asks the completion
// API for file contents, commits them on a fresh branch and records the
// pull request as the job's completion.
package codepush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goatkit/ticketforge/internal/completion"
	"github.com/goatkit/ticketforge/internal/convert"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/prompts"
	"github.com/goatkit/ticketforge/internal/vcs"
)

var (
	// ErrNotConfigured is returned when the project has no repository or no token.
	ErrNotConfigured = errors.New("codepush: repository or access token not configured")
	// ErrAlreadyFinished is returned for a job that already has a pull request.
	ErrAlreadyFinished = errors.New("codepush: job already finished")
	// ErrInvalidResponse is returned when the generated payload has no files.
	ErrInvalidResponse = errors.New("codepush: response has no files")
)

type jobStore interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
}

type ticketStore interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
}

type credentialStore interface {
	GetCredentials(ctx context.Context, projectID int64) (*models.Credentials, error)
}

// Finisher records job completion.
type Finisher interface {
	OnJobFinished(ctx context.Context, jobID int64, prID string, finishedAt time.Time) error
}

// Generated is the code produced for one job.
type Generated struct {
	Files         []vcs.FileChange `json:"files"`
	CommitMessage string           `json:"commitMessage"`
	BranchName    string           `json:"branchName"`
}

// PushResult reports the pull request opened for a job.
type PushResult struct {
	JobID             int64  `json:"job_id"`
	Branch            string `json:"branch"`
	CommitSHA         string `json:"commit_sha"`
	PullRequestNumber int    `json:"pull_request_number"`
	PullRequestURL    string `json:"pull_request_url"`
	Files             int    `json:"files"`
	Simulated         bool   `json:"simulated"`
}

// Service pushes generated code for jobs.
type Service struct {
	jobs      jobStore
	tickets   ticketStore
	creds     credentialStore
	completer completion.Completer
	retrier   *completion.Retrier
	vcs       *vcs.Client
	finisher  Finisher
	prompt    *prompts.Prompt
	botToken  string
	logger    *log.Logger
	now       func() time.Time
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

// WithBotToken sets the token used when a project has none.
func WithBotToken(token string) Option {
	return func(s *Service) { s.botToken = strings.TrimSpace(token) }
}

// WithRetrier replaces the default retry policy for code generation.
func WithRetrier(r *completion.Retrier) Option {
	return func(s *Service) {
		if r != nil {
			s.retrier = r
		}
	}
}

// NewService creates a code push service. completer is called through the
// service's own retrier so a fallback can be used when it gives up.
func NewService(jobs jobStore, tickets ticketStore, creds credentialStore, completer completion.Completer, client *vcs.Client, finisher Finisher, opts ...Option) (*Service, error) {
	prompt, err := prompts.Load(prompts.Codegen)
	if err != nil {
		return nil, err
	}
	s := &Service{
		jobs:      jobs,
		tickets:   tickets,
		creds:     creds,
		completer: completer,
		vcs:       client,
		finisher:  finisher,
		prompt:    prompt,
		logger:    log.New(log.Writer(), "[CODEPUSH] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retrier == nil {
		s.retrier = completion.NewRetrier(s.logger)
	}
	return s, nil
}

// PushJob generates code for a job, opens a pull request and marks the job finished.
func (s *Service) PushJob(ctx context.Context, jobID int64) (*PushResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Complete() {
		return nil, fmt.Errorf("%w: job %d", ErrAlreadyFinished, jobID)
	}
	ticket, err := s.tickets.GetByID(ctx, job.TicketID)
	if err != nil {
		return nil, err
	}
	creds, err := s.creds.GetCredentials(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	owner, name, ok := creds.RepositoryParts()
	if !ok {
		return nil, fmt.Errorf("%w: repository %q", ErrNotConfigured, creds.Repository)
	}
	token := strings.TrimSpace(creds.VCSAccessToken)
	if token == "" {
		token = s.botToken
	}
	if token == "" {
		return nil, ErrNotConfigured
	}
	repo := vcs.Repo{Owner: owner, Name: name}
	base := creds.DefaultBranch
	if base == "" {
		base = "main"
	}

	gen, simulated, err := s.generate(ctx, job, ticket, repo, base)
	if err != nil {
		return nil, err
	}

	client := s.vcs.WithToken(token)
	branch := branchName(gen.BranchName, job)
	if _, err := client.CreateBranch(ctx, repo, branch, base); err != nil {
		return nil, err
	}
	commit, err := client.CommitChanges(ctx, repo, branch, gen.CommitMessage, gen.Files)
	if err != nil {
		return nil, err
	}
	pr, err := client.CreatePullRequest(ctx, repo, vcs.PullRequest{
		Title: job.Title,
		Head:  branch,
		Base:  base,
		Body:  pullRequestBody(ticket, job, simulated),
	})
	if err != nil {
		return nil, err
	}

	if err := s.finisher.OnJobFinished(ctx, job.ID, strconv.Itoa(pr.Number), s.now()); err != nil {
		return nil, fmt.Errorf("record pull request #%d for job %d: %w", pr.Number, job.ID, err)
	}
	s.logger.Printf("codepush: job %d pushed as %s#%d", job.ID, repo, pr.Number)
	return &PushResult{
		JobID:             job.ID,
		Branch:            branch,
		CommitSHA:         commit.SHA,
		PullRequestNumber: pr.Number,
		PullRequestURL:    pr.URL,
		Files:             len(gen.Files),
		Simulated:         simulated,
	}, nil
}

func (s *Service) generate(ctx context.Context, job *models.Job, ticket *models.Ticket, repo vcs.Repo, base string) (*Generated, bool, error) {
	text, err := s.prompt.Render(map[string]any{
		"ticket_title": ticket.Title,
		"title":        job.Title,
		"tasks":        job.Tasks,
		"repository":   repo.String(),
		"branch":       base,
	})
	if err != nil {
		return nil, false, err
	}

	var (
		mu  sync.Mutex
		out *Generated
	)
	op := func(attemptCtx context.Context) error {
		if s.completer == nil {
			return completion.ErrNotConfigured
		}
		content, err := s.completer.Complete(attemptCtx, completion.Request{
			Prompt:      text,
			MaxTokens:   s.prompt.MaxTokens,
			Temperature: s.prompt.Temperature,
		})
		if err != nil {
			return err
		}
		gen, err := ParseGenerated(content)
		if err != nil {
			return completion.Permanent(err)
		}
		mu.Lock()
		defer mu.Unlock()
		if attemptCtx.Err() == nil {
			out = gen
		}
		return nil
	}

	simulated := false
	err = s.retrier.DoWithFallback(ctx, op, func(cause error) error {
		s.logger.Printf("codepush: job %d using simulated code: %v", job.ID, cause)
		simulated = true
		return nil
	})
	if errors.Is(err, ErrInvalidResponse) {
		s.logger.Printf("codepush: job %d using simulated code: %v", job.ID, err)
		simulated, err = true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("generate code for job %d: %w", job.ID, err)
	}
	if simulated {
		return Simulate(ticket.Title, job.Title), true, nil
	}
	mu.Lock()
	defer mu.Unlock()
	if out.CommitMessage == "" {
		out.CommitMessage = "feat: implement " + job.Title
	}
	return out, false, nil
}

// ParseGenerated reads {"files":[...],"commitMessage","branchName"} from a response.
func ParseGenerated(content string) (*Generated, error) {
	span, ok := completion.FirstJSONObject(completion.StripCodeFences(content))
	if !ok {
		return nil, ErrInvalidResponse
	}
	var raw struct {
		Files         []map[string]any `json:"files"`
		CommitMessage any              `json:"commitMessage"`
		BranchName    any              `json:"branchName"`
	}
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	gen := &Generated{
		CommitMessage: convert.ToNonEmptyString(raw.CommitMessage, ""),
		BranchName:    convert.ToNonEmptyString(raw.BranchName, ""),
	}
	for _, f := range raw.Files {
		path := strings.TrimSpace(convert.ToString(f["path"], ""))
		if path == "" {
			continue
		}
		action := vcs.FileAction(convert.ToNonEmptyString(f["action"], string(vcs.FileCreate)))
		gen.Files = append(gen.Files, vcs.FileChange{
			Path:    path,
			Content: convert.ToString(f["content"], ""),
			Action:  action,
		})
	}
	if len(gen.Files) == 0 {
		return nil, ErrInvalidResponse
	}
	return gen, nil
}

// Simulate returns placeholder code used when generation is unavailable.
func Simulate(ticketTitle, jobTitle string) *Generated {
	lower := strings.ToLower(ticketTitle + " " + jobTitle)
	var files []vcs.FileChange
	switch {
	case strings.Contains(lower, "auth"):
		files = []vcs.FileChange{{
			Path:    "src/auth/auth.service.ts",
			Content: "// Generated authentication service\nexport class AuthService {\n  async login(email: string, password: string): Promise<{ token: string }> {\n    throw new Error('not implemented');\n  }\n}\n",
			Action:  vcs.FileCreate,
		}}
	case strings.Contains(lower, "api"):
		files = []vcs.FileChange{{
			Path:    "src/api/new-endpoint.ts",
			Content: "// Generated API endpoint\nexport async function handle(req: any, res: any) {\n  res.json({ message: 'not implemented' });\n}\n",
			Action:  vcs.FileCreate,
		}}
	default:
		files = []vcs.FileChange{{
			Path:    "src/feature/implementation.ts",
			Content: fmt.Sprintf("// Generated feature implementation\n// %s\nexport class FeatureImplementation {\n  async execute(): Promise<void> {}\n}\n", jobTitle),
			Action:  vcs.FileCreate,
		}}
	}
	return &Generated{
		Files:         files,
		CommitMessage: fmt.Sprintf("feat: implement %s\n\nPlaceholder generated without the completion API; review before merging.", jobTitle),
		BranchName:    "feature/" + slug(jobTitle),
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	out := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(out) > 40 {
		out = strings.TrimRight(out[:40], "-")
	}
	if out == "" {
		out = "job"
	}
	return out
}

var badRef = regexp.MustCompile(`[^A-Za-z0-9._/-]+`)

// branchName makes the generated name ref-safe and unique per push.
func branchName(generated string, job *models.Job) string {
	name := strings.Trim(badRef.ReplaceAllString(strings.TrimSpace(generated), "-"), "-/.")
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if name == "" {
		name = "feature/" + slug(job.Title)
	}
	return fmt.Sprintf("%s-%d-%s", name, job.ID, uuid.NewString()[:8])
}

func pullRequestBody(ticket *models.Ticket, job *models.Job, simulated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s: %s\n\n", ticket.ExternalID, ticket.Title)
	b.WriteString("## Tasks\n\n")
	b.WriteString(job.Tasks)
	b.WriteString("\n")
	if simulated {
		b.WriteString("\n> Placeholder code. The completion API was unavailable when this was generated.\n")
	}
	return b.String()
}
