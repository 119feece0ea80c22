// Package api exposes the ticket pipeline over a small gin JSON API.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/metrics"
	"github.com/goatkit/ticketforge/internal/middleware"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/services/codepush"
	"github.com/goatkit/ticketforge/internal/services/ticketsync"
)

// ProjectStore is the project and credentials persistence the API needs.
type ProjectStore interface {
	GetByID(ctx context.Context, id int64) (*models.Project, error)
	GetCredentials(ctx context.Context, projectID int64) (*models.Credentials, error)
	UpsertCredentials(ctx context.Context, c *models.Credentials) error
}

// TicketStore is the ticket persistence the API needs.
type TicketStore interface {
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Ticket, error)
	Delete(ctx context.Context, id int64) error
}

// JobStore is the job persistence the API needs.
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	ListByTicket(ctx context.Context, ticketID int64) ([]*models.Job, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Job, error)
	Update(ctx context.Context, id int64, title, tasks string) error
	MarkVerified(ctx context.Context, id int64, verifiedAt time.Time) error
}

// Syncer pulls one project's tracker export.
type Syncer interface {
	Sync(ctx context.Context, projectID int64) (*ticketsync.SyncResult, error)
}

// Finisher records a finished job.
type Finisher interface {
	OnJobFinished(ctx context.Context, jobID int64, prID string, finishedAt time.Time) error
}

// Pusher generates code for a job and opens a pull request.
type Pusher interface {
	PushJob(ctx context.Context, jobID int64) (*codepush.PushResult, error)
}

// Deps wires the handler to its stores and services. Pusher and Health are
// optional.
type Deps struct {
	Projects   ProjectStore
	Tickets    TicketStore
	Jobs       JobStore
	Syncer     Syncer
	Finisher   Finisher
	Pusher     Pusher
	Dispatcher dispatch.Dispatcher
	Health     func(ctx context.Context) error
}

// Handler serves the JSON API.
type Handler struct {
	Deps
	logger  *log.Logger
	limiter *middleware.RateLimiter
	now     func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSyncLimiter rate limits the sync endpoint per client IP.
func WithSyncLimiter(rl *middleware.RateLimiter) Option {
	return func(h *Handler) {
		h.limiter = rl
	}
}

// NewHandler validates deps and builds a Handler.
func NewHandler(deps Deps, opts ...Option) (*Handler, error) {
	switch {
	case deps.Projects == nil, deps.Tickets == nil, deps.Jobs == nil:
		return nil, errors.New("api: stores are required")
	case deps.Syncer == nil:
		return nil, errors.New("api: syncer is required")
	case deps.Finisher == nil:
		return nil, errors.New("api: finisher is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("api: dispatcher is required")
	}
	h := &Handler{
		Deps:   deps,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// NewRouter builds the gin engine with health, metrics and the v1 API.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(h.logger))

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	h.Register(r.Group("/api/v1"))
	return r
}

// Register mounts the v1 routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	projects := g.Group("/projects/:id")
	projects.POST("/sync", middleware.RateLimitByIP(h.limiter), h.syncProject)
	projects.GET("/tickets", h.listProjectTickets)
	projects.GET("/jobs", h.listProjectJobs)
	projects.GET("/credentials", h.getCredentials)
	projects.PUT("/credentials", h.putCredentials)
	projects.GET("/export.xlsx", h.exportProject)

	tickets := g.Group("/tickets/:id")
	tickets.GET("", h.getTicket)
	tickets.DELETE("", h.deleteTicket)
	tickets.POST("/assess", h.assessTicket)
	tickets.GET("/jobs", h.listTicketJobs)

	jobs := g.Group("/jobs/:id")
	jobs.GET("", h.getJob)
	jobs.PATCH("", h.patchJob)
	jobs.POST("/finish", h.finishJob)
	jobs.POST("/verify", h.verifyJob)
	jobs.POST("/push", h.pushJob)
}

func (h *Handler) health(c *gin.Context) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Health(ctx); err != nil {
			h.logger.Printf("api: health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
