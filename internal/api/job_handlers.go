package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/ticketforge/internal/apierrors"
)

type patchJobRequest struct {
	Title *string `json:"title"`
	Tasks *string `json:"tasks"`
}

type finishJobRequest struct {
	PRID       string     `json:"pr_id"`
	FinishedAt *time.Time `json:"finished_at"`
}

// GET /api/v1/jobs/:id
func (h *Handler) getJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	job, err := h.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}

// PATCH /api/v1/jobs/:id edits title and tasks. Omitted fields are kept.
func (h *Handler) patchJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req patchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	job, err := h.Jobs.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	if req.Title != nil {
		job.Title = strings.TrimSpace(*req.Title)
	}
	if req.Tasks != nil {
		job.Tasks = strings.TrimSpace(*req.Tasks)
	}
	if job.Title == "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, "title must not be empty")
		return
	}
	if err := h.Jobs.Update(ctx, id, job.Title, job.Tasks); err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}

// POST /api/v1/jobs/:id/finish records the change request for a job.
func (h *Handler) finishJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req finishJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	finishedAt := h.now()
	if req.FinishedAt != nil {
		finishedAt = *req.FinishedAt
	}
	ctx := c.Request.Context()
	if err := h.Finisher.OnJobFinished(ctx, id, req.PRID, finishedAt); err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	h.respondJob(c, id)
}

// POST /api/v1/jobs/:id/verify
func (h *Handler) verifyJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Jobs.MarkVerified(c.Request.Context(), id, h.now()); err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	h.respondJob(c, id)
}

// POST /api/v1/jobs/:id/push generates code and opens a pull request.
func (h *Handler) pushJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if h.Pusher == nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeServiceUnavailable, "Code push is not enabled")
		return
	}
	res, err := h.Pusher.PushJob(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) respondJob(c *gin.Context, id int64) {
	job, err := h.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeJobNotFound)
		return
	}
	c.JSON(http.StatusOK, jobView(job))
}
