package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/ticketforge/internal/apierrors"
	"github.com/goatkit/ticketforge/internal/models"
	"github.com/goatkit/ticketforge/internal/repository"
)

// credentialsRequest is the PUT body. A nil access token keeps the stored one.
type credentialsRequest struct {
	TrackerSourceURL string  `json:"tracker_source_url"`
	VCSAccessToken   *string `json:"vcs_access_token"`
	Repository       string  `json:"repository"`
	DefaultBranch    string  `json:"default_branch"`
}

// POST /api/v1/projects/:id/sync
func (h *Handler) syncProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.Projects.GetByID(c.Request.Context(), id); err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	res, err := h.Syncer.Sync(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/v1/projects/:id/tickets
func (h *Handler) listProjectTickets(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tickets, err := h.Tickets.ListByProject(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": ticketViews(tickets)})
}

// GET /api/v1/projects/:id/jobs
func (h *Handler) listProjectJobs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	jobs, err := h.Jobs.ListByProject(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobViews(jobs)})
}

// GET /api/v1/projects/:id/credentials
func (h *Handler) getCredentials(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	creds, err := h.Projects.GetCredentials(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeNotFound)
		return
	}
	c.JSON(http.StatusOK, credentialsView(creds))
}

// PUT /api/v1/projects/:id/credentials
func (h *Handler) putCredentials(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.ErrorWithMessage(c, apierrors.CodeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if msg := validateCredentials(&req); msg != "" {
		apierrors.ErrorWithMessage(c, apierrors.CodeValidationFailed, msg)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Projects.GetByID(ctx, id); err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	creds := &models.Credentials{
		ProjectID:        id,
		TrackerSourceURL: req.TrackerSourceURL,
		Repository:       req.Repository,
		DefaultBranch:    strings.TrimSpace(req.DefaultBranch),
	}
	if req.VCSAccessToken != nil {
		creds.VCSAccessToken = strings.TrimSpace(*req.VCSAccessToken)
	} else {
		existing, err := h.Projects.GetCredentials(ctx, id)
		switch {
		case err == nil:
			creds.VCSAccessToken = existing.VCSAccessToken
		case !errors.Is(err, repository.ErrNotFound):
			h.fail(c, err, apierrors.CodeNotFound)
			return
		}
	}
	if err := h.Projects.UpsertCredentials(ctx, creds); err != nil {
		h.fail(c, err, apierrors.CodeProjectNotFound)
		return
	}
	c.JSON(http.StatusOK, credentialsView(creds))
}

func validateCredentials(req *credentialsRequest) string {
	req.TrackerSourceURL = strings.TrimSpace(req.TrackerSourceURL)
	req.Repository = strings.TrimSpace(req.Repository)
	if req.TrackerSourceURL != "" {
		u, err := url.Parse(req.TrackerSourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "tracker_source_url must be an absolute http(s) URL"
		}
	}
	if req.Repository != "" {
		if _, _, ok := (&models.Credentials{Repository: req.Repository}).RepositoryParts(); !ok {
			return "repository must look like owner/name"
		}
	}
	return ""
}
