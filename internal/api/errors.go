package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/ticketforge/internal/apierrors"
	"github.com/goatkit/ticketforge/internal/completion"
	"github.com/goatkit/ticketforge/internal/dispatch"
	"github.com/goatkit/ticketforge/internal/repository"
	"github.com/goatkit/ticketforge/internal/services/codepush"
	"github.com/goatkit/ticketforge/internal/services/reconcile"
	"github.com/goatkit/ticketforge/internal/tracker"
	"github.com/goatkit/ticketforge/internal/vcs"
)

// errorCode maps a service error onto a registered API code. notFound is
// used for repository.ErrNotFound so callers can name the missing resource.
func errorCode(err error, notFound string) string {
	var statusErr *tracker.StatusError
	var vcsErr *vcs.APIError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return notFound
	case errors.Is(err, dispatch.ErrQueueFull):
		return apierrors.CodeQueueFull
	case errors.Is(err, codepush.ErrNotConfigured), errors.Is(err, completion.ErrNotConfigured):
		return apierrors.CodeNotConfigured
	case errors.Is(err, codepush.ErrAlreadyFinished):
		return apierrors.CodeJobAlreadyFinished
	case errors.Is(err, reconcile.ErrInvalidCompletion):
		return apierrors.CodeValidationFailed
	case errors.Is(err, completion.ErrRetriesExhausted):
		return apierrors.CodeCompletionExhausted
	case errors.As(err, &statusErr):
		return apierrors.CodeTrackerUnavailable
	case errors.As(err, &vcsErr):
		return apierrors.CodeVCSFailed
	case errors.Is(err, context.DeadlineExceeded):
		return apierrors.CodeServiceUnavailable
	default:
		return apierrors.CodeInternalError
	}
}

func (h *Handler) fail(c *gin.Context, err error, notFound string) {
	code := errorCode(err, notFound)
	if apierrors.Registry.HTTPStatus(code) >= 500 {
		h.logger.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	_ = c.Error(err)
	apierrors.Error(c, code)
}

// pathID parses the :id parameter, answering 400 when it is not a positive
// integer.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return 0, false
	}
	return id, true
}
