package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/ticketforge/internal/apierrors"
	"github.com/goatkit/ticketforge/internal/dispatch"
)

// GET /api/v1/tickets/:id
func (h *Handler) getTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ticket, err := h.Tickets.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, apierrors.CodeTicketNotFound)
		return
	}
	c.JSON(http.StatusOK, ticketView(ticket))
}

// POST /api/v1/tickets/:id/assess queues a fresh assessment.
func (h *Handler) assessTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Tickets.GetByID(ctx, id); err != nil {
		h.fail(c, err, apierrors.CodeTicketNotFound)
		return
	}
	if err := dispatch.Submit(ctx, h.Dispatcher, dispatch.KindAssessTicket, dispatch.TicketPayload{TicketID: id}); err != nil {
		h.fail(c, err, apierrors.CodeTicketNotFound)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ticket_id": id, "queued": true})
}

// DELETE /api/v1/tickets/:id removes the ticket and its jobs.
func (h *Handler) deleteTicket(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Tickets.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, apierrors.CodeTicketNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/v1/tickets/:id/jobs
func (h *Handler) listTicketJobs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.Tickets.GetByID(ctx, id); err != nil {
		h.fail(c, err, apierrors.CodeTicketNotFound)
		return
	}
	jobs, err := h.Jobs.ListByTicket(ctx, id)
	if err != nil {
		h.fail(c, err, apierrors.CodeTicketNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobViews(jobs)})
}
