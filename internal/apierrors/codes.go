// Package apierrors provides structured API error codes and responses.
// All codes are namespaced (e.g., "core:not_found", "tickets:not_configured").
package apierrors

import "net/http"

// Core error codes - registered automatically at init
const (
	// Request errors
	CodeInvalidRequest   = "core:invalid_request"
	CodeValidationFailed = "core:validation_failed"
	CodeInvalidID        = "core:invalid_id"

	// Resource errors
	CodeNotFound = "core:not_found"
	CodeConflict = "core:conflict"

	// Rate limiting
	CodeRateLimited = "core:rate_limited"

	// Server errors
	CodeInternalError      = "core:internal_error"
	CodeServiceUnavailable = "core:service_unavailable"
)

// Pipeline error codes
const (
	CodeTicketNotFound      = "tickets:ticket_not_found"
	CodeJobNotFound         = "tickets:job_not_found"
	CodeProjectNotFound     = "tickets:project_not_found"
	CodeNotConfigured       = "tickets:not_configured"
	CodeTrackerUnavailable  = "tickets:tracker_unavailable"
	CodeQueueFull           = "tickets:queue_full"
	CodeJobAlreadyFinished  = "tickets:job_already_finished"
	CodeVCSFailed           = "tickets:vcs_failed"
	CodeCompletionExhausted = "tickets:completion_exhausted"
)

var coreErrors = []ErrorCode{
	{Code: CodeInvalidRequest, Message: "Invalid request body", HTTPStatus: http.StatusBadRequest},
	{Code: CodeValidationFailed, Message: "Request validation failed", HTTPStatus: http.StatusBadRequest},
	{Code: CodeInvalidID, Message: "Invalid ID format", HTTPStatus: http.StatusBadRequest},

	{Code: CodeNotFound, Message: "Resource not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeConflict, Message: "Resource conflict", HTTPStatus: http.StatusConflict},

	{Code: CodeRateLimited, Message: "Too many requests", HTTPStatus: http.StatusTooManyRequests},

	{Code: CodeInternalError, Message: "Internal server error", HTTPStatus: http.StatusInternalServerError},
	{Code: CodeServiceUnavailable, Message: "Service temporarily unavailable", HTTPStatus: http.StatusServiceUnavailable},
}

var ticketErrors = []ErrorCode{
	{Code: CodeTicketNotFound, Message: "Ticket not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeJobNotFound, Message: "Job not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeProjectNotFound, Message: "Project not found", HTTPStatus: http.StatusNotFound},
	{Code: CodeNotConfigured, Message: "Project credentials are incomplete", HTTPStatus: http.StatusUnprocessableEntity},
	{Code: CodeTrackerUnavailable, Message: "Issue tracker request failed", HTTPStatus: http.StatusBadGateway},
	{Code: CodeQueueFull, Message: "Task queue is full, try again later", HTTPStatus: http.StatusServiceUnavailable},
	{Code: CodeJobAlreadyFinished, Message: "Job is already finished", HTTPStatus: http.StatusConflict},
	{Code: CodeVCSFailed, Message: "Repository host request failed", HTTPStatus: http.StatusBadGateway},
	{Code: CodeCompletionExhausted, Message: "Completion service did not respond", HTTPStatus: http.StatusBadGateway},
}

func init() {
	for _, e := range coreErrors {
		Registry.Register(e)
	}
	for _, e := range ticketErrors {
		Registry.Register(e)
	}
}
