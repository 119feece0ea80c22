package apierrors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCoreAndTicketCodes(t *testing.T) {
	for _, code := range []string{CodeNotFound, CodeInvalidRequest, CodeInternalError, CodeTicketNotFound, CodeQueueFull} {
		_, ok := Registry.Get(code)
		assert.True(t, ok, "code %q not registered", code)
	}

	for _, e := range Registry.ByNamespace("tickets") {
		assert.Contains(t, e.Code, "tickets:")
	}
	assert.Contains(t, Registry.Namespaces(), "core")
	assert.Contains(t, Registry.Namespaces(), "tickets")
}

func TestRegistryHTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeInvalidID, http.StatusBadRequest},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeNotConfigured, http.StatusUnprocessableEntity},
		{CodeTrackerUnavailable, http.StatusBadGateway},
		{CodeJobAlreadyFinished, http.StatusConflict},
		{"unknown:code", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, Registry.HTTPStatus(tt.code))
		})
	}
	assert.Equal(t, "unknown:code", Registry.Message("unknown:code"))
}

type codeList []ErrorCode

func (l codeList) EnumerateErrors() []ErrorCode { return l }

func TestRegistryRegisterNamespace(t *testing.T) {
	Registry.RegisterNamespace("vcs", codeList{
		{Code: "branch_exists", Message: "Branch exists", HTTPStatus: http.StatusConflict},
		{Code: "vcs:rate_limited", Message: "Slow down", HTTPStatus: http.StatusTooManyRequests},
	})
	// registering twice must not duplicate namespace entries
	Registry.RegisterNamespace("vcs", codeList{
		{Code: "branch_exists", Message: "Branch exists", HTTPStatus: http.StatusConflict},
	})

	e, ok := Registry.Get("vcs:branch_exists")
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, e.HTTPStatus)
	assert.Len(t, Registry.ByNamespace("vcs"), 2)
}

func TestRegistryReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(ErrorCode{Code: "x:first", Message: "one", HTTPStatus: http.StatusBadRequest})
	r.Register(ErrorCode{Code: "x:second", Message: "two", HTTPStatus: http.StatusBadRequest})
	r.Register(ErrorCode{Code: "x:first", Message: "uno", HTTPStatus: http.StatusConflict})
	r.Register(ErrorCode{Code: "bare", Message: "b", HTTPStatus: http.StatusTeapot})

	got := r.ByNamespace("x")
	require.Len(t, got, 2)
	assert.Equal(t, "x:first", got[0].Code)
	assert.Equal(t, "uno", got[0].Message)
	assert.Equal(t, http.StatusConflict, r.HTTPStatus("x:first"))
	assert.Equal(t, []string{"core", "x"}, r.Namespaces())
	assert.Empty(t, r.ByNamespace("missing"))
}
