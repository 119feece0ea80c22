package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Model       string  `json:"model"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultModel, body.Model)
		assert.Equal(t, 500, body.MaxTokens)
		assert.InDelta(t, 0.1, body.Temperature, 1e-9)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, "assess this", body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"verdict\":\"accepted\"}"}}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "secret"})
	text, err := client.Complete(context.Background(), Request{Prompt: "assess this", MaxTokens: 500, Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"accepted"}`, text)
}

func TestClientProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k"})
	_, err := client.Complete(context.Background(), Request{Prompt: "x"})

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 429, perr.StatusCode)
	assert.Equal(t, "rate_limit_error", perr.Type)
	assert.True(t, perr.IsRateLimited())
	assert.True(t, Retryable(context.Background(), err))
}

func TestClientPlainErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k"})
	_, err := client.Complete(context.Background(), Request{Prompt: "x"})

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 502, perr.StatusCode)
	assert.Equal(t, "upstream exploded", perr.Message)
}

func TestClientNotConfigured(t *testing.T) {
	client := NewClient(Config{APIKey: "   "})
	assert.False(t, client.Configured())

	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, Retryable(context.Background(), err))
}

func TestClientModelOverride(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		model = body.Model
		_, _ = w.Write([]byte(`{"content":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k", Model: "base-model", RateLimit: 100})
	_, err := client.Complete(context.Background(), Request{Prompt: "x", Model: "other"})
	require.NoError(t, err)
	assert.Equal(t, "other", model)
}
