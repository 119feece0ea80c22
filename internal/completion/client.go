package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for the hosted chat-completions endpoint.
const (
	DefaultBaseURL = "https://api.blackbox.ai/chat/completions"
	DefaultModel   = "blackboxai/anthropic/claude-sonnet-4"
)

// Request is a single-prompt completion request.
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	// Model overrides the client's default model when set.
	Model string
}

// Completer is the narrow interface services depend on.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config holds the endpoint settings for a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// RateLimit is requests per second, zero disables limiting.
	RateLimit float64
	Burst     int
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger
	metrics    *clientMetrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLimiter installs a pre-built rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// NewClient builds a completion client. A missing API key is allowed here;
// Complete reports ErrNotConfigured instead.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     log.Default(),
		metrics:    globalClientMetrics(),
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

// Complete sends one prompt and returns the extracted text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("completion: rate limit wait: %w", err)
		}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(wireRequest{
		Model:       model,
		Messages:    []wireMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("completion: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	done := c.metrics.observe(model)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		done("error")
		return "", fmt.Errorf("completion: sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		done("error")
		return "", fmt.Errorf("completion: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		done("http_error")
		return "", readProviderError(resp.StatusCode, raw)
	}

	text, err := ExtractText(raw)
	if err != nil {
		done("no_content")
		return "", err
	}
	done("ok")
	return text, nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}} bodies
// and falls back to the raw text.
func readProviderError(status int, body []byte) error {
	var wire struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	perr := &ProviderError{StatusCode: status}
	if json.Unmarshal(body, &wire) == nil && wire.Error.Message != "" {
		perr.Type = wire.Error.Type
		perr.Message = wire.Error.Message
		return perr
	}
	perr.Message = Truncate(strings.TrimSpace(string(body)), 512)
	if perr.Message == "" {
		perr.Message = http.StatusText(status)
	}
	return perr
}
