// Package tracker talks to the external issue tracker export endpoint.
// The endpoint lists tickets on GET and accepts status updates on POST.
package tracker

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

	"github.com/goatkit/ticketforge/internal/models"
)

// Status is a tracker workflow status code.
type Status string

const (
	// StatusRejected marks a ticket the classifier rejected.
	StatusRejected Status = "42"
	// StatusDone marks a ticket whose jobs are all finished.
	StatusDone Status = "41"
)

// StatusError is returned for non-2xx tracker responses.
type StatusError struct {
	Method     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker: %s returned HTTP %d: %s", e.Method, e.StatusCode, e.Body)
}

// Client reads and updates tickets on the tracker. Calls are never retried.
type Client struct {
	httpClient *http.Client
	logger     *log.Logger
	authToken  string
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

// WithAuthToken sends a bearer token on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// NewClient creates a tracker client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchTickets downloads and parses the ticket export at url.
func (c *Client) FetchTickets(ctx context.Context, url string) ([]models.ExternalTicket, error) {
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return ParseTickets(body)
}

type statusUpdate struct {
	TicketID     string `json:"ticketId"`
	TicketStatus Status `json:"ticketStatus"`
}

// UpdateStatus posts a status change for one ticket.
func (c *Client) UpdateStatus(ctx context.Context, url, externalID string, status Status) error {
	payload, err := json.Marshal(statusUpdate{TicketID: externalID, TicketStatus: status})
	if err != nil {
		return fmt.Errorf("tracker: marshal status update: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, url, payload); err != nil {
		return err
	}
	c.logger.Printf("tracker: ticket %s set to status %s", externalID, status)
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("tracker: url is required")
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("tracker: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("tracker: failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(respBody))
		if len(text) > 512 {
			text = text[:512]
		}
		return nil, &StatusError{Method: method, StatusCode: resp.StatusCode, Body: text}
	}
	return respBody, nil
}
