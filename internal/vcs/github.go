// Package vcs drives the GitHub REST API: branches, commits and pull requests.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// ErrNoToken is returned when a call is made without an access token.
var ErrNoToken = errors.New("vcs: access token not configured")

// APIError is a non-2xx response from the hosting API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vcs: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// NotFound reports a 404, which GitHub also returns for repositories the token cannot see.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Repo identifies a repository.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

func (r Repo) path(format string, args ...any) string {
	return "/repos/" + url.PathEscape(r.Owner) + "/" + url.PathEscape(r.Name) + fmt.Sprintf(format, args...)
}

// FileAction is what a FileChange does.
type FileAction string

const (
	FileCreate FileAction = "create"
	FileUpdate FileAction = "update"
	FileDelete FileAction = "delete"
)

// FileChange is one file written or removed by a commit.
type FileChange struct {
	Path    string     `json:"path"`
	Content string     `json:"content"`
	Action  FileAction `json:"action"`
}

// Author is the commit author.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// DefaultAuthor signs commits made by the service.
var DefaultAuthor = Author{Name: "ticketforge bot", Email: "bot@ticketforge.dev"}

// Commit is a created commit.
type Commit struct {
	SHA     string `json:"sha"`
	URL     string `json:"html_url"`
	Message string `json:"message"`
}

// PullRequest describes a pull request to open.
type PullRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body"`
}

// PullRequestResult is an opened pull request.
type PullRequestResult struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// Repository is the subset of repository metadata used here.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Permissions   struct {
		Admin bool `json:"admin"`
		Push  bool `json:"push"`
		Pull  bool `json:"pull"`
	} `json:"permissions"`
}

// Client is a small GitHub REST client authenticated with a token.
type Client struct {
	baseURL    string
	token      string
	author     Author
	httpClient *http.Client
	logger     *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, such as GitHub Enterprise.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithToken sets the access token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithAuthor overrides the commit author.
func WithAuthor(a Author) Option {
	return func(c *Client) {
		if a.Name != "" && a.Email != "" {
			c.author = a
		}
	}
}

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

// NewClient creates a GitHub client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		author:     DefaultAuthor,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of c using token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = strings.TrimSpace(token)
	return &cp
}

// GetRepository reads repository metadata, which also checks access.
func (c *Client) GetRepository(ctx context.Context, repo Repo) (*Repository, error) {
	var out Repository
	if err := c.do(ctx, http.MethodGet, repo.path(""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BranchSHA returns the commit sha a branch points at.
func (c *Client) BranchSHA(ctx context.Context, repo Repo, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := c.do(ctx, http.MethodGet, repo.path("/git/ref/heads/%s", branch), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates branch from base and returns the starting sha.
func (c *Client) CreateBranch(ctx context.Context, repo Repo, branch, base string) (string, error) {
	sha, err := c.BranchSHA(ctx, repo, base)
	if err != nil {
		return "", fmt.Errorf("read base branch %s: %w", base, err)
	}
	payload := map[string]string{"ref": "refs/heads/" + branch, "sha": sha}
	if err := c.do(ctx, http.MethodPost, repo.path("/git/refs"), payload, nil); err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
	return sha, nil
}

type treeEntry struct {
	Path    string  `json:"path"`
	Mode    string  `json:"mode"`
	Type    string  `json:"type"`
	Content *string `json:"content,omitempty"`
	SHA     *string `json:"sha"`
}

// MarshalJSON drops sha for content entries; a null sha deletes the path.
func (e treeEntry) MarshalJSON() ([]byte, error) {
	if e.Content != nil {
		return json.Marshal(struct {
			Path    string `json:"path"`
			Mode    string `json:"mode"`
			Type    string `json:"type"`
			Content string `json:"content"`
		}{e.Path, e.Mode, e.Type, *e.Content})
	}
	type plain treeEntry
	return json.Marshal(plain(e))
}

// CommitChanges writes changes on top of branch and moves the branch to the new commit.
func (c *Client) CommitChanges(ctx context.Context, repo Repo, branch, message string, changes []FileChange) (*Commit, error) {
	if len(changes) == 0 {
		return nil, fmt.Errorf("vcs: commit on %s has no changes", branch)
	}
	head, err := c.BranchSHA(ctx, repo, branch)
	if err != nil {
		return nil, fmt.Errorf("read branch %s: %w", branch, err)
	}

	var parent struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if err := c.do(ctx, http.MethodGet, repo.path("/git/commits/%s", head), nil, &parent); err != nil {
		return nil, fmt.Errorf("read commit %s: %w", head, err)
	}

	entries := make([]treeEntry, 0, len(changes))
	for _, ch := range changes {
		entry := treeEntry{Path: strings.TrimPrefix(ch.Path, "/"), Mode: "100644", Type: "blob"}
		if ch.Action != FileDelete {
			content := ch.Content
			entry.Content = &content
		}
		entries = append(entries, entry)
	}
	var tree struct {
		SHA string `json:"sha"`
	}
	treeReq := map[string]any{"base_tree": parent.Tree.SHA, "tree": entries}
	if err := c.do(ctx, http.MethodPost, repo.path("/git/trees"), treeReq, &tree); err != nil {
		return nil, fmt.Errorf("create tree: %w", err)
	}

	var commit Commit
	commitReq := map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{head},
		"author":  c.author,
	}
	if err := c.do(ctx, http.MethodPost, repo.path("/git/commits"), commitReq, &commit); err != nil {
		return nil, fmt.Errorf("create commit: %w", err)
	}
	if commit.URL == "" {
		commit.URL = "https://github.com/" + repo.String() + "/commit/" + commit.SHA
	}
	commit.Message = message

	if err := c.do(ctx, http.MethodPatch, repo.path("/git/refs/heads/%s", branch), map[string]any{"sha": commit.SHA}, nil); err != nil {
		return nil, fmt.Errorf("update branch %s: %w", branch, err)
	}
	c.logger.Printf("vcs: committed %s to %s:%s", commit.SHA, repo, branch)
	return &commit, nil
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, repo Repo, pr PullRequest) (*PullRequestResult, error) {
	var out PullRequestResult
	if err := c.do(ctx, http.MethodPost, repo.path("/pulls"), pr, &out); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	c.logger.Printf("vcs: opened pull request #%d on %s", out.Number, repo)
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if c.token == "" {
		return ErrNoToken
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("vcs: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("vcs: create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vcs: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("vcs: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wire struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &wire) == nil && wire.Message != "" {
			msg = wire.Message
		}
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("vcs: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
