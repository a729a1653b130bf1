package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/streamgate/retry"
	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
)

const maxErrorBody = 4 << 10

// Config configures the sandbox API client.
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns defaults for the hosted sandbox API.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.freestyle.sh",
		Timeout: 30 * time.Second,
	}
}

// DevServer is a provisioned development server for a repository.
type DevServer struct {
	URL             string `json:"url"`
	EphemeralURL    string `json:"ephemeralUrl"`
	MCPEphemeralURL string `json:"mcpEphemeralUrl"`
}

// Repository is a git repository created in the sandbox.
type Repository struct {
	ID   string `json:"repoId"`
	Name string `json:"name,omitempty"`
}

// Client calls the sandbox API. Every call goes through the backoff executor,
// so 429 and 529 responses are retried.
type Client struct {
	config Config
	http   *http.Client
	retry  *retry.Executor
	logger *zap.Logger
}

// NewClient creates a sandbox client. A nil executor uses the default policy.
func NewClient(config Config, executor *retry.Executor, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if executor == nil {
		executor = retry.NewExecutor(retry.DefaultRetryPolicy(), logger)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		retry:  executor,
		logger: logger.With(zap.String("component", "sandbox")),
	}
}

// RequestDevServer provisions or reuses the dev server of a repository.
func (c *Client) RequestDevServer(ctx context.Context, repoID string) (*DevServer, error) {
	if repoID == "" {
		return nil, types.NewInvalidRequestError("repository id is required")
	}
	c.logger.Info("requesting dev server", zap.String("repo_id", repoID))

	return retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*DevServer, error) {
		var out DevServer
		if err := c.post(ctx, "/ephemeral/v1/dev-servers", map[string]any{"repoId": repoID}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// CreateGitRepository creates a private repository.
func (c *Client) CreateGitRepository(ctx context.Context, name string) (*Repository, error) {
	c.logger.Info("creating git repository", zap.String("name", name))

	return retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (*Repository, error) {
		var out Repository
		body := map[string]any{"name": name, "public": false}
		if err := c.post(ctx, "/git/v1/repo", body, &out); err != nil {
			return nil, err
		}
		if out.Name == "" {
			out.Name = name
		}
		return &out, nil
	})
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "sandbox request failed").
			WithHTTPStatus(http.StatusBadGateway).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// statusError converts a failed response. 429 and 529 keep their status so
// the executor classifies them as overload.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, "sandbox rate limited: "+msg).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(true)
	case retry.StatusOverloaded:
		return types.NewError(types.ErrModelOverloaded, "sandbox overloaded: "+msg).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(true)
	case http.StatusNotFound:
		return types.NewNotFoundError("sandbox resource not found: " + msg)
	}
	if resp.StatusCode >= 500 {
		return types.NewError(types.ErrServiceUnavailable, fmt.Sprintf("sandbox error %d: %s", resp.StatusCode, msg)).
			WithHTTPStatus(http.StatusBadGateway)
	}
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("sandbox rejected request %d: %s", resp.StatusCode, msg)).
		WithHTTPStatus(http.StatusBadGateway)
}
