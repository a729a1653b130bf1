package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/streamgate/conversation"
	"github.com/BaSui01/streamgate/retry"
	"github.com/BaSui01/streamgate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() *retry.Executor {
	return retry.NewExecutor(&retry.RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	}, nil, retry.WithSleeper(func(context.Context, time.Duration) error { return nil }))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "sk-test"}, fastRetry(), zaptest.NewLogger(t))
}

func TestClient_RequestDevServer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ephemeral/v1/dev-servers", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "repo-1", body["repoId"])

		_ = json.NewEncoder(w).Encode(DevServer{
			URL:             "https://repo-1.dev",
			EphemeralURL:    "https://eph.dev",
			MCPEphemeralURL: "https://eph.dev/mcp",
		})
	})

	server, err := client.RequestDevServer(context.Background(), "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "https://eph.dev/mcp", server.MCPEphemeralURL)
}

func TestClient_RequestDevServer_RequiresRepo(t *testing.T) {
	client := NewClient(DefaultConfig(), fastRetry(), nil)
	_, err := client.RequestDevServer(context.Background(), "")
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
}

func TestClient_RetriesOverload(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, retry.StatusOverloaded} {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(status)
				return
			}
			_ = json.NewEncoder(w).Encode(Repository{ID: "repo-9"})
		})

		repo, err := client.CreateGitRepository(context.Background(), "todo")
		require.NoError(t, err, "status %d", status)
		assert.Equal(t, "repo-9", repo.ID)
		assert.Equal(t, "todo", repo.Name)
		assert.Equal(t, int32(3), calls.Load())
	}
}

func TestClient_OverloadExhausted(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(retry.StatusOverloaded)
		_, _ = w.Write([]byte(`{"error":{"type":"overloaded_error"}}`))
	})

	_, err := client.RequestDevServer(context.Background(), "repo-1")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRetriesExhausted))
	assert.True(t, types.IsCode(err, types.ErrModelOverloaded))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NonRetryableStatus(t *testing.T) {
	tests := []struct {
		status int
		code   types.ErrorCode
	}{
		{http.StatusBadRequest, types.ErrUpstreamError},
		{http.StatusNotFound, types.ErrNotFound},
		{http.StatusInternalServerError, types.ErrServiceUnavailable},
	}
	for _, tt := range tests {
		var calls atomic.Int32
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "nope", tt.status)
		})

		_, err := client.RequestDevServer(context.Background(), "repo-1")
		require.Error(t, err)
		assert.True(t, types.IsCode(err, tt.code), "status %d: %v", tt.status, err)
		assert.Equal(t, int32(1), calls.Load(), "status %d must not be retried", tt.status)
	}
}

func TestClient_TransportError(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, fastRetry(), nil)
	_, err := client.RequestDevServer(context.Background(), "repo-1")
	assert.True(t, types.IsCode(err, types.ErrUpstreamError))
}

type stubServers struct {
	server *DevServer
	err    error
	repo   string
}

func (s *stubServers) RequestDevServer(_ context.Context, repoID string) (*DevServer, error) {
	s.repo = repoID
	return s.server, s.err
}

func TestWorkspace_Prepare(t *testing.T) {
	apps := conversation.NewMemoryAppStore(
		conversation.App{ID: "app-1", Name: "todo", GitRepo: "repo-1"},
		conversation.App{ID: "bare", Name: "no repo"},
	)
	servers := &stubServers{server: &DevServer{MCPEphemeralURL: "https://eph.dev/mcp"}}
	ws := NewWorkspace(servers, apps)
	ctx := context.Background()

	url, err := ws.Prepare(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, "https://eph.dev/mcp", url)
	assert.Equal(t, "repo-1", servers.repo)

	_, err = ws.Prepare(ctx, "missing")
	assert.True(t, types.IsCode(err, types.ErrNotFound))

	_, err = ws.Prepare(ctx, "bare")
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	servers.err = errors.New("boom")
	_, err = ws.Prepare(ctx, "app-1")
	assert.Error(t, err)
}
