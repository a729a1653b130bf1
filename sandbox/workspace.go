package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/streamgate/conversation"
	"github.com/BaSui01/streamgate/types"
)

// DevServerRequester provisions dev servers.
type DevServerRequester interface {
	RequestDevServer(ctx context.Context, repoID string) (*DevServer, error)
}

// Workspace prepares an app's dev server before a run and returns its MCP
// endpoint for the execution's tools.
type Workspace struct {
	servers DevServerRequester
	apps    conversation.AppStore
}

// NewWorkspace creates a workspace preparer.
func NewWorkspace(servers DevServerRequester, apps conversation.AppStore) *Workspace {
	return &Workspace{servers: servers, apps: apps}
}

// Prepare looks up the app's repository and requests its dev server.
func (w *Workspace) Prepare(ctx context.Context, resourceID string) (string, error) {
	app, err := w.apps.GetApp(ctx, resourceID)
	if errors.Is(err, conversation.ErrAppNotFound) {
		return "", types.NewNotFoundError("app not found").WithResource(resourceID)
	}
	if err != nil {
		return "", err
	}
	if app.GitRepo == "" {
		return "", types.NewInvalidRequestError("app has no repository").WithResource(resourceID)
	}

	server, err := w.servers.RequestDevServer(ctx, app.GitRepo)
	if err != nil {
		return "", fmt.Errorf("request dev server for %s: %w", resourceID, err)
	}
	return server.MCPEphemeralURL, nil
}
