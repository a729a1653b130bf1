package conversation

import (
	"context"
	"errors"

	"github.com/BaSui01/streamgate/types"
)

// ErrStoreClosed is returned by stores used after Close.
var ErrStoreClosed = errors.New("conversation: store closed")

// Store is the durable conversation store. SaveMessages is idempotent on turn
// ID: saving a turn twice leaves exactly one copy.
type Store interface {
	SaveMessages(ctx context.Context, resourceID, threadID string, turns []types.Turn) error

	// ListMessages returns the newest limit turns of a thread in chronological
	// order. A non-positive limit returns every turn.
	ListMessages(ctx context.Context, resourceID, threadID string, limit int) ([]types.Turn, error)

	// CountMessages returns the number of stored turns of a thread.
	CountMessages(ctx context.Context, resourceID, threadID string) (int64, error)
}
