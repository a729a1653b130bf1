package loopback

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/BaSui01/streamgate/stream"
	"github.com/BaSui01/streamgate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_ReplaysInSteps(t *testing.T) {
	p := New(DefaultConfig(), nil)
	var chunks []string
	exec, err := p.Start(context.Background(), stream.ExecutionRequest{
		RunID:      "run-1",
		ResourceID: "app",
		ThreadID:   "app",
		Turn:       types.NewTurn(types.RoleUser, "one two three four five six"),
		OnChunk:    func(c stream.Chunk) { chunks = append(chunks, c.Text) },
	})
	require.NoError(t, err)

	var texts []string
	for {
		step, err := exec.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.Len(t, step.Turns, 1)
		assert.Equal(t, types.RoleAssistant, step.Turns[0].Role)
		assert.Equal(t, "app", step.Turns[0].ResourceID)
		texts = append(texts, step.Turns[0].Text())
	}

	assert.Equal(t, []string{"echo: one two", "echo: three four", "echo: five six"}, texts)
	assert.Len(t, chunks, 9)
	require.NoError(t, exec.Close())

	_, err = exec.Next(context.Background())
	assert.Error(t, err)
}

func TestProvider_RespectsMaxSteps(t *testing.T) {
	p := New(Config{Steps: 10, Prefix: "echo"}, nil)
	exec, err := p.Start(context.Background(), stream.ExecutionRequest{MaxSteps: 2})
	require.NoError(t, err)

	n := 0
	for {
		_, err := exec.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestProvider_CancelledMidStep(t *testing.T) {
	p := New(Config{Steps: 1, ChunkDelay: time.Second}, nil)
	exec, err := p.Start(context.Background(), stream.ExecutionRequest{
		Turn: types.NewTurn(types.RoleUser, "slow reply"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(stream.ErrAborted)
	_, err = exec.Next(ctx)
	assert.ErrorIs(t, err, stream.ErrAborted)
}
