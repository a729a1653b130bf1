package stream

import (
	"context"
	"time"

	"github.com/BaSui01/streamgate/types"
)

// ChunkType classifies progress events emitted by a run.
type ChunkType string

const (
	// ChunkDelta is a partial piece of output reported mid-step.
	ChunkDelta ChunkType = "delta"
	// ChunkStep marks a completed step.
	ChunkStep ChunkType = "step"
)

// Chunk is one progress event of a run, forwarded to the transport.
type Chunk struct {
	Type ChunkType   `json:"type"`
	Step int         `json:"step"`
	Text string      `json:"text,omitempty"`
	Turn *types.Turn `json:"turn,omitempty"`
}

// Step is one completed unit of execution and the turns it produced.
type Step struct {
	Index int
	Turns []types.Turn
}

// ExecutionRequest carries everything a provider needs to start one execution.
type ExecutionRequest struct {
	RunID      string
	ResourceID string
	ThreadID   string
	Turn       types.Turn
	History    []types.Turn
	ToolsURL   string
	MaxSteps   int

	// OnChunk reports partial output. The coordinator refreshes the liveness
	// record from it, so providers should call it for every chunk they see.
	OnChunk func(Chunk)
}

// Provider starts executions. Start may fail with an overload error, in which
// case the coordinator retries it with backoff.
type Provider interface {
	Start(ctx context.Context, req ExecutionRequest) (Execution, error)
}

// Execution is a started stream pulled step by step.
type Execution interface {
	// Next blocks until the next step completes. It returns io.EOF once the
	// execution finished naturally. Cancellation arrives through ctx.
	Next(ctx context.Context) (Step, error)

	// Close releases external resources held by the execution.
	Close() error
}

// ConversationStore persists conversation turns. SaveMessages must be
// idempotent on turn ID.
type ConversationStore interface {
	SaveMessages(ctx context.Context, resourceID, threadID string, turns []types.Turn) error
	ListMessages(ctx context.Context, resourceID, threadID string, limit int) ([]types.Turn, error)
}

// Workspace prepares the execution environment of a resource before a run
// starts and returns the URL of the tools endpoint to hand to the provider.
type Workspace interface {
	Prepare(ctx context.Context, resourceID string) (string, error)
}

// Metrics receives coordinator events.
type Metrics interface {
	RecordAdmission(result string)
	RecordPreemption(delivered bool)
	RecordReclaim()
	RecordHeartbeat(ok bool)
	RecordRun(outcome string, d time.Duration)
	RecordFlushedTurns(path string, n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordAdmission(string)          {}
func (nopMetrics) RecordPreemption(bool)           {}
func (nopMetrics) RecordReclaim()                  {}
func (nopMetrics) RecordHeartbeat(bool)            {}
func (nopMetrics) RecordRun(string, time.Duration) {}
func (nopMetrics) RecordFlushedTurns(string, int)  {}
