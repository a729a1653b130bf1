// Package loopback is a deterministic execution provider that replays the
// inbound message back as a multi-step reply. It exercises the full stream
// lifecycle without a model behind it.
package loopback

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BaSui01/streamgate/stream"
	"github.com/BaSui01/streamgate/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config shapes the replayed reply.
type Config struct {
	Steps      int           `yaml:"steps" env:"STEPS"`
	ChunkDelay time.Duration `yaml:"chunk_delay" env:"CHUNK_DELAY"`
	Prefix     string        `yaml:"prefix" env:"PREFIX"`
}

// DefaultConfig returns a three step reply without delays.
func DefaultConfig() Config {
	return Config{
		Steps:  3,
		Prefix: "echo",
	}
}

// Provider implements stream.Provider.
type Provider struct {
	config Config
	logger *zap.Logger
}

// New creates a loopback provider.
func New(config Config, logger *zap.Logger) *Provider {
	if config.Steps <= 0 {
		config.Steps = DefaultConfig().Steps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{config: config, logger: logger.With(zap.String("component", "loopback_provider"))}
}

// Start begins a replay of req.Turn.
func (p *Provider) Start(_ context.Context, req stream.ExecutionRequest) (stream.Execution, error) {
	steps := p.config.Steps
	if req.MaxSteps > 0 && steps > req.MaxSteps {
		steps = req.MaxSteps
	}
	p.logger.Debug("execution started",
		zap.String("run_id", req.RunID),
		zap.Int("steps", steps),
		zap.Int("history", len(req.History)),
	)
	return &execution{
		req:    req,
		config: p.config,
		steps:  steps,
		words:  strings.Fields(req.Turn.Text()),
	}, nil
}

type execution struct {
	req    stream.ExecutionRequest
	config Config
	steps  int
	words  []string
	n      int
	closed bool
}

func (e *execution) Next(ctx context.Context) (stream.Step, error) {
	if e.closed {
		return stream.Step{}, fmt.Errorf("loopback: execution closed")
	}
	if e.n >= e.steps {
		return stream.Step{}, io.EOF
	}
	e.n++

	text := e.stepText()
	for _, word := range strings.Fields(text) {
		if e.config.ChunkDelay > 0 {
			select {
			case <-time.After(e.config.ChunkDelay):
			case <-ctx.Done():
				return stream.Step{}, context.Cause(ctx)
			}
		}
		if e.req.OnChunk != nil {
			e.req.OnChunk(stream.Chunk{Type: stream.ChunkDelta, Step: e.n, Text: word + " "})
		}
	}

	return stream.Step{
		Index: e.n,
		Turns: []types.Turn{{
			ID:         uuid.NewString(),
			ResourceID: e.req.ResourceID,
			ThreadID:   e.req.ThreadID,
			Role:       types.RoleAssistant,
			Parts:      []types.Part{{Type: "text", Text: text}},
			CreatedAt:  time.Now(),
		}},
	}, nil
}

// stepText returns the slice of the reply belonging to the current step.
func (e *execution) stepText() string {
	if len(e.words) == 0 {
		return fmt.Sprintf("%s step %d", e.config.Prefix, e.n)
	}
	per := (len(e.words) + e.steps - 1) / e.steps
	start := (e.n - 1) * per
	if start >= len(e.words) {
		return fmt.Sprintf("%s step %d", e.config.Prefix, e.n)
	}
	end := min(start+per, len(e.words))
	return fmt.Sprintf("%s: %s", e.config.Prefix, strings.Join(e.words[start:end], " "))
}

func (e *execution) Close() error {
	e.closed = true
	return nil
}
