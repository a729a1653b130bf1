package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/BaSui01/streamgate/abort"
	"github.com/BaSui01/streamgate/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Result summarises a terminated run.
type Result struct {
	RunID      string
	ResourceID string
	Outcome    Outcome
	Steps      int
	Persisted  int // turns written to the conversation store on the terminal path
	Duration   time.Duration
	Err        error // set for OutcomeErrored
}

// Run is one admitted stream. It is driven by its own goroutine and owned by
// the request that started it.
type Run struct {
	id         string
	resourceID string
	threadID   string
	c          *Coordinator
	signal     *abort.Signal
	buffer     *Buffer
	exec       Execution
	logger     *zap.Logger
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	span   trace.Span

	stateMu sync.Mutex
	state   State

	hbMu       sync.Mutex
	lastBeat   time.Time
	terminated bool

	chunks     chan Chunk
	pubMu      sync.Mutex
	pubClosed  bool
	pubWG      sync.WaitGroup
	stopping   chan struct{}
	detached   chan struct{}
	detachOnce sync.Once

	done   chan struct{}
	result Result
}

func newRun(parent context.Context, c *Coordinator, id string, req Request, signal *abort.Signal, logger *zap.Logger) *Run {
	// The run outlives the request that started it; only abort or shutdown
	// stops it.
	ctx, span := c.tracer.Start(context.WithoutCancel(parent), "stream.run",
		trace.WithAttributes(
			attribute.String("stream.resource_id", req.ResourceID),
			attribute.String("stream.run_id", id),
		))
	ctx, cancel := context.WithCancelCause(ctx)

	now := c.now()
	return &Run{
		id:         id,
		resourceID: req.ResourceID,
		threadID:   req.ThreadID,
		c:          c,
		signal:     signal,
		buffer:     NewBuffer(),
		logger:     logger,
		startedAt:  now,
		ctx:        ctx,
		cancel:     cancel,
		span:       span,
		state:      StateRunning,
		lastBeat:   now,
		chunks:     make(chan Chunk, c.cfg.ChunkBuffer),
		stopping:   make(chan struct{}),
		detached:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// ResourceID returns the resource the run streams for.
func (r *Run) ResourceID() string { return r.resourceID }

// Chunks delivers progress events until the run terminates, then closes.
// Consumers that stop reading must call Detach.
func (r *Run) Chunks() <-chan Chunk { return r.chunks }

// Done is closed once the run terminated.
func (r *Run) Done() <-chan struct{} { return r.done }

// Buffer exposes the run's turn buffer.
func (r *Run) Buffer() *Buffer { return r.buffer }

// State returns the run's lifecycle state.
func (r *Run) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Detach stops delivery of chunks. The run keeps going.
func (r *Run) Detach() {
	r.detachOnce.Do(func() { close(r.detached) })
}

// Wait blocks until the run terminated or ctx is done. The error is non-nil
// only for errored runs.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, r.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Run) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

func (r *Run) loop() {
	outcome, steps, err := r.execute()
	r.finish(outcome, steps, err)
}

func (r *Run) execute() (Outcome, int, error) {
	// abort or shutdown requested while the run was starting
	if r.signal.Requested() {
		r.logger.Info("abort observed before first step")
		return OutcomeAborted, 0, nil
	}

	steps := 0
	for {
		if limit := r.c.cfg.MaxSteps; limit > 0 && steps >= limit {
			r.logger.Info("step limit reached", zap.Int("max_steps", limit))
			return OutcomeCompleted, steps, nil
		}

		step, err := r.exec.Next(r.ctx)
		if errors.Is(err, io.EOF) {
			return OutcomeCompleted, steps, nil
		}
		if err != nil {
			return OutcomeErrored, steps, err
		}
		steps++

		for i := range step.Turns {
			step.Turns[i] = step.Turns[i].Normalize(r.resourceID, r.threadID)
		}
		if err := r.buffer.Append(step.Turns...); err != nil {
			return OutcomeErrored, steps, err
		}
		r.publishStep(step)
		r.heartbeat()

		// checkpoint
		if r.signal.Requested() {
			r.logger.Info("abort observed", zap.Int("step", steps))
			return OutcomeAborted, steps, nil
		}
	}
}

func (r *Run) finish(outcome Outcome, steps int, runErr error) {
	r.setState(StateDraining)
	r.buffer.Seal()
	r.stopHeartbeat()

	bg := context.WithoutCancel(r.ctx)
	r.clearRecord(bg)

	var persisted int
	switch outcome {
	case OutcomeAborted:
		r.cancel(ErrAborted)
		persisted = r.flush(bg, "abort", r.buffer.DrainUnsaved())
	case OutcomeCompleted:
		turns := r.buffer.Turns()
		if n := r.flush(bg, "complete", turns); n == len(turns) {
			r.buffer.MarkSaved()
			persisted = n
		}
	case OutcomeErrored:
		if r.c.cfg.FlushOnError {
			persisted = r.flush(bg, "error", r.buffer.DrainUnsaved())
		}
	}

	if err := r.exec.Close(); err != nil {
		r.logger.Warn("failed to release execution", zap.Error(err))
	}
	r.cancel(context.Canceled)
	r.signal.Stop()
	r.closeChunks()

	duration := r.c.now().Sub(r.startedAt)
	r.result = Result{
		RunID:      r.id,
		ResourceID: r.resourceID,
		Outcome:    outcome,
		Steps:      steps,
		Persisted:  persisted,
		Duration:   duration,
	}
	if runErr != nil {
		r.result.Err = types.NewExecutionError(r.resourceID, runErr)
		r.span.RecordError(runErr)
		r.span.SetStatus(codes.Error, "execution error")
		r.logger.Error("stream failed", zap.Error(runErr), zap.Int("steps", steps))
	} else {
		r.logger.Info("stream finished",
			zap.String("outcome", string(outcome)),
			zap.Int("steps", steps),
			zap.Int("persisted", persisted),
			zap.Duration("duration", duration),
		)
	}
	r.span.SetAttributes(
		attribute.String("stream.outcome", string(outcome)),
		attribute.Int("stream.steps", steps),
		attribute.Int("stream.persisted_turns", persisted),
	)
	r.span.End()
	r.c.metrics.RecordRun(string(outcome), duration)

	r.c.clearState(r.resourceID, r.id)
	r.c.forget(r.id)
	r.setState(StateTerminated)
	close(r.done)
}

// abandon releases a run whose start failed before its goroutine was spawned.
func (r *Run) abandon(err error) {
	r.setState(StateDraining)
	r.buffer.Seal()
	r.stopHeartbeat()
	r.clearRecord(context.WithoutCancel(r.ctx))
	if r.exec != nil {
		_ = r.exec.Close()
	}
	r.cancel(err)
	r.signal.Stop()
	r.closeChunks()
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, "start failed")
	r.span.End()
	r.c.clearState(r.resourceID, r.id)
	r.c.forget(r.id)
	r.result = Result{RunID: r.id, ResourceID: r.resourceID, Outcome: OutcomeErrored, Err: err}
	r.setState(StateTerminated)
	close(r.done)
}

func (r *Run) onChunk(ch Chunk) {
	r.heartbeat()
	if ch.Type == "" {
		ch.Type = ChunkDelta
	}
	r.publish(ch)
}

// heartbeat refreshes the liveness record at most once per HeartbeatInterval.
// Failures are logged and counted; the run continues.
func (r *Run) heartbeat() {
	r.hbMu.Lock()
	defer r.hbMu.Unlock()
	if r.terminated {
		return
	}
	now := r.c.now()
	if now.Sub(r.lastBeat) < r.c.cfg.HeartbeatInterval {
		return
	}
	r.lastBeat = now

	err := r.c.store.MarkRunning(context.WithoutCancel(r.ctx), r.resourceID, r.c.cfg.LivenessTTL)
	r.c.metrics.RecordHeartbeat(err == nil)
	if err != nil {
		r.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

// keepalive refreshes the record every HeartbeatInterval until the returned
// func is called.
func (r *Run) keepalive() func() {
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(r.c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.heartbeat()
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-exited
	}
}

// stopHeartbeat waits for an in-flight heartbeat and refuses later ones, so no
// write can land after the record is cleared.
func (r *Run) stopHeartbeat() {
	r.hbMu.Lock()
	r.terminated = true
	r.hbMu.Unlock()
}

func (r *Run) clearRecord(ctx context.Context) {
	if err := r.c.store.Clear(ctx, r.resourceID); err != nil {
		r.logger.Error("failed to clear liveness record", zap.Error(err))
	}
}

// flush persists turns and returns how many were written.
func (r *Run) flush(ctx context.Context, path string, turns []types.Turn) int {
	if len(turns) == 0 || r.c.turns == nil {
		return 0
	}
	if err := r.c.turns.SaveMessages(ctx, r.resourceID, r.threadID, turns); err != nil {
		r.logger.Error("failed to persist turns",
			zap.String("path", path),
			zap.Int("turns", len(turns)),
			zap.Error(err),
		)
		return 0
	}
	r.c.metrics.RecordFlushedTurns(path, len(turns))
	return len(turns)
}

func (r *Run) publishStep(step Step) {
	if len(step.Turns) == 0 {
		r.publish(Chunk{Type: ChunkStep, Step: step.Index})
		return
	}
	for i := range step.Turns {
		turn := step.Turns[i]
		r.publish(Chunk{Type: ChunkStep, Step: step.Index, Text: turn.Text(), Turn: &turn})
	}
}

func (r *Run) publish(ch Chunk) {
	r.pubMu.Lock()
	if r.pubClosed {
		r.pubMu.Unlock()
		return
	}
	r.pubWG.Add(1)
	r.pubMu.Unlock()
	defer r.pubWG.Done()

	select {
	case r.chunks <- ch:
	case <-r.detached:
	case <-r.stopping:
	}
}

func (r *Run) closeChunks() {
	r.pubMu.Lock()
	if r.pubClosed {
		r.pubMu.Unlock()
		return
	}
	r.pubClosed = true
	r.pubMu.Unlock()

	close(r.stopping)
	r.pubWG.Wait()
	close(r.chunks)
}
