package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/streamgate/abort"
	"github.com/BaSui01/streamgate/liveness"
	"github.com/BaSui01/streamgate/retry"
	"github.com/BaSui01/streamgate/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/streamgate/stream"

// ErrAborted is the cancellation cause of a run stopped by a newer request.
var ErrAborted = errors.New("stream: aborted by a newer request")

// State is the lifecycle state of a resource or a run.
type State string

const (
	StateIdle       State = "idle"
	StateAdmitting  State = "admitting"
	StatePreempting State = "preempting"
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateTerminated State = "terminated"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeErrored   Outcome = "errored"
	OutcomeAborted   Outcome = "aborted"
)

// Admission results reported to Metrics.
const (
	AdmissionAdmitted  = "admitted"
	AdmissionPreempted = "preempted"
	AdmissionTimeout   = "timeout"
	AdmissionError     = "error"
	AdmissionCanceled  = "canceled"
)

// Config tunes admission and liveness.
type Config struct {
	PollInterval      time.Duration
	MaxPollAttempts   int
	HeartbeatInterval time.Duration
	LivenessTTL       time.Duration
	MaxSteps          int  // 0 disables the limit
	FlushOnError      bool // persist unsaved turns of errored runs
	HistoryLimit      int
	ChunkBuffer       int
}

// DefaultConfig returns the production defaults: a 30s admission budget, a 5s
// heartbeat and a 15s liveness TTL.
func DefaultConfig() Config {
	return Config{
		PollInterval:      500 * time.Millisecond,
		MaxPollAttempts:   60,
		HeartbeatInterval: 5 * time.Second,
		LivenessTTL:       15 * time.Second,
		MaxSteps:          100,
		FlushOnError:      false,
		HistoryLimit:      100,
		ChunkBuffer:       64,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MaxPollAttempts <= 0 {
		return errors.New("max poll attempts must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.LivenessTTL <= c.HeartbeatInterval {
		return fmt.Errorf("liveness ttl %s must exceed heartbeat interval %s", c.LivenessTTL, c.HeartbeatInterval)
	}
	if c.MaxSteps < 0 {
		return errors.New("max steps must not be negative")
	}
	return nil
}

// Request asks the coordinator to start a run for a resource.
type Request struct {
	ResourceID string
	ThreadID   string // defaults to ResourceID
	Turn       types.Turn
}

// Status describes what is known about a resource's stream.
type Status struct {
	ResourceID string        `json:"resource_id"`
	Running    bool          `json:"running"`
	TTL        time.Duration `json:"ttl"`
	LocalState State         `json:"local_state"`
	Listening  bool          `json:"listening"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConversationStore persists inbound and produced turns.
func WithConversationStore(s ConversationStore) Option {
	return func(c *Coordinator) { c.turns = s }
}

// WithWorkspace prepares the resource's environment before each run.
func WithWorkspace(w Workspace) Option {
	return func(c *Coordinator) { c.workspace = w }
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithRetryExecutor overrides the executor wrapping execution start.
func WithRetryExecutor(e *retry.Executor) Option {
	return func(c *Coordinator) {
		if e != nil {
			c.retry = e
		}
	}
}

// WithClock overrides the time source used for heartbeat throttling.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithPollSleeper overrides the admission poll sleep.
func WithPollSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

// Coordinator admits runs single-flight per resource, preempts stale runs,
// keeps liveness records fresh and persists turns on every terminal path.
type Coordinator struct {
	cfg       Config
	store     liveness.Store
	aborts    *abort.Registry
	provider  Provider
	turns     ConversationStore
	workspace Workspace
	retry     *retry.Executor
	metrics   Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	locks *keyedMutex

	mu     sync.Mutex
	states map[string]ownedState
	runs   map[string]*Run
}

type ownedState struct {
	owner string
	state State
}

// NewCoordinator creates a coordinator. A nil registry gets a fresh one.
func NewCoordinator(cfg Config, store liveness.Store, aborts *abort.Registry, provider Provider, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	if store == nil {
		return nil, errors.New("liveness store is required")
	}
	if provider == nil {
		return nil, errors.New("execution provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if aborts == nil {
		aborts = abort.NewRegistry(logger)
	}
	if cfg.ChunkBuffer < 0 {
		cfg.ChunkBuffer = 0
	}

	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		aborts:   aborts,
		provider: provider,
		metrics:  nopMetrics{},
		tracer:   otel.Tracer(instrumentationName),
		logger:   logger.With(zap.String("component", "stream_coordinator")),
		now:      time.Now,
		sleep:    sleepContext,
		locks:    newKeyedMutex(),
		states:   make(map[string]ownedState),
		runs:     make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = retry.NewExecutor(retry.DefaultRetryPolicy(), logger)
	}
	return c, nil
}

// Config returns the active configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Admit waits until no stream is guaranteed alive for resourceID. A running
// stream is asked to abort, then the record is polled until it clears. When
// the budget is exhausted the record is force-cleared and an admission timeout
// is returned; the caller is expected to retry.
func (c *Coordinator) Admit(ctx context.Context, resourceID string) error {
	unlock, err := c.locks.Lock(ctx, resourceID)
	if err != nil {
		return fmt.Errorf("admission canceled: %w", err)
	}
	defer unlock()

	owner := uuid.NewString()
	defer c.clearState(resourceID, owner)
	return c.admit(ctx, resourceID, owner)
}

func (c *Coordinator) admit(ctx context.Context, resourceID, owner string) error {
	ctx, span := c.tracer.Start(ctx, "stream.admit",
		trace.WithAttributes(attribute.String("stream.resource_id", resourceID)))
	defer span.End()

	logger := c.logger.With(zap.String("resource_id", resourceID))
	c.setState(resourceID, owner, StateAdmitting)

	status, err := c.store.Get(ctx, resourceID)
	if err != nil {
		return c.admissionFailed(span, storeError("liveness get", resourceID, err))
	}
	if status != liveness.StatusRunning {
		c.metrics.RecordAdmission(AdmissionAdmitted)
		span.SetAttributes(attribute.String("stream.admission", AdmissionAdmitted))
		return nil
	}

	c.setState(resourceID, owner, StatePreempting)
	delivered := c.aborts.RequestAbort(resourceID)
	c.metrics.RecordPreemption(delivered)
	logger.Info("stopping previous stream", zap.Bool("delivered", delivered))

	for attempt := 1; attempt <= c.cfg.MaxPollAttempts; attempt++ {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			c.metrics.RecordAdmission(AdmissionCanceled)
			span.SetStatus(codes.Error, "admission canceled")
			return fmt.Errorf("admission canceled: %w", err)
		}
		status, err = c.store.Get(ctx, resourceID)
		if err != nil {
			return c.admissionFailed(span, storeError("liveness get", resourceID, err))
		}
		if status != liveness.StatusRunning {
			logger.Info("previous stream stopped", zap.Int("attempts", attempt))
			c.metrics.RecordAdmission(AdmissionPreempted)
			span.SetAttributes(
				attribute.String("stream.admission", AdmissionPreempted),
				attribute.Int("stream.poll_attempts", attempt),
			)
			return nil
		}
	}

	// The previous owner may still be alive; the record is reclaimed anyway and
	// the caller retries.
	logger.Warn("previous stream still running after wait budget, reclaiming",
		zap.Int("attempts", c.cfg.MaxPollAttempts),
	)
	if err := c.store.Clear(context.WithoutCancel(ctx), resourceID); err != nil {
		logger.Error("failed to reclaim liveness record", zap.Error(err))
	}
	c.metrics.RecordReclaim()
	c.metrics.RecordAdmission(AdmissionTimeout)
	span.SetAttributes(attribute.String("stream.admission", AdmissionTimeout))
	span.SetStatus(codes.Error, "admission timeout")
	return types.NewAdmissionTimeoutError(resourceID)
}

func (c *Coordinator) admissionFailed(span trace.Span, err error) error {
	c.metrics.RecordAdmission(AdmissionError)
	span.RecordError(err)
	span.SetStatus(codes.Error, "store unavailable")
	return err
}

// Start admits the request, marks the resource running and launches a run.
// Failures after the record was written clear it again.
func (c *Coordinator) Start(ctx context.Context, req Request) (*Run, error) {
	if req.ResourceID == "" {
		return nil, types.NewInvalidRequestError("resource id is required")
	}
	if req.ThreadID == "" {
		req.ThreadID = req.ResourceID
	}
	req.Turn = req.Turn.Normalize(req.ResourceID, req.ThreadID)
	if req.Turn.Role == "" {
		req.Turn.Role = types.RoleUser
	}

	runID := uuid.NewString()
	logger := c.logger.With(
		zap.String("resource_id", req.ResourceID),
		zap.String("run_id", runID),
	)

	unlock, err := c.locks.Lock(ctx, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("admission canceled: %w", err)
	}
	if err := c.admit(ctx, req.ResourceID, runID); err != nil {
		unlock()
		c.clearState(req.ResourceID, runID)
		return nil, err
	}
	if err := c.store.MarkRunning(ctx, req.ResourceID, c.cfg.LivenessTTL); err != nil {
		unlock()
		c.clearState(req.ResourceID, runID)
		return nil, storeError("liveness mark", req.ResourceID, err)
	}
	signal := c.aborts.Listen(req.ResourceID)
	c.setState(req.ResourceID, runID, StateRunning)
	unlock()

	run := newRun(ctx, c, runID, req, signal, logger)
	c.mu.Lock()
	c.runs[runID] = run
	c.mu.Unlock()

	// The record carries no other heartbeat until the loop produces chunks.
	stopKeepalive := run.keepalive()
	err = c.launch(ctx, run, req)
	stopKeepalive()
	if err != nil {
		logger.Error("failed to start stream", zap.Error(err))
		run.abandon(err)
		return nil, err
	}

	logger.Info("stream started")
	go run.loop()
	return run, nil
}

func (c *Coordinator) launch(ctx context.Context, run *Run, req Request) error {
	var toolsURL string
	if c.workspace != nil {
		url, err := c.workspace.Prepare(ctx, req.ResourceID)
		if err != nil {
			return wrapStartError(req.ResourceID, err)
		}
		toolsURL = url
	}

	var history []types.Turn
	if c.turns != nil {
		h, err := c.turns.ListMessages(ctx, req.ResourceID, req.ThreadID, c.cfg.HistoryLimit)
		if err != nil {
			return storeError("list messages", req.ResourceID, err)
		}
		history = h
	}

	execReq := ExecutionRequest{
		RunID:      run.id,
		ResourceID: req.ResourceID,
		ThreadID:   req.ThreadID,
		Turn:       req.Turn,
		History:    history,
		ToolsURL:   toolsURL,
		MaxSteps:   c.cfg.MaxSteps,
		OnChunk:    run.onChunk,
	}

	exec, err := retry.DoWithResult(ctx, c.retry, func(ctx context.Context) (Execution, error) {
		run.heartbeat()
		if c.turns != nil {
			if err := c.turns.SaveMessages(ctx, req.ResourceID, req.ThreadID, []types.Turn{req.Turn}); err != nil {
				return nil, storeError("save inbound turn", req.ResourceID, err)
			}
		}
		return c.provider.Start(run.ctx, execReq)
	})
	if err != nil {
		return wrapStartError(req.ResourceID, err)
	}
	run.exec = exec
	return nil
}

// Abort delivers abort intent to the run listening for resourceID in this
// process and reports whether one received it.
func (c *Coordinator) Abort(resourceID string) bool {
	return c.aborts.RequestAbort(resourceID)
}

// Status reads the liveness record and the local state of a resource.
func (c *Coordinator) Status(ctx context.Context, resourceID string) (Status, error) {
	st := Status{
		ResourceID: resourceID,
		LocalState: c.State(resourceID),
		Listening:  c.aborts.Listening(resourceID),
	}
	status, err := c.store.Get(ctx, resourceID)
	if err != nil {
		return st, storeError("liveness get", resourceID, err)
	}
	st.Running = status == liveness.StatusRunning
	if st.Running {
		ttl, err := c.store.TTL(ctx, resourceID)
		if err != nil {
			return st, storeError("liveness ttl", resourceID, err)
		}
		st.TTL = ttl
	}
	return st, nil
}

// State returns the local lifecycle state of a resource.
func (c *Coordinator) State(resourceID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[resourceID]; ok {
		return s.state
	}
	return StateIdle
}

// ActiveRuns returns the number of runs that have not terminated.
func (c *Coordinator) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// Shutdown aborts every local run and waits for them to terminate.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	runs := make([]*Run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		r.signal.Trigger()
	}
	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) setState(resourceID, owner string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[resourceID] = ownedState{owner: owner, state: s}
}

func (c *Coordinator) clearState(resourceID, owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.states[resourceID]; ok && cur.owner == owner {
		delete(c.states, resourceID)
	}
}

func (c *Coordinator) forget(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.runs, runID)
}

func storeError(op, resourceID string, err error) error {
	if types.IsCode(err, types.ErrStoreUnavailable) {
		return err
	}
	return types.NewStoreUnavailableError(op, err).WithResource(resourceID)
}

func wrapStartError(resourceID string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewExecutionError(resourceID, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
