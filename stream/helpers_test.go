package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/streamgate/abort"
	"github.com/BaSui01/streamgate/liveness"
	"github.com/BaSui01/streamgate/retry"
	"github.com/BaSui01/streamgate/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// =============================================================================
// 🧪 Test doubles
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingStore wraps a liveness store, counting writes and injecting failures.
type countingStore struct {
	liveness.Store
	marks     atomic.Int32
	clears    atomic.Int32
	failMarks atomic.Bool
	getErr    error
	onClear   func()
}

func (s *countingStore) MarkRunning(ctx context.Context, id string, ttl time.Duration) error {
	s.marks.Add(1)
	if s.failMarks.Load() {
		return errors.New("redis: connection reset")
	}
	return s.Store.MarkRunning(ctx, id, ttl)
}

func (s *countingStore) Get(ctx context.Context, id string) (liveness.Status, error) {
	if s.getErr != nil {
		return liveness.StatusAbsent, s.getErr
	}
	return s.Store.Get(ctx, id)
}

func (s *countingStore) Clear(ctx context.Context, id string) error {
	s.clears.Add(1)
	if s.onClear != nil {
		s.onClear()
	}
	return s.Store.Clear(ctx, id)
}

// memTurns is an idempotent conversation store that counts writes per turn.
type memTurns struct {
	mu      sync.Mutex
	turns   map[string]types.Turn
	order   []string
	writes  map[string]int
	saveErr error
}

func newMemTurns() *memTurns {
	return &memTurns{turns: make(map[string]types.Turn), writes: make(map[string]int)}
}

func (m *memTurns) SaveMessages(_ context.Context, _, _ string, turns []types.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, t := range turns {
		m.writes[t.ID]++
		if _, ok := m.turns[t.ID]; ok {
			continue
		}
		m.turns[t.ID] = t
		m.order = append(m.order, t.ID)
	}
	return nil
}

func (m *memTurns) ListMessages(_ context.Context, resourceID, threadID string, limit int) ([]types.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Turn
	for _, id := range m.order {
		t := m.turns[id]
		if t.ResourceID == resourceID && t.ThreadID == threadID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memTurns) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.turns[id]
	return ok
}

func (m *memTurns) writeCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[id]
}

func (m *memTurns) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.order...)
	sort.Strings(out)
	return out
}

// stepTracker measures how many executions are inside Next at once.
type stepTracker struct {
	mu  sync.Mutex
	cur int
	max int
}

func (t *stepTracker) enter() {
	t.mu.Lock()
	t.cur++
	if t.cur > t.max {
		t.max = t.cur
	}
	t.mu.Unlock()
}

func (t *stepTracker) leave() {
	t.mu.Lock()
	t.cur--
	t.mu.Unlock()
}

func (t *stepTracker) peak() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

type execScript struct {
	steps      int // -1 runs until cancelled
	delay      time.Duration
	chunks     int
	failAt     int
	failErr    error
	beforeStep func()
}

type scriptedProvider struct {
	mu       sync.Mutex
	script   execScript
	startErr func(n int) error
	starts   int
	requests []ExecutionRequest
	execs    []*scriptedExecution
	tracker  *stepTracker
}

func newScriptedProvider(script execScript) *scriptedProvider {
	return &scriptedProvider{script: script, tracker: &stepTracker{}}
}

func (p *scriptedProvider) Start(_ context.Context, req ExecutionRequest) (Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		if err := p.startErr(p.starts); err != nil {
			return nil, err
		}
	}
	p.requests = append(p.requests, req)
	e := &scriptedExecution{req: req, script: p.script, tracker: p.tracker}
	p.execs = append(p.execs, e)
	return e, nil
}

func (p *scriptedProvider) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

func (p *scriptedProvider) exec(i int) *scriptedExecution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.execs[i]
}

func (p *scriptedProvider) request(i int) ExecutionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

type scriptedExecution struct {
	req     ExecutionRequest
	script  execScript
	tracker *stepTracker
	n       int
	closed  atomic.Int32
}

func (e *scriptedExecution) Next(ctx context.Context) (Step, error) {
	e.tracker.enter()
	defer e.tracker.leave()

	if e.script.steps >= 0 && e.n >= e.script.steps {
		return Step{}, io.EOF
	}
	if e.script.delay > 0 {
		select {
		case <-time.After(e.script.delay):
		case <-ctx.Done():
			return Step{}, context.Cause(ctx)
		}
	}
	e.n++
	if e.script.failAt == e.n {
		return Step{}, e.script.failErr
	}
	if e.script.beforeStep != nil {
		e.script.beforeStep()
	}
	for i := 0; i < e.script.chunks; i++ {
		e.req.OnChunk(Chunk{Text: "tok"})
	}
	return Step{
		Index: e.n,
		Turns: []types.Turn{{
			ID:    stepTurnID(e.req.RunID, e.n),
			Role:  types.RoleAssistant,
			Parts: []types.Part{{Type: "text", Text: fmt.Sprintf("step %d", e.n)}},
		}},
	}, nil
}

func (e *scriptedExecution) Close() error {
	e.closed.Add(1)
	return nil
}

func stepTurnID(runID string, n int) string {
	return fmt.Sprintf("%s-step-%d", runID, n)
}

type recordingMetrics struct {
	mu         sync.Mutex
	admissions map[string]int
	preempts   int
	reclaims   int
	heartbeats map[bool]int
	runs       map[string]int
	flushed    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		admissions: make(map[string]int),
		heartbeats: make(map[bool]int),
		runs:       make(map[string]int),
		flushed:    make(map[string]int),
	}
}

func (m *recordingMetrics) RecordAdmission(result string) {
	m.mu.Lock()
	m.admissions[result]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordPreemption(bool) {
	m.mu.Lock()
	m.preempts++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordReclaim() {
	m.mu.Lock()
	m.reclaims++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordHeartbeat(ok bool) {
	m.mu.Lock()
	m.heartbeats[ok]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordRun(outcome string, _ time.Duration) {
	m.mu.Lock()
	m.runs[outcome]++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordFlushedTurns(path string, n int) {
	m.mu.Lock()
	m.flushed[path] += n
	m.mu.Unlock()
}

func (m *recordingMetrics) get(f func(m *recordingMetrics) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m)
}

// =============================================================================
// 🔧 Fixtures
// =============================================================================

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 2 * time.Millisecond
	cfg.MaxPollAttempts = 1000
	cfg.ChunkBuffer = 1024
	return cfg
}

func noSleepRetry() *retry.Executor {
	return retry.NewExecutor(&retry.RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	}, nil, retry.WithSleeper(func(context.Context, time.Duration) error { return nil }))
}

type fixture struct {
	coord    *Coordinator
	store    *countingStore
	mem      *liveness.MemoryStore
	turns    *memTurns
	provider *scriptedProvider
	metrics  *recordingMetrics
	aborts   *abort.Registry
	clock    *testClock
}

func newFixture(t *testing.T, cfg Config, script execScript, opts ...Option) *fixture {
	t.Helper()

	clock := newTestClock()
	mem := liveness.NewMemoryStore().WithClock(clock.Now)
	f := &fixture{
		store:    &countingStore{Store: mem},
		mem:      mem,
		turns:    newMemTurns(),
		provider: newScriptedProvider(script),
		metrics:  newRecordingMetrics(),
		aborts:   abort.NewRegistry(nil),
		clock:    clock,
	}

	all := append([]Option{
		WithConversationStore(f.turns),
		WithMetrics(f.metrics),
		WithRetryExecutor(noSleepRetry()),
		WithClock(clock.Now),
	}, opts...)

	coord, err := NewCoordinator(cfg, f.store, f.aborts, f.provider, zaptest.NewLogger(t), all...)
	require.NoError(t, err)
	f.coord = coord
	return f
}

func userRequest(resourceID, text string) Request {
	return Request{ResourceID: resourceID, Turn: types.NewTurn(types.RoleUser, text)}
}

func waitResult(t *testing.T, run *Run) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "run did not terminate")
	return res, err
}

func collectChunks(run *Run) <-chan []Chunk {
	out := make(chan []Chunk, 1)
	go func() {
		var got []Chunk
		for ch := range run.Chunks() {
			got = append(got, ch)
		}
		out <- got
	}()
	return out
}
