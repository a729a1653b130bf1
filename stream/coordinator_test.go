package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/streamgate/liveness"
	"github.com/BaSui01/streamgate/retry"
	"github.com/BaSui01/streamgate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero poll interval", mutate: func(c *Config) { c.PollInterval = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxPollAttempts = 0 }, wantErr: true},
		{name: "zero heartbeat", mutate: func(c *Config) { c.HeartbeatInterval = 0 }, wantErr: true},
		{name: "ttl not above heartbeat", mutate: func(c *Config) { c.LivenessTTL = c.HeartbeatInterval }, wantErr: true},
		{name: "negative max steps", mutate: func(c *Config) { c.MaxSteps = -1 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewCoordinator_RequiresDependencies(t *testing.T) {
	_, err := NewCoordinator(DefaultConfig(), nil, nil, newScriptedProvider(execScript{}), nil)
	assert.Error(t, err)

	_, err = NewCoordinator(DefaultConfig(), liveness.NewMemoryStore(), nil, nil, nil)
	assert.Error(t, err)

	c, err := NewCoordinator(DefaultConfig(), liveness.NewMemoryStore(), nil, newScriptedProvider(execScript{}), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c.Config())
}

// A1: no record, the run heartbeats twice and completes; the record is gone
// and every produced turn is durable.
func TestCoordinator_CompletesAndPersists(t *testing.T) {
	var f *fixture
	f = newFixture(t, testConfig(), execScript{
		steps:  2,
		chunks: 2,
		beforeStep: func() {
			f.clock.Advance(5 * time.Second)
		},
	})
	ctx := context.Background()

	req := userRequest("A1", "build me a todo app")
	run, err := f.coord.Start(ctx, req)
	require.NoError(t, err)
	chunks := collectChunks(run)

	res, err := waitResult(t, run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 2, res.Persisted)

	status, err := f.mem.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, liveness.StatusAbsent, status)

	// initial mark plus one throttled heartbeat per step at t=5s and t=10s
	assert.Equal(t, int32(3), f.store.marks.Load())
	assert.Equal(t, 2, f.metrics.get(func(m *recordingMetrics) int { return m.heartbeats[true] }))

	assert.True(t, f.turns.has(req.Turn.ID))
	for i := 1; i <= 2; i++ {
		assert.True(t, f.turns.has(stepTurnID(run.ID(), i)))
	}
	assert.Empty(t, run.Buffer().DrainUnsaved())

	got := <-chunks
	var deltas, steps int
	for _, ch := range got {
		switch ch.Type {
		case ChunkDelta:
			deltas++
		case ChunkStep:
			steps++
			require.NotNil(t, ch.Turn)
			assert.Equal(t, "A1", ch.Turn.ResourceID)
		}
	}
	assert.Equal(t, 4, deltas)
	assert.Equal(t, 2, steps)

	assert.Equal(t, StateTerminated, run.State())
	assert.Equal(t, StateIdle, f.coord.State("A1"))
	assert.False(t, f.aborts.Listening("A1"))
	assert.Equal(t, int32(1), f.provider.exec(0).closed.Load())
	assert.Equal(t, 0, f.coord.ActiveRuns())
	assert.Equal(t, 1, f.metrics.get(func(m *recordingMetrics) int { return m.runs[string(OutcomeCompleted)] }))
}

func TestCoordinator_ExecutionRequest(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	ctx := context.Background()

	prior := types.NewTurn(types.RoleUser, "earlier")
	require.NoError(t, f.turns.SaveMessages(ctx, "app", "app", []types.Turn{prior.Normalize("app", "app")}))

	run, err := f.coord.Start(ctx, userRequest("app", "hello"))
	require.NoError(t, err)
	run.Detach()
	_, err = waitResult(t, run)
	require.NoError(t, err)

	req := f.provider.request(0)
	assert.Equal(t, run.ID(), req.RunID)
	assert.Equal(t, "app", req.ResourceID)
	assert.Equal(t, "app", req.ThreadID, "thread defaults to the resource")
	assert.Equal(t, types.RoleUser, req.Turn.Role)
	assert.Equal(t, 100, req.MaxSteps)
	require.Len(t, req.History, 1)
	assert.Equal(t, prior.ID, req.History[0].ID)
	assert.NotNil(t, req.OnChunk)
}

func TestCoordinator_InvalidRequest(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	_, err := f.coord.Start(context.Background(), Request{})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	assert.Equal(t, 0, f.provider.startCount())
}

// A new request preempts the running stream; executions never overlap and the
// preempted run's unsaved turns are flushed exactly once.
func TestCoordinator_PreemptsRunningStream(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: -1, delay: 5 * time.Millisecond})
	ctx := context.Background()

	first, err := f.coord.Start(ctx, userRequest("app", "first"))
	require.NoError(t, err)
	first.Detach()

	require.Eventually(t, func() bool { return first.Buffer().Len() >= 2 }, 2*time.Second, time.Millisecond)

	second, err := f.coord.Start(ctx, userRequest("app", "second"))
	require.NoError(t, err)
	second.Detach()

	res, err := waitResult(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, res.Steps, res.Persisted)
	assert.ErrorIs(t, context.Cause(first.ctx), ErrAborted)

	for i := 1; i <= res.Steps; i++ {
		id := stepTurnID(first.ID(), i)
		assert.True(t, f.turns.has(id), id)
		assert.Equal(t, 1, f.turns.writeCount(id), id)
	}
	assert.Empty(t, first.Buffer().DrainUnsaved())

	assert.Equal(t, StateRunning, second.State())
	status, err := f.mem.Get(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, liveness.StatusRunning, status, "record belongs to the new run")

	require.True(t, f.coord.Abort("app"))
	res, err = waitResult(t, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)

	assert.Equal(t, 1, f.provider.tracker.peak())
	assert.Equal(t, 1, f.metrics.get(func(m *recordingMetrics) int { return m.admissions[AdmissionPreempted] }))
	assert.Equal(t, 0, f.metrics.get(func(m *recordingMetrics) int { return m.reclaims }))
}

// Concurrent requests for one resource never run side by side.
func TestCoordinator_SingleFlightUnderConcurrency(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: -1, delay: 2 * time.Millisecond})
	ctx := context.Background()

	const n = 5
	var (
		mu   sync.Mutex
		runs []*Run
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := f.coord.Start(ctx, userRequest("app", "go"))
			if assert.NoError(t, err) {
				run.Detach()
				mu.Lock()
				runs = append(runs, run)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, runs, n)

	terminated := func() (done int, live *Run) {
		for _, run := range runs {
			select {
			case <-run.Done():
				done++
			default:
				live = run
			}
		}
		return done, live
	}
	require.Eventually(t, func() bool {
		done, _ := terminated()
		return done == n-1
	}, 2*time.Second, time.Millisecond)

	_, last := terminated()
	require.NotNil(t, last)
	for _, run := range runs {
		if run == last {
			continue
		}
		res, _ := run.Wait(ctx)
		assert.Equal(t, OutcomeAborted, res.Outcome)
	}
	assert.Equal(t, 1, f.provider.tracker.peak())

	f.coord.Abort("app")
	_, err := waitResult(t, last)
	require.NoError(t, err)
}

// A2: a running record with 10s left; the original run observes the abort
// within one step and the new request is admitted well inside its budget.
func TestCoordinator_AdmissionWaitsForShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.MaxPollAttempts = 60
	cfg.HeartbeatInterval = 6 * time.Second
	f := newFixture(t, cfg, execScript{steps: -1, delay: 20 * time.Millisecond})
	ctx := context.Background()

	first, err := f.coord.Start(ctx, userRequest("A2", "first"))
	require.NoError(t, err)
	first.Detach()
	f.clock.Advance(5 * time.Second)
	ttl, err := f.mem.TTL(ctx, "A2")
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, ttl)

	started := time.Now()
	second, err := f.coord.Start(ctx, userRequest("A2", "second"))
	require.NoError(t, err)
	second.Detach()
	assert.Less(t, time.Since(started), 2*time.Second)

	res, err := waitResult(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 1, f.metrics.get(func(m *recordingMetrics) int { return m.admissions[AdmissionPreempted] }))

	f.coord.Abort("A2")
	_, err = waitResult(t, second)
	require.NoError(t, err)
}

// A record left by another process expires on its own; admission succeeds
// without a reclaim once the TTL runs out.
func TestCoordinator_AdmitsAfterTTLExpiry(t *testing.T) {
	var f *fixture
	f = newFixture(t, DefaultConfig(), execScript{steps: 1}, WithPollSleeper(func(ctx context.Context, d time.Duration) error {
		f.clock.Advance(d)
		return nil
	}))
	ctx := context.Background()

	require.NoError(t, f.mem.MarkRunning(ctx, "crashed", 10*time.Second))

	require.NoError(t, f.coord.Admit(ctx, "crashed"))
	assert.Equal(t, 1, f.metrics.get(func(m *recordingMetrics) int { return m.admissions[AdmissionPreempted] }))
	assert.Equal(t, 0, f.metrics.get(func(m *recordingMetrics) int { return m.reclaims }))
	assert.Equal(t, int32(0), f.store.clears.Load())
	assert.Equal(t, StateIdle, f.coord.State("crashed"))
}

func TestCoordinator_AdmissionTimeoutReclaims(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPollAttempts = 3
	f := newFixture(t, cfg, execScript{steps: 1})
	ctx := context.Background()

	// a stuck owner in another process keeps the record alive
	require.NoError(t, f.mem.MarkRunning(ctx, "stuck", time.Hour))

	_, err := f.coord.Start(ctx, userRequest("stuck", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAdmissionTimeout))
	var typed *types.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, 429, typed.HTTPStatus)
	assert.True(t, typed.Retryable)

	status, err := f.mem.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, liveness.StatusAbsent, status, "record force-cleared")
	assert.Equal(t, 0, f.provider.startCount())
	assert.Equal(t, 1, f.metrics.get(func(m *recordingMetrics) int { return m.reclaims }))

	// the caller's retry is admitted
	run, err := f.coord.Start(ctx, userRequest("stuck", "hi again"))
	require.NoError(t, err)
	run.Detach()
	_, err = waitResult(t, run)
	require.NoError(t, err)
}

func TestCoordinator_AdmissionCanceled(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	require.NoError(t, f.mem.MarkRunning(context.Background(), "app", time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.coord.Admit(ctx, "app")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_AdmissionStoreFailure(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	f.store.getErr = errors.New("redis: connection refused")

	_, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	assert.True(t, types.IsCode(err, types.ErrStoreUnavailable))
	assert.Equal(t, 0, f.provider.startCount())
	assert.Equal(t, int32(0), f.store.marks.Load())
}

func TestCoordinator_MarkFailureAbortsAdmission(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	f.store.failMarks.Store(true)

	_, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	assert.True(t, types.IsCode(err, types.ErrStoreUnavailable))
	assert.Equal(t, 0, f.provider.startCount())
	assert.False(t, f.aborts.Listening("app"))
}

func TestCoordinator_HeartbeatFailureIsNotFatal(t *testing.T) {
	var f *fixture
	f = newFixture(t, testConfig(), execScript{
		steps: 3,
		beforeStep: func() {
			f.store.failMarks.Store(true)
			f.clock.Advance(6 * time.Second)
		},
	})

	run, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()

	res, err := waitResult(t, run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, f.metrics.get(func(m *recordingMetrics) int { return m.heartbeats[false] }))
}

func TestCoordinator_ExecutionError(t *testing.T) {
	boom := errors.New("tool crashed")
	f := newFixture(t, testConfig(), execScript{steps: 5, failAt: 2, failErr: boom})
	ctx := context.Background()

	run, err := f.coord.Start(ctx, userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()

	res, err := waitResult(t, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, types.IsCode(err, types.ErrExecution))
	assert.Equal(t, OutcomeErrored, res.Outcome)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 0, res.Persisted)

	status, _ := f.mem.Get(ctx, "app")
	assert.Equal(t, liveness.StatusAbsent, status)
	assert.Equal(t, int32(1), f.provider.exec(0).closed.Load())
	assert.False(t, f.turns.has(stepTurnID(run.ID(), 1)))
	assert.Equal(t, 1, run.Buffer().UnsavedLen())
}

func TestCoordinator_ExecutionErrorFlushWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.FlushOnError = true
	f := newFixture(t, cfg, execScript{steps: 5, failAt: 3, failErr: errors.New("boom")})

	run, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()

	res, err := waitResult(t, run)
	require.Error(t, err)
	assert.Equal(t, 2, res.Persisted)
	assert.True(t, f.turns.has(stepTurnID(run.ID(), 1)))
	assert.True(t, f.turns.has(stepTurnID(run.ID(), 2)))
}

func TestCoordinator_RetriesOverloadedStart(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	f.provider.startErr = func(n int) error {
		if n <= 2 {
			return &retry.OverloadError{Status: retry.StatusOverloaded}
		}
		return nil
	}
	ctx := context.Background()

	req := userRequest("app", "hi")
	run, err := f.coord.Start(ctx, req)
	require.NoError(t, err)
	run.Detach()
	_, err = waitResult(t, run)
	require.NoError(t, err)

	assert.Equal(t, 3, f.provider.startCount())
	assert.Equal(t, 1, len(f.turns.ids())-1, "one step turn besides the inbound turn")
	assert.Equal(t, 3, f.turns.writeCount(req.Turn.ID), "inbound turn saved idempotently per attempt")
}

func TestCoordinator_RetriesExhausted(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	f.provider.startErr = func(int) error { return &retry.OverloadError{Status: 429} }
	ctx := context.Background()

	_, err := f.coord.Start(ctx, userRequest("app", "hi"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRetriesExhausted))
	assert.Equal(t, 4, f.provider.startCount())

	status, _ := f.mem.Get(ctx, "app")
	assert.Equal(t, liveness.StatusAbsent, status)
	assert.False(t, f.aborts.Listening("app"))
	assert.Equal(t, StateIdle, f.coord.State("app"))
	assert.Equal(t, 0, f.coord.ActiveRuns())
}

func TestCoordinator_NonOverloadStartErrorNotRetried(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	f.provider.startErr = func(int) error { return errors.New("invalid api key") }

	_, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	assert.True(t, types.IsCode(err, types.ErrExecution))
	assert.Equal(t, 1, f.provider.startCount())
}

type stubWorkspace struct {
	url   string
	err   error
	calls int
}

func (w *stubWorkspace) Prepare(context.Context, string) (string, error) {
	w.calls++
	return w.url, w.err
}

func TestCoordinator_Workspace(t *testing.T) {
	ws := &stubWorkspace{url: "https://dev.example/mcp"}
	f := newFixture(t, testConfig(), execScript{steps: 1}, WithWorkspace(ws))

	run, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()
	_, err = waitResult(t, run)
	require.NoError(t, err)

	assert.Equal(t, 1, ws.calls)
	assert.Equal(t, "https://dev.example/mcp", f.provider.request(0).ToolsURL)
}

func TestCoordinator_WorkspaceFailureClearsRecord(t *testing.T) {
	ws := &stubWorkspace{err: errors.New("sandbox down")}
	f := newFixture(t, testConfig(), execScript{steps: 1}, WithWorkspace(ws))
	ctx := context.Background()

	_, err := f.coord.Start(ctx, userRequest("app", "hi"))
	assert.True(t, types.IsCode(err, types.ErrExecution))
	status, _ := f.mem.Get(ctx, "app")
	assert.Equal(t, liveness.StatusAbsent, status)
	assert.Equal(t, 0, f.provider.startCount())
}

func TestCoordinator_MaxSteps(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSteps = 3
	f := newFixture(t, cfg, execScript{steps: -1})

	run, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()

	res, err := waitResult(t, run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Steps)
}

func TestCoordinator_TerminatedIsAbsorbing(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 1})
	ctx := context.Background()

	run, err := f.coord.Start(ctx, userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()
	_, err = waitResult(t, run)
	require.NoError(t, err)

	marks := f.store.marks.Load()
	f.clock.Advance(time.Minute)
	run.onChunk(Chunk{Text: "late"})
	assert.Equal(t, marks, f.store.marks.Load(), "no heartbeat after termination")

	status, _ := f.mem.Get(ctx, "app")
	assert.Equal(t, liveness.StatusAbsent, status)
	assert.ErrorIs(t, run.Buffer().Append(types.NewTurn(types.RoleAssistant, "late")), ErrBufferSealed)
}

func TestCoordinator_StatusAndAbort(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: -1, delay: 5 * time.Millisecond})
	ctx := context.Background()

	assert.False(t, f.coord.Abort("app"))

	st, err := f.coord.Status(ctx, "app")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, StateIdle, st.LocalState)

	run, err := f.coord.Start(ctx, userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()

	st, err = f.coord.Status(ctx, "app")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 15*time.Second, st.TTL)
	assert.Equal(t, StateRunning, st.LocalState)
	assert.True(t, st.Listening)
	assert.Equal(t, 1, f.coord.ActiveRuns())

	assert.True(t, f.coord.Abort("app"))
	res, err := waitResult(t, run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
}

func TestCoordinator_Shutdown(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: -1, delay: 2 * time.Millisecond})
	ctx := context.Background()

	a, err := f.coord.Start(ctx, userRequest("a", "hi"))
	require.NoError(t, err)
	a.Detach()
	b, err := f.coord.Start(ctx, userRequest("b", "hi"))
	require.NoError(t, err)
	b.Detach()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.coord.Shutdown(shutdownCtx))

	for _, run := range []*Run{a, b} {
		res, _ := run.Wait(ctx)
		assert.Equal(t, OutcomeAborted, res.Outcome)
	}
	assert.Equal(t, 0, f.coord.ActiveRuns())
}

// A slow start must keep the record alive; otherwise a second request is
// admitted without preempting and both runs stream at once.
func TestCoordinator_LaunchKeepsRecordAlive(t *testing.T) {
	type started struct {
		run *Run
		err error
	}
	var (
		f        *fixture
		sleeps   int
		during   liveness.Status
		secondCh = make(chan started, 1)
	)
	ctx := context.Background()

	// default policy at maximum jitter: 0.6s + 1.2s + 2.4s + 4.8s + 9.6s
	executor := retry.NewExecutor(retry.DefaultRetryPolicy(), nil,
		retry.WithRandSource(func() float64 { return 1 }),
		retry.WithSleeper(func(_ context.Context, d time.Duration) error {
			f.clock.Advance(d)
			sleeps++
			if sleeps != 5 {
				return nil
			}
			during, _ = f.mem.Get(ctx, "app")
			go func() {
				run, err := f.coord.Start(ctx, userRequest("app", "second"))
				secondCh <- started{run, err}
			}()
			assert.Eventually(t, func() bool {
				return f.coord.State("app") == StatePreempting
			}, 2*time.Second, time.Millisecond, "second request must preempt")
			return nil
		}),
	)
	f = newFixture(t, testConfig(), execScript{steps: -1, delay: time.Millisecond},
		WithRetryExecutor(executor))
	f.provider.startErr = func(n int) error {
		if n <= 5 {
			return &retry.OverloadError{Status: retry.StatusOverloaded}
		}
		return nil
	}

	first, err := f.coord.Start(ctx, userRequest("app", "first"))
	require.NoError(t, err)
	first.Detach()
	assert.Equal(t, liveness.StatusRunning, during, "record expired while starting")

	res, err := waitResult(t, first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 0, res.Steps)

	var second started
	select {
	case second = <-secondCh:
	case <-time.After(5 * time.Second):
		t.Fatal("second request was not admitted")
	}
	require.NoError(t, second.err)
	second.run.Detach()

	assert.True(t, f.coord.Abort("app"), "abort reaches the newest run")
	res, err = waitResult(t, second.run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.LessOrEqual(t, f.provider.tracker.peak(), 1)
	assert.Equal(t, 1, f.metrics.get(func(m *recordingMetrics) int { return m.preempts }))
}

func TestCoordinator_ShutdownDuringLaunch(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: -1, delay: time.Millisecond})
	entered := make(chan struct{})
	release := make(chan struct{})
	f.provider.startErr = func(int) error {
		close(entered)
		<-release
		return nil
	}
	ctx := context.Background()

	startedCh := make(chan *Run, 1)
	go func() {
		run, err := f.coord.Start(ctx, userRequest("app", "hi"))
		assert.NoError(t, err)
		startedCh <- run
	}()
	<-entered
	assert.Equal(t, 1, f.coord.ActiveRuns())

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- f.coord.Shutdown(shutdownCtx) }()

	select {
	case <-shutdownDone:
		t.Fatal("shutdown returned while a run was still starting")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-shutdownDone)

	run := <-startedCh
	require.NotNil(t, run)
	res, err := waitResult(t, run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Equal(t, 0, f.coord.ActiveRuns())

	status, _ := f.mem.Get(ctx, "app")
	assert.Equal(t, liveness.StatusAbsent, status)
}

func TestCoordinator_WaitHonoursContext(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: -1, delay: 5 * time.Millisecond})

	run, err := f.coord.Start(context.Background(), userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = run.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f.coord.Abort("app")
	_, err = waitResult(t, run)
	require.NoError(t, err)
}

func TestCoordinator_RunOutlivesRequestContext(t *testing.T) {
	f := newFixture(t, testConfig(), execScript{steps: 3, delay: 5 * time.Millisecond})

	reqCtx, cancel := context.WithCancel(context.Background())
	run, err := f.coord.Start(reqCtx, userRequest("app", "hi"))
	require.NoError(t, err)
	run.Detach()
	cancel()

	res, err := waitResult(t, run)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Persisted)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	ctx := context.Background()

	unlock, err := k.Lock(ctx, "a")
	require.NoError(t, err)

	// other keys are independent
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(timeout, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Equal(t, 0, k.len())

	unlock, err = k.Lock(ctx, "a")
	require.NoError(t, err)
	unlock()
}
