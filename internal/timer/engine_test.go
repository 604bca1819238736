package timer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/splits/internal/clock"
	"github.com/claude/splits/internal/models"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type memGateway struct {
	mu      sync.Mutex
	rec     *models.SessionState
	saves   int
	clears  int
	saveErr error
	loadErr error
}

func (g *memGateway) LoadSessionState(context.Context) (*models.SessionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	if g.rec == nil {
		return nil, nil
	}
	c := g.rec.Clone()
	return &c, nil
}

func (g *memGateway) SaveSessionState(_ context.Context, s models.SessionState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return g.saveErr
	}
	c := s.Clone()
	g.rec = &c
	g.saves++
	return nil
}

func (g *memGateway) ClearSessionState(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rec = nil
	g.clears++
	return nil
}

func (g *memGateway) saved() *models.SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec == nil {
		return nil
	}
	c := g.rec.Clone()
	return &c
}

func (g *memGateway) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves
}

type harness struct {
	engine *Engine
	clock  *clock.Manual
	gw     *memGateway
	sched  *FrameScheduler
}

func newHarness(t *testing.T, frame time.Duration) *harness {
	t.Helper()
	clk := clock.NewManual(t0)
	gw := &memGateway{}
	sched := NewFrameScheduler(clk, frame)
	e := New(Options{
		Clock:          clk,
		Gateway:        gw,
		Scheduler:      sched,
		DebounceWindow: DefaultDebounceWindow,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{engine: e, clock: clk, gw: gw, sched: sched}
}

func blocks(n int) []models.Block {
	out := make([]models.Block, n)
	for i := range out {
		out[i] = models.Block{ExerciseID: "run", Name: "Run", Kind: "run", Distance: 1000}
	}
	return out
}

func msPtrs(values ...int64) []*int64 {
	out := make([]*int64, len(values))
	for i := range values {
		if values[i] >= 0 {
			v := values[i]
			out[i] = &v
		}
	}
	return out
}

func TestPauseResumeAdvanceScenario(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(3))

	h.engine.Start()
	h.clock.Advance(5000 * time.Millisecond)
	h.engine.Pause()
	h.clock.Advance(3000 * time.Millisecond)
	h.engine.Resume()
	h.clock.Advance(2000 * time.Millisecond)

	got := h.engine.AdvanceBlock()

	assert.Equal(t, AdvanceMore, got)
	snap := h.engine.Snapshot()
	require.NotNil(t, snap.BlockElapsedMs[0])
	assert.Equal(t, int64(7000), *snap.BlockElapsedMs[0])
	assert.Nil(t, snap.BlockElapsedMs[1])
	assert.Equal(t, 1, snap.CurrentBlockIndex)
	assert.Equal(t, int64(0), snap.AccumulatedMs)
	assert.Equal(t, t0.Add(10*time.Second).UnixMilli(), snap.StartTimestamp)
	assert.Equal(t, t0.UnixMilli(), snap.WorkoutStartTimestamp)
	assert.True(t, h.engine.IsRunning())
	assert.Equal(t, time.Duration(0), h.engine.CurrentElapsed())
	assert.Equal(t, 7*time.Second, h.engine.TotalElapsed())
}

func TestSingleBlockWorkoutComplete(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeSimulation, models.CategoryPro, blocks(1))

	var blockIdx = -1
	var blockTime time.Duration
	var gotTimes []time.Duration
	var gotTotal time.Duration
	completions := 0
	h.engine.OnBlockComplete(func(i int, d time.Duration) { blockIdx, blockTime = i, d })
	h.engine.OnWorkoutComplete(func(times []time.Duration, total time.Duration) {
		completions++
		gotTimes, gotTotal = times, total
	})

	h.engine.Start()
	h.clock.Advance(1234 * time.Millisecond)
	assert.True(t, h.engine.IsLastBlock())

	got := h.engine.FinishWorkout()

	assert.Equal(t, AdvanceFinished, got)
	assert.Equal(t, 1, completions)
	assert.Equal(t, 0, blockIdx)
	assert.Equal(t, 1234*time.Millisecond, blockTime)
	assert.Equal(t, []time.Duration{1234 * time.Millisecond}, gotTimes)
	assert.Equal(t, 1234*time.Millisecond, gotTotal)
	assert.False(t, h.engine.IsActive())
	assert.Equal(t, 1, h.engine.CurrentBlockIndex())
}

func TestAdvanceAfterCompletionIsIgnored(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	completions := 0
	h.engine.OnWorkoutComplete(func([]time.Duration, time.Duration) { completions++ })

	h.engine.Start()
	h.clock.Advance(time.Second)
	require.Equal(t, AdvanceFinished, h.engine.AdvanceBlock())

	assert.Equal(t, AdvanceNone, h.engine.AdvanceBlock())
	assert.Equal(t, AdvanceNone, h.engine.FinishWorkout())
	assert.Equal(t, 1, completions)

	h.engine.Start()
	assert.False(t, h.engine.IsRunning(), "a completed workout cannot be restarted")
}

func TestWorkoutTotalMatchesTotalElapsed(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeSimulation, models.CategoryOpen, blocks(4))
	var reported time.Duration
	h.engine.OnWorkoutComplete(func(_ []time.Duration, total time.Duration) { reported = total })

	h.engine.Start()
	for _, d := range []time.Duration{4100, 250, 77777} {
		h.clock.Advance(d * time.Millisecond)
		require.Equal(t, AdvanceMore, h.engine.AdvanceBlock())
	}
	h.clock.Advance(3 * time.Second)
	h.engine.Pause()
	h.clock.Advance(time.Minute)
	h.engine.Resume()
	h.clock.Advance(999 * time.Millisecond)

	before := h.engine.TotalElapsed()
	require.Equal(t, AdvanceFinished, h.engine.FinishWorkout())

	assert.Equal(t, before, reported)
	assert.Equal(t, (4100+250+77777+3000+999)*time.Millisecond, reported)

	var sum int64
	for _, v := range h.engine.BlockElapsed() {
		require.NotNil(t, v)
		sum += *v
	}
	assert.Equal(t, reported, time.Duration(sum)*time.Millisecond)
}

// Elapsed time after a pause must equal the sum of the running intervals no
// matter how often (or whether) ticks fired.
func TestElapsedIndependentOfTickRate(t *testing.T) {
	intervals := []time.Duration{1500 * time.Millisecond, 333 * time.Millisecond, 7 * time.Second}
	var want time.Duration
	for _, d := range intervals {
		want += d
	}

	for _, frame := range []time.Duration{time.Millisecond, 16 * time.Millisecond, 250 * time.Millisecond, time.Hour} {
		t.Run(frame.String(), func(t *testing.T) {
			h := newHarness(t, frame)
			h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
			ticks := 0
			h.engine.OnTick(func(time.Duration) { ticks++ })

			h.engine.Start()
			for i, d := range intervals {
				// Uneven steps so frames land at arbitrary offsets.
				h.clock.Advance(d / 3)
				h.clock.Advance(d - d/3)
				h.engine.Pause()
				h.clock.Advance(time.Duration(i+1) * 17 * time.Second)
				if i < len(intervals)-1 {
					h.engine.Resume()
				}
			}

			assert.Equal(t, want, h.engine.CurrentElapsed())
			if frame == time.Hour {
				assert.Zero(t, ticks)
			} else {
				assert.Positive(t, ticks)
			}
		})
	}
}

func TestTickReportsCurrentElapsed(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	var seen []time.Duration
	h.engine.OnTick(func(d time.Duration) { seen = append(seen, d) })

	h.engine.Start()
	h.clock.Advance(350 * time.Millisecond)

	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, seen)
}

func TestInvalidTransitionsAreIgnored(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)

	// No session at all.
	h.engine.Start()
	h.engine.Pause()
	h.engine.Resume()
	assert.Equal(t, AdvanceNone, h.engine.AdvanceBlock())
	assert.False(t, h.engine.IsActive())

	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Pause()
	h.engine.Resume()
	assert.Equal(t, AdvanceNone, h.engine.AdvanceBlock(), "advance before start")
	assert.False(t, h.engine.IsActive())

	h.engine.Start()
	h.clock.Advance(2 * time.Second)
	h.engine.Start()
	h.engine.Resume()
	assert.Equal(t, 2*time.Second, h.engine.CurrentElapsed(), "start while running must not reset the block")

	h.engine.Pause()
	h.clock.Advance(time.Second)
	h.engine.Pause()
	assert.Equal(t, 2*time.Second, h.engine.CurrentElapsed())
	h.engine.Flush()
	assert.Zero(t, h.gw.saved().StartTimestamp-t0.UnixMilli())
}

func TestCurrentElapsedIdleIsZero(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.clock.Advance(time.Minute)
	assert.Zero(t, h.engine.CurrentElapsed())
	assert.Zero(t, h.engine.TotalElapsed())
}

func TestCurrentElapsedNeverBelowAccumulated(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	h.engine.Start()
	h.clock.Advance(4 * time.Second)
	h.engine.Pause()
	h.engine.Resume()

	// Wall clock stepped backwards (NTP correction).
	h.clock.Set(h.clock.Now().Add(-time.Minute))

	assert.Equal(t, 4*time.Second, h.engine.CurrentElapsed())
}

func TestAdvanceFromPausedStartsNextBlock(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(3 * time.Second)
	h.engine.Pause()
	h.clock.Advance(time.Hour)

	require.Equal(t, AdvanceMore, h.engine.AdvanceBlock())

	assert.Equal(t, int64(3000), *h.engine.BlockElapsed()[0])
	assert.True(t, h.engine.IsRunning())
	h.clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1500*time.Millisecond, h.engine.CurrentElapsed())
}

func TestPauseWritesImmediately(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(200 * time.Millisecond)
	require.Nil(t, h.gw.saved(), "start is debounced")

	h.engine.Pause()
	h.engine.Flush()

	saved := h.gw.saved()
	require.NotNil(t, saved)
	assert.Equal(t, models.RunStatePaused, saved.RunState)
	assert.Equal(t, int64(200), saved.AccumulatedMs)
}

func TestAdvanceWritesImmediately(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(100 * time.Millisecond)

	h.engine.AdvanceBlock()
	h.engine.Flush()

	saved := h.gw.saved()
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.CurrentBlockIndex)
	assert.Equal(t, msPtrs(100, -1), saved.BlockElapsedMs)
}

func TestTickSavesAreDebounced(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	h.engine.Start()

	h.clock.Advance(2 * time.Second)

	saves := h.gw.saveCount()
	assert.GreaterOrEqual(t, saves, 3)
	assert.LessOrEqual(t, saves, 4, "about one write per 500ms window, not one per frame")
	saved := h.gw.saved()
	require.NotNil(t, saved)
	assert.Equal(t, models.RunStateRunning, saved.RunState)
	assert.Equal(t, t0.UnixMilli(), saved.StartTimestamp)
}

func TestStopDiscardClearsEverything(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(time.Second)
	h.engine.Pause()
	h.engine.Flush()
	require.NotNil(t, h.gw.saved())

	h.engine.Stop(true)
	h.clock.Advance(time.Second)
	h.engine.Flush()

	assert.Nil(t, h.gw.saved())
	assert.Equal(t, 1, h.gw.clears)
	snap := h.engine.Snapshot()
	assert.False(t, snap.HasSession())
	assert.Empty(t, snap.Blocks)
	assert.Equal(t, models.RunStateIdle, snap.RunState)
}

func TestStopKeepsResults(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(3))
	h.engine.Start()
	h.clock.Advance(time.Second)
	h.engine.AdvanceBlock()
	h.clock.Advance(time.Second)

	h.engine.Stop(false)

	assert.False(t, h.engine.IsActive())
	assert.Equal(t, msPtrs(1000, -1, -1), h.engine.BlockElapsed())
	assert.Equal(t, "s1", h.engine.Snapshot().SessionID)
	assert.Zero(t, h.clock.Pending(), "no tick or save left scheduled")
}

func TestPendingDebounceCannotResurrectDiscardedSession(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	h.engine.Start()
	h.clock.Advance(100 * time.Millisecond)

	h.engine.Stop(true)
	h.clock.Advance(5 * time.Second)
	h.engine.Flush()

	assert.Nil(t, h.gw.saved())
	assert.Zero(t, h.gw.saveCount())
}

func TestSaveFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.gw.saveErr = errors.New("disk full")
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(time.Second)

	h.engine.Pause()

	assert.True(t, h.engine.IsPaused())
	assert.Equal(t, time.Second, h.engine.CurrentElapsed())
	assert.Error(t, h.engine.PersistNow(context.Background()))
}

func TestRestorePausedSession(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.gw.rec = &models.SessionState{
		SessionID:             "s9",
		Mode:                  models.ModeSimulation,
		Category:              models.CategoryOpen,
		Blocks:                blocks(3),
		CurrentBlockIndex:     1,
		BlockElapsedMs:        msPtrs(61000, -1, -1),
		RunState:              models.RunStatePaused,
		StartTimestamp:        t0.UnixMilli() - 10000,
		AccumulatedMs:         4000,
		WorkoutStartTimestamp: t0.UnixMilli() - 80000,
	}

	got, ok := h.engine.Restore(context.Background())

	require.True(t, ok)
	assert.Equal(t, "s9", got.SessionID)
	assert.True(t, h.engine.IsPaused())
	assert.Equal(t, 4*time.Second, h.engine.CurrentElapsed())
	assert.Equal(t, 65*time.Second, h.engine.TotalElapsed())
	assert.Zero(t, h.clock.Pending(), "restore does not start ticking")

	h.engine.Resume()
	h.clock.Advance(time.Second)
	assert.Equal(t, 5*time.Second, h.engine.CurrentElapsed())
}

func TestRestoreRunningSessionCountsDowntime(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.gw.rec = &models.SessionState{
		SessionID:      "s9",
		Mode:           models.ModeCustom,
		Category:       models.CategoryOpen,
		Blocks:         blocks(1),
		BlockElapsedMs: msPtrs(-1),
		RunState:       models.RunStateRunning,
		StartTimestamp: t0.UnixMilli() - 30000,
		AccumulatedMs:  500,
	}

	_, ok := h.engine.Restore(context.Background())
	require.True(t, ok)

	assert.True(t, h.engine.IsRunning())
	assert.Equal(t, 30500*time.Millisecond, h.engine.CurrentElapsed())
}

func TestRestoreWithoutSession(t *testing.T) {
	tests := []struct {
		name string
		gw   *memGateway
	}{
		{"empty store", &memGateway{}},
		{"missing session id", &memGateway{rec: &models.SessionState{RunState: models.RunStateRunning, Blocks: blocks(1), BlockElapsedMs: msPtrs(-1)}}},
		{"load error", &memGateway{loadErr: errors.New("locked")}},
		{"inconsistent slots", &memGateway{rec: &models.SessionState{SessionID: "x", Blocks: blocks(2), BlockElapsedMs: msPtrs(-1), RunState: models.RunStatePaused}}},
		{"running past the end", &memGateway{rec: &models.SessionState{SessionID: "x", Blocks: blocks(1), CurrentBlockIndex: 1, BlockElapsedMs: msPtrs(5), RunState: models.RunStateRunning}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Options{
				Clock:   clock.NewManual(t0),
				Gateway: tt.gw,
				Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			e.Initialize("keep", models.ModeCustom, models.CategoryOpen, blocks(1))

			_, ok := e.Restore(context.Background())

			assert.False(t, ok)
			assert.Equal(t, "keep", e.Snapshot().SessionID, "failed restore leaves the engine untouched")
		})
	}
}

func TestHiddenSchedulerSkipsTicksButNotTime(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	ticks := 0
	h.engine.OnTick(func(time.Duration) { ticks++ })
	h.engine.Start()
	h.clock.Advance(100 * time.Millisecond)
	before := ticks

	h.sched.SetVisible(false)
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, before, ticks, "no ticks while hidden")

	h.sched.SetVisible(true)
	h.engine.RestartTicks()
	h.clock.Advance(20 * time.Millisecond)

	assert.Greater(t, ticks, before)
	assert.Equal(t, 10*time.Minute+120*time.Millisecond, h.engine.CurrentElapsed())
}

func TestSubscriptionSlotsReplace(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	first, second := 0, 0
	h.engine.OnTick(func(time.Duration) { first++ })
	h.engine.OnTick(func(time.Duration) { second++ })

	h.engine.Start()
	h.clock.Advance(50 * time.Millisecond)

	assert.Zero(t, first)
	assert.Equal(t, 5, second)
}

func TestCallbacksMayCallBackIntoEngine(t *testing.T) {
	h := newHarness(t, DefaultFrameInterval)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(1))
	h.engine.OnWorkoutComplete(func([]time.Duration, time.Duration) {
		_ = h.engine.Snapshot()
		h.engine.Stop(true)
	})
	h.engine.Start()
	h.clock.Advance(time.Second)

	require.Equal(t, AdvanceFinished, h.engine.FinishWorkout())

	h.engine.Flush()
	assert.False(t, h.engine.Snapshot().HasSession())
	assert.Nil(t, h.gw.saved())
}

type slowGateway struct {
	memGateway
	release chan struct{}
}

func (g *slowGateway) SaveSessionState(ctx context.Context, s models.SessionState) error {
	<-g.release
	return g.memGateway.SaveSessionState(ctx, s)
}

func TestImmediateWritesDoNotBlockCaller(t *testing.T) {
	clk := clock.NewManual(t0)
	gw := &slowGateway{release: make(chan struct{})}
	e := New(Options{
		Clock:          clk,
		Gateway:        gw,
		Scheduler:      NewFrameScheduler(clk, time.Hour),
		DebounceWindow: time.Hour,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	e.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(3))
	e.Start()
	clk.Advance(time.Second)

	returned := make(chan struct{})
	go func() {
		e.Pause()
		e.AdvanceBlock()
		e.Stop(false)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("transitions waited for the gateway")
	}
	assert.Equal(t, 1, e.CurrentBlockIndex())
	assert.Nil(t, gw.saved(), "no write has landed yet")

	close(gw.release)
	e.Flush()

	saved := gw.saved()
	require.NotNil(t, saved)
	assert.Equal(t, models.RunStateIdle, saved.RunState)
	assert.Equal(t, 1, saved.CurrentBlockIndex)
	assert.Equal(t, 3, gw.saveCount())
}

func TestQueuedWritesKeepOrder(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.engine.Initialize("s1", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(time.Second)
	h.engine.Pause()
	h.engine.Stop(true)

	h.engine.Initialize("s2", models.ModeCustom, models.CategoryOpen, blocks(2))
	h.engine.Start()
	h.clock.Advance(time.Second)
	h.engine.Pause()
	h.engine.Flush()

	saved := h.gw.saved()
	require.NotNil(t, saved)
	assert.Equal(t, "s2", saved.SessionID, "the clear of s1 must not land after s2's pause")
	assert.Equal(t, models.RunStatePaused, saved.RunState)
}
