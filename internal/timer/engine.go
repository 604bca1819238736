// Package timer measures workout time across an ordered sequence of blocks.
//
// Elapsed time is always derived from wall-clock timestamps, never from
// counting ticks, so a scheduler that fires late or not at all (a hidden
// client, a suspended process) cannot bias the result. State changes are
// immediate; persistence is a best-effort side effect.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/splits/internal/clock"
	"github.com/claude/splits/internal/models"
)

const persistTimeout = 5 * time.Second

// Gateway persists the single live session record.
type Gateway interface {
	// LoadSessionState returns nil, nil when nothing is stored.
	LoadSessionState(ctx context.Context) (*models.SessionState, error)
	SaveSessionState(ctx context.Context, s models.SessionState) error
	ClearSessionState(ctx context.Context) error
}

// Advance is the outcome of completing a block.
type Advance int

const (
	// AdvanceNone means the call was ignored (no active session).
	AdvanceNone Advance = iota
	// AdvanceMore means the next block has started.
	AdvanceMore
	// AdvanceFinished means the last block completed the workout.
	AdvanceFinished
)

func (a Advance) String() string {
	switch a {
	case AdvanceMore:
		return "more"
	case AdvanceFinished:
		return "finished"
	default:
		return "none"
	}
}

// Options configures an Engine.
type Options struct {
	Clock          clock.Clock
	Gateway        Gateway
	Scheduler      Scheduler
	DebounceWindow time.Duration
	Logger         *slog.Logger
}

// Engine owns the live session state and its subscriber slots.
type Engine struct {
	mu sync.Mutex

	// Writes run one at a time in the order they were queued. tail closes
	// when the most recently queued write has finished.
	queueMu sync.Mutex
	tail    chan struct{}
	writes  sync.WaitGroup

	clock     clock.Clock
	gateway   Gateway
	scheduler Scheduler
	saver     *Debouncer
	log       *slog.Logger

	state models.SessionState

	onTick            func(elapsed time.Duration)
	onBlockComplete   func(index int, elapsed time.Duration)
	onWorkoutComplete func(blockTimes []time.Duration, total time.Duration)
}

// New creates an Idle engine with no session.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.Gateway == nil {
		opts.Gateway = nopGateway{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewFrameScheduler(opts.Clock, DefaultFrameInterval)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		clock:     opts.Clock,
		gateway:   opts.Gateway,
		scheduler: opts.Scheduler,
		log:       opts.Logger,
		state:     models.EmptySessionState(),
	}
	e.saver = NewDebouncer(opts.Clock, opts.DebounceWindow, func() {
		<-e.enqueue(func() { e.save("debounced") })
	})
	return e
}

// Initialize replaces the session with a fresh Idle one. It does not persist.
func (e *Engine) Initialize(sessionID string, mode models.Mode, category models.Category, blocks []models.Block) {
	e.saver.Cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.scheduler.Cancel()
	e.state = models.SessionState{
		SessionID:      sessionID,
		Mode:           mode,
		Category:       category,
		Blocks:         append([]models.Block{}, blocks...),
		BlockElapsedMs: make([]*int64, len(blocks)),
		RunState:       models.RunStateIdle,
	}
}

// Restore loads the persisted record and, when it carries a session,
// replaces the in-memory state with it. The tick loop is not started.
func (e *Engine) Restore(ctx context.Context) (models.SessionState, bool) {
	rec, err := e.gateway.LoadSessionState(ctx)
	if err != nil {
		e.log.Warn("session restore failed", "error", err)
		return models.EmptySessionState(), false
	}
	if rec == nil || !rec.HasSession() {
		return models.EmptySessionState(), false
	}
	if err := validate(*rec); err != nil {
		e.log.Warn("discarding inconsistent session record", "session_id", rec.SessionID, "error", err)
		return models.EmptySessionState(), false
	}

	e.saver.Cancel()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.scheduler.Cancel()
	e.state = rec.Clone()
	return e.state.Clone(), true
}

// Start begins or resumes timing the current block.
func (e *Engine) Start() {
	e.mu.Lock()
	if !e.startLocked() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.saver.Trigger()
}

// Resume continues a paused block.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state.RunState != models.RunStatePaused || !e.startLocked() {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.saver.Trigger()
}

func (e *Engine) startLocked() bool {
	s := &e.state
	if s.RunState == models.RunStateRunning {
		return false
	}
	if !s.HasSession() || s.CurrentBlockIndex >= len(s.Blocks) {
		return false
	}

	now := clock.NowMs(e.clock)
	if s.RunState != models.RunStatePaused {
		s.AccumulatedMs = 0
	}
	s.StartTimestamp = now
	if s.WorkoutStartTimestamp == 0 {
		s.WorkoutStartTimestamp = now
	}
	s.RunState = models.RunStateRunning
	e.scheduler.Schedule(e.tick)
	return true
}

// Pause freezes the current block and queues an immediate write of the state.
func (e *Engine) Pause() {
	e.mu.Lock()
	s := &e.state
	if s.RunState != models.RunStateRunning {
		e.mu.Unlock()
		return
	}
	s.AccumulatedMs = e.currentElapsedLocked(clock.NowMs(e.clock))
	s.RunState = models.RunStatePaused
	e.scheduler.Cancel()
	e.mu.Unlock()

	e.saver.Cancel()
	e.persistAsync("pause")
}

// Stop returns the engine to Idle. With discard the persisted record is
// cleared and the session destroyed; otherwise the recorded block times
// stay in memory for the caller to hand off.
func (e *Engine) Stop(discard bool) {
	e.saver.Cancel()

	e.mu.Lock()
	e.scheduler.Cancel()
	e.state.RunState = models.RunStateIdle
	if discard {
		e.state = models.EmptySessionState()
	}
	e.mu.Unlock()

	if discard {
		e.clearPersisted()
		return
	}
	e.persistAsync("stop")
}

// CurrentElapsed returns the time spent on the current block.
func (e *Engine) CurrentElapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return msToDuration(e.currentElapsedLocked(clock.NowMs(e.clock)))
}

// TotalElapsed returns completed block times plus the current block.
func (e *Engine) TotalElapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return msToDuration(sumSet(e.state.BlockElapsedMs) + e.currentElapsedLocked(clock.NowMs(e.clock)))
}

func (e *Engine) currentElapsedLocked(now int64) int64 {
	s := e.state
	switch s.RunState {
	case models.RunStateRunning:
		d := now - s.StartTimestamp
		if d < 0 {
			d = 0
		}
		return s.AccumulatedMs + d
	case models.RunStatePaused:
		return s.AccumulatedMs
	default:
		return 0
	}
}

// AdvanceBlock records the current block's time and moves to the next
// block, or completes the workout when the current block is the last.
// It is ignored unless the session is Running or Paused.
func (e *Engine) AdvanceBlock() Advance {
	e.mu.Lock()
	s := &e.state
	if !s.RunState.Active() || s.CurrentBlockIndex >= len(s.Blocks) {
		e.mu.Unlock()
		return AdvanceNone
	}

	now := clock.NowMs(e.clock)
	elapsed := e.currentElapsedLocked(now)
	index := s.CurrentBlockIndex
	s.BlockElapsedMs[index] = &elapsed
	s.CurrentBlockIndex++
	onBlock := e.onBlockComplete

	if s.CurrentBlockIndex == len(s.Blocks) {
		s.RunState = models.RunStateIdle
		s.AccumulatedMs = 0
		e.scheduler.Cancel()
		times := make([]time.Duration, len(s.BlockElapsedMs))
		for i, v := range s.BlockElapsedMs {
			times[i] = msToDuration(*v)
		}
		total := msToDuration(sumSet(s.BlockElapsedMs))
		onWorkout := e.onWorkoutComplete
		e.mu.Unlock()

		e.saver.Cancel()
		e.persistAsync("finish")
		if onBlock != nil {
			onBlock(index, msToDuration(elapsed))
		}
		if onWorkout != nil {
			onWorkout(times, total)
		}
		return AdvanceFinished
	}

	wasPaused := s.RunState == models.RunStatePaused
	s.AccumulatedMs = 0
	s.StartTimestamp = now
	s.RunState = models.RunStateRunning
	if wasPaused {
		e.scheduler.Schedule(e.tick)
	}
	e.mu.Unlock()

	e.saver.Cancel()
	e.persistAsync("advance")
	if onBlock != nil {
		onBlock(index, msToDuration(elapsed))
	}
	return AdvanceMore
}

// FinishWorkout is the entry point for the last block's Finish control.
func (e *Engine) FinishWorkout() Advance {
	return e.AdvanceBlock()
}

// RestartTicks restarts the tick loop of a running session, e.g. when the
// client becomes visible again. No timestamp is touched.
func (e *Engine) RestartTicks() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.RunState != models.RunStateRunning {
		return
	}
	e.scheduler.Cancel()
	e.scheduler.Schedule(e.tick)
}

func (e *Engine) tick() {
	e.mu.Lock()
	if e.state.RunState != models.RunStateRunning {
		e.mu.Unlock()
		return
	}
	elapsed := e.currentElapsedLocked(clock.NowMs(e.clock))
	onTick := e.onTick
	e.scheduler.Schedule(e.tick)
	e.mu.Unlock()

	if onTick != nil {
		onTick(msToDuration(elapsed))
	}
	e.saver.Trigger()
}

// IsActive reports whether the session is Running or Paused.
func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RunState.Active()
}

// IsRunning reports whether the session is Running.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RunState == models.RunStateRunning
}

// IsPaused reports whether the session is Paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RunState == models.RunStatePaused
}

// CurrentBlockIndex returns the index of the block being timed.
func (e *Engine) CurrentBlockIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.CurrentBlockIndex
}

// IsLastBlock reports whether the current block is the final one.
func (e *Engine) IsLastBlock() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.state.Blocks)
	return n > 0 && e.state.CurrentBlockIndex == n-1
}

// BlockElapsed returns a copy of the per-block times; nil slots are unset.
func (e *Engine) BlockElapsed() []*int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone().BlockElapsedMs
}

// Snapshot returns a deep copy of the session state.
func (e *Engine) Snapshot() models.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// OnTick sets the tick subscriber, replacing any previous one.
func (e *Engine) OnTick(fn func(elapsed time.Duration)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTick = fn
}

// OnBlockComplete sets the block-complete subscriber, replacing any previous one.
func (e *Engine) OnBlockComplete(fn func(index int, elapsed time.Duration)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onBlockComplete = fn
}

// OnWorkoutComplete sets the workout-complete subscriber, replacing any previous one.
func (e *Engine) OnWorkoutComplete(fn func(blockTimes []time.Duration, total time.Duration)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onWorkoutComplete = fn
}

// PersistNow writes the current state through the gateway, bypassing the
// debounce, and waits for the write. A state without a session is never
// written.
func (e *Engine) PersistNow(ctx context.Context) error {
	e.saver.Cancel()

	var err error
	<-e.enqueue(func() {
		snap := e.Snapshot()
		if !snap.HasSession() {
			return
		}
		if serr := e.gateway.SaveSessionState(ctx, snap); serr != nil {
			err = fmt.Errorf("saving session %s: %w", snap.SessionID, serr)
		}
	})
	return err
}

// Flush waits until every queued write has reached the gateway.
func (e *Engine) Flush() {
	e.writes.Wait()
}

// enqueue runs fn on its own goroutine once every earlier write is done.
// The returned channel closes when fn has returned.
func (e *Engine) enqueue(fn func()) <-chan struct{} {
	done := make(chan struct{})

	e.queueMu.Lock()
	prev := e.tail
	e.tail = done
	e.writes.Add(1)
	e.queueMu.Unlock()

	go func() {
		defer e.writes.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		fn()
	}()
	return done
}

// persistAsync queues a save of the state as it is when the write runs.
func (e *Engine) persistAsync(reason string) {
	e.enqueue(func() { e.save(reason) })
}

func (e *Engine) save(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	snap := e.Snapshot()
	if !snap.HasSession() {
		return
	}
	if err := e.gateway.SaveSessionState(ctx, snap); err != nil {
		e.log.Warn("session state save failed", "reason", reason, "session_id", snap.SessionID, "error", err)
		return
	}
	e.log.Debug("session state saved", "reason", reason, "session_id", snap.SessionID, "run_state", snap.RunState)
}

func (e *Engine) clearPersisted() {
	e.enqueue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := e.gateway.ClearSessionState(ctx); err != nil {
			e.log.Warn("session state clear failed", "error", err)
		}
	})
}

// validate rejects records whose shape breaks the session invariants.
func validate(s models.SessionState) error {
	if len(s.BlockElapsedMs) != len(s.Blocks) {
		return fmt.Errorf("%d elapsed slots for %d blocks", len(s.BlockElapsedMs), len(s.Blocks))
	}
	if s.CurrentBlockIndex < 0 || s.CurrentBlockIndex > len(s.Blocks) {
		return fmt.Errorf("block index %d out of range", s.CurrentBlockIndex)
	}
	for i, v := range s.BlockElapsedMs {
		if (v != nil) != (i < s.CurrentBlockIndex) {
			return fmt.Errorf("block %d elapsed slot does not match index %d", i, s.CurrentBlockIndex)
		}
		if v != nil && *v < 0 {
			return fmt.Errorf("block %d has negative time", i)
		}
	}
	if s.AccumulatedMs < 0 {
		return fmt.Errorf("negative accumulated time %d", s.AccumulatedMs)
	}
	switch s.RunState {
	case models.RunStateIdle:
	case models.RunStateRunning, models.RunStatePaused:
		if s.CurrentBlockIndex == len(s.Blocks) {
			return fmt.Errorf("%s session has no block left", s.RunState)
		}
	default:
		return fmt.Errorf("unknown run state %q", s.RunState)
	}
	return nil
}

func sumSet(slots []*int64) int64 {
	var total int64
	for _, v := range slots {
		if v != nil {
			total += *v
		}
	}
	return total
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

type nopGateway struct{}

func (nopGateway) LoadSessionState(context.Context) (*models.SessionState, error) { return nil, nil }
func (nopGateway) SaveSessionState(context.Context, models.SessionState) error   { return nil }
func (nopGateway) ClearSessionState(context.Context) error                       { return nil }
