// Package workout turns timer sessions into stored history: it starts
// sessions from the catalog or from templates, and when a session completes
// or is stopped it records the result, updates personal bests and clears
// the live session.
package workout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/splits/internal/catalog"
	"github.com/claude/splits/internal/clock"
	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/timer"
)

const storeTimeout = 5 * time.Second

// ErrSessionActive is returned when a new session would replace one that
// is still Running or Paused.
var ErrSessionActive = errors.New("a session is already running or paused")

// ErrUnsavedWorkout is returned when a new session would replace recorded
// block times that could not be stored yet.
var ErrUnsavedWorkout = errors.New("previous workout is not stored yet")

// Store is the history side of the local database.
type Store interface {
	InsertWorkout(ctx context.Context, rec models.WorkoutRecord) (bool, error)
	UpdatePersonalBests(ctx context.Context, rec models.WorkoutRecord) ([]models.PersonalBest, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (models.Template, error)
}

// CompleteData is published once a finished or stopped workout has been
// handed to history. WorkoutID is empty and Error set when storing failed.
type CompleteData struct {
	BlockTimesMs  []int64               `json:"blockTimesMs"`
	TotalTimeMs   int64                 `json:"totalTimeMs"`
	Partial       bool                  `json:"partial,omitempty"`
	WorkoutID     string                `json:"workoutId,omitempty"`
	PersonalBests []models.PersonalBest `json:"personalBests"`
	Error         string                `json:"error,omitempty"`
}

// Service owns the engine's subscriber slots and the hand-off to history.
type Service struct {
	engine *timer.Engine
	store  Store
	clock  clock.Clock
	hub    *Hub
	log    *slog.Logger

	mu    sync.Mutex
	names map[string]string

	// handMu serialises hand-offs with session creation.
	handMu sync.Mutex
}

// New creates a Service and subscribes it to engine events.
func New(engine *timer.Engine, store Store, clk clock.Clock, log *slog.Logger) *Service {
	if clk == nil {
		clk = clock.System
	}
	s := &Service{
		engine: engine,
		store:  store,
		clock:  clk,
		hub:    NewHub(),
		log:    log,
		names:  make(map[string]string),
	}
	engine.OnTick(s.handleTick)
	engine.OnBlockComplete(s.handleBlockComplete)
	engine.OnWorkoutComplete(s.handleWorkoutComplete)
	return s
}

// Engine returns the engine the service drives.
func (s *Service) Engine() *timer.Engine { return s.engine }

// Subscribe registers a live event subscriber.
func (s *Service) Subscribe() (<-chan Event, func()) { return s.hub.Subscribe() }

// PublishState pushes the current session snapshot to subscribers.
func (s *Service) PublishState() {
	s.hub.Publish(Event{Type: EventState, Data: s.engine.Snapshot()})
}

// StartSimulation initializes a fresh simulation session. The timer is
// not started.
func (s *Service) StartSimulation(category models.Category) (models.SessionState, error) {
	return s.initialize(models.ModeSimulation, category, catalog.SimulationName, catalog.Simulation(category))
}

// StartTemplate initializes a custom session from a saved template.
func (s *Service) StartTemplate(ctx context.Context, templateID uuid.UUID, category models.Category) (models.SessionState, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return models.SessionState{}, fmt.Errorf("loading template %s: %w", templateID, err)
	}
	blocks, err := catalog.BuildCustom(category, tpl.Items)
	if err != nil {
		return models.SessionState{}, fmt.Errorf("building template %s: %w", templateID, err)
	}
	return s.initialize(models.ModeCustom, category, tpl.Name, blocks)
}

// StartCustom initializes a custom session from ad-hoc items.
func (s *Service) StartCustom(category models.Category, name string, items []models.TemplateItem) (models.SessionState, error) {
	blocks, err := catalog.BuildCustom(category, items)
	if err != nil {
		return models.SessionState{}, err
	}
	if name == "" {
		name = "Custom Workout"
	}
	return s.initialize(models.ModeCustom, category, name, blocks)
}

func (s *Service) initialize(mode models.Mode, category models.Category, name string, blocks []models.Block) (models.SessionState, error) {
	if !category.Valid() {
		return models.SessionState{}, fmt.Errorf("%w: %q", catalog.ErrUnknownCategory, category)
	}

	s.handMu.Lock()
	defer s.handMu.Unlock()

	if s.engine.IsActive() {
		return models.SessionState{}, ErrSessionActive
	}
	if prev := s.engine.Snapshot(); unsaved(prev) {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		data, err := s.handOff(ctx, prev)
		if err != nil {
			s.log.Error("storing previous workout failed", "session_id", prev.SessionID, "error", err)
			return models.SessionState{}, fmt.Errorf("%w: %w", ErrUnsavedWorkout, err)
		}
		s.hub.Publish(Event{Type: EventWorkoutComplete, Data: data})
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.names = map[string]string{id: name}
	s.mu.Unlock()

	s.engine.Initialize(id, mode, category, blocks)
	s.log.Info("session initialized", "session_id", id, "mode", mode, "category", category, "blocks", len(blocks))
	s.PublishState()
	return s.engine.Snapshot(), nil
}

func (s *Service) handleTick(elapsed time.Duration) {
	s.hub.Publish(Event{Type: EventTick, Data: TickData{
		ElapsedMs: elapsed.Milliseconds(),
		TotalMs:   s.engine.TotalElapsed().Milliseconds(),
	}})
}

func (s *Service) handleBlockComplete(index int, elapsed time.Duration) {
	s.log.Debug("block complete", "index", index, "time_ms", elapsed.Milliseconds())
	s.hub.Publish(Event{Type: EventBlockComplete, Data: BlockCompleteData{Index: index, TimeMs: elapsed.Milliseconds()}})
}

func (s *Service) handleWorkoutComplete(_ []time.Duration, _ time.Duration) {
	s.handMu.Lock()
	defer s.handMu.Unlock()

	snap := s.engine.Snapshot()
	if !unsaved(snap) || snap.CurrentBlockIndex != len(snap.Blocks) {
		// Already handed off by a concurrent session start.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	data, err := s.handOff(ctx, snap)
	if err != nil {
		// The finished session stays persisted so the result is not lost.
		s.log.Error("storing workout failed", "session_id", snap.SessionID, "error", err)
		data.Error = "workout could not be saved"
	}
	s.hub.Publish(Event{Type: EventWorkoutComplete, Data: data})
}

// Stop ends the session. With discard everything is dropped. Otherwise the
// blocks recorded so far are stored, as a partial workout when blocks
// remain, and the live slot is cleared. If storing fails the stopped
// session stays persisted and the error is returned.
func (s *Service) Stop(ctx context.Context, discard bool) error {
	s.handMu.Lock()
	defer s.handMu.Unlock()

	if discard {
		s.engine.Stop(true)
		return nil
	}

	s.engine.Stop(false)
	snap := s.engine.Snapshot()
	if !snap.HasSession() {
		return nil
	}
	data, err := s.handOff(ctx, snap)
	if err != nil {
		s.log.Error("storing stopped workout failed", "session_id", snap.SessionID, "error", err)
		return err
	}
	if len(data.BlockTimesMs) > 0 {
		s.hub.Publish(Event{Type: EventWorkoutComplete, Data: data})
	}
	return nil
}

// RecoverFinished hands a session left Idle in the live slot with recorded
// block times (its history write failed, or the process died in between)
// to history. It reports whether such a session was found.
func (s *Service) RecoverFinished(ctx context.Context) bool {
	s.handMu.Lock()
	defer s.handMu.Unlock()

	if s.engine.IsActive() {
		return false
	}
	state, ok := s.engine.Restore(ctx)
	if !ok || !unsaved(state) {
		return false
	}

	s.log.Info("recovering unsaved session", "session_id", state.SessionID,
		"blocks", state.CurrentBlockIndex, "of", len(state.Blocks))
	data, err := s.handOff(ctx, state)
	if err != nil {
		s.log.Error("storing recovered workout failed", "session_id", state.SessionID, "error", err)
		data.Error = "workout could not be saved"
	}
	s.hub.Publish(Event{Type: EventWorkoutComplete, Data: data})
	return true
}

// handOff stores the recorded blocks of an Idle session, updates personal
// bests and clears the live slot. A session without recorded blocks is
// just cleared. On a storage error the session is left in place.
func (s *Service) handOff(ctx context.Context, snap models.SessionState) (CompleteData, error) {
	var (
		times []time.Duration
		total time.Duration
	)
	for _, v := range snap.BlockElapsedMs {
		if v == nil {
			break
		}
		d := time.Duration(*v) * time.Millisecond
		times = append(times, d)
		total += d
	}

	data := CompleteData{
		BlockTimesMs:  make([]int64, len(times)),
		TotalTimeMs:   total.Milliseconds(),
		Partial:       len(times) < len(snap.Blocks),
		PersonalBests: []models.PersonalBest{},
	}
	for i, d := range times {
		data.BlockTimesMs[i] = d.Milliseconds()
	}
	if len(times) == 0 {
		s.engine.Stop(true)
		return data, nil
	}

	rec := s.record(snap, times, total)
	rec.Partial = data.Partial
	inserted, err := s.store.InsertWorkout(ctx, rec)
	if err != nil {
		return data, fmt.Errorf("storing workout of session %s: %w", snap.SessionID, err)
	}
	if !inserted {
		s.log.Warn("workout already stored", "session_id", snap.SessionID)
		s.engine.Stop(true)
		return data, nil
	}
	data.WorkoutID = rec.ID.String()

	improved, err := s.store.UpdatePersonalBests(ctx, rec)
	if err != nil {
		s.log.Warn("updating personal bests failed", "workout_id", rec.ID, "error", err)
	} else {
		data.PersonalBests = improved
	}

	s.log.Info("workout stored", "workout_id", rec.ID, "mode", rec.Mode, "category", rec.Category,
		"total_ms", rec.TotalMs, "partial", rec.Partial, "personal_bests", len(data.PersonalBests))
	s.engine.Stop(true)
	return data, nil
}

// unsaved reports whether an Idle session holds block times that have not
// reached history.
func unsaved(snap models.SessionState) bool {
	return snap.HasSession() && !snap.RunState.Active() && snap.CurrentBlockIndex > 0
}

func (s *Service) record(snap models.SessionState, blockTimes []time.Duration, total time.Duration) models.WorkoutRecord {
	s.mu.Lock()
	name, ok := s.names[snap.SessionID]
	s.mu.Unlock()
	if !ok {
		name = defaultName(snap.Mode)
	}

	rec := models.WorkoutRecord{
		ID:          uuid.New(),
		SessionID:   snap.SessionID,
		Mode:        snap.Mode,
		Category:    snap.Category,
		Name:        name,
		StartedAt:   time.UnixMilli(snap.WorkoutStartTimestamp).UTC(),
		CompletedAt: s.clock.Now().UTC().Truncate(time.Millisecond),
		TotalMs:     total.Milliseconds(),
		Splits:      make([]models.Split, len(blockTimes)),
	}
	for i, d := range blockTimes {
		var b models.Block
		if i < len(snap.Blocks) {
			b = snap.Blocks[i]
		}
		rec.Splits[i] = models.Split{
			Index:      i,
			ExerciseID: b.ExerciseID,
			Key:        b.Key(),
			Name:       b.Name,
			TimeMs:     d.Milliseconds(),
		}
	}
	return rec
}

func defaultName(m models.Mode) string {
	if m == models.ModeSimulation {
		return catalog.SimulationName
	}
	return "Custom Workout"
}
