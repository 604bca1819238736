package workout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claude/splits/internal/catalog"
	"github.com/claude/splits/internal/clock"
	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/timer"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type fakeStore struct {
	mu        sync.Mutex
	workouts  []models.WorkoutRecord
	bests     []models.PersonalBest
	templates map[uuid.UUID]models.Template
	insertErr error
	duplicate bool
}

func (f *fakeStore) InsertWorkout(_ context.Context, rec models.WorkoutRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if f.duplicate {
		return false, nil
	}
	f.workouts = append(f.workouts, rec)
	return true, nil
}

func (f *fakeStore) UpdatePersonalBests(_ context.Context, rec models.WorkoutRecord) ([]models.PersonalBest, error) {
	pb := models.PersonalBest{Category: rec.Category, Key: models.SimulationTotalKey, TimeMs: rec.TotalMs, WorkoutID: rec.ID}
	f.mu.Lock()
	f.bests = append(f.bests, pb)
	f.mu.Unlock()
	return []models.PersonalBest{pb}, nil
}

func (f *fakeStore) GetTemplate(_ context.Context, id uuid.UUID) (models.Template, error) {
	t, ok := f.templates[id]
	if !ok {
		return models.Template{}, errors.New("not found")
	}
	return t, nil
}

type memGateway struct {
	mu  sync.Mutex
	rec *models.SessionState
}

func (g *memGateway) LoadSessionState(context.Context) (*models.SessionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec == nil {
		return nil, nil
	}
	c := g.rec.Clone()
	return &c, nil
}

func (g *memGateway) SaveSessionState(_ context.Context, s models.SessionState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := s.Clone()
	g.rec = &c
	return nil
}

func (g *memGateway) ClearSessionState(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rec = nil
	return nil
}

func (g *memGateway) get() *models.SessionState {
	rec, _ := g.LoadSessionState(context.Background())
	return rec
}

func (f *fakeStore) stored() []models.WorkoutRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.WorkoutRecord(nil), f.workouts...)
}

func (f *fakeStore) failInserts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertErr = err
}

func newService(t *testing.T, store *fakeStore) (*Service, *clock.Manual, *memGateway) {
	t.Helper()
	clk := clock.NewManual(t0)
	gw := &memGateway{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := timer.New(timer.Options{Clock: clk, Gateway: gw, Scheduler: timer.NewFrameScheduler(clk, time.Hour), Logger: log})
	return New(eng, store, clk, log), clk, gw
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSimulationHandsOffToHistory(t *testing.T) {
	store := &fakeStore{}
	svc, clk, gw := newService(t, store)
	events, cancel := svc.Subscribe()
	defer cancel()

	state, err := svc.StartSimulation(models.CategoryPro)
	require.NoError(t, err)
	require.Len(t, state.Blocks, 16)

	eng := svc.Engine()
	eng.Start()
	for i := 0; i < 16; i++ {
		clk.Advance(time.Duration(i+1) * time.Second)
		eng.AdvanceBlock()
	}

	require.Len(t, store.workouts, 1)
	rec := store.workouts[0]
	assert.Equal(t, state.SessionID, rec.SessionID)
	assert.Equal(t, catalog.SimulationName, rec.Name)
	assert.Equal(t, models.CategoryPro, rec.Category)
	assert.Equal(t, int64(136000), rec.TotalMs)
	assert.Equal(t, t0.UTC(), rec.StartedAt)
	assert.Equal(t, t0.Add(136*time.Second).UTC(), rec.CompletedAt)
	require.Len(t, rec.Splits, 16)
	assert.Equal(t, "run:1000m", rec.Splits[0].Key)
	assert.Equal(t, "wall_balls:100reps", rec.Splits[15].Key)
	assert.Equal(t, int64(16000), rec.Splits[15].TimeMs)

	assert.False(t, eng.Snapshot().HasSession(), "live session is cleared after hand-off")
	eng.Flush()
	assert.Nil(t, gw.get())

	evs := drain(events)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, EventWorkoutComplete, last.Type)
	done := last.Data.(CompleteData)
	assert.Equal(t, rec.ID.String(), done.WorkoutID)
	assert.Len(t, done.BlockTimesMs, 16)
	assert.Len(t, done.PersonalBests, 1)

	blockEvents := 0
	for _, ev := range evs {
		if ev.Type == EventBlockComplete {
			blockEvents++
		}
	}
	assert.Equal(t, 16, blockEvents)
}

func TestFailedHandOffKeepsSession(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("database is locked")}
	svc, clk, gw := newService(t, store)
	events, cancel := svc.Subscribe()
	defer cancel()

	_, err := svc.StartCustom(models.CategoryOpen, "", []models.TemplateItem{{ExerciseID: "rowing"}})
	require.NoError(t, err)
	svc.Engine().Start()
	clk.Advance(3 * time.Second)
	svc.Engine().FinishWorkout()

	svc.Engine().Flush()
	kept := gw.get()
	require.NotNil(t, kept, "the finished session stays in the live slot")
	assert.Equal(t, 1, kept.CurrentBlockIndex)
	evs := drain(events)
	done := evs[len(evs)-1].Data.(CompleteData)
	assert.NotEmpty(t, done.Error)
	assert.Empty(t, done.WorkoutID)

	// Storage is back: the next boot recovers the finished session.
	store.failInserts(nil)
	assert.True(t, svc.RecoverFinished(context.Background()))
	require.Len(t, store.workouts, 1)
	assert.Equal(t, int64(3000), store.workouts[0].TotalMs)
	assert.Equal(t, "Custom Workout", store.workouts[0].Name)
	assert.False(t, store.workouts[0].Partial)
	svc.Engine().Flush()
	assert.Nil(t, gw.get())
	assert.False(t, svc.RecoverFinished(context.Background()))
}

func TestDuplicateHandOffClearsSession(t *testing.T) {
	store := &fakeStore{duplicate: true}
	svc, clk, gw := newService(t, store)
	_, err := svc.StartCustom(models.CategoryOpen, "Rows", []models.TemplateItem{{ExerciseID: "rowing"}})
	require.NoError(t, err)
	svc.Engine().Start()
	clk.Advance(time.Second)
	svc.Engine().FinishWorkout()
	svc.Engine().Flush()

	assert.Nil(t, gw.get())
	assert.Empty(t, store.bests)
}

func TestStartRefusedWhileActive(t *testing.T) {
	svc, _, _ := newService(t, &fakeStore{})
	_, err := svc.StartSimulation(models.CategoryOpen)
	require.NoError(t, err)
	svc.Engine().Start()

	_, err = svc.StartSimulation(models.CategoryOpen)
	assert.ErrorIs(t, err, ErrSessionActive)

	svc.Engine().Pause()
	_, err = svc.StartCustom(models.CategoryOpen, "x", []models.TemplateItem{{ExerciseID: "run"}})
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = svc.StartSimulation("elite")
	assert.ErrorIs(t, err, catalog.ErrUnknownCategory)
}

func TestStartTemplate(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{templates: map[uuid.UUID]models.Template{
		id: {ID: id, Name: "Sleds", Items: []models.TemplateItem{{ExerciseID: "sled_push"}, {ExerciseID: "sled_pull"}}},
	}}
	svc, clk, _ := newService(t, store)

	state, err := svc.StartTemplate(context.Background(), id, models.CategoryOpen)
	require.NoError(t, err)
	assert.Equal(t, models.ModeCustom, state.Mode)
	assert.Len(t, state.Blocks, 2)
	assert.Equal(t, models.RunStateIdle, state.RunState)

	svc.Engine().Start()
	clk.Advance(time.Second)
	svc.Engine().AdvanceBlock()
	clk.Advance(time.Second)
	svc.Engine().FinishWorkout()
	require.Len(t, store.workouts, 1)
	assert.Equal(t, "Sleds", store.workouts[0].Name)

	_, err = svc.StartTemplate(context.Background(), uuid.New(), models.CategoryOpen)
	assert.Error(t, err)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(Event{Type: EventTick})
	}
	assert.Len(t, drain(ch), subscriberBuffer)

	cancel()
	cancel()
	assert.Zero(t, h.Subscribers())
	_, open := <-ch
	assert.False(t, open)
	h.Publish(Event{Type: EventTick})
}

func TestStartRetriesFailedHandOff(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("database is locked")}
	svc, clk, gw := newService(t, store)
	first, err := svc.StartCustom(models.CategoryOpen, "Rows", []models.TemplateItem{{ExerciseID: "rowing"}})
	require.NoError(t, err)
	svc.Engine().Start()
	clk.Advance(2 * time.Second)
	svc.Engine().FinishWorkout()

	_, err = svc.StartSimulation(models.CategoryOpen)
	assert.ErrorIs(t, err, ErrUnsavedWorkout)
	clk.Advance(time.Second)
	svc.Engine().Flush()
	kept := gw.get()
	require.NotNil(t, kept)
	assert.Equal(t, first.SessionID, kept.SessionID, "the unsaved result is not overwritten")

	store.failInserts(nil)
	next, err := svc.StartSimulation(models.CategoryOpen)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, next.SessionID)

	stored := store.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, first.SessionID, stored[0].SessionID)
	assert.Equal(t, "Rows", stored[0].Name)
	assert.Equal(t, int64(2000), stored[0].TotalMs)
}

func TestStopStoresPartialWorkout(t *testing.T) {
	store := &fakeStore{}
	svc, clk, gw := newService(t, store)
	events, cancel := svc.Subscribe()
	defer cancel()

	state, err := svc.StartCustom(models.CategoryPro, "Stations", []models.TemplateItem{
		{ExerciseID: "skierg"}, {ExerciseID: "rowing"}, {ExerciseID: "wall_balls"},
	})
	require.NoError(t, err)
	eng := svc.Engine()
	eng.Start()
	clk.Advance(4 * time.Second)
	eng.AdvanceBlock()
	clk.Advance(time.Second)

	require.NoError(t, svc.Stop(context.Background(), false))

	stored := store.stored()
	require.Len(t, stored, 1)
	rec := stored[0]
	assert.Equal(t, state.SessionID, rec.SessionID)
	assert.True(t, rec.Partial)
	assert.Equal(t, int64(4000), rec.TotalMs)
	require.Len(t, rec.Splits, 1)
	assert.Equal(t, "skierg:1000m", rec.Splits[0].Key)

	assert.False(t, eng.Snapshot().HasSession())
	eng.Flush()
	assert.Nil(t, gw.get(), "no Idle record is left behind")

	evs := drain(events)
	require.NotEmpty(t, evs)
	done := evs[len(evs)-1].Data.(CompleteData)
	assert.True(t, done.Partial)
	assert.Equal(t, rec.ID.String(), done.WorkoutID)
}

func TestStopWithoutRecordedBlocks(t *testing.T) {
	store := &fakeStore{}
	svc, clk, gw := newService(t, store)
	_, err := svc.StartSimulation(models.CategoryOpen)
	require.NoError(t, err)
	svc.Engine().Start()
	clk.Advance(time.Second)

	require.NoError(t, svc.Stop(context.Background(), false))

	assert.Empty(t, store.stored())
	assert.False(t, svc.Engine().Snapshot().HasSession())
	svc.Engine().Flush()
	assert.Nil(t, gw.get())
}

func TestStopDiscardStoresNothing(t *testing.T) {
	store := &fakeStore{}
	svc, clk, _ := newService(t, store)
	_, err := svc.StartSimulation(models.CategoryOpen)
	require.NoError(t, err)
	svc.Engine().Start()
	clk.Advance(time.Second)
	svc.Engine().AdvanceBlock()

	require.NoError(t, svc.Stop(context.Background(), true))

	assert.Empty(t, store.stored())
	assert.False(t, svc.Engine().Snapshot().HasSession())
}

func TestStopFailureKeepsSessionUntilStored(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	svc, clk, gw := newService(t, store)
	_, err := svc.StartSimulation(models.CategoryOpen)
	require.NoError(t, err)
	svc.Engine().Start()
	clk.Advance(time.Second)
	svc.Engine().AdvanceBlock()

	assert.Error(t, svc.Stop(context.Background(), false))
	svc.Engine().Flush()
	kept := gw.get()
	require.NotNil(t, kept)
	assert.Equal(t, models.RunStateIdle, kept.RunState)
	assert.Equal(t, 1, kept.CurrentBlockIndex)

	_, err = svc.StartCustom(models.CategoryOpen, "", []models.TemplateItem{{ExerciseID: "run"}})
	assert.ErrorIs(t, err, ErrUnsavedWorkout)

	// A restart finds the stopped session and stores it.
	store.failInserts(nil)
	assert.True(t, svc.RecoverFinished(context.Background()))
	stored := store.stored()
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Partial)
	assert.Equal(t, int64(1000), stored[0].TotalMs)
}
