// Package recovery decides at boot whether an interrupted session should be
// offered for resumption, and connects client lifecycle events (hidden,
// visible, unload) to the timer engine.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/timer"
)

// Screen routes for resumed sessions.
const (
	RouteSimulation = "/simulation"
	RouteCustom     = "/custom"
)

// FallbackStore is the synchronous store written at teardown.
type FallbackStore interface {
	WriteFallback(s models.SessionState) error
	// ReadFallback returns nil, nil when the slot is empty.
	ReadFallback() (*models.SessionState, error)
	ClearFallback() error
}

// Engine is the part of the timer engine the coordinator drives.
type Engine interface {
	Restore(ctx context.Context) (models.SessionState, bool)
	Stop(discard bool)
	RestartTicks()
	PersistNow(ctx context.Context) error
	Snapshot() models.SessionState
	IsActive() bool
	IsRunning() bool
}

// Visibility receives host visibility changes, typically the engine's
// frame scheduler.
type Visibility interface {
	SetVisible(visible bool)
}

// Offer describes an interrupted session the client may resume or discard.
type Offer struct {
	SessionID  string          `json:"sessionId"`
	Mode       models.Mode     `json:"mode"`
	Category   models.Category `json:"category"`
	RunState   models.RunState `json:"runState"`
	BlockIndex int             `json:"blockIndex"`
	BlockCount int             `json:"blockCount"`
	Route      string          `json:"route"`
}

// Coordinator owns the boot-time resume decision and lifecycle wiring.
type Coordinator struct {
	engine     Engine
	primary    timer.Gateway
	fallback   FallbackStore
	visibility Visibility
	log        *slog.Logger

	mu    sync.Mutex
	offer *Offer
}

// New creates a Coordinator. visibility may be nil.
func New(engine Engine, primary timer.Gateway, fallback FallbackStore, visibility Visibility, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		engine:     engine,
		primary:    primary,
		fallback:   fallback,
		visibility: visibility,
		log:        log,
	}
}

// Boot migrates any teardown fallback into the primary store, then
// returns an Offer when the primary store holds a Running or Paused
// session. A nil Offer means there is nothing to resume.
func (c *Coordinator) Boot(ctx context.Context) (*Offer, error) {
	if err := c.migrateFallback(ctx); err != nil {
		return nil, err
	}

	rec, err := c.primary.LoadSessionState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading session state: %w", err)
	}

	var offer *Offer
	if rec != nil && rec.HasSession() && rec.RunState.Active() {
		offer = &Offer{
			SessionID:  rec.SessionID,
			Mode:       rec.Mode,
			Category:   rec.Category,
			RunState:   rec.RunState,
			BlockIndex: rec.CurrentBlockIndex,
			BlockCount: len(rec.Blocks),
			Route:      routeFor(rec.Mode),
		}
		c.log.Info("interrupted session found", "session_id", rec.SessionID, "run_state", rec.RunState,
			"block", rec.CurrentBlockIndex, "blocks", len(rec.Blocks))
	}

	c.mu.Lock()
	c.offer = offer
	c.mu.Unlock()
	return offer, nil
}

// migrateFallback moves a teardown record into the primary store unless
// the primary already holds a Running or Paused session, in which case the
// primary wins and the fallback is dropped. An Idle primary record is
// older than any torn-down session and gets replaced. The slot is cleared either way.
func (c *Coordinator) migrateFallback(ctx context.Context) error {
	rec, err := c.fallback.ReadFallback()
	if err != nil {
		c.log.Warn("unreadable fallback record, dropping it", "error", err)
		c.clearFallback()
		return nil
	}
	if rec == nil {
		return nil
	}

	current, err := c.primary.LoadSessionState(ctx)
	if err != nil {
		return fmt.Errorf("loading session state for fallback migration: %w", err)
	}
	if current != nil && current.HasSession() && current.RunState.Active() {
		c.log.Info("primary store holds an active session, dropping fallback",
			"primary_session_id", current.SessionID, "fallback_session_id", rec.SessionID)
		c.clearFallback()
		return nil
	}

	if err := c.primary.SaveSessionState(ctx, *rec); err != nil {
		return fmt.Errorf("migrating fallback session %s: %w", rec.SessionID, err)
	}
	c.log.Info("migrated fallback session", "session_id", rec.SessionID, "run_state", rec.RunState)
	c.clearFallback()
	return nil
}

func (c *Coordinator) clearFallback() {
	if err := c.fallback.ClearFallback(); err != nil {
		c.log.Warn("clearing fallback failed", "error", err)
	}
}

// Pending returns the offer computed by the last Boot that has not been
// accepted or discarded yet.
func (c *Coordinator) Pending() *Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offer == nil {
		return nil
	}
	o := *c.offer
	return &o
}

// Accept restores the persisted session into the engine, the way the
// screen for the session's mode does on mount. A running session gets its
// tick loop back; no timestamp is recomputed.
func (c *Coordinator) Accept(ctx context.Context) (models.SessionState, bool) {
	c.mu.Lock()
	c.offer = nil
	c.mu.Unlock()

	state, ok := c.engine.Restore(ctx)
	if !ok {
		return state, false
	}
	if state.RunState == models.RunStateRunning {
		c.engine.RestartTicks()
	}
	return state, true
}

// Discard destroys the interrupted session and its persisted record.
func (c *Coordinator) Discard() {
	c.mu.Lock()
	c.offer = nil
	c.mu.Unlock()

	c.engine.Stop(true)
}

// Hidden stops frame scheduling and writes an active session immediately.
func (c *Coordinator) Hidden(ctx context.Context) {
	if c.visibility != nil {
		c.visibility.SetVisible(false)
	}
	if !c.engine.IsActive() {
		return
	}
	if err := c.engine.PersistNow(ctx); err != nil {
		c.log.Warn("persist on hide failed", "error", err)
	}
}

// Visible resumes frame scheduling and restarts the tick loop of a
// running session.
func (c *Coordinator) Visible() {
	if c.visibility != nil {
		c.visibility.SetVisible(true)
	}
	if c.engine.IsRunning() {
		c.engine.RestartTicks()
	}
}

// Teardown writes an active session to the fallback store synchronously.
// Failures are logged; there is nothing left to fall back to.
func (c *Coordinator) Teardown() {
	if !c.engine.IsActive() {
		return
	}
	snap := c.engine.Snapshot()
	if !snap.HasSession() {
		return
	}
	if err := c.fallback.WriteFallback(snap); err != nil {
		c.log.Error("teardown fallback write failed", "session_id", snap.SessionID, "error", err)
		return
	}
	c.log.Info("session written to fallback", "session_id", snap.SessionID, "run_state", snap.RunState)
}

func routeFor(m models.Mode) string {
	if m == models.ModeSimulation {
		return RouteSimulation
	}
	return RouteCustom
}
