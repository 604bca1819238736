package timer

import (
	"sync"
	"time"

	"github.com/claude/splits/internal/clock"
)

// DefaultFrameInterval approximates one display refresh at 60Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler runs tick callbacks. Schedule replaces any pending callback;
// Cancel drops it. Implementations may delay or drop callbacks freely:
// the engine derives elapsed time from timestamps only.
type Scheduler interface {
	Schedule(fn func())
	Cancel()
}

// FrameScheduler fires one callback roughly per display frame and does
// not schedule anything while the host is hidden. A callback dropped
// because of visibility is not replayed; the owner restarts the loop when
// the host becomes visible again.
type FrameScheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	visible  bool
	pending  clock.Timer
	gen      uint64
}

// NewFrameScheduler returns a visible scheduler firing every interval.
func NewFrameScheduler(c clock.Clock, interval time.Duration) *FrameScheduler {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &FrameScheduler{clock: c, interval: interval, visible: true}
}

// Schedule arranges for fn to run after one frame.
func (s *FrameScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if !s.visible {
		return
	}
	gen := s.gen
	s.pending = s.clock.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.pending = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback, if any.
func (s *FrameScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// SetVisible records host visibility. Hiding drops the pending callback.
func (s *FrameScheduler) SetVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = visible
	if !visible {
		s.stopLocked()
	}
}

// Visible reports the last recorded host visibility.
func (s *FrameScheduler) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *FrameScheduler) stopLocked() {
	s.gen++
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
