package timer

import (
	"sync"
	"time"

	"github.com/claude/splits/internal/clock"
)

// DefaultDebounceWindow bounds how often tick-driven saves reach storage.
const DefaultDebounceWindow = 500 * time.Millisecond

// Debouncer coalesces bursts of triggers into a single call of fn.
//
// The first trigger of a burst arms the deadline; later triggers inside
// the window join it instead of pushing it back, so a trigger every frame
// still produces one call per window.
type Debouncer struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	fn      func()
	pending clock.Timer
	gen     uint64
}

// NewDebouncer returns a Debouncer calling fn at most once per window.
func NewDebouncer(c clock.Clock, window time.Duration, fn func()) *Debouncer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{clock: c, window: window, fn: fn}
}

// Trigger arms the deadline unless one is already pending.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		return
	}
	gen := d.gen
	d.pending = d.clock.AfterFunc(d.window, func() {
		d.mu.Lock()
		if d.gen != gen {
			d.mu.Unlock()
			return
		}
		d.pending = nil
		d.mu.Unlock()
		d.fn()
	})
}

// Cancel drops the pending call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}
