package workout

import (
	"sync"
)

// Event types published to subscribers.
const (
	EventTick            = "tick"
	EventBlockComplete   = "block_complete"
	EventWorkoutComplete = "workout_complete"
	EventState           = "state"
)

// Event is one message on the live session stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// TickData is published every tick.
type TickData struct {
	ElapsedMs int64 `json:"elapsedMs"`
	TotalMs   int64 `json:"totalMs"`
}

// BlockCompleteData is published when a block is recorded.
type BlockCompleteData struct {
	Index  int   `json:"index"`
	TimeMs int64 `json:"timeMs"`
}

const subscriberBuffer = 64

// Hub fans engine events out to any number of stream subscribers. A slow
// subscriber loses events instead of blocking the engine.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a subscriber. The returned cancel func must be
// called when the subscriber goes away; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
