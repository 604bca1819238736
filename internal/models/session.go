package models

import (
	"encoding/json"
	"fmt"
)

// Mode distinguishes the fixed simulation sequence from a user-built one.
type Mode string

const (
	ModeSimulation Mode = "simulation"
	ModeCustom     Mode = "custom"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeSimulation || m == ModeCustom
}

// Category selects the weight variant of the exercise catalog.
type Category string

const (
	CategoryOpen Category = "open"
	CategoryPro  Category = "pro"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryOpen || c == CategoryPro
}

// RunState is the timer state of a session.
type RunState string

const (
	RunStateIdle    RunState = "idle"
	RunStateRunning RunState = "running"
	RunStatePaused  RunState = "paused"
)

// Active reports whether the state is Running or Paused.
func (s RunState) Active() bool {
	return s == RunStateRunning || s == RunStatePaused
}

// Block is one timed segment of a workout. The timer only cares about
// how many there are and their order.
type Block struct {
	ExerciseID string  `json:"exerciseId"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Distance   int     `json:"distanceM,omitempty"`
	Reps       int     `json:"reps,omitempty"`
	WeightKg   float64 `json:"weightKg,omitempty"`
}

// Key identifies the block for personal-best tracking: the exercise plus
// its measure, so a 500m row never competes with a 1000m row.
func (b Block) Key() string {
	switch {
	case b.Distance > 0:
		return fmt.Sprintf("%s:%dm", b.ExerciseID, b.Distance)
	case b.Reps > 0:
		return fmt.Sprintf("%s:%dreps", b.ExerciseID, b.Reps)
	default:
		return b.ExerciseID
	}
}

// SessionState is the persisted record of the one live session.
//
// BlockElapsedMs holds one slot per block; a nil slot has not been
// completed yet. Timestamps are Unix milliseconds.
type SessionState struct {
	SessionID             string   `json:"sessionId"`
	Mode                  Mode     `json:"mode"`
	Category              Category `json:"category"`
	Blocks                []Block  `json:"blocks"`
	CurrentBlockIndex     int      `json:"currentBlockIndex"`
	BlockElapsedMs        []*int64 `json:"blockElapsedMs"`
	RunState              RunState `json:"runState"`
	StartTimestamp        int64    `json:"startTimestamp"`
	AccumulatedMs         int64    `json:"accumulatedMs"`
	WorkoutStartTimestamp int64    `json:"workoutStartTimestamp"`
}

// EmptySessionState returns the idle template used when no session exists.
func EmptySessionState() SessionState {
	return SessionState{
		Blocks:         []Block{},
		BlockElapsedMs: []*int64{},
		RunState:       RunStateIdle,
	}
}

// HasSession reports whether the record carries a session identifier.
func (s SessionState) HasSession() bool {
	return s.SessionID != ""
}

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	out := s
	out.Blocks = append([]Block{}, s.Blocks...)
	out.BlockElapsedMs = make([]*int64, len(s.BlockElapsedMs))
	for i, v := range s.BlockElapsedMs {
		if v != nil {
			ms := *v
			out.BlockElapsedMs[i] = &ms
		}
	}
	return out
}

// EncodeSessionState serializes a session record.
func EncodeSessionState(s SessionState) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding session state: %w", err)
	}
	return data, nil
}

// DecodeSessionState parses a session record. It returns nil, nil when
// the record has no session identifier.
func DecodeSessionState(data []byte) (*SessionState, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session state: %w", err)
	}
	if !s.HasSession() {
		return nil, nil
	}
	if s.Blocks == nil {
		s.Blocks = []Block{}
	}
	if s.BlockElapsedMs == nil {
		s.BlockElapsedMs = []*int64{}
	}
	if s.RunState == "" {
		s.RunState = RunStateIdle
	}
	return &s, nil
}
