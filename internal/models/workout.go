package models

import (
	"time"

	"github.com/google/uuid"
)

// SimulationTotalKey is the personal-best key for a full simulation time.
const SimulationTotalKey = "simulation_total"

// Split is the recorded time of one block in a finished workout.
type Split struct {
	Index      int    `json:"index"`
	ExerciseID string `json:"exerciseId"`
	Key        string `json:"key"`
	Name       string `json:"name"`
	TimeMs     int64  `json:"timeMs"`
}

// WorkoutRecord is a finished workout stored in history. A partial record
// was stopped before its last block and holds only the completed blocks.
type WorkoutRecord struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"sessionId"`
	Mode        Mode      `json:"mode"`
	Category    Category  `json:"category"`
	Name        string    `json:"name"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	TotalMs     int64     `json:"totalMs"`
	Partial     bool      `json:"partial"`
	Splits      []Split   `json:"splits"`
}

// PersonalBest is the minimum recorded time for a key within a category.
// Key is a block key (see Block.Key) or SimulationTotalKey.
type PersonalBest struct {
	Category   Category  `json:"category"`
	Key        string    `json:"key"`
	TimeMs     int64     `json:"timeMs"`
	WorkoutID  uuid.UUID `json:"workoutId"`
	AchievedAt time.Time `json:"achievedAt"`
}

// TemplateItem is one entry in a user-built workout.
type TemplateItem struct {
	ExerciseID string `json:"exerciseId"`
	Distance   int    `json:"distanceM,omitempty"`
	Reps       int    `json:"reps,omitempty"`
}

// Template is a saved custom workout sequence.
type Template struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Items     []TemplateItem `json:"items"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
