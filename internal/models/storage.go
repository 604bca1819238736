package models

import "time"

// WorkoutFilter narrows a history query. Zero fields match everything.
type WorkoutFilter struct {
	Mode     Mode
	Category Category
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Dashboard summarises the history of one category.
type Dashboard struct {
	Category         Category        `json:"category"`
	WorkoutCount     int             `json:"workoutCount"`
	SimulationCount  int             `json:"simulationCount"`
	BestSimulationMs *int64          `json:"bestSimulationMs"`
	AvgSimulationMs  *int64          `json:"avgSimulationMs"`
	LastWorkoutAt    *time.Time      `json:"lastWorkoutAt"`
	Recent           []WorkoutRecord `json:"recent"`
	PersonalBests    []PersonalBest  `json:"personalBests"`
}
