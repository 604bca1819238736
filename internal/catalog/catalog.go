// Package catalog lists the Hyrox exercises and builds the block sequences
// the timer runs: the fixed simulation and user-built custom workouts.
package catalog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/claude/splits/internal/models"
)

// Block kinds.
const (
	KindRun     = "run"
	KindStation = "station"
)

// RunID is the exercise ID of the 1km run between stations.
const RunID = "run"

// SimulationName is the display name of the fixed simulation.
const SimulationName = "Hyrox Simulation"

var (
	ErrUnknownExercise = errors.New("unknown exercise")
	ErrEmptyTemplate   = errors.New("template has no exercises")
	ErrUnknownCategory = errors.New("unknown category")
)

// Exercise is one catalog entry with its standard measure.
type Exercise struct {
	ID       string                      `json:"id"`
	Name     string                      `json:"name"`
	Kind     string                      `json:"kind"`
	Distance int                         `json:"distanceM,omitempty"`
	Reps     int                         `json:"reps,omitempty"`
	Weights  map[models.Category]float64 `json:"weightsKg,omitempty"`
}

// Block returns the exercise as a timer block with the category's weight.
func (e Exercise) Block(category models.Category) models.Block {
	return models.Block{
		ExerciseID: e.ID,
		Name:       e.Name,
		Kind:       e.Kind,
		Distance:   e.Distance,
		Reps:       e.Reps,
		WeightKg:   e.Weights[category],
	}
}

var run = Exercise{ID: RunID, Name: "Run", Kind: KindRun, Distance: 1000}

// stations in race order. Sled weights include the sled.
var stations = []Exercise{
	{ID: "skierg", Name: "SkiErg", Kind: KindStation, Distance: 1000},
	{ID: "sled_push", Name: "Sled Push", Kind: KindStation, Distance: 50,
		Weights: map[models.Category]float64{models.CategoryOpen: 152, models.CategoryPro: 202}},
	{ID: "sled_pull", Name: "Sled Pull", Kind: KindStation, Distance: 50,
		Weights: map[models.Category]float64{models.CategoryOpen: 103, models.CategoryPro: 153}},
	{ID: "burpee_broad_jumps", Name: "Burpee Broad Jumps", Kind: KindStation, Distance: 80},
	{ID: "rowing", Name: "Rowing", Kind: KindStation, Distance: 1000},
	{ID: "farmers_carry", Name: "Farmers Carry", Kind: KindStation, Distance: 200,
		Weights: map[models.Category]float64{models.CategoryOpen: 24, models.CategoryPro: 32}},
	{ID: "sandbag_lunges", Name: "Sandbag Lunges", Kind: KindStation, Distance: 100,
		Weights: map[models.Category]float64{models.CategoryOpen: 20, models.CategoryPro: 30}},
	{ID: "wall_balls", Name: "Wall Balls", Kind: KindStation, Reps: 100,
		Weights: map[models.Category]float64{models.CategoryOpen: 6, models.CategoryPro: 9}},
}

// Exercises returns the run followed by the stations in race order.
func Exercises() []Exercise {
	out := make([]Exercise, 0, len(stations)+1)
	out = append(out, run)
	return append(out, stations...)
}

// Lookup finds an exercise by ID.
func Lookup(id string) (Exercise, bool) {
	if id == run.ID {
		return run, true
	}
	for _, s := range stations {
		if s.ID == id {
			return s, true
		}
	}
	return Exercise{}, false
}

// ParseCategory parses a category name. An empty string means open.
func ParseCategory(s string) (models.Category, error) {
	switch c := models.Category(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return models.CategoryOpen, nil
	case models.CategoryOpen, models.CategoryPro:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
}

// Simulation returns the full race: a 1km run before each station.
func Simulation(category models.Category) []models.Block {
	blocks := make([]models.Block, 0, 2*len(stations))
	for _, s := range stations {
		blocks = append(blocks, run.Block(category), s.Block(category))
	}
	return blocks
}

// BuildCustom turns template items into blocks. An item's distance or
// reps, when set, replaces the exercise's standard measure.
func BuildCustom(category models.Category, items []models.TemplateItem) ([]models.Block, error) {
	if len(items) == 0 {
		return nil, ErrEmptyTemplate
	}
	blocks := make([]models.Block, 0, len(items))
	for i, it := range items {
		ex, ok := Lookup(it.ExerciseID)
		if !ok {
			return nil, fmt.Errorf("item %d: %w: %q", i, ErrUnknownExercise, it.ExerciseID)
		}
		if it.Distance < 0 || it.Reps < 0 {
			return nil, fmt.Errorf("item %d: negative measure for %s", i, it.ExerciseID)
		}
		b := ex.Block(category)
		switch {
		case it.Distance > 0:
			b.Distance, b.Reps = it.Distance, 0
		case it.Reps > 0:
			b.Distance, b.Reps = 0, it.Reps
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// ValidateItems checks template items without building blocks.
func ValidateItems(items []models.TemplateItem) error {
	_, err := BuildCustom(models.CategoryOpen, items)
	return err
}
