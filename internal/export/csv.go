// Package export writes workout history in portable formats.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/claude/splits/internal/models"
)

// TotalKey marks the summary row written after each workout's splits.
const TotalKey = "total"

var header = []string{
	"workout_id", "completed_at", "mode", "category", "name", "partial",
	"index", "exercise_id", "key", "split_name", "time_ms", "time",
}

// WriteCSV writes one row per split and a total row per workout.
func WriteCSV(w io.Writer, workouts []models.WorkoutRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for _, rec := range workouts {
		prefix := []string{
			rec.ID.String(),
			rec.CompletedAt.UTC().Format(time.RFC3339),
			string(rec.Mode),
			string(rec.Category),
			rec.Name,
			strconv.FormatBool(rec.Partial),
		}
		for _, sp := range rec.Splits {
			row := append(append([]string{}, prefix...),
				strconv.Itoa(sp.Index), sp.ExerciseID, sp.Key, sp.Name,
				strconv.FormatInt(sp.TimeMs, 10), FormatDuration(sp.TimeMs))
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing split %d of %s: %w", sp.Index, rec.ID, err)
			}
		}
		total := append(append([]string{}, prefix...),
			"", "", TotalKey, "Total",
			strconv.FormatInt(rec.TotalMs, 10), FormatDuration(rec.TotalMs))
		if err := cw.Write(total); err != nil {
			return fmt.Errorf("writing total of %s: %w", rec.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatDuration renders milliseconds as H:MM:SS.cc, or MM:SS.cc under an
// hour. Negative input renders as zero.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	cs := (ms % 1000) / 10
	s := ms / 1000
	h, m, sec := s/3600, (s/60)%60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, sec, cs)
	}
	return fmt.Sprintf("%02d:%02d.%02d", m, sec, cs)
}
