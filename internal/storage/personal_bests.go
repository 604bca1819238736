package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/claude/splits/internal/models"
)

var pbColumns = []string{"category", "pb_key", "time_ms", "workout_id", "achieved_at"}

// UpdatePersonalBests records every time in rec that beats the stored best
// for its key and returns the bests it improved, ordered by key. A
// complete simulation also competes on its total.
func (db *DB) UpdatePersonalBests(ctx context.Context, rec models.WorkoutRecord) ([]models.PersonalBest, error) {
	candidates := make(map[string]int64)
	for _, s := range rec.Splits {
		if cur, ok := candidates[s.Key]; !ok || s.TimeMs < cur {
			candidates[s.Key] = s.TimeMs
		}
	}
	if rec.Mode == models.ModeSimulation && !rec.Partial {
		candidates[models.SimulationTotalKey] = rec.TotalMs
	}

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	improved := []models.PersonalBest{}
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			ms := candidates[key]
			var current int64
			err := tx.QueryRowContext(ctx,
				`SELECT time_ms FROM personal_bests WHERE category = ? AND pb_key = ?`,
				string(rec.Category), key).Scan(&current)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return fmt.Errorf("querying personal best %s: %w", key, err)
			case ms >= current:
				continue
			}

			pb := models.PersonalBest{
				Category:   rec.Category,
				Key:        key,
				TimeMs:     ms,
				WorkoutID:  rec.ID,
				AchievedAt: rec.CompletedAt.UTC().Truncate(time.Millisecond),
			}
			if err := upsertBest(ctx, tx, pb); err != nil {
				return err
			}
			improved = append(improved, pb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return improved, nil
}

// ListPersonalBests returns the stored bests of a category, or of every
// category when category is empty.
func (db *DB) ListPersonalBests(ctx context.Context, category models.Category) ([]models.PersonalBest, error) {
	sel := qb.Select(pbColumns...).From("personal_bests").OrderBy("category", "pb_key")
	if category != "" {
		sel = sel.Where(sq.Eq{"category": string(category)})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building personal best query: %w", err)
	}

	rows, err := db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying personal bests: %w", err)
	}
	defer rows.Close()

	result := []models.PersonalBest{}
	for rows.Next() {
		var (
			pb             models.PersonalBest
			cat, workoutID string
			achievedMs     int64
		)
		if err := rows.Scan(&cat, &pb.Key, &pb.TimeMs, &workoutID, &achievedMs); err != nil {
			return nil, fmt.Errorf("scanning personal best: %w", err)
		}
		id, err := uuid.Parse(workoutID)
		if err != nil {
			return nil, fmt.Errorf("parsing personal best workout id %q: %w", workoutID, err)
		}
		pb.Category = models.Category(cat)
		pb.WorkoutID = id
		pb.AchievedAt = time.UnixMilli(achievedMs).UTC()
		result = append(result, pb)
	}
	return result, rows.Err()
}

func upsertBest(ctx context.Context, tx *sql.Tx, pb models.PersonalBest) error {
	query, args, err := qb.Insert("personal_bests").
		Columns(pbColumns...).
		Values(string(pb.Category), pb.Key, pb.TimeMs, pb.WorkoutID.String(), pb.AchievedAt.UnixMilli()).
		Suffix("ON CONFLICT (category, pb_key) DO UPDATE SET time_ms = excluded.time_ms, workout_id = excluded.workout_id, achieved_at = excluded.achieved_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building personal best upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("saving personal best %s: %w", pb.Key, err)
	}
	return nil
}

func pbKeysHeldBy(ctx context.Context, tx *sql.Tx, workoutID uuid.UUID) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT pb_key FROM personal_bests WHERE workout_id = ? ORDER BY pb_key`, workoutID.String())
	if err != nil {
		return nil, fmt.Errorf("querying personal bests of workout %s: %w", workoutID, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning personal best key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// recomputeBest rebuilds one best from the remaining history. Ties go to
// the earlier workout.
func recomputeBest(ctx context.Context, tx *sql.Tx, category models.Category, key string) error {
	var row *sql.Row
	if key == models.SimulationTotalKey {
		row = tx.QueryRowContext(ctx,
			`SELECT id, total_ms, completed_at FROM workouts
			 WHERE category = ? AND mode = ? AND partial = 0
			 ORDER BY total_ms ASC, completed_at ASC LIMIT 1`,
			string(category), string(models.ModeSimulation))
	} else {
		row = tx.QueryRowContext(ctx,
			`SELECT w.id, s.time_ms, w.completed_at FROM workout_splits s
			 JOIN workouts w ON w.id = s.workout_id
			 WHERE w.category = ? AND s.split_key = ?
			 ORDER BY s.time_ms ASC, w.completed_at ASC LIMIT 1`,
			string(category), key)
	}

	var (
		id              string
		ms, completedMs int64
	)
	err := row.Scan(&id, &ms, &completedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recomputing personal best %s: %w", key, err)
	}
	workoutID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parsing workout id %q: %w", id, err)
	}
	return upsertBest(ctx, tx, models.PersonalBest{
		Category:   category,
		Key:        key,
		TimeMs:     ms,
		WorkoutID:  workoutID,
		AchievedAt: time.UnixMilli(completedMs),
	})
}
