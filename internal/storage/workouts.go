package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/claude/splits/internal/models"
)

var workoutColumns = []string{"id", "session_id", "mode", "category", "name", "started_at", "completed_at", "total_ms", "partial"}

// InsertWorkout stores a finished workout with its splits. Returns true if
// inserted, false if a workout for the same session already exists.
func (db *DB) InsertWorkout(ctx context.Context, rec models.WorkoutRecord) (bool, error) {
	inserted := false
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := qb.Insert("workouts").
			Columns(workoutColumns...).
			Values(rec.ID.String(), rec.SessionID, string(rec.Mode), string(rec.Category), rec.Name,
				rec.StartedAt.UnixMilli(), rec.CompletedAt.UnixMilli(), rec.TotalMs, rec.Partial).
			Suffix("ON CONFLICT DO NOTHING").
			ToSql()
		if err != nil {
			return fmt.Errorf("building workout insert: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("inserting workout: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		inserted = true

		if len(rec.Splits) == 0 {
			return nil
		}
		ins := qb.Insert("workout_splits").Columns("workout_id", "idx", "exercise_id", "split_key", "name", "time_ms")
		for _, s := range rec.Splits {
			ins = ins.Values(rec.ID.String(), s.Index, s.ExerciseID, s.Key, s.Name, s.TimeMs)
		}
		query, args, err = ins.ToSql()
		if err != nil {
			return fmt.Errorf("building split insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting workout splits: %w", err)
		}
		return nil
	})
	return inserted, err
}

// QueryWorkouts returns finished workouts matching the filter, newest first.
func (db *DB) QueryWorkouts(ctx context.Context, f models.WorkoutFilter) ([]models.WorkoutRecord, error) {
	sel := applyWorkoutFilter(qb.Select(workoutColumns...).From("workouts"), f).
		OrderBy("completed_at DESC")
	if f.Limit > 0 {
		sel = sel.Limit(uint64(f.Limit))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building workout query: %w", err)
	}

	records, err := db.scanWorkouts(ctx, db.Conn, query, args...)
	if err != nil {
		return nil, err
	}
	if err := db.attachSplits(ctx, db.Conn, records); err != nil {
		return nil, err
	}
	return records, nil
}

func applyWorkoutFilter(sel sq.SelectBuilder, f models.WorkoutFilter) sq.SelectBuilder {
	if f.Mode != "" {
		sel = sel.Where(sq.Eq{"mode": string(f.Mode)})
	}
	if f.Category != "" {
		sel = sel.Where(sq.Eq{"category": string(f.Category)})
	}
	if !f.Since.IsZero() {
		sel = sel.Where(sq.GtOrEq{"completed_at": f.Since.UnixMilli()})
	}
	if !f.Until.IsZero() {
		sel = sel.Where(sq.Lt{"completed_at": f.Until.UnixMilli()})
	}
	return sel
}

// GetWorkout returns one workout with its splits, or ErrNotFound.
func (db *DB) GetWorkout(ctx context.Context, id uuid.UUID) (models.WorkoutRecord, error) {
	query, args, err := qb.Select(workoutColumns...).From("workouts").
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return models.WorkoutRecord{}, fmt.Errorf("building workout query: %w", err)
	}

	records, err := db.scanWorkouts(ctx, db.Conn, query, args...)
	if err != nil {
		return models.WorkoutRecord{}, err
	}
	if len(records) == 0 {
		return models.WorkoutRecord{}, ErrNotFound
	}
	if err := db.attachSplits(ctx, db.Conn, records); err != nil {
		return models.WorkoutRecord{}, err
	}
	return records[0], nil
}

// DeleteWorkout removes a workout and recomputes any personal best it held.
func (db *DB) DeleteWorkout(ctx context.Context, id uuid.UUID) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		var category string
		err := tx.QueryRowContext(ctx, `SELECT category FROM workouts WHERE id = ?`, id.String()).Scan(&category)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying workout %s: %w", id, err)
		}

		keys, err := pbKeysHeldBy(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM workout_splits WHERE workout_id = ?`, id.String()); err != nil {
			return fmt.Errorf("deleting workout splits: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workouts WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("deleting workout: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM personal_bests WHERE workout_id = ?`, id.String()); err != nil {
			return fmt.Errorf("deleting personal bests: %w", err)
		}
		for _, key := range keys {
			if err := recomputeBest(ctx, tx, models.Category(category), key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) scanWorkouts(ctx context.Context, q queryer, query string, args ...any) ([]models.WorkoutRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying workouts: %w", err)
	}
	defer rows.Close()

	result := []models.WorkoutRecord{}
	for rows.Next() {
		var (
			w                    models.WorkoutRecord
			id, mode, category   string
			startedMs, completed int64
		)
		if err := rows.Scan(&id, &w.SessionID, &mode, &category, &w.Name, &startedMs, &completed, &w.TotalMs, &w.Partial); err != nil {
			return nil, fmt.Errorf("scanning workout: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing workout id %q: %w", id, err)
		}
		w.ID = parsed
		w.Mode = models.Mode(mode)
		w.Category = models.Category(category)
		w.StartedAt = time.UnixMilli(startedMs).UTC()
		w.CompletedAt = time.UnixMilli(completed).UTC()
		w.Splits = []models.Split{}
		result = append(result, w)
	}
	return result, rows.Err()
}

// attachSplits loads the splits of every record in one query.
func (db *DB) attachSplits(ctx context.Context, q queryer, records []models.WorkoutRecord) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	byID := make(map[string]int, len(records))
	for i, r := range records {
		ids[i] = r.ID.String()
		byID[ids[i]] = i
	}

	query, args, err := qb.Select("workout_id", "idx", "exercise_id", "split_key", "name", "time_ms").
		From("workout_splits").
		Where(sq.Eq{"workout_id": ids}).
		OrderBy("workout_id", "idx").
		ToSql()
	if err != nil {
		return fmt.Errorf("building split query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying workout splits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			workoutID string
			s         models.Split
		)
		if err := rows.Scan(&workoutID, &s.Index, &s.ExerciseID, &s.Key, &s.Name, &s.TimeMs); err != nil {
			return fmt.Errorf("scanning workout split: %w", err)
		}
		if i, ok := byID[workoutID]; ok {
			records[i].Splits = append(records[i].Splits, s)
		}
	}
	return rows.Err()
}
