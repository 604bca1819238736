package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/claude/splits/internal/models"
)

const dashboardRecent = 5

// GetDashboard aggregates the history of one category.
func (db *DB) GetDashboard(ctx context.Context, category models.Category) (models.Dashboard, error) {
	d := models.Dashboard{Category: category}

	query, args, err := qb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN mode = 'simulation' AND partial = 0 THEN 1 ELSE 0 END), 0)",
		"MIN(CASE WHEN mode = 'simulation' AND partial = 0 THEN total_ms END)",
		"AVG(CASE WHEN mode = 'simulation' AND partial = 0 THEN total_ms END)",
		"MAX(completed_at)",
	).From("workouts").Where(sq.Eq{"category": string(category)}).ToSql()
	if err != nil {
		return d, fmt.Errorf("building dashboard query: %w", err)
	}

	var (
		best, last sql.NullInt64
		avg        sql.NullFloat64
	)
	if err := db.Conn.QueryRowContext(ctx, query, args...).Scan(&d.WorkoutCount, &d.SimulationCount, &best, &avg, &last); err != nil {
		return d, fmt.Errorf("querying dashboard totals: %w", err)
	}
	if best.Valid {
		d.BestSimulationMs = &best.Int64
	}
	if avg.Valid {
		v := int64(avg.Float64 + 0.5)
		d.AvgSimulationMs = &v
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64).UTC()
		d.LastWorkoutAt = &t
	}

	d.Recent, err = db.QueryWorkouts(ctx, models.WorkoutFilter{Category: category, Limit: dashboardRecent})
	if err != nil {
		return d, fmt.Errorf("loading recent workouts: %w", err)
	}
	d.PersonalBests, err = db.ListPersonalBests(ctx, category)
	if err != nil {
		return d, fmt.Errorf("loading personal bests: %w", err)
	}
	return d, nil
}
