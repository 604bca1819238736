package mcp

import (
	"context"

	"github.com/google/uuid"

	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/storage"
)

// DataSource abstracts the data layer for MCP tools. Both *storage.DB (local)
// and HTTPClient (remote via REST API) satisfy this interface.
type DataSource interface {
	QueryWorkouts(ctx context.Context, f models.WorkoutFilter) ([]models.WorkoutRecord, error)
	GetWorkout(ctx context.Context, id uuid.UUID) (models.WorkoutRecord, error)
	ListPersonalBests(ctx context.Context, category models.Category) ([]models.PersonalBest, error)
	GetDashboard(ctx context.Context, category models.Category) (models.Dashboard, error)
	// LoadSessionState returns nil, nil when no session is live.
	LoadSessionState(ctx context.Context) (*models.SessionState, error)
}

// Compile-time check: *storage.DB satisfies DataSource.
var _ DataSource = (*storage.DB)(nil)
