package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/splits/internal/catalog"
	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/storage"
)

// defaultTimeRange returns start/end defaulting to the last days days.
func defaultTimeRange(startStr, endStr string, days int) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -days)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolGetWorkouts = mcp.NewTool("get_workouts",
	mcp.WithDescription("Query finished workouts, newest first. Each workout includes its total time and one split per block (run or station) in milliseconds."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date. Defaults to now.")),
	mcp.WithString("mode", mcp.Description("Filter by workout mode."), mcp.Enum("simulation", "custom")),
	mcp.WithString("category", mcp.Description("Filter by weight category."), mcp.Enum("open", "pro")),
	mcp.WithNumber("limit", mcp.Description("Maximum number of workouts. Defaults to 20.")),
)

var toolGetWorkout = mcp.NewTool("get_workout",
	mcp.WithDescription("Get one finished workout with all of its splits."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Workout ID (UUID)")),
)

var toolGetPersonalBests = mcp.NewTool("get_personal_bests",
	mcp.WithDescription("Personal bests: the fastest time per exercise and measure (e.g. 'rowing:1000m', 'wall_balls:100reps') and for the full simulation ('simulation_total')."),
	mcp.WithString("category", mcp.Description("Weight category. Omit for both."), mcp.Enum("open", "pro")),
)

var toolGetDashboard = mcp.NewTool("get_dashboard",
	mcp.WithDescription("Training overview for a category: workout and simulation counts, best and average simulation time, recent workouts and personal bests."),
	mcp.WithString("category", mcp.Description("Weight category. Defaults to open."), mcp.Enum("open", "pro")),
)

var toolGetActiveSession = mcp.NewTool("get_active_session",
	mcp.WithDescription("The live timer session as last persisted: blocks, current block, run state and elapsed times. Returns null when no session is live."),
)

// --- Tool handlers ---

func (h *handlers) getWorkouts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""), 30)
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	f := models.WorkoutFilter{Since: start, Until: end, Limit: req.GetInt("limit", 20)}
	if f.Limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}
	if m := req.GetString("mode", ""); m != "" {
		f.Mode = models.Mode(m)
		if !f.Mode.Valid() {
			return mcp.NewToolResultError("mode must be simulation or custom"), nil
		}
	}
	if c := req.GetString("category", ""); c != "" {
		if f.Category, err = catalog.ParseCategory(c); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	workouts, err := h.ds.QueryWorkouts(ctx, f)
	if err != nil {
		h.log.Error("mcp get_workouts", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(workouts)
}

func (h *handlers) getWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idStr, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return mcp.NewToolResultError("invalid workout ID"), nil
	}

	rec, err := h.ds.GetWorkout(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return mcp.NewToolResultError("workout not found"), nil
	}
	if err != nil {
		h.log.Error("mcp get_workout", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(rec)
}

func (h *handlers) getPersonalBests(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var category models.Category
	if c := req.GetString("category", ""); c != "" {
		var err error
		if category, err = catalog.ParseCategory(c); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	bests, err := h.ds.ListPersonalBests(ctx, category)
	if err != nil {
		h.log.Error("mcp get_personal_bests", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(bests)
}

func (h *handlers) getDashboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category, err := catalog.ParseCategory(req.GetString("category", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	dash, err := h.ds.GetDashboard(ctx, category)
	if err != nil {
		h.log.Error("mcp get_dashboard", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(dash)
}

// activeSession adds derived clock values to a persisted session.
type activeSession struct {
	models.SessionState
	CurrentElapsedMs int64 `json:"currentElapsedMs"`
	TotalElapsedMs   int64 `json:"totalElapsedMs"`
}

func newActiveSession(s models.SessionState, nowMs int64) activeSession {
	current := s.AccumulatedMs
	if s.RunState == models.RunStateRunning {
		current += max(nowMs-s.StartTimestamp, 0)
	}
	total := current
	for _, v := range s.BlockElapsedMs {
		if v != nil {
			total += *v
		}
	}
	return activeSession{SessionState: s, CurrentElapsedMs: current, TotalElapsedMs: total}
}

func (h *handlers) getActiveSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.ds.LoadSessionState(ctx)
	if err != nil {
		h.log.Error("mcp get_active_session", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if s == nil {
		return jsonResult(nil)
	}
	return jsonResult(newActiveSession(*s, time.Now().UnixMilli()))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
