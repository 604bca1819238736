package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/claude/splits/internal/catalog"
	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/storage"
	"github.com/claude/splits/internal/workout"
)

const maxWorkoutLimit = 500

var errBadRequest = errors.New("bad request")

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userInfoFromContext(r))
}

func (s *Server) handleExercises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Exercises())
}

type templateRequest struct {
	Name  string                `json:"name"`
	Items []models.TemplateItem `json:"items"`
}

func (req templateRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.New("name is required")
	}
	return catalog.ValidateItems(req.Items)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.db.ListTemplates(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tpl, err := s.db.CreateTemplate(r.Context(), strings.TrimSpace(req.Name), req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	tpl, err := s.db.GetTemplate(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	tpl, err := s.db.UpdateTemplate(r.Context(), id, strings.TrimSpace(req.Name), req.Items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteTemplate(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryWorkouts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseWorkoutFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	workouts, err := s.db.QueryWorkouts(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workouts)
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	rec, err := s.db.GetWorkout(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteWorkout(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteWorkout(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("workout deleted", "workout_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePersonalBests(w http.ResponseWriter, r *http.Request) {
	var category models.Category
	if c := r.URL.Query().Get("category"); c != "" {
		parsed, err := catalog.ParseCategory(c)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		category = parsed
	}
	bests, err := s.db.ListPersonalBests(r.Context(), category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bests)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	category, err := catalog.ParseCategory(r.URL.Query().Get("category"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	dash, err := s.db.GetDashboard(r.Context(), category)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// writeError maps domain errors to status codes. Anything unknown is a 500
// and gets logged.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, workout.ErrSessionActive), errors.Is(err, workout.ErrUnsavedWorkout):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, errBadRequest),
		errors.Is(err, catalog.ErrUnknownExercise),
		errors.Is(err, catalog.ErrEmptyTemplate),
		errors.Is(err, catalog.ErrUnknownCategory):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseWorkoutFilter(r *http.Request) (models.WorkoutFilter, error) {
	q := r.URL.Query()
	var f models.WorkoutFilter

	if m := q.Get("mode"); m != "" {
		f.Mode = models.Mode(m)
		if !f.Mode.Valid() {
			return f, errors.New("mode must be simulation or custom")
		}
	}
	if c := q.Get("category"); c != "" {
		cat, err := catalog.ParseCategory(c)
		if err != nil {
			return f, err
		}
		f.Category = cat
	}

	since, until, err := parseTimeRange(r)
	if err != nil {
		return f, err
	}
	f.Since, f.Until = since, until

	f.Limit = 50
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(parsed, maxWorkoutLimit)
	}
	return f, nil
}

// parseTimeRange reads since/until as RFC3339 or a bare date. Either may be
// omitted; a date-only until covers that whole day.
func parseTimeRange(r *http.Request) (since, until time.Time, err error) {
	if s := r.URL.Query().Get("since"); s != "" {
		since, err = parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if s := r.URL.Query().Get("until"); s != "" {
		until, err = time.Parse(time.RFC3339, s)
		if err != nil {
			until, err = time.Parse("2006-01-02", s)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
			// End of day for date-only
			until = until.Add(24 * time.Hour)
		}
	}
	return since, until, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Parse("2006-01-02", s)
	}
	return t, nil
}
