package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/claude/splits/internal/catalog"
	"github.com/claude/splits/internal/models"
	"github.com/claude/splits/internal/timer"
)

const keepAliveInterval = 15 * time.Second

// sessionView is the session snapshot plus the derived clock values the
// display needs.
type sessionView struct {
	models.SessionState
	CurrentElapsedMs int64  `json:"currentElapsedMs"`
	TotalElapsedMs   int64  `json:"totalElapsedMs"`
	IsLastBlock      bool   `json:"isLastBlock"`
	Result           string `json:"result,omitempty"`
}

func (s *Server) view() sessionView {
	return sessionView{
		SessionState:     s.engine.Snapshot(),
		CurrentElapsedMs: s.engine.CurrentElapsed().Milliseconds(),
		TotalElapsedMs:   s.engine.TotalElapsed().Milliseconds(),
		IsLastBlock:      s.engine.IsLastBlock(),
	}
}

type initSessionRequest struct {
	Mode       models.Mode           `json:"mode"`
	Category   string                `json:"category"`
	TemplateID string                `json:"templateId,omitempty"`
	Name       string                `json:"name,omitempty"`
	Items      []models.TemplateItem `json:"items,omitempty"`
}

func (s *Server) handleInitSession(w http.ResponseWriter, r *http.Request) {
	var req initSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	category, err := catalog.ParseCategory(req.Category)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	switch {
	case req.Mode == models.ModeSimulation:
		_, err = s.workouts.StartSimulation(category)
	case req.Mode == models.ModeCustom && req.TemplateID != "":
		id, perr := uuid.Parse(req.TemplateID)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid templateId"})
			return
		}
		_, err = s.workouts.StartTemplate(r.Context(), id, category)
	case req.Mode == models.ModeCustom:
		_, err = s.workouts.StartCustom(category, req.Name, req.Items)
	default:
		err = fmt.Errorf("%w: mode must be simulation or custom", errBadRequest)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

// handleRestoreSession is the screen-mount path: whatever session is
// persisted is loaded into the engine.
func (s *Server) handleRestoreSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.recovery.Accept(r.Context()); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session to restore"})
		return
	}
	s.workouts.PublishState()
	writeJSON(w, http.StatusOK, s.view())
}

// sessionAction wraps an engine transition. Transitions that do not apply
// in the current state are ignored and still answer with the state.
func (s *Server) sessionAction(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		s.workouts.PublishState()
		writeJSON(w, http.StatusOK, s.view())
	}
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.writeAdvance(w, s.engine.AdvanceBlock())
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.writeAdvance(w, s.engine.FinishWorkout())
}

func (s *Server) writeAdvance(w http.ResponseWriter, result timer.Advance) {
	s.workouts.PublishState()
	v := s.view()
	v.Result = result.String()
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Discard bool `json:"discard"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	if err := s.workouts.Stop(r.Context(), req.Discard); err != nil {
		s.writeError(w, err)
		return
	}
	s.workouts.PublishState()
	writeJSON(w, http.StatusOK, s.view())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.workouts.Subscribe()
	defer cancel()

	send := func(kind string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			s.log.Warn("encoding event failed", "type", kind, "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send("state", s.view()) {
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !send(ev.Type, ev.Data) {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleRecoveryOffer(w http.ResponseWriter, r *http.Request) {
	offer := s.recovery.Pending()
	if offer == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (s *Server) handleRecoveryResume(w http.ResponseWriter, r *http.Request) {
	s.handleRestoreSession(w, r)
}

func (s *Server) handleRecoveryDiscard(w http.ResponseWriter, r *http.Request) {
	s.recovery.Discard()
	s.workouts.PublishState()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHidden(w http.ResponseWriter, r *http.Request) {
	s.recovery.Hidden(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	s.recovery.Visible()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	s.recovery.Teardown()
	w.WriteHeader(http.StatusNoContent)
}
