package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/claude/splits/internal/recovery"
	"github.com/claude/splits/internal/storage"
	"github.com/claude/splits/internal/timer"
	"github.com/claude/splits/internal/workout"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	db       *storage.DB
	workouts *workout.Service
	engine   *timer.Engine
	recovery *recovery.Coordinator
	identity func(http.Handler) http.Handler
	log      *slog.Logger
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(db *storage.DB, svc *workout.Service, coord *recovery.Coordinator, log *slog.Logger) *Server {
	s := &Server{
		db:       db,
		workouts: svc,
		engine:   svc.Engine(),
		recovery: coord,
		identity: DevIdentity,
		log:      log,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.withIdentity)
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/api/v1/me", s.handleMe)
	s.router.Get("/api/v1/catalog/exercises", s.handleExercises)

	s.router.Route("/api/v1/templates", func(r chi.Router) {
		r.Get("/", s.handleListTemplates)
		r.Post("/", s.handleCreateTemplate)
		r.Get("/{id}", s.handleGetTemplate)
		r.Put("/{id}", s.handleUpdateTemplate)
		r.Delete("/{id}", s.handleDeleteTemplate)
	})

	s.router.Route("/api/v1/session", func(r chi.Router) {
		r.Post("/", s.handleInitSession)
		r.Get("/", s.handleGetSession)
		r.Post("/restore", s.handleRestoreSession)
		r.Post("/start", s.sessionAction(s.engine.Start))
		r.Post("/pause", s.sessionAction(s.engine.Pause))
		r.Post("/resume", s.sessionAction(s.engine.Resume))
		r.Post("/next", s.handleNext)
		r.Post("/finish", s.handleFinish)
		r.Post("/stop", s.handleStop)
		r.Get("/events", s.handleEvents)
	})

	s.router.Get("/api/v1/recovery", s.handleRecoveryOffer)
	s.router.Post("/api/v1/recovery/resume", s.handleRecoveryResume)
	s.router.Post("/api/v1/recovery/discard", s.handleRecoveryDiscard)

	s.router.Post("/api/v1/lifecycle/hidden", s.handleHidden)
	s.router.Post("/api/v1/lifecycle/visible", s.handleVisible)
	s.router.Post("/api/v1/lifecycle/unload", s.handleUnload)

	s.router.Get("/api/v1/workouts", s.handleQueryWorkouts)
	s.router.Get("/api/v1/workouts/{id}", s.handleGetWorkout)
	s.router.Delete("/api/v1/workouts/{id}", s.handleDeleteWorkout)
	s.router.Get("/api/v1/personal-bests", s.handlePersonalBests)
	s.router.Get("/api/v1/dashboard", s.handleDashboard)
}

// SetMCP mounts the MCP streamable HTTP handler at /mcp.
func (s *Server) SetMCP(h http.Handler) {
	s.router.Handle("/mcp", h)
	s.router.Handle("/mcp/*", h)
}

// SetTailscale attributes requests to the tailnet user that made them.
// Without it every request is logged as the local dev user.
func (s *Server) SetTailscale(wc WhoIsClient) {
	s.identity = TailscaleIdentity(wc, s.log)
}

func (s *Server) withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.identity(next).ServeHTTP(w, r)
	})
}
