// Package server exposes the coaching chat, monitoring and dive-journal HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/freedive-ai/coach/pkg/budget"
	"github.com/freedive-ai/coach/pkg/cache"
	"github.com/freedive-ai/coach/pkg/coach"
	"github.com/freedive-ai/coach/pkg/config"
	"github.com/freedive-ai/coach/pkg/divelogs"
	"github.com/freedive-ai/coach/pkg/llm"
	"github.com/freedive-ai/coach/pkg/monitor"
	"github.com/freedive-ai/coach/pkg/resilience"
	"github.com/freedive-ai/coach/pkg/retrieval"
	"github.com/freedive-ai/coach/pkg/router"
	"github.com/freedive-ai/coach/pkg/telemetry"
	"github.com/freedive-ai/coach/pkg/tracker"
)

// Chat endpoint paths. They double as circuit breaker and usage endpoint names.
const (
	EndpointDiveCoach = "/api/openai/chat"
	EndpointGeneral   = "/api/chat/general"
	EndpointKnowledge = "qdrant"
)

// Deps are the collaborators a Server is wired with. Cache, Budget, DiveLogs,
// Knowledge and Metrics may be nil.
type Deps struct {
	Config    *config.Config
	Executor  *resilience.Executor
	Chat      llm.ChatClient
	Router    *router.Router
	Usage     tracker.Tracker
	Monitor   *monitor.Service
	Cache     cache.Store
	Budget    *budget.Enforcer
	DiveLogs  divelogs.Store
	Knowledge retrieval.Retriever
	Metrics   *telemetry.Metrics
}

// Server is the coach HTTP API.
type Server struct {
	cfg       *config.Config
	exec      *resilience.Executor
	chat      llm.ChatClient
	router    *router.Router
	usage     tracker.Tracker
	monitor   *monitor.Service
	cache     cache.Store
	budget    *budget.Enforcer
	diveLogs  divelogs.Store
	knowledge retrieval.Retriever
	metrics   *telemetry.Metrics
	handler   http.Handler
}

// New creates a Server wired with all dependencies.
func New(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		exec:      d.Executor,
		chat:      d.Chat,
		router:    d.Router,
		usage:     d.Usage,
		monitor:   d.Monitor,
		cache:     d.Cache,
		budget:    d.Budget,
		diveLogs:  d.DiveLogs,
		knowledge: d.Knowledge,
		metrics:   d.Metrics,
	}
	if s.router == nil {
		s.router = router.New(s.cfg)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(Logger)
	r.Use(Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Coach-Cache"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post(EndpointDiveCoach, s.chatHandler(EndpointDiveCoach, coach.ModeDiveCoach))
	r.Post(EndpointGeneral, s.chatHandler(EndpointGeneral, coach.ModeGeneral))

	r.Route("/api/monitor", func(r chi.Router) {
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/usage-analytics", s.handleUsageAnalytics)
		r.Get("/error-tracking", s.handleErrorTracking)
		r.Get("/circuits", s.handleCircuits)
		r.Post("/circuits/reset", s.handleCircuitReset)
	})

	if s.diveLogs != nil {
		r.Route("/api/dive-logs", func(r chi.Router) {
			r.Get("/", s.handleListDiveLogs)
			r.Post("/", s.handleSaveDiveLog)
			r.Get("/{id}", s.handleGetDiveLog)
		})
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Listen).Msg("coach API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down coach API")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"coach_error","code":%d}}`, message, code)
}
