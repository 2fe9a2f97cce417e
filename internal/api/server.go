// Package api is the HTTP surface: uploads, document management and
// questions against stored documents or raw context.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/docask/internal/config"
	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/pipeline"
	"github.com/dgallion1/docask/internal/query"
	"github.com/dgallion1/docask/internal/storage/sqlite"
	"github.com/dgallion1/docask/internal/store"
	"github.com/dgallion1/docask/internal/telemetry"
)

// Usage is the invocation log, feedback sink and quota ledger.
type Usage interface {
	LogInvocation(ctx context.Context, inv sqlite.Invocation) error
	AddFeedback(ctx context.Context, fb sqlite.Feedback) error
	AuthorizeRequest(ctx context.Context, identity string) (bool, error)
	RemainingQuota(ctx context.Context, identity string) (int, error)
	DecrementQuota(ctx context.Context, identity string) (int, error)
	ReleaseQuota(ctx context.Context, identity string) error
}

// StatsSource reports recent completion-call statistics.
type StatsSource interface {
	Model() string
	Stats() *llm.LLMStats
}

// Deps are the components the server routes to. Usage, LLM, Metrics and
// Gatherer may be nil.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Engine       *query.Engine
	Documents    store.Store
	Usage        Usage
	LLM          StatsSource
	Metrics      *telemetry.Metrics
	Gatherer     prometheus.Gatherer
}

// Server is the HTTP API server for docask.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	engine       *query.Engine
	docs         store.Store
	usage        Usage
	llm          StatsSource
	metrics      *telemetry.Metrics
	gatherer     prometheus.Gatherer
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(d Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: d.Orchestrator,
		engine:       d.Engine,
		docs:         d.Documents,
		usage:        d.Usage,
		llm:          d.LLM,
		metrics:      d.Metrics,
		gatherer:     d.Gatherer,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log, s.metrics))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Authenticated endpoints.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		r.Use(IdentityMiddleware)
		r.Use(InvocationLogger(s.usage, s.log))

		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/documents/{id}/ask", s.handleAskDocument)
		r.Get("/jobs/{id}", s.handleJobStatus)

		r.Post("/ask", s.handleAskContext)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/quota", s.handleQuota)
		r.Get("/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
