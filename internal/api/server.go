// Package api exposes the analysis, topic search and status endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/deusflow/truthly/internal/analyzer"
	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/scraper"
	"github.com/deusflow/truthly/internal/search"
	"github.com/deusflow/truthly/internal/topic"
)

const maxBodyBytes = 1 << 20

// Analyzer runs the verdict chain for one request.
type Analyzer interface {
	AnalyzeInput(ctx context.Context, in models.ArticleInput) (*analyzer.Report, error)
}

type TopicSearcher interface {
	Search(ctx context.Context, req topic.Request) (*topic.Result, error)
}

// Verifier is the smart web search.
type Verifier interface {
	Available() bool
	Order() []string
	Verify(ctx context.Context, query string) (*models.WebVerification, error)
}

// UsageReporter exposes the usage tracker snapshot.
type UsageReporter interface {
	Snapshot() map[string]models.Usage
}

// HealthChecker reports the primary ensemble service's own health.
type HealthChecker interface {
	Health(ctx context.Context) (map[string]any, error)
}

// Probe checks connectivity to one upstream provider.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the services the handlers call. Ensemble may be nil.
type Deps struct {
	Analyzer       Analyzer
	Topics         TopicSearcher
	Verifier       Verifier
	Usage          UsageReporter
	Ensemble       HealthChecker
	Probes         []Probe
	FeedNames      []string
	AllowedOrigins []string
}

type Server struct {
	deps   Deps
	addr   string
	router *mux.Router
	server *http.Server
}

func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		addr:   addr,
		router: mux.NewRouter(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/search-topic", s.handleSearchTopic).Methods(http.MethodPost)
	api.HandleFunc("/web-verify", s.handleWebVerify).Methods(http.MethodPost)
	api.HandleFunc("/feedback", s.handleFeedback).Methods(http.MethodPost)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/search-usage", s.handleSearchUsage).Methods(http.MethodGet)
	api.HandleFunc("/test-apis", s.handleTestAPIs).Methods(http.MethodGet)

	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) Start() error {
	logger.Info("Starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs each request except health checks.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if r.URL.Path == "/api/health" {
			return
		}
		logger.Info("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

// respondError sends the {success:false, error} envelope
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// respondFailure maps a service error onto a status code and message.
func respondFailure(w http.ResponseWriter, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		metrics.Global.SetError(err.Error())
		logger.Error("Request failed", "status", status, "error", err)
	}
	respondError(w, status, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, analyzer.ErrInvalidInput),
		errors.Is(err, scraper.ErrInvalidInput),
		errors.Is(err, topic.ErrTopicTooShort):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, analyzer.ErrAllServicesUnavailable):
		return http.StatusServiceUnavailable, "All analysis services are currently unavailable. Please try again later."
	case errors.Is(err, search.ErrNoProvidersAvailable):
		return http.StatusServiceUnavailable, "No search providers available"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
