package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aaronlmathis/kaptn-pulse/internal/config"
	"github.com/aaronlmathis/kaptn-pulse/internal/gitops"
	"github.com/aaronlmathis/kaptn-pulse/internal/history"
	kpmiddleware "github.com/aaronlmathis/kaptn-pulse/internal/middleware"
	"github.com/aaronlmathis/kaptn-pulse/internal/snapshot"
	"github.com/aaronlmathis/kaptn-pulse/internal/version"
)

const (
	requestTimeout  = 60 * time.Second
	idempotencyTTL  = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// SnapshotSource is the read model and refresh trigger behind the API
type SnapshotSource interface {
	Current() snapshot.AggregatedSnapshot
	Ready() bool
	RefreshNow(ctx context.Context, force bool) snapshot.AggregatedSnapshot
}

// ActionService runs imperative operations against the GitOps controller
type ActionService interface {
	Sync(ctx context.Context, requestID, name string, req gitops.SyncRequest) (*gitops.Application, error)
	Refresh(ctx context.Context, requestID, name string, hard bool) (*gitops.Application, error)
	Delete(ctx context.Context, requestID, name string, cascade bool) error
	RunResourceAction(ctx context.Context, requestID, name string, req gitops.ResourceActionRequest) error
}

// Streamer upgrades a request into a snapshot stream
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// HistoryReader serves recorded snapshot statistics
type HistoryReader interface {
	Get(key string, since time.Time) ([]history.Point, bool)
	All(since time.Time) map[string][]history.Point
}

// Server represents the API server
type Server struct {
	logger   *zap.Logger
	config   *config.Config
	router   chi.Router
	source   SnapshotSource
	actions  ActionService
	streamer Streamer
	history  HistoryReader

	etag          *kpmiddleware.ETagMiddleware
	idempotency   *kpmiddleware.IdempotencyMiddleware
	actionLimiter *kpmiddleware.RateLimiter
	refreshLimit  *kpmiddleware.RateLimiter
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, cfg *config.Config, source SnapshotSource, actions ActionService, streamer Streamer, hist HistoryReader) *Server {
	logger = logger.Named("api")
	s := &Server{
		logger:        logger,
		config:        cfg,
		router:        chi.NewRouter(),
		source:        source,
		actions:       actions,
		streamer:      streamer,
		history:       hist,
		etag:          kpmiddleware.NewETagMiddleware(logger),
		idempotency:   kpmiddleware.NewIdempotencyMiddleware(logger, idempotencyTTL),
		actionLimiter: kpmiddleware.NewRateLimiter("actions", cfg.RateLimits.ActionsPerMinute, burstFor(cfg.RateLimits.ActionsPerMinute), logger),
		refreshLimit:  kpmiddleware.NewRateLimiter("refresh", cfg.RateLimits.RefreshPerMinute, burstFor(cfg.RateLimits.RefreshPerMinute), logger),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// burstFor allows a short burst of a tenth of the per-minute budget
func burstFor(perMinute int) int {
	if perMinute/10 > 1 {
		return perMinute / 10
	}
	return 1
}

// Start runs the background cleanup of rate limiter and idempotency state
// until ctx ends
func (s *Server) Start(ctx context.Context) {
	go s.actionLimiter.Cleanup(ctx, cleanupInterval)
	go s.refreshLimit.Cleanup(ctx, cleanupInterval)
	go s.idempotency.Cleanup(ctx, cleanupInterval)
}

// Handler returns the HTTP handler, mounted under the configured base path
func (s *Server) Handler() http.Handler {
	base := strings.TrimSuffix(s.config.Server.BasePath, "/")
	if base == "" {
		return s.router
	}
	root := chi.NewRouter()
	root.Mount(base, s.router)
	return root
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(kpmiddleware.RequestIDResponseMiddleware)
	s.router.Use(kpmiddleware.PrometheusMiddleware)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.cors)
}

func (s *Server) cors(next http.Handler) http.Handler {
	origins := strings.Join(s.config.Server.CORS.AllowOrigins, ", ")
	methods := strings.Join(s.config.Server.CORS.AllowMethods, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origins != "" {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, If-None-Match, "+kpmiddleware.IdempotencyKeyHeader)
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with zap in place of chi's stdlib logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// The stream outlives any request timeout
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Group(func(r chi.Router) {
				r.Use(s.etag.Middleware)
				r.Get("/snapshot", s.handleSnapshot)
				r.Get("/snapshot/gitops", s.handleGitOpsSnapshot)
				r.Get("/snapshot/cluster", s.handleClusterSnapshot)
			})

			r.Get("/history", s.handleHistory)
			r.With(s.refreshLimit.Middleware).Post("/refresh", s.handleRefresh)

			r.Route("/applications/{name}", func(r chi.Router) {
				r.Use(s.actionLimiter.Middleware)
				r.Use(s.idempotency.Middleware)

				r.Delete("/", s.handleDeleteApplication)
				r.Post("/sync", s.handleSyncApplication)
				r.Post("/refresh", s.handleRefreshApplication)
				r.Post("/resource/actions", s.handleResourceAction)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once a first combined snapshot is published
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.source.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
