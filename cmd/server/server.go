package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thenexusengine/tne_vastplayer/internal/cache"
	"github.com/thenexusengine/tne_vastplayer/internal/endpoints"
	"github.com/thenexusengine/tne_vastplayer/internal/engine"
	"github.com/thenexusengine/tne_vastplayer/internal/fetch"
	"github.com/thenexusengine/tne_vastplayer/internal/metrics"
	"github.com/thenexusengine/tne_vastplayer/internal/middleware"
	"github.com/thenexusengine/tne_vastplayer/internal/ping"
	"github.com/thenexusengine/tne_vastplayer/internal/storage"
	"github.com/thenexusengine/tne_vastplayer/pkg/logger"
)

const version = "1.0.0"

// Server is the VAST resolution server
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	metrics     *metrics.Metrics
	registry    *prometheus.Registry
	fetcher     *fetch.HTTPFetcher
	pinger      *ping.HTTPPinger
	redis       *cache.RedisStore
	auth        *middleware.Auth
	db          *sql.DB
	resolutions *storage.ResolutionStore
}

// NewServer wires every component of the server. Redis and PostgreSQL are
// optional; a server without them runs with an in-process cache and no
// audit log.
func NewServer(cfg *ServerConfig) (*Server, error) {
	log := logger.Log

	s := &Server{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
	s.metrics = metrics.NewMetrics("vastplayer", s.registry)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var store cache.Store = cache.NewMemoryStore(cfg.CacheTTL, time.Minute)
	if err := s.initRedis(ctx); err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, using in-process document cache only")
	}
	if s.redis != nil {
		store = cache.NewTieredStore(store, s.redis)
	}

	if err := s.initDatabase(ctx); err != nil {
		log.Warn().Err(err).Msg("Database unavailable, resolution audit log disabled")
	}

	s.fetcher = fetch.NewHTTPFetcher(cfg.ToFetchConfig(), store, s.metrics)
	s.pinger = ping.NewHTTPPinger(cfg.ToPingConfig(), s.metrics)

	var keys middleware.KeySource
	if s.redis != nil {
		keys = middleware.NewRedisKeySource(s.redis.Client())
	}
	s.auth = middleware.NewAuth(cfg.ToAuthConfig(), keys, s.metrics)

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Timeout*time.Duration(cfg.MaxWrapperDepth+2) + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("port", cfg.Port).
		Dur("fetch_timeout", cfg.Timeout).
		Int("max_wrapper_depth", cfg.MaxWrapperDepth).
		Bool("redis", s.redis != nil).
		Bool("database", s.db != nil).
		Bool("auth", cfg.AuthEnabled).
		Msg("Server initialized")

	return s, nil
}

func (s *Server) initRedis(ctx context.Context) error {
	if s.config.RedisURL == "" {
		return nil
	}
	rs, err := cache.NewRedisStoreFromURL(ctx, s.config.RedisURL, s.config.CacheTTL)
	if err != nil {
		return err
	}
	s.redis = rs
	return nil
}

func (s *Server) initDatabase(ctx context.Context) error {
	if s.config.DatabaseConfig == nil {
		return nil
	}
	db, err := storage.Open(ctx, s.config.DatabaseConfig.ToStorageConfig())
	if err != nil {
		return err
	}
	s.db = db
	s.resolutions = storage.NewResolutionStore(db)
	return nil
}

// newEngine creates the engine serving one request. Engines keep every
// chain registry until reset, so none is shared between requests.
func (s *Server) newEngine() (*engine.Engine, error) {
	deps := engine.Deps{
		Fetcher: s.fetcher,
		Pinger:  s.pinger,
		Metrics: s.metrics,
	}
	if s.resolutions != nil {
		deps.Recorder = s.resolutions
	}
	return engine.New(s.config.ToEngineConfig(), deps)
}

func (s *Server) buildHandler() http.Handler {
	resolve := endpoints.NewResolveHandler(s.newEngine)

	var lister endpoints.ChainLister
	if s.resolutions != nil {
		lister = s.resolutions
	}
	diagnostics := endpoints.NewDiagnosticsHandler(lister)

	router := httprouter.New()
	router.Handler(http.MethodGet, "/health", healthHandler())
	router.Handler(http.MethodGet, "/health/ready", s.readyHandler())
	router.Handler(http.MethodGet, "/metrics", metrics.HandlerFor(s.registry))
	router.HandlerFunc(http.MethodGet, "/api/v1/resolve", resolve.HandleResolve)
	router.HandlerFunc(http.MethodGet, "/api/v1/schedule", resolve.HandleSchedule)
	router.GET("/api/v1/resolutions/deep/:min_depth", diagnostics.HandleDeepChains)
	router.HandlerFunc(http.MethodGet, "/admin/circuit-breaker", s.circuitBreakerHandler)
	router.HandlerFunc(http.MethodPost, "/admin/api-keys", s.addAPIKeyHandler)
	router.HandlerFunc(http.MethodDelete, "/admin/api-keys", s.removeAPIKeyHandler)

	return loggingMiddleware(corsMiddleware(s.config.CORSOrigins, s.auth.Middleware(s.metrics.Middleware(router))))
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	logger.Log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP traffic, then flushes pending pings and closes the
// backing stores.
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	err := s.httpServer.Shutdown(ctx)

	s.pinger.Close()
	s.fetcher.Breaker().Close()

	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close Redis")
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close database")
		}
	}

	log.Info().Msg("Server stopped")
	return err
}

func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   version,
		})
	})
}

func (s *Server) readyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		ready := true
		checks := map[string]interface{}{}

		switch {
		case s.redis == nil:
			checks["redis"] = map[string]string{"status": "disabled"}
		case s.redis.Ping(ctx) != nil:
			ready = false
			checks["redis"] = map[string]string{"status": "unhealthy"}
		default:
			checks["redis"] = map[string]string{"status": "healthy"}
		}

		switch {
		case s.db == nil:
			checks["database"] = map[string]string{"status": "disabled"}
		case s.db.PingContext(ctx) != nil:
			ready = false
			checks["database"] = map[string]string{"status": "unhealthy"}
		default:
			checks["database"] = map[string]string{"status": "healthy"}
		}

		fetchState := s.fetcher.Breaker().State()
		checks["fetch"] = map[string]string{"status": fetchState}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]interface{}{
			"ready":     ready,
			"checks":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
}

func (s *Server) circuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fetch": s.fetcher.Breaker().Stats(),
	})
}

type apiKeyRequest struct {
	Key      string `json:"key"`
	Operator string `json:"operator"`
}

func decodeAPIKeyRequest(r *http.Request) (apiKeyRequest, error) {
	var req apiKeyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		return req, err
	}
	if req.Key == "" {
		return req, errors.New("key is required")
	}
	return req, nil
}

// addAPIKeyHandler grants a key at runtime. Runtime keys live in memory only.
func (s *Server) addAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAPIKeyRequest(r)
	if err == nil && req.Operator == "" {
		err = errors.New("operator is required")
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.auth.AddAPIKey(req.Key, req.Operator)
	by, _ := middleware.OperatorFromContext(r.Context())
	logger.Log.Info().Str("operator", req.Operator).Str("granted_by", by).Msg("API key added")
	writeJSON(w, http.StatusCreated, map[string]string{"operator": req.Operator})
}

// removeAPIKeyHandler revokes a runtime or configured key
func (s *Server) removeAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeAPIKeyRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.auth.RemoveAPIKey(req.Key)
	by, _ := middleware.OperatorFromContext(r.Context())
	logger.Log.Info().Str("revoked_by", by).Msg("API key removed")
	w.WriteHeader(http.StatusNoContent)
}

// loggingMiddleware tags every request with an ID and logs its outcome
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logger.Log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	})
}

// corsMiddleware allows the configured origins, or any origin when none are
// configured.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(allowed) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && (allowed[origin] || allowed["*"]):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// generateRequestID returns a 16 character hex ID
func generateRequestID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:16]
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to encode response")
	}
}
