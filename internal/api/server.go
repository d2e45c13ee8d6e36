package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/sgp4d/internal/auth"
	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/health"
	"github.com/star/sgp4d/internal/metrics"
	"github.com/star/sgp4d/internal/pool"
	"github.com/star/sgp4d/internal/propagation"
	"github.com/star/sgp4d/internal/stream"
	"github.com/star/sgp4d/internal/tle"
	"github.com/star/sgp4d/web"
)

// Pool is the part of *pool.Pool the API needs.
type Pool interface {
	Submit(req propagation.Request) *pool.Future
	Stats() pool.Stats
	Initialized() bool
}

// Config bounds the work a single request may ask for.
type Config struct {
	MaxPoints   int           // satellites × timestamps per request (default: 100000)
	TaskTimeout time.Duration // how long a handler waits on its future (default: 30s)
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type handlers struct {
	cfg      Config
	pool     Pool
	registry *geophys.Registry
	store    *tle.Store
	tleCfg   TLEConfig
	fetcher  *tle.Fetcher
	tleCache *tle.Cache
	logger   *slog.Logger
}

// NewServer creates a configured HTTP server. streamHandler may be nil.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, cfg Config, p Pool, registry *geophys.Registry, store *tle.Store, tleCfg TLEConfig, streamHandler *stream.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           newHandler(logger, authCfg, cfg, p, registry, store, tleCfg, streamHandler),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.writeTimeout(),
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(logger *slog.Logger, authCfg auth.Config, cfg Config, p Pool, registry *geophys.Registry, store *tle.Store, tleCfg TLEConfig, streamHandler *stream.Handler) http.Handler {
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = 100000
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if registry == nil {
		registry = geophys.DefaultRegistry()
	}
	if store == nil {
		store = tle.NewStore()
	}

	h := &handlers{
		cfg:      cfg,
		pool:     p,
		registry: registry,
		store:    store,
		tleCfg:   tleCfg,
		fetcher:  tle.NewFetcher(tleCfg.SourceURL, logger, tleCfg.ExtraSourceURLs...),
		tleCache: tle.NewCache(tleCfg.CacheDir, tleCfg.MaxFiles),
		logger:   logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	mux.Handle("GET /{$}", http.FileServerFS(web.Content))
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(p))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/propagate", h.propagate)
	mux.HandleFunc("GET /api/v1/propagate/{norad_id}", h.propagateCatalog)
	mux.HandleFunc("GET /api/v1/passes/{norad_id}", h.passSearch)
	mux.HandleFunc("GET /api/v1/pool/stats", h.poolStats)
	mux.HandleFunc("GET /api/v1/models", h.models)
	mux.HandleFunc("GET /api/v1/backend", h.backend)
	mux.HandleFunc("GET /api/v1/time/et", h.utcToET)
	mux.HandleFunc("GET /api/v1/time/utc", h.etToUTC)
	mux.HandleFunc("GET /api/v1/tle/metadata", h.tleMetadata)
	mux.HandleFunc("POST /api/v1/tle/fetch", h.tleFetch)
	if streamHandler != nil {
		mux.HandleFunc("GET /api/v1/stream/propagate/{norad_id}", streamHandler.HandlePropagate)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// writeTimeout leaves room for the task timeout plus encoding.
func (c Config) writeTimeout() time.Duration {
	if c.TaskTimeout <= 0 {
		return 40 * time.Second
	}
	return c.TaskTimeout + 10*time.Second
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the logging middleware.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying connection.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
