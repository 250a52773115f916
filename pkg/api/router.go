package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/claudeck/claudeck/internal/logger"
	"github.com/claudeck/claudeck/internal/telemetry"
	"github.com/claudeck/claudeck/pkg/api/handlers"
	apiMiddleware "github.com/claudeck/claudeck/pkg/api/middleware"
	"github.com/claudeck/claudeck/pkg/audit"
	"github.com/claudeck/claudeck/pkg/auth"
	"github.com/claudeck/claudeck/pkg/broker"
	"github.com/claudeck/claudeck/pkg/files"
	"github.com/claudeck/claudeck/pkg/guard"
	"github.com/claudeck/claudeck/pkg/metrics"
	"github.com/claudeck/claudeck/pkg/probe"
	"github.com/claudeck/claudeck/pkg/registry"
	"github.com/claudeck/claudeck/pkg/store"
	"github.com/claudeck/claudeck/pkg/tmux"
)

// Deps collects everything the router wires together. Broker and Probe
// may be nil in tests that exercise only the REST surface.
type Deps struct {
	Store    store.Store
	Creds    *auth.CredentialService
	Registry *registry.Registry
	Guard    *guard.PathGuard
	Probe    *probe.Probe
	Files    *files.Service
	Audit    *audit.Recorder
	Broker   *broker.Broker
	Tmux     *tmux.Client
	Metrics  *metrics.Metrics
	CLIPath  string
	Secure   bool
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Middleware stack, in order: request ID, real IP, request logging, panic
// recovery, then per-group rate limiting and authentication.
//
// Routes:
//   - GET  /health - per-subsystem health
//   - GET  /metrics - Prometheus metrics
//   - GET  /ws - WebSocket attach surface
//   - POST /api/auth/login|refresh|logout, GET /api/auth/me
//   - /api/sessions/* - session lifecycle, metadata, sharing
//   - /api/files/* - editor surface
//   - /api/audit/* - audit trail reads (admin only)
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.HTTPMiddleware("claudeck-api"))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	jwtService := deps.Creds.JWT()

	loginLimit := apiMiddleware.NewRateLimiter(apiMiddleware.BucketLogin)
	apiLimit := apiMiddleware.NewRateLimiter(apiMiddleware.BucketAPI)
	sessionCreateLimit := apiMiddleware.NewRateLimiter(apiMiddleware.BucketSessionCreate)
	fileWriteLimit := apiMiddleware.NewRateLimiter(apiMiddleware.BucketFileWrite)
	metadataLimit := apiMiddleware.NewRateLimiter(apiMiddleware.BucketMetadata)
	refreshLimit := apiMiddleware.NewRateLimiter(apiMiddleware.BucketTokenRefresh)

	authHandler := handlers.NewAuthHandler(deps.Creds, deps.Audit, deps.Secure)
	sessionHandler := handlers.NewSessionHandler(deps.Registry, deps.Guard, deps.Probe, deps.Creds, deps.Audit, deps.Broker)
	fileHandler := handlers.NewFileHandler(deps.Files, deps.Audit)
	auditHandler := handlers.NewAuditHandler(deps.Audit)
	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Tmux, deps.CLIPath)

	// Unauthenticated surface
	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// WebSocket surface authenticates inside the handshake handler
	if deps.Broker != nil {
		wsHandler := NewWSHandler(deps.Broker, deps.Creds)
		r.Get("/ws", wsHandler.Serve)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimit.Middleware()).Post("/login", authHandler.Login)

			// Cookie-authenticated, CSRF-guarded state changes
			r.Group(func(r chi.Router) {
				r.Use(refreshLimit.Middleware())
				r.Use(apiMiddleware.CSRF())
				r.Post("/refresh", authHandler.Refresh)
				r.Post("/logout", authHandler.Logout)
			})

			r.Group(func(r chi.Router) {
				r.Use(apiLimit.Middleware())
				r.Use(apiMiddleware.JWTAuth(jwtService))
				r.Get("/me", authHandler.Me)
			})
		})

		// Bearer-protected surface
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(jwtService))

			r.Route("/sessions", func(r chi.Router) {
				r.With(apiLimit.Middleware()).Get("/", sessionHandler.List)
				r.With(sessionCreateLimit.Middleware()).Post("/", sessionHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.With(apiLimit.Middleware()).Get("/", sessionHandler.Get)
					r.With(apiLimit.Middleware()).Delete("/", sessionHandler.Kill)
					r.With(metadataLimit.Middleware()).Get("/metadata", sessionHandler.Metadata)
					r.With(metadataLimit.Middleware()).Get("/metadata/history", sessionHandler.MetadataHistory)
					r.With(apiLimit.Middleware()).Post("/share", sessionHandler.Share)
				})
			})

			r.Route("/files", func(r chi.Router) {
				r.With(apiLimit.Middleware()).Get("/", fileHandler.List)
				r.With(apiLimit.Middleware()).Get("/content", fileHandler.Content)
				r.With(apiLimit.Middleware()).Get("/info", fileHandler.Info)
				r.With(fileWriteLimit.Middleware()).Post("/save", fileHandler.Save)
				r.With(fileWriteLimit.Middleware()).Delete("/", fileHandler.Delete)
				r.With(fileWriteLimit.Middleware()).Post("/mkdir", fileHandler.Mkdir)
				r.With(fileWriteLimit.Middleware()).Post("/rename", fileHandler.Rename)
				r.With(fileWriteLimit.Middleware()).Post("/copy", fileHandler.Copy)
			})

			// Audit reads are admin only
			r.Route("/audit", func(r chi.Router) {
				r.Use(apiLimit.Middleware())
				r.Use(apiMiddleware.RequireAdmin())
				r.Get("/", auditHandler.List)
				r.Get("/activity", auditHandler.Activity)
			})
		})
	})

	return r
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//   - Healthcheck requests are logged at DEBUG level to reduce noise
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		}

		// Log healthcheck requests at DEBUG to avoid polluting logs
		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
