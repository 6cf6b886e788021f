// Package web provides the HTTP/JSON API for domains, rules and runs.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/domainkeeper/internal/audit"
	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/config"
	"github.com/JonMunkholm/domainkeeper/internal/core"
	mw "github.com/JonMunkholm/domainkeeper/internal/web/middleware"
)

// Server is the HTTP server for the domain API.
type Server struct {
	service   *core.Service
	authn     *auth.Authenticator
	auditLog  audit.Sink
	cfg       *config.Config
	router    *chi.Mux
	server    *http.Server
	limiters  []*rateLimiter
	runLimits *rateLimiter
}

// NewServer creates a new Server instance. auditLog may be nil, in which
// case the admin audit endpoint reports 404.
func NewServer(service *core.Service, authn *auth.Authenticator, auditLog audit.Sink, cfg *config.Config) *Server {
	s := &Server{
		service:  service,
		authn:    authn,
		auditLog: auditLog,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	// Security hardening
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		general := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.runLimits = newRateLimiter(s.cfg.Rate.RunLimit, time.Minute)
		s.limiters = append(s.limiters, general, s.runLimits)
		s.router.Use(s.rateLimit(general))
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.BearerAuth(s.authn))
		r.Use(requestMetadata)

		r.Route("/domains", func(r chi.Router) {
			r.Get("/", s.handleListDomains)
			r.Post("/", s.handleCreateDomain)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDomain)
				r.Put("/", s.handleUpdateDomain)
				r.Delete("/", s.handleDeleteDomain)

				// Rules
				r.Get("/rules", s.handleListRules)
				r.Post("/rules", s.handleCreateRule)
				r.Put("/rules/{ruleId}", s.handleUpdateRule)
				r.With(s.runRateLimit).Post("/rules/compile", s.handleCompileRule)
				r.Post("/rules/preview", s.handlePreviewRule)

				// Versions and rows
				r.Get("/versions", s.handleListVersions)
				r.Get("/runs", s.handleListRuns)
				r.Get("/preview", s.handlePreview)
				r.Get("/version/latest/preview", s.handleLatestPreview)
				r.Get("/version/{versionId}/diff", s.handleDiff)
				r.Get("/version/{versionId}/diff.html", s.handleDiffPage)

				// Runs
				r.With(s.runRateLimit).Post("/ingest", s.handleIngest)
				r.With(s.runRateLimit).Post("/clean", s.handleClean)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(mw.RequireRole(auth.RoleAdmin))
			r.Get("/audit-log", s.handleAuditLog)
			r.Get("/runs/status", s.handleRunStatus)
		})
	})
}

// runRateLimit applies the stricter per-IP limit for run endpoints.
func (s *Server) runRateLimit(next http.Handler) http.Handler {
	if s.runLimits == nil {
		return next
	}
	return s.rateLimit(s.runLimits)(next)
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and its rate limiters.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.close()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME type sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Prevent clickjacking
			w.Header().Set("X-Frame-Options", "DENY")

			// The diff report is the only HTML page and uses inline styles only.
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
			}

			// Control referrer information
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			next.ServeHTTP(w, r)
		})
	}
}
