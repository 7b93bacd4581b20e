// Package web exposes the reconciliation engine over a small admin HTTP API.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calrecon/internal/config"
	"calrecon/internal/conflict"
	"calrecon/internal/linkgraph"
	appLog "calrecon/internal/log"
	"calrecon/internal/metrics"
	"calrecon/internal/model"
	"calrecon/internal/notify"
)

// Service is the part of the engine the API drives.
type Service interface {
	ComputeBlockedDays(ctx context.Context, window model.Window) ([]model.Date, error)
	DetectionWindow() model.Window
	DetectAllConflicts(ctx context.Context) ([]model.ConflictRecord, error)
	NotifyNewConflicts(ctx context.Context, scope *conflict.Scope) (notify.Report, error)
	Group(ctx context.Context, eventIDs []string, color, actor string) (linkgraph.GroupResult, error)
	UngroupSingle(ctx context.Context, eventID string) (linkgraph.UngroupResult, error)
}

// Server provides the admin API.
type Server struct {
	cfg    *config.Config
	svc    Service
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc Service) *Server {
	s := &Server{cfg: cfg, svc: svc, router: chi.NewRouter()}
	s.registerRoutes()
	return s
}

// Handler returns the router with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calrecon", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// observe records request metrics and an access log line per request,
// labelled by route pattern so ids do not explode cardinality.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, route, status, elapsed)
		appLog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"elapsed", elapsed.String(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(observe)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/blocked-days", s.handleBlockedDays)
		r.Get("/conflicts", s.handleConflicts)
		r.Post("/conflicts/notify", s.handleNotify)
		r.Post("/links/group", s.handleGroup)
		r.Delete("/links/{eventID}", s.handleUngroup)
	})
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, svc Service) error {
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      NewServer(cfg, svc).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.DetectTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}
