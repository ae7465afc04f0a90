package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/assets"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/export"
	"slotbook/internal/metrics"
	"slotbook/internal/models"
	"slotbook/internal/service"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the reservations REST API plus the uploads file
// server and a health endpoint.
type HTTPServer struct {
	cfg      *config.Config
	service  *service.ReservationService
	users    domain.UserRepository
	sessions domain.SessionStore
	gate     domain.AuthorizationGate
	exporter *export.Exporter
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, svc *service.ReservationService, users domain.UserRepository, sessions domain.SessionStore, gate domain.AuthorizationGate, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		service:  svc,
		users:    users,
		sessions: sessions,
		gate:     gate,
		exporter: exporter,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/reservations", srv.handleReservations)
	mux.HandleFunc("/api/v1/reservations/", srv.handleReservationByID)
	mux.HandleFunc("/api/v1/auth/register", srv.handleRegister)
	mux.HandleFunc("/api/v1/auth/login", srv.handleLogin)
	mux.HandleFunc("/api/v1/auth/logout", srv.handleLogout)
	mux.HandleFunc("/api/v1/auth/me", srv.handleMe)
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/uploads/", http.StripPrefix("/uploads/", uploadsHandler(cfg.Uploads.Dir)))

	limiter := NewIPRateLimiter(cfg.RateLimit)
	handler := srv.loggingMiddleware(limiter.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the composed handler, used by tests via httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// principal resolves the caller from the session cookie. Missing or
// unknown cookies yield the anonymous guest.
func (s *HTTPServer) principal(r *http.Request) models.Principal {
	cookie, err := r.Cookie(s.cookieName())
	if err != nil {
		return models.Principal{Role: models.RoleGuest}
	}
	p, err := s.gate.Resolve(r.Context(), cookie.Value)
	if err != nil {
		s.logger.Warn().Err(err).Msg("principal resolution error")
		return models.Principal{Role: models.RoleGuest}
	}
	return p
}

func (s *HTTPServer) cookieName() string {
	if s.cfg.Session.CookieName != "" {
		return s.cfg.Session.CookieName
	}
	return models.SessionCookie
}

// uploadsHandler serves stored assets by name. Directory requests are
// rejected so the upload dir cannot be enumerated.
func uploadsHandler(dir string) http.Handler {
	fs := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps domain errors onto HTTP status codes.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "admin role required")
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, database.ErrDuplicateUser):
		writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, assets.ErrTooLarge):
		metrics.IncUploadRejection("too_large")
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, assets.ErrUnsupportedType):
		metrics.IncUploadRejection("unsupported_type")
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, database.ErrInvalidTimeWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(endpointLabel(r.URL.Path))
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// endpointLabel collapses paths with IDs so the metric cardinality
// stays bounded.
func endpointLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/reservations"):
		if strings.HasSuffix(path, "/state") {
			return "/api/v1/reservations/{id}/state"
		}
		if path == "/api/v1/reservations" || path == "/api/v1/reservations/" {
			return "/api/v1/reservations"
		}
		if strings.HasSuffix(path, "/export") {
			return "/api/v1/reservations/export"
		}
		return "/api/v1/reservations/{id}"
	case strings.HasPrefix(path, "/api/v1/auth/"):
		return path
	case strings.HasPrefix(path, "/uploads/"):
		return "/uploads"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
