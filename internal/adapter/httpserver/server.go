package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/config"
	"github.com/pscheid92/facerate/web"
)

type raterService interface {
	Assign(ctx context.Context, s *domain.Session) (domain.Assignment, error)
	Submit(ctx context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error)
	Release(s *domain.Session)
}

type sessionRegistry interface {
	GetOrCreate(id uuid.UUID) (*domain.Session, bool)
	Len() int
}

type progressSource interface {
	Progress(ctx context.Context, maxAge time.Duration) (domain.Progress, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	rater    raterService
	sessions sessionRegistry
	progress progressSource
	images   domain.ImageStore

	templates      *template.Template
	sessionStore   *sessions.CookieStore
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

// NewServer wires the rating pages, image serving and ops endpoints.
// m and metricsHandler may be nil.
func NewServer(
	cfg *config.Config,
	rater raterService,
	sessionReg sessionRegistry,
	progress progressSource,
	images domain.ImageStore,
	m *metrics.HTTPMetrics,
	metricsHandler http.Handler,
	healthChecks []HealthCheck,
) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		rater:          rater,
		sessions:       sessionReg,
		progress:       progress,
		images:         images,
		templates:      templates,
		sessionStore:   setupSessionStore(cfg),
		httpMetrics:    m,
		metricsHandler: metricsHandler,
		healthChecks:   healthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(c.Request().Context(), "Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionIdleTimeout.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
