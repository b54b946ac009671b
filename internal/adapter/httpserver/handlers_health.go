package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second

	ratingsTableCheck = "ratings_table"
)

// HealthCheck is a named dependency check, e.g. the store ping or the image
// directory.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup only runs the injected checks: the store answers and the
// image directory is readable.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	if name, err := s.failedCheck(ctx); err != nil {
		return writeUnhealthy(c, name, err)
	}
	if err := c.JSON(http.StatusOK, map[string]string{"status": "ready"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()

	response := map[string]any{
		"status":   "ok",
		"uptime":   uptime,
		"sessions": s.sessions.Len(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}

	return nil
}

type readinessResponse struct {
	Status   string          `json:"status"`
	Progress domain.Progress `json:"progress"`
}

// handleReadiness additionally loads the ratings table at the selection
// staleness bound. A table raters cannot work with (missing column,
// duplicate filename, empty) fails the probe as "ratings_table".
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	if name, err := s.failedCheck(ctx); err != nil {
		return writeUnhealthy(c, name, err)
	}

	progress, err := s.progress.Progress(ctx, s.config.SelectionMaxAge)
	if err == nil && progress.Total == 0 {
		err = domain.ErrEmptyTable
	}
	if err != nil {
		return writeUnhealthy(c, ratingsTableCheck, err)
	}

	if err := c.JSON(http.StatusOK, readinessResponse{Status: "ready", Progress: progress}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) failedCheck(ctx context.Context) (string, error) {
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			return hc.Name, err
		}
	}
	return "", nil
}

func writeUnhealthy(c echo.Context, name string, err error) error {
	response := map[string]any{
		"status":       "unhealthy",
		"failed_check": name,
		"error":        err.Error(),
	}
	if err := c.JSON(http.StatusServiceUnavailable, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
