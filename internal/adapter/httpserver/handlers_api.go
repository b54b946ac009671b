package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
)

func (s *Server) registerAPIRoutes() {
	s.echo.GET("/api/progress", s.handleProgress)
}

// handleProgress reports how many rows are rated, using the same staleness
// bound as row selection.
func (s *Server) handleProgress(c echo.Context) error {
	p, err := s.progress.Progress(c.Request().Context(), s.config.SelectionMaxAge)
	if err != nil {
		return apperrors.UnavailableError("Failed to read rating progress", err)
	}
	if err := c.JSON(http.StatusOK, p); err != nil {
		return fmt.Errorf("failed to write progress response: %w", err)
	}
	return nil
}
