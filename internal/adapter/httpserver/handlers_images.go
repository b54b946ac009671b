package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/domain"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
)

const imageCacheControl = "private, max-age=3600"

func (s *Server) handleImage(c echo.Context) error {
	raw := c.Param("*")
	filename, err := url.PathUnescape(raw)
	if err != nil {
		filename = raw
	}
	if filename == "" {
		return apperrors.NotFoundError("Image not found")
	}

	content, err := s.images.Open(c.Request().Context(), filename)
	if errors.Is(err, domain.ErrImageNotFound) {
		return apperrors.NotFoundError("Image not found").WithField("filename", filename)
	}
	if err != nil {
		return apperrors.InternalError("failed to open image", err).WithField("filename", filename)
	}
	defer func() { _ = content.Close() }()

	c.Response().Header().Set("Cache-Control", imageCacheControl)
	http.ServeContent(c.Response(), c.Request(), path.Base(filename), time.Time{}, content)
	return nil
}

