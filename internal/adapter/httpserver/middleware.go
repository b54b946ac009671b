package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/platform/correlation"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// errorPage is the data of error.html.
type errorPage struct {
	Title   string
	Message string
	Retry   bool
}

// ErrorHandlingMiddleware turns handler errors into responses: an HTML page
// for browser navigation when pages holds error.html, JSON otherwise.
// echo.HTTPErrors pass through unchanged unless a page is rendered.
// m and pages may be nil.
func ErrorHandlingMiddleware(m *metrics.HTTPMetrics, pages *template.Template) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				if pages == nil || !wantsHTML(c) {
					return err
				}
				structuredErr := WrapHTTPError(httpErr)
				countError(m, structuredErr)
				return renderErrorPage(c, pages, httpErr.Code, structuredErr)
			}

			return respondError(c, m, pages, apperrors.AsStructuredError(err))
		}
	}
}

// respondError logs, counts and writes a structured error.
func respondError(c echo.Context, m *metrics.HTTPMetrics, pages *template.Template, err *apperrors.Error) error {
	logError(c, err)
	countError(m, err)

	if pages != nil && wantsHTML(c) {
		return renderErrorPage(c, pages, err.HTTPStatus(), err)
	}
	if err := c.JSON(err.HTTPStatus(), err.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func countError(m *metrics.HTTPMetrics, err *apperrors.Error) {
	if m != nil {
		m.ErrorsTotal.WithLabelValues(string(err.Type)).Inc()
	}
}

func renderErrorPage(c echo.Context, pages *template.Template, status int, err *apperrors.Error) error {
	page := errorPage{
		Title:   http.StatusText(status),
		Message: err.Message,
		Retry:   status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
	}

	var buf bytes.Buffer
	if execErr := pages.ExecuteTemplate(&buf, "error.html", page); execErr != nil {
		slog.ErrorContext(c.Request().Context(), "Error page rendering failed", "error", execErr)
		return c.String(status, err.Message)
	}
	if err := c.HTMLBlob(status, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write error page: %w", err)
	}
	return nil
}

// wantsHTML reports whether the request comes from browser navigation
// rather than a script.
func wantsHTML(c echo.Context) bool {
	if isXHR(c) {
		return false
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

func isXHR(c echo.Context) bool {
	req := c.Request()
	return strings.EqualFold(req.Header.Get(echo.HeaderXRequestedWith), "XMLHttpRequest") ||
		strings.HasPrefix(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict, apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Dependency unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// HandleError writes err as a JSON error response.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(err)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := "internal server error"
	if httpErr.Message != nil {
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusUnprocessableEntity:
		errType = apperrors.TypeValidation
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		errType = apperrors.TypeNotFound
	case http.StatusConflict:
		errType = apperrors.TypeConflict
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusBadGateway:
		errType = apperrors.TypeExternal
	case http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	default:
		errType = apperrors.TypeInternal
	}

	err := &apperrors.Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}
