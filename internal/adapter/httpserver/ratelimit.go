package httpserver

import (
	"html/template"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP. Denials are answered like
// any other rate_limit error: browsers get the error page, scripts get JSON.
// m and pages may be nil.
func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics, pages *template.Template) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			denied := apperrors.RateLimitedError("Too many ratings in a short time. Please slow down.").
				WithField("client_ip", identifier)
			return respondError(c, m, pages, denied)
		},
	})
}
