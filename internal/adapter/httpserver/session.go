package httpserver

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/correlation"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
)

// Session keys
const (
	sessionName  = "facerate-session"
	sessionKeyID = "sid"
)

// raterSession resolves the rater session named by the cookie, creating a
// new one when the cookie is missing, unreadable or names an evicted session.
// The session id is added to the request context for logging.
func (s *Server) raterSession(c echo.Context) (*domain.Session, error) {
	cookie, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.DebugContext(c.Request().Context(), "Discarding unreadable session cookie", "error", err)
	}

	var id uuid.UUID
	if raw, ok := cookie.Values[sessionKeyID].(string); ok {
		id, _ = uuid.Parse(raw)
	}

	sess, created := s.sessions.GetOrCreate(id)
	if created {
		cookie.Values[sessionKeyID] = sess.ID.String()
		if err := cookie.Save(c.Request(), c.Response()); err != nil {
			return nil, apperrors.InternalError("failed to save session", err)
		}
	}

	ctx := correlation.WithSessionID(c.Request().Context(), sess.ID.String())
	c.SetRequest(c.Request().WithContext(ctx))
	return sess, nil
}
