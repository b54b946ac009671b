package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/domain"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
)

const defaultScore = 3.0

type progressView struct {
	Rated     int
	Total     int
	Remaining int
	Percent   float64
}

type ratePage struct {
	Flash        *domain.Flash
	Progress     progressView
	ImageURL     string
	Filename     string
	CSRFToken    string
	DefaultScore float64
	MinScore     float64
	MaxScore     float64
	RaterName    string
}

type donePage struct {
	Flash    *domain.Flash
	Progress progressView
}

// submitResponse is the JSON reply to scripted submissions.
type submitResponse struct {
	Result   string  `json:"result"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
	Message  string  `json:"message"`
}

func (s *Server) registerRatingRoutes(csrf, submitLimiter echo.MiddlewareFunc) {
	s.echo.GET("/", s.handleRate, csrf)
	s.echo.POST("/rate", s.handleSubmit, csrf, submitLimiter)
	s.echo.POST("/skip", s.handleSkip, csrf)
	s.echo.GET("/images/*", s.handleImage)
}

func (s *Server) handleRate(c echo.Context) error {
	sess, err := s.raterSession(c)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()

	assignment, err := s.rater.Assign(c.Request().Context(), sess)
	if err != nil {
		return assignError(err)
	}

	flash := sess.TakeFlash()
	progress := newProgressView(assignment.Progress)

	if assignment.AllRated {
		return s.renderTemplate(c, "done.html", donePage{Flash: flash, Progress: progress})
	}

	return s.renderTemplate(c, "rate.html", ratePage{
		Flash:        flash,
		Progress:     progress,
		ImageURL:     imageURL(assignment.Row.Filename),
		Filename:     assignment.Row.Filename,
		CSRFToken:    csrfToken(c),
		DefaultScore: defaultScore,
		MinScore:     domain.MinScore,
		MaxScore:     domain.MaxScore,
		RaterName:    sess.RaterName,
	})
}

func (s *Server) handleSubmit(c echo.Context) error {
	sess, err := s.raterSession(c)
	if err != nil {
		return err
	}

	sub := domain.Submission{
		Score:   parseScore(c.FormValue("score")),
		RaterID: c.FormValue("rater_name"),
	}

	sess.Lock()
	defer sess.Unlock()

	outcome, err := s.rater.Submit(c.Request().Context(), sess, sub)
	xhr := isXHR(c)

	switch {
	case errors.Is(err, domain.ErrInvalidScore):
		if xhr {
			return apperrors.ValidationError("Score must be between 1.0 and 5.0").
				WithField("score", c.FormValue("score"))
		}
		sess.SetFlash(domain.FlashError, "Score must be between 1.0 and 5.0.")
		return c.Redirect(http.StatusSeeOther, "/")

	case errors.Is(err, domain.ErrNotAssigned):
		if xhr {
			return apperrors.ConflictError("No image is assigned to this session")
		}
		sess.SetFlash(domain.FlashWarning, "Your session had no image assigned. Here is a new one.")
		return c.Redirect(http.StatusSeeOther, "/")
	}

	if err != nil {
		slog.WarnContext(c.Request().Context(), "Rating submission failed", "filename", outcome.Filename, "error", err)
	}

	kind, message := outcomeFlash(outcome)
	if xhr {
		if outcome.Result == domain.SubmitFailed {
			return apperrors.UnavailableError(message, err).WithField("filename", outcome.Filename)
		}
		resp := submitResponse{
			Result:   outcome.Result.String(),
			Filename: outcome.Filename,
			Score:    outcome.Score,
			Message:  message,
		}
		if err := c.JSON(http.StatusOK, resp); err != nil {
			return fmt.Errorf("failed to write submit response: %w", err)
		}
		return nil
	}

	sess.SetFlash(kind, message)
	return c.Redirect(http.StatusSeeOther, "/")
}

// handleSkip releases the assignment so the next page load picks another row.
func (s *Server) handleSkip(c echo.Context) error {
	sess, err := s.raterSession(c)
	if err != nil {
		return err
	}

	sess.Lock()
	defer sess.Unlock()

	if row, ok := sess.Assigned(); ok {
		slog.InfoContext(c.Request().Context(), "Rater skipped image", "filename", row.Filename)
	}
	s.rater.Release(sess)
	return c.Redirect(http.StatusSeeOther, "/")
}

func outcomeFlash(o domain.Outcome) (domain.FlashKind, string) {
	switch o.Result {
	case domain.SubmitRated:
		return domain.FlashSuccess, fmt.Sprintf("Saved! You rated %s a %.1f", o.Filename, o.Score)
	case domain.SubmitConflict:
		return domain.FlashWarning, fmt.Sprintf("Someone else just rated '%s'! Your rating was skipped.", o.Filename)
	case domain.SubmitVanished:
		return domain.FlashError, "Error: Filename not found in database"
	default:
		return domain.FlashError, "Save failed. Please try again."
	}
}

// assignError maps selection failures to responses. Table shape problems are
// operator errors and surface prominently.
func assignError(err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyTable):
		return apperrors.InternalError("The ratings table is empty. Seed it with image filenames first.", err)
	case errors.Is(err, domain.ErrMissingColumn):
		return apperrors.InternalError("The ratings table lacks a required column (filename, score, rater_id).", err)
	case errors.Is(err, domain.ErrDuplicateRow):
		return apperrors.InternalError("The ratings table lists a filename more than once.", err)
	case errors.Is(err, domain.ErrNoDisplayableImages):
		return apperrors.UnavailableError("None of the remaining unrated images could be found.", err)
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrRateLimited):
		return apperrors.UnavailableError("The ratings store is busy. Please wait a moment and retry.", err)
	default:
		return apperrors.ExternalError("Failed to load the ratings table.", err)
	}
}

// parseScore returns NaN for input that is not a number, which the rater
// rejects as out of range.
func parseScore(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func newProgressView(p domain.Progress) progressView {
	return progressView{
		Rated:     p.Rated,
		Total:     p.Total,
		Remaining: p.Remaining,
		Percent:   p.Percent(),
	}
}

// imageURL escapes each path segment of filename.
func imageURL(filename string) string {
	segments := strings.Split(filename, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/images/" + strings.Join(segments, "/")
}

func csrfToken(c echo.Context) string {
	token, _ := c.Get("csrf").(string)
	return token
}
