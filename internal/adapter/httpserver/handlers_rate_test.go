package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/facerate/internal/domain"
	apperrors "github.com/pscheid92/facerate/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var someProgress = domain.NewProgress(1, 4)

func validatingSubmit(result domain.SubmitResult) func(context.Context, *domain.Session, domain.Submission) (domain.Outcome, error) {
	return func(_ context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error) {
		if !domain.ValidScore(sub.Score) {
			return domain.Outcome{Result: domain.SubmitFailed, Score: sub.Score}, domain.ErrInvalidScore
		}
		row, err := s.BeginCommit()
		if err != nil {
			return domain.Outcome{Result: domain.SubmitFailed, Score: sub.Score}, err
		}
		defer s.Release()
		if sub.RaterID != "" {
			s.RaterName = sub.RaterID
		}
		out := domain.Outcome{Result: result, Filename: row.Filename, Score: sub.Score}
		if result == domain.SubmitFailed {
			return out, fmt.Errorf("commit rating: %w", domain.ErrTransient)
		}
		return out, nil
	}
}

func TestHandleRate_RendersAssignment(t *testing.T) {
	srv := newTestServer(t, &mockRater{assignFn: assignTo("faces/a b.jpg", someProgress)})
	b := newBrowser(t, srv)

	rec := b.get("/")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `src="/images/faces/a%20b.jpg"`)
	assert.Contains(t, body, "1 / 4 rated, 3 remaining")
	assert.Contains(t, body, `value="3.0"`)
	assert.Contains(t, b.cookies, sessionName)
	assert.Contains(t, b.cookies, "csrf_token")
}

func TestHandleRate_ReusesSessionFromCookie(t *testing.T) {
	sessions := newFakeSessions()
	var seen []string
	rater := &mockRater{assignFn: func(ctx context.Context, s *domain.Session) (domain.Assignment, error) {
		seen = append(seen, s.ID.String())
		return assignTo("a.jpg", someProgress)(ctx, s)
	}}
	srv := newTestServer(t, rater, withSessions(sessions))
	b := newBrowser(t, srv)

	b.get("/")
	b.get("/")

	require.Len(t, seen, 2)
	assert.Equal(t, seen[0], seen[1])
	sessions.only(t)
}

func TestHandleRate_UnknownSessionCookieStartsFresh(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, &mockRater{assignFn: assignTo("a.jpg", someProgress)}, withSessions(sessions))

	first := newBrowser(t, srv)
	first.get("/")

	// A session cookie from another server instance names no known session.
	other := newTestServer(t, &mockRater{assignFn: assignTo("a.jpg", someProgress)})
	stale := newBrowser(t, other)
	stale.get("/")
	first.cookies[sessionName] = stale.cookies[sessionName]

	rec := first.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sessions.sessions, 2)
}

func TestHandleRate_AllRated(t *testing.T) {
	rater := &mockRater{assignFn: func(context.Context, *domain.Session) (domain.Assignment, error) {
		return domain.Assignment{Progress: domain.NewProgress(3, 3), AllRated: true}, nil
	}}
	srv := newTestServer(t, rater)

	rec := newBrowser(t, srv).get("/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "All 3 images have been rated")
}

func TestHandleRate_AssignErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantText   string
	}{
		{"empty table", domain.ErrEmptyTable, http.StatusInternalServerError, "The ratings table is empty"},
		{"missing column", fmt.Errorf("fetch: %w", domain.ErrMissingColumn), http.StatusInternalServerError, "lacks a required column"},
		{"duplicate row", &domain.DuplicateRowError{Filename: "a.jpg"}, http.StatusInternalServerError, "more than once"},
		{"no images", domain.ErrNoDisplayableImages, http.StatusServiceUnavailable, "could be found"},
		{"transient", fmt.Errorf("load table: %w", domain.ErrTransient), http.StatusServiceUnavailable, "busy"},
		{"rate limited", domain.ErrRateLimited, http.StatusServiceUnavailable, "busy"},
		{"other", errors.New("boom"), http.StatusBadGateway, "Failed to load the ratings table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rater := &mockRater{assignFn: func(context.Context, *domain.Session) (domain.Assignment, error) {
				return domain.Assignment{}, tt.err
			}}
			srv := newTestServer(t, rater)

			rec := newBrowser(t, srv).get("/")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), "<html")
			assert.Contains(t, rec.Body.String(), tt.wantText)
		})
	}
}

func TestHandleRate_AssignErrorAsJSON(t *testing.T) {
	rater := &mockRater{assignFn: func(context.Context, *domain.Session) (domain.Assignment, error) {
		return domain.Assignment{}, domain.ErrEmptyTable
	}}
	srv := newTestServer(t, rater)
	b := newBrowser(t, srv)

	rec := b.getJSON("/")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestHandleSubmit_SavedFlashOnNextPage(t *testing.T) {
	var got domain.Submission
	rater := &mockRater{
		assignFn: assignTo("a.jpg", someProgress),
		submitFn: func(ctx context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error) {
			got = sub
			return validatingSubmit(domain.SubmitRated)(ctx, s, sub)
		},
	}
	srv := newTestServer(t, rater)
	b := newBrowser(t, srv)
	b.get("/")

	rec := b.post("/rate", scoreForm("4.5", "alice"))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
	assert.InDelta(t, 4.5, got.Score, 1e-9)
	assert.Equal(t, "alice", got.RaterID)

	page := b.get("/").Body.String()
	assert.Contains(t, page, "Saved! You rated a.jpg a 4.5")
	assert.Contains(t, page, `value="alice"`)

	// The flash is shown once.
	assert.NotContains(t, b.get("/").Body.String(), "Saved!")
}

func TestHandleSubmit_OutcomeFlashes(t *testing.T) {
	tests := []struct {
		result   domain.SubmitResult
		wantText string
		wantKind string
	}{
		{domain.SubmitConflict, "Someone else just rated", "flash-warning"},
		{domain.SubmitVanished, "Error: Filename not found in database", "flash-error"},
		{domain.SubmitFailed, "Save failed. Please try again.", "flash-error"},
	}

	for _, tt := range tests {
		t.Run(tt.result.String(), func(t *testing.T) {
			rater := &mockRater{assignFn: assignTo("a.jpg", someProgress), submitFn: validatingSubmit(tt.result)}
			srv := newTestServer(t, rater)
			b := newBrowser(t, srv)
			b.get("/")

			rec := b.post("/rate", scoreForm("2.0", ""))
			require.Equal(t, http.StatusSeeOther, rec.Code)

			page := b.get("/").Body.String()
			assert.Contains(t, page, tt.wantText)
			assert.Contains(t, page, tt.wantKind)
		})
	}
}

func TestHandleSubmit_InvalidScoreKeepsAssignment(t *testing.T) {
	sessions := newFakeSessions()
	var scores []float64
	rater := &mockRater{
		assignFn: assignTo("a.jpg", someProgress),
		submitFn: func(ctx context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error) {
			scores = append(scores, sub.Score)
			return validatingSubmit(domain.SubmitRated)(ctx, s, sub)
		},
	}
	srv := newTestServer(t, rater, withSessions(sessions))
	b := newBrowser(t, srv)
	b.get("/")

	for _, raw := range []string{"abc", "0.5", "5.1", ""} {
		rec := b.post("/rate", scoreForm(raw, ""))
		require.Equal(t, http.StatusSeeOther, rec.Code, raw)
	}

	require.Len(t, scores, 4)
	assert.True(t, math.IsNaN(scores[0]))
	assert.True(t, math.IsNaN(scores[3]))

	s := sessions.only(t)
	row, ok := s.Assigned()
	require.True(t, ok)
	assert.Equal(t, "a.jpg", row.Filename)

	assert.Contains(t, b.get("/").Body.String(), "Score must be between 1.0 and 5.0.")
}

func TestHandleSubmit_NotAssigned(t *testing.T) {
	rater := &mockRater{submitFn: validatingSubmit(domain.SubmitRated)}
	srv := newTestServer(t, rater)
	b := newBrowser(t, srv)

	rec := b.post("/rate", scoreForm("3.0", ""))

	require.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestHandleSubmit_XHR(t *testing.T) {
	tests := []struct {
		name       string
		result     domain.SubmitResult
		score      string
		wantStatus int
		wantType   apperrors.ErrorType
		wantResult string
	}{
		{name: "rated", result: domain.SubmitRated, score: "4.0", wantStatus: http.StatusOK, wantResult: "rated"},
		{name: "conflict", result: domain.SubmitConflict, score: "4.0", wantStatus: http.StatusOK, wantResult: "conflict"},
		{name: "vanished", result: domain.SubmitVanished, score: "4.0", wantStatus: http.StatusOK, wantResult: "vanished"},
		{name: "failed", result: domain.SubmitFailed, score: "4.0", wantStatus: http.StatusServiceUnavailable, wantType: apperrors.TypeUnavailable},
		{name: "invalid score", result: domain.SubmitRated, score: "9", wantStatus: http.StatusBadRequest, wantType: apperrors.TypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rater := &mockRater{assignFn: assignTo("a.jpg", someProgress), submitFn: validatingSubmit(tt.result)}
			srv := newTestServer(t, rater)
			b := newBrowser(t, srv)
			b.get("/")

			req := b.formRequest("/rate", scoreForm(tt.score, "bob"))
			req.Header.Set(echo.HeaderXRequestedWith, "XMLHttpRequest")
			rec := b.do(req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantResult != "" {
				var resp submitResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantResult, resp.Result)
				assert.Equal(t, "a.jpg", resp.Filename)
				assert.NotEmpty(t, resp.Message)
				return
			}
			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)
		})
	}
}

func TestHandleSubmit_XHRNotAssigned(t *testing.T) {
	srv := newTestServer(t, &mockRater{submitFn: validatingSubmit(domain.SubmitRated)})
	b := newBrowser(t, srv)

	req := b.formRequest("/rate", scoreForm("3.0", ""))
	req.Header.Set(echo.HeaderXRequestedWith, "XMLHttpRequest")
	rec := b.do(req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleSubmit_RequiresCSRFToken(t *testing.T) {
	called := false
	rater := &mockRater{submitFn: func(context.Context, *domain.Session, domain.Submission) (domain.Outcome, error) {
		called = true
		return domain.Outcome{}, nil
	}}
	srv := newTestServer(t, rater)
	b := newBrowser(t, srv)

	form := scoreForm("3.0", "")
	form.Set("csrf_token", "forged")
	rec := b.post("/rate", form)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)
}

func TestHandleSubmit_RateLimited(t *testing.T) {
	m := newTestHTTPMetrics()
	rater := &mockRater{assignFn: assignTo("a.jpg", someProgress), submitFn: validatingSubmit(domain.SubmitRated)}
	srv := newTestServer(t, rater, withSubmitLimit(0.01, 1), withHTTPMetrics(m))
	b := newBrowser(t, srv)
	b.get("/")

	first := b.post("/rate", scoreForm("3.0", ""))
	second := b.post("/rate", scoreForm("3.0", ""))

	assert.Equal(t, http.StatusSeeOther, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Contains(t, second.Body.String(), "slow down")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("rate_limit")), 0.001)
}

func TestHandleSkip_ReleasesAssignment(t *testing.T) {
	released := 0
	rater := &mockRater{
		assignFn: assignTo("a.jpg", someProgress),
		releaseFn: func(s *domain.Session) {
			released++
			s.Release()
		},
	}
	sessions := newFakeSessions()
	srv := newTestServer(t, rater, withSessions(sessions))
	b := newBrowser(t, srv)
	b.get("/")

	rec := b.post("/skip", url.Values{})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, 1, released)
	_, assigned := sessions.only(t).Assigned()
	assert.False(t, assigned)
}

func TestParseScore(t *testing.T) {
	assert.InDelta(t, 3.5, parseScore(" 3.5 "), 1e-9)
	assert.InDelta(t, 1.0, parseScore("1"), 1e-9)
	assert.True(t, math.IsNaN(parseScore("")))
	assert.True(t, math.IsNaN(parseScore("three")))
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "/images/a.jpg", imageURL("a.jpg"))
	assert.Equal(t, "/images/sub/my%20face.jpg", imageURL("sub/my face.jpg"))
	assert.Equal(t, "/images/100%25.png", imageURL("100%.png"))
}
