package httpserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockRater struct {
	assignFn  func(ctx context.Context, s *domain.Session) (domain.Assignment, error)
	submitFn  func(ctx context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error)
	releaseFn func(s *domain.Session)
}

func (m *mockRater) Assign(ctx context.Context, s *domain.Session) (domain.Assignment, error) {
	if m.assignFn != nil {
		return m.assignFn(ctx, s)
	}
	return domain.Assignment{}, nil
}

func (m *mockRater) Submit(ctx context.Context, s *domain.Session, sub domain.Submission) (domain.Outcome, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, s, sub)
	}
	return domain.Outcome{Result: domain.SubmitRated, Score: sub.Score}, nil
}

func (m *mockRater) Release(s *domain.Session) {
	if m.releaseFn != nil {
		m.releaseFn(s)
		return
	}
	s.Release()
}

// fakeSessions is an in-memory session registry.
type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (f *fakeSessions) GetOrCreate(id uuid.UUID) (*domain.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s, false
	}
	s := domain.NewSession(uuid.New(), time.Now())
	f.sessions[s.ID] = s
	return s, true
}

func (f *fakeSessions) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeSessions) only(t *testing.T) *domain.Session {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.sessions, 1)
	for _, s := range f.sessions {
		return s
	}
	return nil
}

type mockProgress struct {
	progressFn func(ctx context.Context, maxAge time.Duration) (domain.Progress, error)
}

func (m *mockProgress) Progress(ctx context.Context, maxAge time.Duration) (domain.Progress, error) {
	if m.progressFn != nil {
		return m.progressFn(ctx, maxAge)
	}
	return domain.Progress{}, nil
}

type memImages struct {
	files map[string][]byte
}

type imageReader struct {
	*bytes.Reader
}

func (imageReader) Close() error { return nil }

func (m *memImages) Exists(_ context.Context, filename string) (bool, error) {
	_, ok := m.files[filename]
	return ok, nil
}

func (m *memImages) Open(_ context.Context, filename string) (io.ReadSeekCloser, error) {
	data, ok := m.files[filename]
	if !ok {
		return nil, domain.ErrImageNotFound
	}
	return imageReader{bytes.NewReader(data)}, nil
}

// --- Test server ---

type testServerOption func(*testServerDeps)

type testServerDeps struct {
	sessions     *fakeSessions
	progress     *mockProgress
	images       *memImages
	healthChecks []HealthCheck
	httpMetrics  *metrics.HTTPMetrics
	config       *config.Config
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(d *testServerDeps) { d.healthChecks = checks }
}

func withSessions(s *fakeSessions) testServerOption {
	return func(d *testServerDeps) { d.sessions = s }
}

func withProgress(p *mockProgress) testServerOption {
	return func(d *testServerDeps) { d.progress = p }
}

func withImages(files map[string][]byte) testServerOption {
	return func(d *testServerDeps) { d.images = &memImages{files: files} }
}

func withHTTPMetrics(m *metrics.HTTPMetrics) testServerOption {
	return func(d *testServerDeps) { d.httpMetrics = m }
}

func withSubmitLimit(ratePerSecond float64, burst int) testServerOption {
	return func(d *testServerDeps) {
		d.config.SubmitRatePerSecond = ratePerSecond
		d.config.SubmitBurst = burst
	}
}

func newTestConfig() *config.Config {
	return &config.Config{
		AppEnv:              "test",
		Port:                "0",
		SessionSecret:       "test-session-secret-with-32-bytes!!",
		SessionIdleTimeout:  time.Hour,
		SelectionMaxAge:     5 * time.Second,
		SubmitRatePerSecond: 100,
		SubmitBurst:         100,
	}
}

func newTestServer(t *testing.T, rater *mockRater, opts ...testServerOption) *Server {
	t.Helper()

	deps := &testServerDeps{
		sessions: newFakeSessions(),
		progress: &mockProgress{},
		images:   &memImages{files: map[string][]byte{}},
		config:   newTestConfig(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	srv, err := NewServer(deps.config, rater, deps.sessions, deps.progress, deps.images,
		deps.httpMetrics, nil, deps.healthChecks)
	require.NoError(t, err)
	return srv
}

func newTestHTTPMetrics() *metrics.HTTPMetrics {
	return metrics.NewHTTPMetrics(prometheus.NewRegistry())
}

// --- Request helpers ---

const testCSRFToken = "test-csrf-token"

// browser replays the cookies a real browser would keep between requests.
type browser struct {
	t       *testing.T
	srv     *Server
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, srv *Server) *browser {
	return &browser{t: t, srv: srv, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	if req.Header.Get(echo.HeaderAccept) == "" {
		req.Header.Set(echo.HeaderAccept, "text/html,application/xhtml+xml")
	}
	rec := httptest.NewRecorder()
	b.srv.echo.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

// post submits a form with a matching CSRF cookie and field.
func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	return b.do(b.formRequest(path, form))
}

func (b *browser) formRequest(path string, form url.Values) *http.Request {
	b.cookies["csrf_token"] = &http.Cookie{Name: "csrf_token", Value: testCSRFToken}
	if form == nil {
		form = url.Values{}
	}
	if !form.Has("csrf_token") {
		form.Set("csrf_token", testCSRFToken)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func scoreForm(score, rater string) url.Values {
	return url.Values{"score": {score}, "rater_name": {rater}}
}

func assignTo(filename string, p domain.Progress) func(context.Context, *domain.Session) (domain.Assignment, error) {
	return func(_ context.Context, s *domain.Session) (domain.Assignment, error) {
		row := domain.Row{Filename: filename}
		s.Assign(row)
		return domain.Assignment{Row: row, Progress: p}, nil
	}
}

func (b *browser) getJSON(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	return b.do(req)
}
