package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/version"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://sheets.googleapis.com"
	httpCallTimeout = 15 * time.Second
	maxErrorBody    = 4 << 10
)

// Config configures the spreadsheet client.
type Config struct {
	BaseURL           string
	SpreadsheetID     string
	Worksheet         string
	Token             string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// APIError is a non-2xx reply from the values API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sheets API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("sheets API returned status %d: %s", e.StatusCode, e.Message)
}

// client talks to the spreadsheet values API. Every request waits on the
// token bucket and runs through the circuit breaker.
type client struct {
	baseURL       string
	spreadsheetID string
	token         string
	http          *http.Client
	limiter       *rate.Limiter
	cb            *gobreaker.CircuitBreaker
	metrics       *metrics.StoreMetrics
}

func newClient(cfg Config, m *metrics.StoreMetrics) *client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpCallTimeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}

	return &client{
		baseURL:       baseURL,
		spreadsheetID: cfg.SpreadsheetID,
		token:         cfg.Token,
		http:          httpClient,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		cb:            gobreaker.NewCircuitBreaker(breakerSettings(m)),
		metrics:       m,
	}
}

func breakerSettings(m *metrics.StoreMetrics) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "sheets",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrTransient)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if m != nil {
				m.BreakerState.WithLabelValues(name).Set(stateValue(to))
			}
		},
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// valueRange is the JSON shape of a range in the values API.
type valueRange struct {
	Range          string  `json:"range,omitempty"`
	MajorDimension string  `json:"majorDimension,omitempty"`
	Values         [][]any `json:"values"`
}

type batchUpdateRequest struct {
	ValueInputOption string       `json:"valueInputOption"`
	Data             []valueRange `json:"data"`
}

// getValues reads an A1 range with unformatted values.
func (c *client) getValues(ctx context.Context, a1 string) ([][]any, error) {
	q := url.Values{}
	q.Set("valueRenderOption", "UNFORMATTED_VALUE")
	q.Set("majorDimension", "ROWS")

	var out valueRange
	if err := c.do(ctx, "values.get", http.MethodGet, c.valuesURL(a1)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Values, nil
}

func (c *client) batchUpdate(ctx context.Context, data []valueRange) error {
	endpoint := fmt.Sprintf("%s/v4/spreadsheets/%s/values:batchUpdate", c.baseURL, url.PathEscape(c.spreadsheetID))
	body := batchUpdateRequest{ValueInputOption: "RAW", Data: data}
	return c.do(ctx, "values.batchUpdate", http.MethodPost, endpoint, body, nil)
}

func (c *client) valuesURL(a1 string) string {
	return fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s", c.baseURL, url.PathEscape(c.spreadsheetID), url.PathEscape(a1))
}

func (c *client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, endpoint, in, out)
	})
	if c.metrics != nil {
		c.metrics.QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			c.metrics.QueryErrors.WithLabelValues(op).Inc()
		}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: sheets circuit breaker open: %w", domain.ErrTransient, err)
	}
	return err
}

func (c *client) roundTrip(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return fmt.Errorf("failed to execute request: %w", err)
}

// classifyStatus maps 429 to domain.ErrRateLimited and 5xx to
// domain.ErrTransient. Other statuses are permanent.
func classifyStatus(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, apiErr)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w", domain.ErrTransient, apiErr)
	default:
		return apiErr
	}
}

func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
