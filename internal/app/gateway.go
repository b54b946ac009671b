package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/retry"
)

const (
	defaultPageSize  = 1000
	maxRaterIDLength = 100
)

type GatewayConfig struct {
	PageSize int
	Retry    retry.Policy
}

// Gateway hides pagination, read retries and score normalization from the
// rest of the application. Writes are never retried.
type Gateway struct {
	store    domain.TableStore
	cond     domain.ConditionalStore
	pageSize int
	policy   retry.Policy
	metrics  *metrics.StoreMetrics
}

// NewGateway wraps store. m may be nil.
func NewGateway(store domain.TableStore, cfg GatewayConfig, m *metrics.StoreMetrics) *Gateway {
	g := &Gateway{
		store:    store,
		pageSize: cfg.PageSize,
		policy:   cfg.Retry,
		metrics:  m,
	}
	if g.pageSize < 1 {
		g.pageSize = defaultPageSize
	}
	if g.policy.MaxAttempts < 1 {
		g.policy.MaxAttempts = 1
	}
	if cond, ok := store.(domain.ConditionalStore); ok {
		g.cond = cond
	}

	next := g.policy.OnRetry
	g.policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		if g.metrics != nil {
			g.metrics.Retries.WithLabelValues(retryReason(err)).Inc()
		}
		slog.Warn("Store read failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		if next != nil {
			next(attempt, err, backoff)
		}
	}
	return g
}

// FetchAll reads the whole table page by page until a short page.
func (g *Gateway) FetchAll(ctx context.Context) (domain.Table, error) {
	var timer *prometheus.Timer
	if g.metrics != nil {
		timer = prometheus.NewTimer(g.metrics.FetchDuration)
	}

	table, err := g.fetchAll(ctx)

	if g.metrics != nil {
		timer.ObserveDuration()
		g.metrics.Fetches.WithLabelValues(resultLabel(err)).Inc()
	}
	return table, err
}

func (g *Gateway) fetchAll(ctx context.Context) (domain.Table, error) {
	var rows []domain.Row

	for offset := 0; ; offset += g.pageSize {
		page, err := retry.Do(ctx, g.policy, classifyStoreError, func() ([]domain.RawRow, error) {
			return g.store.FetchPage(ctx, offset, g.pageSize)
		})
		if err != nil {
			return domain.Table{}, fmt.Errorf("fetch rows at offset %d: %w", offset, err)
		}
		if g.metrics != nil {
			g.metrics.PagesFetched.Inc()
		}

		for _, raw := range page {
			row, ok := normalizeRow(raw)
			if !ok {
				slog.WarnContext(ctx, "Skipping row without filename", "offset", offset)
				continue
			}
			rows = append(rows, row)
		}

		if len(page) < g.pageSize {
			break
		}
	}

	table, err := domain.NewTable(rows)
	if err != nil {
		return domain.Table{}, fmt.Errorf("build table: %w", err)
	}
	return table, nil
}

// CommitRow writes a single-row update keyed by filename.
func (g *Gateway) CommitRow(ctx context.Context, u domain.RowUpdate) error {
	return g.observeCommit("row", func() error {
		return g.store.UpdateRow(ctx, u)
	})
}

// CommitTable replaces the whole table.
func (g *Gateway) CommitTable(ctx context.Context, t domain.Table) error {
	return g.observeCommit("table", func() error {
		return g.store.ReplaceTable(ctx, t)
	})
}

// CommitRowIfUnrated writes u only if the row is still unrated in the store.
// applied is false when another writer got there first.
func (g *Gateway) CommitRowIfUnrated(ctx context.Context, u domain.RowUpdate) (applied bool, err error) {
	if g.cond == nil {
		return false, errors.New("store does not support conditional updates")
	}
	start := time.Now()
	applied, err = g.cond.UpdateRowIfUnrated(ctx, u)
	if g.metrics != nil {
		result := resultLabel(err)
		if err == nil && !applied {
			result = "not_applied"
		}
		g.metrics.CommitDuration.WithLabelValues("conditional").Observe(time.Since(start).Seconds())
		g.metrics.Commits.WithLabelValues("conditional", result).Inc()
	}
	return applied, err
}

// SupportsConditional reports whether the store offers a conditional write.
func (g *Gateway) SupportsConditional() bool {
	return g.cond != nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

func (g *Gateway) observeCommit(mode string, write func() error) error {
	if g.metrics == nil {
		return write()
	}
	timer := prometheus.NewTimer(g.metrics.CommitDuration.WithLabelValues(mode))
	err := write()
	timer.ObserveDuration()
	g.metrics.Commits.WithLabelValues(mode, resultLabel(err)).Inc()
	return err
}

func normalizeRow(raw domain.RawRow) (domain.Row, bool) {
	filename := strings.TrimSpace(raw.Filename)
	if filename == "" {
		return domain.Row{}, false
	}

	row := domain.Row{
		Filename: filename,
		Score:    domain.NormalizeScore(raw.Score),
	}
	if rater := NormalizeRaterID(raw.RaterID); rater != "" {
		row.RaterID = &rater
	}
	return row, true
}

// NormalizeRaterID trims the free-text rater identifier and caps its length.
func NormalizeRaterID(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxRaterIDLength {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:maxRaterIDLength]))
}

func classifyStoreError(err error) retry.Action {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	case errors.Is(err, domain.ErrRateLimited):
		return retry.After
	case errors.Is(err, domain.ErrTransient):
		return retry.Retry
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Retry
	}
	return retry.Stop
}

func retryReason(err error) string {
	if errors.Is(err, domain.ErrRateLimited) {
		return "rate_limited"
	}
	return "transient"
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
