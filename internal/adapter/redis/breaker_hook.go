package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// BreakerHook implements goredis.Hook and stops sending commands to Redis
// after sustained connection failures. Server replies such as WRONGTYPE or
// NOSCRIPT do not count as failures.
type BreakerHook struct {
	cb *gobreaker.CircuitBreaker
}

var _ goredis.Hook = (*BreakerHook)(nil)

// NewBreakerHook trips at a 60% failure rate over at least 5 requests in a
// 10s window and probes again after 30s. m may be nil.
func NewBreakerHook(m *metrics.StoreMetrics) *BreakerHook {
	return &BreakerHook{cb: gobreaker.NewCircuitBreaker(breakerSettings(m))}
}

func breakerSettings(m *metrics.StoreMetrics) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
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

func (h *BreakerHook) State() gobreaker.State {
	return h.cb.State()
}

func (h *BreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return next
}

func (h *BreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return h.execute(func() error { return next(ctx, cmd) })
	}
}

func (h *BreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return h.execute(func() error { return next(ctx, cmds) })
	}
}

func (h *BreakerHook) execute(fn func() error) error {
	var cmdErr error
	_, err := h.cb.Execute(func() (any, error) {
		cmdErr = fn()
		if isConnectionError(cmdErr) {
			return nil, cmdErr
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: redis circuit breaker open: %w", domain.ErrTransient, err)
	}
	return cmdErr
}

// isConnectionError reports whether err came from the transport rather
// than from a Redis reply.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, goredis.Nil) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, goredis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
