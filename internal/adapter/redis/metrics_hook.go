package redis

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/pscheid92/facerate/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// MetricsHook implements goredis.Hook to time every Redis command.
type MetricsHook struct {
	metrics *metrics.StoreMetrics
}

var _ goredis.Hook = (*MetricsHook)(nil)

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.metrics.QueryErrors.WithLabelValues("dial").Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)

		name := strings.ToLower(cmd.Name())
		h.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil && !errors.Is(err, goredis.Nil) {
			h.metrics.QueryErrors.WithLabelValues(name).Inc()
		}
		return err
	}
}

// ProcessPipelineHook records a pipeline as a single operation.
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)

		h.metrics.QueryDuration.WithLabelValues("pipeline").Observe(time.Since(start).Seconds())
		if err != nil && !errors.Is(err, goredis.Nil) {
			h.metrics.QueryErrors.WithLabelValues("pipeline").Inc()
		}
		return err
	}
}
