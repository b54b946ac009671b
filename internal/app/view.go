package app

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/facerate/internal/adapter/metrics"
	"github.com/pscheid92/facerate/internal/domain"
	"golang.org/x/sync/singleflight"
)

// TableSource loads the full table from the store.
type TableSource interface {
	FetchAll(ctx context.Context) (domain.Table, error)
}

// sharedFetchTimeout bounds a fetch that outlives the caller that started it.
const sharedFetchTimeout = time.Minute

type snapshot struct {
	table   domain.Table
	takenAt time.Time
}

// View is the process-wide, staleness-bounded snapshot of the ratings table.
//
// Snapshots are immutable and replaced wholesale, so readers never observe a
// partially updated table. A fetch that started before an Invalidate is handed
// to its caller but never installed.
type View struct {
	source  TableSource
	clock   clockwork.Clock
	metrics *metrics.ViewMetrics
	group   singleflight.Group

	mu         sync.Mutex
	current    *snapshot
	generation uint64
}

// NewView creates a view over source. m may be nil.
func NewView(source TableSource, clock clockwork.Clock, m *metrics.ViewMetrics) *View {
	return &View{source: source, clock: clock, metrics: m}
}

// Get returns a table no older than maxAge. maxAge <= 0 always reads the store
// and never shares a fetch started by another caller.
func (v *View) Get(ctx context.Context, maxAge time.Duration) (domain.Table, error) {
	if maxAge <= 0 {
		v.countMiss()
		return v.fetch(ctx)
	}

	v.mu.Lock()
	snap := v.current
	gen := v.generation
	v.mu.Unlock()

	if snap != nil {
		age := v.clock.Since(snap.takenAt)
		if age <= maxAge {
			if v.metrics != nil {
				v.metrics.Hits.Inc()
				v.metrics.SnapshotAge.Observe(age.Seconds())
			}
			return snap.table, nil
		}
	}

	v.countMiss()
	ch := v.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		// Shared by every waiter, so one caller going away must not cancel it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return v.fetch(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return domain.Table{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Table{}, res.Err
		}
		if res.Shared && v.metrics != nil {
			v.metrics.Shared.Inc()
		}
		return res.Val.(domain.Table), nil
	}
}

// Invalidate forces the next Get to read the store.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.generation++
	v.current = nil
	v.mu.Unlock()

	if v.metrics != nil {
		v.metrics.Invalidations.Inc()
	}
}

// Progress computes the progress counter from a table no older than maxAge.
func (v *View) Progress(ctx context.Context, maxAge time.Duration) (domain.Progress, error) {
	table, err := v.Get(ctx, maxAge)
	if err != nil {
		return domain.Progress{}, err
	}
	return domain.ProgressOf(table), nil
}

func (v *View) fetch(ctx context.Context) (domain.Table, error) {
	v.mu.Lock()
	gen := v.generation
	v.mu.Unlock()

	startedAt := v.clock.Now()
	table, err := v.source.FetchAll(ctx)
	if err != nil {
		return domain.Table{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen == v.generation && (v.current == nil || !startedAt.Before(v.current.takenAt)) {
		v.current = &snapshot{table: table, takenAt: startedAt}
	}
	return table, nil
}

func (v *View) countMiss() {
	if v.metrics != nil {
		v.metrics.Misses.Inc()
	}
}

// UnratedRows returns the rows of table that are unrated and not excluded,
// in table order.
func UnratedRows(table domain.Table, excluded map[string]struct{}) []domain.Row {
	var rows []domain.Row
	for _, row := range table.Rows() {
		if row.Rated() {
			continue
		}
		if _, skip := excluded[row.Filename]; skip {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}
