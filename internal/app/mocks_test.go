package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/facerate/internal/domain"
	"github.com/pscheid92/facerate/internal/platform/retry"
)

// --- Mock implementations ---

// memStore is an in-memory TableStore that records every call.
type memStore struct {
	mu   sync.Mutex
	rows []domain.RawRow

	pageCalls    int
	updateCalls  int
	replaceCalls int

	fetchPageFn func(offset, limit int) ([]domain.RawRow, error)
	updateRowFn func(u domain.RowUpdate) error
	replaceFn   func(t domain.Table) error
}

func newMemStore(filenames ...string) *memStore {
	m := &memStore{}
	for _, f := range filenames {
		m.rows = append(m.rows, domain.RawRow{Filename: f})
	}
	return m
}

func (m *memStore) FetchPage(_ context.Context, offset, limit int) ([]domain.RawRow, error) {
	m.mu.Lock()
	m.pageCalls++
	fn := m.fetchPageFn
	m.mu.Unlock()

	if fn != nil {
		return fn(offset, limit)
	}
	return m.page(offset, limit), nil
}

func (m *memStore) page(offset, limit int) []domain.RawRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.rows) {
		return nil
	}
	end := min(offset+limit, len(m.rows))
	out := make([]domain.RawRow, end-offset)
	copy(out, m.rows[offset:end])
	return out
}

func (m *memStore) UpdateRow(_ context.Context, u domain.RowUpdate) error {
	m.mu.Lock()
	m.updateCalls++
	fn := m.updateRowFn
	m.mu.Unlock()

	if fn != nil {
		return fn(u)
	}
	return m.apply(u)
}

func (m *memStore) apply(u domain.RowUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].Filename == u.Filename {
			m.rows[i].Score = u.Score
			if u.RaterID != "" {
				m.rows[i].RaterID = u.RaterID
			}
			return nil
		}
	}
	return domain.ErrRowNotFound
}

func (m *memStore) ReplaceTable(_ context.Context, t domain.Table) error {
	m.mu.Lock()
	m.replaceCalls++
	fn := m.replaceFn
	m.mu.Unlock()

	if fn != nil {
		return fn(t)
	}

	rows := make([]domain.RawRow, 0, t.Len())
	for _, r := range t.Rows() {
		raw := domain.RawRow{Filename: r.Filename}
		if r.Score != nil {
			raw.Score = *r.Score
		}
		if r.RaterID != nil {
			raw.RaterID = *r.RaterID
		}
		rows = append(rows, raw)
	}

	m.mu.Lock()
	m.rows = rows
	m.mu.Unlock()
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// setScore simulates another process writing to the shared table.
func (m *memStore) setScore(filename string, score any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].Filename == filename {
			m.rows[i].Score = score
			return
		}
	}
	panic(fmt.Sprintf("no row %q", filename))
}

func (m *memStore) remove(filename string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].Filename == filename {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return
		}
	}
}

func (m *memStore) raw(filename string) domain.RawRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Filename == filename {
			return r
		}
	}
	return domain.RawRow{}
}

func (m *memStore) calls() (pages, updates, replaces int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageCalls, m.updateCalls, m.replaceCalls
}

// condStore adds the conditional write to memStore.
type condStore struct {
	*memStore
	conditionalCalls   int
	beforeConditional func()
}

func (c *condStore) UpdateRowIfUnrated(_ context.Context, u domain.RowUpdate) (bool, error) {
	c.conditionalCalls++
	if c.beforeConditional != nil {
		c.beforeConditional()
	}
	if domain.NormalizeScore(c.raw(u.Filename).Score) != nil {
		return false, nil
	}
	if err := c.apply(u); err != nil {
		return false, err
	}
	return true, nil
}

type mockImages struct {
	existsFn func(filename string) (bool, error)
}

func (m *mockImages) Exists(_ context.Context, filename string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(filename)
	}
	return true, nil
}

func (m *mockImages) Open(_ context.Context, filename string) (io.ReadSeekCloser, error) {
	ok, err := m.Exists(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrImageNotFound
	}
	return nopCloser{strings.NewReader("jpeg:" + filename)}, nil
}

type nopCloser struct{ *strings.Reader }

func (nopCloser) Close() error { return nil }

// --- Helpers ---

var fastPolicy = retry.Policy{
	MaxAttempts:      3,
	InitialBackoff:   1 * time.Millisecond,
	RateLimitBackoff: 2 * time.Millisecond,
}

func newTestGateway(store domain.TableStore) *Gateway {
	return NewGateway(store, GatewayConfig{PageSize: 1000, Retry: fastPolicy}, nil)
}

func newTestRater(store domain.TableStore, images domain.ImageStore, cfg RaterConfig) (*Rater, *View) {
	gw := newTestGateway(store)
	view := NewView(gw, clockwork.NewFakeClock(), nil)
	r := NewRater(view, gw, images, cfg, nil)
	r.pick = func(int) int { return 0 }
	return r, view
}
