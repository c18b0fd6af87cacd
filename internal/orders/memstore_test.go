package orders

import (
	"context"
	"sync"
	"time"

	"github.com/avelov/sellbot/internal/domain"
)

// In-memory stores shared by the limit and DCA manager tests. Both can be
// told to fail writes.

type mockLimitStore struct {
	mu        sync.Mutex
	orders    map[string]domain.LimitOrder
	writeErr  error
}

func newMockLimitStore() *mockLimitStore {
	return &mockLimitStore{orders: make(map[string]domain.LimitOrder)}
}

func (m *mockLimitStore) Create(_ context.Context, o domain.LimitOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockLimitStore) Update(_ context.Context, o domain.LimitOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockLimitStore) Get(_ context.Context, id string) (domain.LimitOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.LimitOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *mockLimitStore) ListByStatus(_ context.Context, status domain.LimitOrderStatus) ([]domain.LimitOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LimitOrder
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockLimitStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) ([]domain.LimitOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []domain.LimitOrder
	for id, o := range m.orders {
		if o.Status.IsTerminal() && o.CreatedAt.Before(cutoff) {
			deleted = append(deleted, o)
			delete(m.orders, id)
		}
	}
	return deleted, nil
}

type mockDCAStore struct {
	mu       sync.Mutex
	orders   map[string]domain.DCAOrder
	writeErr error
}

func newMockDCAStore() *mockDCAStore {
	return &mockDCAStore{orders: make(map[string]domain.DCAOrder)}
}

func (m *mockDCAStore) Create(_ context.Context, o domain.DCAOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockDCAStore) Update(_ context.Context, o domain.DCAOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	m.orders[o.ID] = o
	return nil
}

func (m *mockDCAStore) Get(_ context.Context, id string) (domain.DCAOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.DCAOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *mockDCAStore) ListByStatus(_ context.Context, status domain.DCAOrderStatus) ([]domain.DCAOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DCAOrder
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockDCAStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) ([]domain.DCAOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []domain.DCAOrder
	for id, o := range m.orders {
		if o.Status.IsTerminal() && o.CreatedAt.Before(cutoff) {
			deleted = append(deleted, o)
			delete(m.orders, id)
		}
	}
	return deleted, nil
}

// fakeClock is a settable test clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
