package pending

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/sellbot/internal/domain"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockStore struct {
	mu       sync.Mutex
	entries  map[string]domain.PendingSell
	writeErr error
}

func newMockStore() *mockStore {
	return &mockStore{entries: make(map[string]domain.PendingSell)}
}

func (m *mockStore) Create(_ context.Context, ps domain.PendingSell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.entries[ps.ID] = ps
	return nil
}

func (m *mockStore) Update(_ context.Context, ps domain.PendingSell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.entries[ps.ID]; !ok {
		return domain.ErrNotFound
	}
	m.entries[ps.ID] = ps
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (domain.PendingSell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.entries[id]
	if !ok {
		return domain.PendingSell{}, domain.ErrNotFound
	}
	return ps, nil
}

func (m *mockStore) ListByStatus(_ context.Context, status domain.PendingSellStatus) ([]domain.PendingSell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PendingSell
	for _, ps := range m.entries {
		if ps.Status == status {
			out = append(out, ps)
		}
	}
	return out, nil
}

func (m *mockStore) stored(id string) domain.PendingSell {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

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

func newTestQueue(store *mockStore, clock *fakeClock) *Queue {
	return New(store, clock, 0, slog.New(slog.DiscardHandler))
}

func queueSell(t *testing.T, q *Queue, wallet, mint string) domain.PendingSell {
	t.Helper()
	ps, err := q.Create(context.Background(), domain.PendingSell{
		WalletKey:     wallet,
		Mint:          mint,
		SellPercent:   25,
		PriceAtDetect: 0.01,
		ProfitPct:     60,
		Reason:        "stage 1",
	})
	require.NoError(t, err)
	return ps
}

func TestCreateValidation(t *testing.T) {
	q := newTestQueue(newMockStore(), &fakeClock{now: testNow})

	_, err := q.Create(context.Background(), domain.PendingSell{Mint: "M", SellPercent: 25})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = q.Create(context.Background(), domain.PendingSell{WalletKey: "w", Mint: "M", SellPercent: 0})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = q.Create(context.Background(), domain.PendingSell{WalletKey: "w", Mint: "M", SellPercent: 101})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateAppliesDefaultTTL(t *testing.T) {
	q := newTestQueue(newMockStore(), &fakeClock{now: testNow})
	ps := queueSell(t, q, "wallet-1", "MintAAAA")

	assert.Equal(t, domain.PendingSellPending, ps.Status)
	assert.Equal(t, testNow.Add(30*time.Minute), ps.ExpiresAt)
}

func TestCreateRefusesDuplicatePerPosition(t *testing.T) {
	q := newTestQueue(newMockStore(), &fakeClock{now: testNow})
	queueSell(t, q, "wallet-1", "MintAAAA")

	_, err := q.Create(context.Background(), domain.PendingSell{
		WalletKey: "wallet-1", Mint: "MintAAAA", SellPercent: 50, Reason: "stage 2",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	// A different position is fine.
	_, err = q.Create(context.Background(), domain.PendingSell{
		WalletKey: "wallet-1", Mint: "MintBBBB", SellPercent: 50,
	})
	assert.NoError(t, err)
	_, err = q.Create(context.Background(), domain.PendingSell{
		WalletKey: "wallet-2", Mint: "MintAAAA", SellPercent: 50,
	})
	assert.NoError(t, err)
}

func TestCreateAllowedAgainAfterResolution(t *testing.T) {
	clock := &fakeClock{now: testNow}
	q := newTestQueue(newMockStore(), clock)

	first := queueSell(t, q, "wallet-1", "MintAAAA")
	require.NoError(t, q.Cancel(context.Background(), first.ID))

	// Cancelled entries no longer block the position.
	queueSell(t, q, "wallet-1", "MintAAAA")
}

func TestExecuteLifecycle(t *testing.T) {
	store := newMockStore()
	q := newTestQueue(store, &fakeClock{now: testNow})
	ps := queueSell(t, q, "wallet-1", "MintAAAA")

	require.NoError(t, q.MarkExecuting(context.Background(), ps.ID))
	got, err := q.Get(ps.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PendingSellExecuting, got.Status)

	// Cancel is refused while the transaction may be in flight.
	assert.ErrorIs(t, q.Cancel(context.Background(), ps.ID), domain.ErrInvalidState)

	require.NoError(t, q.MarkExecuted(context.Background(), ps.ID, "sig-123"))
	got, _ = q.Get(ps.ID)
	assert.Equal(t, domain.PendingSellExecuted, got.Status)
	assert.Equal(t, "sig-123", got.TxSignature)
	assert.Equal(t, domain.PendingSellExecuted, store.stored(ps.ID).Status)

	// Terminal entries reject further transitions.
	assert.ErrorIs(t, q.MarkExecuting(context.Background(), ps.ID), domain.ErrInvalidState)
}

func TestMarkExecutingRefusesOverdueEntry(t *testing.T) {
	clock := &fakeClock{now: testNow}
	q := newTestQueue(newMockStore(), clock)
	ps := queueSell(t, q, "wallet-1", "MintAAAA")

	clock.Advance(31 * time.Minute)
	err := q.MarkExecuting(context.Background(), ps.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, _ := q.Get(ps.ID)
	assert.Equal(t, domain.PendingSellPending, got.Status, "refusal leaves the sweep to flip it")
}

func TestExpireStaleSweep(t *testing.T) {
	clock := &fakeClock{now: testNow}
	store := newMockStore()
	q := newTestQueue(store, clock)

	stale := queueSell(t, q, "wallet-1", "MintAAAA")
	clock.Advance(20 * time.Minute)
	fresh := queueSell(t, q, "wallet-1", "MintBBBB")
	clock.Advance(15 * time.Minute) // stale is 35 min old, fresh 15

	n := q.ExpireStale(context.Background(), clock.Now())
	assert.Equal(t, 1, n)

	got, _ := q.Get(stale.ID)
	assert.Equal(t, domain.PendingSellExpired, got.Status)
	assert.Equal(t, domain.PendingSellExpired, store.stored(stale.ID).Status)

	got, _ = q.Get(fresh.ID)
	assert.Equal(t, domain.PendingSellPending, got.Status)

	assert.Zero(t, q.ExpireStale(context.Background(), clock.Now()), "sweep is idempotent")
}

func TestExpireStaleKeepsFlipOnPersistFailure(t *testing.T) {
	clock := &fakeClock{now: testNow}
	store := newMockStore()
	q := newTestQueue(store, clock)
	ps := queueSell(t, q, "wallet-1", "MintAAAA")

	clock.Advance(time.Hour)
	store.mu.Lock()
	store.writeErr = assert.AnError
	store.mu.Unlock()

	q.ExpireStale(context.Background(), clock.Now())
	got, _ := q.Get(ps.ID)
	assert.Equal(t, domain.PendingSellExpired, got.Status,
		"an overdue entry must never execute even if the write failed")
}

func TestOutstandingExcludesOverdue(t *testing.T) {
	clock := &fakeClock{now: testNow}
	q := newTestQueue(newMockStore(), clock)

	queueSell(t, q, "wallet-1", "MintAAAA")
	require.Len(t, q.Outstanding(), 1)

	clock.Advance(time.Hour)
	assert.Empty(t, q.Outstanding())
}

func TestTransitionRollsBackOnPersistFailure(t *testing.T) {
	store := newMockStore()
	q := newTestQueue(store, &fakeClock{now: testNow})
	ps := queueSell(t, q, "wallet-1", "MintAAAA")

	store.mu.Lock()
	store.writeErr = assert.AnError
	store.mu.Unlock()

	err := q.MarkExecuting(context.Background(), ps.ID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	got, _ := q.Get(ps.ID)
	assert.Equal(t, domain.PendingSellPending, got.Status)
}

func TestRestoreLoadsOutstanding(t *testing.T) {
	store := newMockStore()
	first := newTestQueue(store, &fakeClock{now: testNow})
	kept := queueSell(t, first, "wallet-1", "MintAAAA")
	done := queueSell(t, first, "wallet-1", "MintBBBB")
	require.NoError(t, first.MarkExecuting(context.Background(), done.ID))
	require.NoError(t, first.MarkExecuted(context.Background(), done.ID, "sig"))

	restored := newTestQueue(store, &fakeClock{now: testNow})
	require.NoError(t, restored.Restore(context.Background()))

	_, err := restored.Get(kept.ID)
	assert.NoError(t, err)
	_, err = restored.Get(done.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "terminal entries stay in the store only")
}
