package orders

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/sellbot/internal/domain"
)

func newTestLimitManager(store *mockLimitStore, clock *fakeClock) *LimitManager {
	return NewLimitManager(store, clock, slog.New(slog.DiscardHandler))
}

func createLimit(t *testing.T, m *LimitManager, side domain.OrderSide, target float64, expiresAt *time.Time) domain.LimitOrder {
	t.Helper()
	o, err := m.Create(context.Background(), domain.LimitOrder{
		WalletKey:   "wallet-1",
		Mint:        "MintAAAA",
		Side:        side,
		TargetPrice: target,
		Amount:      1.5,
		SlippageBps: 100,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
	return o
}

func TestLimitCreateValidation(t *testing.T) {
	m := newTestLimitManager(newMockLimitStore(), &fakeClock{now: testNow})

	cases := []domain.LimitOrder{
		{Mint: "M", Side: domain.OrderSideBuy, TargetPrice: 1, Amount: 1},              // no wallet
		{WalletKey: "w", Side: domain.OrderSideBuy, TargetPrice: 1, Amount: 1},         // no mint
		{WalletKey: "w", Mint: "M", Side: "hold", TargetPrice: 1, Amount: 1},           // bad side
		{WalletKey: "w", Mint: "M", Side: domain.OrderSideBuy, TargetPrice: 0, Amount: 1},
		{WalletKey: "w", Mint: "M", Side: domain.OrderSideBuy, TargetPrice: 1, Amount: -2},
		{WalletKey: "w", Mint: "M", Side: domain.OrderSideBuy, TargetPrice: 1, Amount: 1, SlippageBps: 20_000},
	}
	for _, c := range cases {
		_, err := m.Create(context.Background(), c)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestLimitGetReadyBuyAndSell(t *testing.T) {
	clock := &fakeClock{now: testNow}
	m := newTestLimitManager(newMockLimitStore(), clock)

	buy := createLimit(t, m, domain.OrderSideBuy, 0.50, nil)   // ready when price <= 0.50
	sell := createLimit(t, m, domain.OrderSideSell, 2.00, nil) // ready when price >= 2.00

	ready := m.GetReady(context.Background(), "MintAAAA", 0.45)
	require.Len(t, ready, 1)
	assert.Equal(t, buy.ID, ready[0].ID)

	ready = m.GetReady(context.Background(), "MintAAAA", 2.10)
	require.Len(t, ready, 1)
	assert.Equal(t, sell.ID, ready[0].ID)

	assert.Empty(t, m.GetReady(context.Background(), "MintAAAA", 1.00))
	assert.Empty(t, m.GetReady(context.Background(), "OtherMint", 0.01))
}

func TestLimitLazyExpiry(t *testing.T) {
	clock := &fakeClock{now: testNow}
	store := newMockLimitStore()
	m := newTestLimitManager(store, clock)

	past := testNow.Add(-time.Minute)
	o := createLimit(t, m, domain.OrderSideBuy, 100, &past)

	// The price would trigger, but the order is overdue: excluded from the
	// ready set and flipped to expired as a side effect.
	ready := m.GetReady(context.Background(), "MintAAAA", 50)
	assert.Empty(t, ready)

	got, err := m.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderExpired, got.Status)

	persisted, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderExpired, persisted.Status)
}

func TestLimitStatusTransitions(t *testing.T) {
	m := newTestLimitManager(newMockLimitStore(), &fakeClock{now: testNow})
	o := createLimit(t, m, domain.OrderSideBuy, 1, nil)

	require.NoError(t, m.MarkExecuting(context.Background(), o.ID))

	// Double MarkExecuting is rejected.
	assert.ErrorIs(t, m.MarkExecuting(context.Background(), o.ID), domain.ErrInvalidState)

	require.NoError(t, m.MarkFilled(context.Background(), o.ID, "sig123", "MintAAAA"))
	got, err := m.Get(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderFilled, got.Status)
	assert.Equal(t, "sig123", got.TxSignature)
	require.NotNil(t, got.FilledAt)
}

func TestLimitCancelExecutingRefused(t *testing.T) {
	m := newTestLimitManager(newMockLimitStore(), &fakeClock{now: testNow})
	o := createLimit(t, m, domain.OrderSideSell, 5, nil)

	require.NoError(t, m.MarkExecuting(context.Background(), o.ID))

	err := m.Cancel(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	got, _ := m.Get(o.ID)
	assert.Equal(t, domain.LimitOrderExecuting, got.Status, "status must be unchanged after refused cancel")
}

func TestLimitRevertToPending(t *testing.T) {
	m := newTestLimitManager(newMockLimitStore(), &fakeClock{now: testNow})
	o := createLimit(t, m, domain.OrderSideBuy, 1, nil)

	require.NoError(t, m.MarkExecuting(context.Background(), o.ID))
	require.NoError(t, m.RevertToPending(context.Background(), o.ID))

	got, _ := m.Get(o.ID)
	assert.Equal(t, domain.LimitOrderPending, got.Status)
}

func TestLimitTransitionRollsBackOnPersistFailure(t *testing.T) {
	store := newMockLimitStore()
	m := newTestLimitManager(store, &fakeClock{now: testNow})
	o := createLimit(t, m, domain.OrderSideBuy, 1, nil)

	store.mu.Lock()
	store.writeErr = assert.AnError
	store.mu.Unlock()

	err := m.MarkExecuting(context.Background(), o.ID)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	got, _ := m.Get(o.ID)
	assert.Equal(t, domain.LimitOrderPending, got.Status, "in-memory status rolls back on failed write")
}

func TestLimitCleanupRetention(t *testing.T) {
	clock := &fakeClock{now: testNow}
	store := newMockLimitStore()
	m := newTestLimitManager(store, clock)

	o := createLimit(t, m, domain.OrderSideBuy, 1, nil)
	require.NoError(t, m.MarkExecuting(context.Background(), o.ID))
	require.NoError(t, m.MarkFilled(context.Background(), o.ID, "sig", "MintAAAA"))

	// Young terminal order survives cleanup.
	deleted, err := m.Cleanup(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, deleted)

	clock.Advance(8 * 24 * time.Hour)
	deleted, err = m.Cleanup(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, o.ID, deleted[0].ID)

	_, err = m.Get(o.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLimitRestoreSkipsTerminal(t *testing.T) {
	store := newMockLimitStore()
	store.orders["a"] = domain.LimitOrder{ID: "a", Status: domain.LimitOrderPending, Mint: "M1"}
	store.orders["b"] = domain.LimitOrder{ID: "b", Status: domain.LimitOrderExecuting, Mint: "M1"}
	store.orders["c"] = domain.LimitOrder{ID: "c", Status: domain.LimitOrderFilled, Mint: "M1"}

	m := newTestLimitManager(store, &fakeClock{now: testNow})
	require.NoError(t, m.Restore(context.Background()))

	_, err := m.Get("a")
	assert.NoError(t, err)
	_, err = m.Get("b")
	assert.NoError(t, err)
	_, err = m.Get("c")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
