package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/sellbot/internal/domain"
)

// mockPositionStore is an in-memory PositionStore that can be told to fail
// writes and signals each completed Upsert.
type mockPositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	upsertErr error
	upserts   int
	done      chan struct{}
}

func newMockPositionStore() *mockPositionStore {
	return &mockPositionStore{
		positions: make(map[string]domain.Position),
		done:      make(chan struct{}, 16),
	}
}

func (m *mockPositionStore) Upsert(_ context.Context, pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	select {
	case m.done <- struct{}{}:
	default:
	}
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.positions[pos.Key()] = pos
	return nil
}

func (m *mockPositionStore) Get(_ context.Context, wallet, mint string) (domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[domain.PositionKey(wallet, mint)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (m *mockPositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.positions {
		if p.Status == domain.PositionStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPositionStore) waitUpsert(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store upsert")
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(store *mockPositionStore) *Ledger {
	return New(store, fixedClock{testNow}, slog.New(slog.DiscardHandler))
}

func openTestPosition(t *testing.T, l *Ledger) domain.Position {
	t.Helper()
	pos := domain.Position{
		WalletKey:      "wallet-1",
		Mint:           "MintAAAA",
		EntryPrice:     100,
		TokenAmount:    10,
		TotalCostBasis: 1000,
		StrategyName:   "moderate",
	}
	require.NoError(t, l.Open(context.Background(), pos))
	got, err := l.Get("wallet-1", "MintAAAA")
	require.NoError(t, err)
	return got
}

func TestOpenRejectsDuplicateActive(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	openTestPosition(t, l)

	err := l.Open(context.Background(), domain.Position{
		WalletKey: "wallet-1", Mint: "MintAAAA",
		TokenAmount: 5, TotalCostBasis: 200,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMergeBuyWeightedAverageAndStageReset(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	openTestPosition(t, l)

	// Advance a stage first so the reset is observable.
	_, err := l.AdvanceStage(context.Background(), "wallet-1", "MintAAAA", 25)
	require.NoError(t, err)

	// After the 25% exit: 7.5 tokens, 750 cost. Add 10 tokens for 500.
	merged, err := l.MergeBuy(context.Background(), "wallet-1", "MintAAAA", 10, 500, 50)
	require.NoError(t, err)

	assert.Equal(t, 0, merged.ExitStagesCompleted, "merge must reset staged progress")
	assert.InDelta(t, (750.0+500.0)/(7.5+10.0), merged.EntryPrice, 1e-9)
	assert.InDelta(t, merged.EntryPrice*merged.TokenAmount, merged.TotalCostBasis, 1e-6)
}

func TestMergeBuyNotFound(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	_, err := l.MergeBuy(context.Background(), "nobody", "NoMint", 1, 1, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMergeBuyRejectsNonActive(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	openTestPosition(t, l)
	require.NoError(t, l.Close(context.Background(), "wallet-1", "MintAAAA"))

	_, err := l.MergeBuy(context.Background(), "wallet-1", "MintAAAA", 1, 100, 100)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestUpdatePriceWatermark(t *testing.T) {
	store := newMockPositionStore()
	l := newTestLedger(store)
	openTestPosition(t, l)
	store.waitUpsert(t) // the open itself

	pos, err := l.UpdatePrice(context.Background(), "wallet-1", "MintAAAA", 180)
	require.NoError(t, err)
	assert.InDelta(t, 80, pos.CurrentProfitPct, 1e-9)
	assert.InDelta(t, 80, pos.HighestProfitPct, 1e-9)

	// Watermark is monotonic: a lower price leaves it in place.
	pos, err = l.UpdatePrice(context.Background(), "wallet-1", "MintAAAA", 120)
	require.NoError(t, err)
	assert.InDelta(t, 20, pos.CurrentProfitPct, 1e-9)
	assert.InDelta(t, 80, pos.HighestProfitPct, 1e-9)
}

func TestUpdatePriceRejectsPlaceholder(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	openTestPosition(t, l)

	_, err := l.UpdatePrice(context.Background(), "wallet-1", "MintAAAA", 0.0001)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = l.UpdatePrice(context.Background(), "wallet-1", "MintAAAA", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	pos, err := l.Get("wallet-1", "MintAAAA")
	require.NoError(t, err)
	assert.Zero(t, pos.HighestProfitPct, "rejected prices must not touch the watermark")
}

func TestUpdatePricePersistFailureIsSwallowed(t *testing.T) {
	store := newMockPositionStore()
	l := newTestLedger(store)
	openTestPosition(t, l)
	store.waitUpsert(t)

	store.mu.Lock()
	store.upsertErr = errors.New("db down")
	store.mu.Unlock()

	pos, err := l.UpdatePrice(context.Background(), "wallet-1", "MintAAAA", 150)
	require.NoError(t, err, "price update must not surface persistence failure")
	assert.InDelta(t, 150, pos.CurrentPrice, 1e-9)
	store.waitUpsert(t) // the detached write did run
}

func TestAdvanceStagePersistFailureSurfaces(t *testing.T) {
	store := newMockPositionStore()
	l := newTestLedger(store)
	openTestPosition(t, l)

	store.mu.Lock()
	store.upsertErr = errors.New("db down")
	store.mu.Unlock()

	_, err := l.AdvanceStage(context.Background(), "wallet-1", "MintAAAA", 25)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestCloseIsTerminal(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	openTestPosition(t, l)

	require.NoError(t, l.Close(context.Background(), "wallet-1", "MintAAAA"))
	err := l.Close(context.Background(), "wallet-1", "MintAAAA")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	pos, err := l.Get("wallet-1", "MintAAAA")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status, "closed positions stay on record")
}

func TestActiveMintsDeduplicates(t *testing.T) {
	l := newTestLedger(newMockPositionStore())
	for _, p := range []domain.Position{
		{WalletKey: "w1", Mint: "MintA", TokenAmount: 1, TotalCostBasis: 1},
		{WalletKey: "w2", Mint: "MintA", TokenAmount: 1, TotalCostBasis: 1},
		{WalletKey: "w1", Mint: "MintB", TokenAmount: 1, TotalCostBasis: 1},
	} {
		require.NoError(t, l.Open(context.Background(), p))
	}

	mints := l.ActiveMints()
	assert.ElementsMatch(t, []string{"MintA", "MintB"}, mints)
}

func TestRestore(t *testing.T) {
	store := newMockPositionStore()
	store.positions["w1|MintA"] = domain.Position{
		WalletKey: "w1", Mint: "MintA",
		Status: domain.PositionStatusActive, TokenAmount: 3, TotalCostBasis: 30, EntryPrice: 10,
	}

	l := newTestLedger(store)
	require.NoError(t, l.Restore(context.Background()))

	pos, err := l.Get("w1", "MintA")
	require.NoError(t, err)
	assert.Equal(t, 3.0, pos.TokenAmount)
}
