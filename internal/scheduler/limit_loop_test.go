package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/ledger"
	"github.com/avelov/sellbot/internal/notify"
	"github.com/avelov/sellbot/internal/orders"
)

type limitFixture struct {
	clock  *fakeClock
	limits *orders.LimitManager
	ledger *ledger.Ledger
	feed   *fakeFeed
	swap   *fakeSwap
	loop   *LimitLoop
}

func newLimitFixture(t *testing.T) *limitFixture {
	t.Helper()
	clock := &fakeClock{now: testNow}
	logger := discardLogger()
	limits := orders.NewLimitManager(newMemLimitStore(), clock, logger)
	lg := ledger.New(newMemPositionStore(), clock, logger)
	feed := &fakeFeed{prices: map[string]float64{}}
	swap := &fakeSwap{}
	notifier := notify.New(nil, nil, logger)
	loop := NewLimitLoop(limits, lg, feed, swap, notifier, clock, time.Second, "moderate", logger)
	return &limitFixture{
		clock:  clock,
		limits: limits,
		ledger: lg,
		feed:   feed,
		swap:   swap,
		loop:   loop,
	}
}

func (f *limitFixture) createOrder(t *testing.T, side domain.OrderSide, target, amount float64) domain.LimitOrder {
	t.Helper()
	order, err := f.limits.Create(context.Background(), domain.LimitOrder{
		WalletKey:   testWallet,
		Mint:        testMint,
		Side:        side,
		TargetPrice: target,
		Amount:      amount,
		SlippageBps: 100,
	})
	require.NoError(t, err)
	return order
}

func TestLimitLoopBuyFillOpensPosition(t *testing.T) {
	f := newLimitFixture(t)
	f.swap.outRate = 200 // 0.5 SOL buys 100 tokens
	order := f.createOrder(t, domain.OrderSideBuy, 0.02, 0.5)
	f.feed.prices[testMint] = 0.015

	f.loop.Tick(context.Background())

	got, err := f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderFilled, got.Status)
	assert.NotEmpty(t, got.TxSignature)
	assert.Equal(t, testMint, got.ReceivedMint)

	pos, err := f.ledger.Get(testWallet, testMint)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	assert.InDelta(t, 100, pos.TokenAmount, 1e-9)
	assert.InDelta(t, 0.5, pos.TotalCostBasis, 1e-9)
	assert.Equal(t, "moderate", pos.StrategyName)
}

func TestLimitLoopSecondBuyMergesIntoPosition(t *testing.T) {
	f := newLimitFixture(t)
	f.swap.outRate = 200
	f.createOrder(t, domain.OrderSideBuy, 0.02, 0.5)
	f.feed.prices[testMint] = 0.015
	f.loop.Tick(context.Background())

	f.createOrder(t, domain.OrderSideBuy, 0.02, 0.5)
	f.loop.Tick(context.Background())

	pos, err := f.ledger.Get(testWallet, testMint)
	require.NoError(t, err)
	assert.InDelta(t, 200, pos.TokenAmount, 1e-9)
	assert.InDelta(t, 1.0, pos.TotalCostBasis, 1e-9)
}

func TestLimitLoopSellFillReducesPosition(t *testing.T) {
	f := newLimitFixture(t)
	require.NoError(t, f.ledger.Open(context.Background(), domain.Position{
		WalletKey:      testWallet,
		Mint:           testMint,
		EntryPrice:     0.01,
		TokenAmount:    1000,
		TotalCostBasis: 10,
		StrategyName:   "manual",
	}))
	order := f.createOrder(t, domain.OrderSideSell, 0.02, 400)
	f.feed.prices[testMint] = 0.025

	f.loop.Tick(context.Background())

	got, err := f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderFilled, got.Status)
	assert.Equal(t, domain.WrappedSOLMint, got.ReceivedMint)

	pos, err := f.ledger.Get(testWallet, testMint)
	require.NoError(t, err)
	assert.InDelta(t, 600, pos.TokenAmount, 1e-9)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
}

func TestLimitLoopFullSellClosesPosition(t *testing.T) {
	f := newLimitFixture(t)
	require.NoError(t, f.ledger.Open(context.Background(), domain.Position{
		WalletKey:      testWallet,
		Mint:           testMint,
		EntryPrice:     0.01,
		TokenAmount:    1000,
		TotalCostBasis: 10,
		StrategyName:   "manual",
	}))
	f.createOrder(t, domain.OrderSideSell, 0.02, 1000)
	f.feed.prices[testMint] = 0.025

	f.loop.Tick(context.Background())

	pos, err := f.ledger.Get(testWallet, testMint)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
}

func TestLimitLoopUntriggeredOrderUntouched(t *testing.T) {
	f := newLimitFixture(t)
	order := f.createOrder(t, domain.OrderSideBuy, 0.02, 0.5)
	f.feed.prices[testMint] = 0.03 // above the buy target

	f.loop.Tick(context.Background())

	got, err := f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderPending, got.Status)
	assert.Zero(t, f.swap.submitCount())
}

func TestLimitLoopPreBroadcastFailureRevertsToPending(t *testing.T) {
	f := newLimitFixture(t)
	order := f.createOrder(t, domain.OrderSideBuy, 0.02, 0.5)
	f.feed.prices[testMint] = 0.015
	f.swap.submitErr = assert.AnError
	f.swap.submitSig = "" // failed before broadcast

	f.loop.Tick(context.Background())

	got, err := f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderPending, got.Status)

	// The next tick retries and succeeds.
	f.swap.submitErr = nil
	f.loop.Tick(context.Background())
	got, err = f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderFilled, got.Status)
}

func TestLimitLoopAmbiguousFailureLeavesExecuting(t *testing.T) {
	f := newLimitFixture(t)
	order := f.createOrder(t, domain.OrderSideBuy, 0.02, 0.5)
	f.feed.prices[testMint] = 0.015
	f.swap.submitErr = assert.AnError
	f.swap.submitSig = "sig-maybe-landed"

	f.loop.Tick(context.Background())

	// Retrying could double-spend, so the order must stay parked in
	// executing until an operator resolves it.
	got, err := f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderExecuting, got.Status)

	f.loop.Tick(context.Background())
	got, err = f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderExecuting, got.Status)
}

func TestLimitLoopExpiredOrderNeverExecutes(t *testing.T) {
	f := newLimitFixture(t)
	expiry := testNow.Add(time.Hour)
	order, err := f.limits.Create(context.Background(), domain.LimitOrder{
		WalletKey:   testWallet,
		Mint:        testMint,
		Side:        domain.OrderSideBuy,
		TargetPrice: 0.02,
		Amount:      0.5,
		SlippageBps: 100,
		ExpiresAt:   &expiry,
	})
	require.NoError(t, err)
	f.feed.prices[testMint] = 0.015
	f.clock.Advance(2 * time.Hour)

	f.loop.Tick(context.Background())

	got, err := f.limits.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LimitOrderExpired, got.Status)
	assert.Zero(t, f.swap.submitCount())
}
