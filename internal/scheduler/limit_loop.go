package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/ledger"
	"github.com/avelov/sellbot/internal/notify"
	"github.com/avelov/sellbot/internal/orders"
)

// LimitLoop polls the limit order ready-set: one price lookup per distinct
// mint per tick, then each triggered order is executed and its fill booked
// into the position ledger.
type LimitLoop struct {
	limits          *orders.LimitManager
	ledger          *ledger.Ledger
	feed            domain.PriceFeed
	swap            domain.SwapExecutor
	notifier        *notify.Notifier
	clock           domain.Clock
	interval        time.Duration
	defaultStrategy string
	logger          *slog.Logger
}

// NewLimitLoop creates a LimitLoop. defaultStrategy names the exit strategy
// assigned to positions opened by limit buy fills.
func NewLimitLoop(
	limits *orders.LimitManager,
	lg *ledger.Ledger,
	feed domain.PriceFeed,
	swap domain.SwapExecutor,
	notifier *notify.Notifier,
	clock domain.Clock,
	interval time.Duration,
	defaultStrategy string,
	logger *slog.Logger,
) *LimitLoop {
	return &LimitLoop{
		limits:          limits,
		ledger:          lg,
		feed:            feed,
		swap:            swap,
		notifier:        notifier,
		clock:           clock,
		interval:        interval,
		defaultStrategy: defaultStrategy,
		logger:          logger.With(slog.String("component", "limit_loop")),
	}
}

// Run ticks until ctx is cancelled.
func (l *LimitLoop) Run(ctx context.Context) error {
	return runTicker(ctx, l.interval, l.Tick)
}

// Tick executes every limit order triggered by the current prices.
func (l *LimitLoop) Tick(ctx context.Context) {
	mints := l.limits.PendingMints()
	if len(mints) == 0 {
		return
	}

	prices, err := l.feed.GetPrices(ctx, mints)
	if err != nil {
		l.logger.WarnContext(ctx, "scheduler: price fetch failed", slog.String("error", err.Error()))
		if len(prices) == 0 {
			return
		}
	}

	for _, mint := range mints {
		price, ok := prices[mint]
		if !ok || domain.IsPlaceholderPrice(price) {
			continue
		}
		for _, order := range l.limits.GetReady(ctx, mint, price) {
			if err := l.execute(ctx, order, price); err != nil {
				l.logger.ErrorContext(ctx, "scheduler: limit execution failed",
					slog.String("order_id", order.ID),
					slog.String("mint", order.Mint),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// execute runs a single triggered order through executing → filled. A failure
// before broadcast reverts the order to pending for the next tick; a failure
// after broadcast leaves it executing and pages the operator, since retrying
// could double-spend.
func (l *LimitLoop) execute(ctx context.Context, order domain.LimitOrder, price float64) error {
	if err := l.limits.MarkExecuting(ctx, order.ID); err != nil {
		return err
	}

	inputMint, outputMint := domain.WrappedSOLMint, order.Mint
	if order.Side == domain.OrderSideSell {
		inputMint, outputMint = order.Mint, domain.WrappedSOLMint
	}

	quote, err := l.swap.Quote(ctx, inputMint, outputMint, order.Amount, order.SlippageBps)
	if err != nil {
		l.revert(ctx, order.ID)
		return fmt.Errorf("scheduler: quote limit %s: %w", order.ID, err)
	}

	signature, err := l.swap.BuildAndSubmit(ctx, quote, limitSignerKey(order))
	if err != nil {
		if signature == "" {
			l.revert(ctx, order.ID)
			return fmt.Errorf("scheduler: submit limit %s: %w", order.ID, err)
		}
		l.notifier.ExecutionError(ctx, "limit order "+order.ID+" tx "+signature, err)
		return fmt.Errorf("scheduler: submit limit %s ambiguous, tx %s: %w", order.ID, signature, err)
	}

	if err := l.limits.MarkFilled(ctx, order.ID, signature, outputMint); err != nil {
		l.notifier.ExecutionError(ctx, "limit order "+order.ID+" tx "+signature, err)
		return err
	}

	filled := order
	filled.Status = domain.LimitOrderFilled
	filled.TxSignature = signature
	filled.ReceivedMint = outputMint
	l.book(ctx, filled, quote, price)
	l.notifier.LimitFilled(ctx, filled, signature)
	return nil
}

// book records the fill's effect on the position ledger. Ledger failures here
// do not fail the order; the fill already happened on-chain.
func (l *LimitLoop) book(ctx context.Context, order domain.LimitOrder, quote domain.SwapQuote, price float64) {
	var err error
	switch order.Side {
	case domain.OrderSideBuy:
		err = bookBuy(ctx, l.ledger, bookBuyParams{
			WalletKey:          order.WalletKey,
			Mint:               order.Mint,
			Tokens:             quote.OutAmount,
			CostSOL:            order.Amount,
			Price:              price,
			StrategyName:       l.defaultStrategy,
			IsPrivate:          order.IsPrivate,
			ExecutionWalletKey: order.ExecutionWalletKey,
			Now:                l.clock.Now(),
		})
	case domain.OrderSideSell:
		err = l.bookSell(ctx, order)
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "scheduler: ledger update after fill failed",
			slog.String("order_id", order.ID),
			slog.String("signature", order.TxSignature),
			slog.String("error", err.Error()),
		)
		l.notifier.ExecutionError(ctx, "limit fill "+order.ID+" tx "+order.TxSignature, err)
	}
}

func (l *LimitLoop) bookSell(ctx context.Context, order domain.LimitOrder) error {
	pos, err := l.ledger.Get(order.WalletKey, order.Mint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // standalone sell, no tracked position
		}
		return err
	}
	if pos.TokenAmount <= 0 {
		return nil
	}
	pct := order.Amount / pos.TokenAmount * 100
	if pct >= 100 {
		return l.ledger.Close(ctx, order.WalletKey, order.Mint)
	}
	_, err = l.ledger.AdvanceStage(ctx, order.WalletKey, order.Mint, pct)
	return err
}

func (l *LimitLoop) revert(ctx context.Context, id string) {
	if err := l.limits.RevertToPending(ctx, id); err != nil {
		l.logger.ErrorContext(ctx, "scheduler: revert to pending failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func limitSignerKey(order domain.LimitOrder) string {
	if order.ExecutionWalletKey != "" {
		return order.ExecutionWalletKey
	}
	return order.WalletKey
}
