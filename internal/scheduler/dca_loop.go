package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/ledger"
	"github.com/avelov/sellbot/internal/notify"
	"github.com/avelov/sellbot/internal/orders"
)

// DCALoop polls the DCA ready-set and performs due buys. Each buy spends the
// amount the order's strategy computes from the current price, then the
// execution is recorded on the order and folded into the position ledger.
type DCALoop struct {
	dcas            *orders.DCAManager
	ledger          *ledger.Ledger
	feed            domain.PriceFeed
	swap            domain.SwapExecutor
	notifier        *notify.Notifier
	clock           domain.Clock
	interval        time.Duration
	defaultStrategy string
	logger          *slog.Logger
}

// NewDCALoop creates a DCALoop.
func NewDCALoop(
	dcas *orders.DCAManager,
	lg *ledger.Ledger,
	feed domain.PriceFeed,
	swap domain.SwapExecutor,
	notifier *notify.Notifier,
	clock domain.Clock,
	interval time.Duration,
	defaultStrategy string,
	logger *slog.Logger,
) *DCALoop {
	return &DCALoop{
		dcas:            dcas,
		ledger:          lg,
		feed:            feed,
		swap:            swap,
		notifier:        notifier,
		clock:           clock,
		interval:        interval,
		defaultStrategy: defaultStrategy,
		logger:          logger.With(slog.String("component", "dca_loop")),
	}
}

// Run ticks until ctx is cancelled.
func (l *DCALoop) Run(ctx context.Context) error {
	return runTicker(ctx, l.interval, l.Tick)
}

// Tick performs every due buy. A failed buy is not recorded; the order stays
// due and the next tick retries it.
func (l *DCALoop) Tick(ctx context.Context) {
	ready := l.dcas.GetReadyForBuy(l.clock.Now())
	if len(ready) == 0 {
		return
	}

	mints := make([]string, 0, len(ready))
	seen := make(map[string]bool)
	for _, o := range ready {
		if !seen[o.Mint] {
			seen[o.Mint] = true
			mints = append(mints, o.Mint)
		}
	}

	prices, err := l.feed.GetPrices(ctx, mints)
	if err != nil {
		l.logger.WarnContext(ctx, "scheduler: price fetch failed", slog.String("error", err.Error()))
		if len(prices) == 0 {
			return
		}
	}

	for _, order := range ready {
		if err := l.executeBuy(ctx, order, prices[order.Mint]); err != nil {
			l.logger.ErrorContext(ctx, "scheduler: dca buy failed",
				slog.String("order_id", order.ID),
				slog.String("mint", order.Mint),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *DCALoop) executeBuy(ctx context.Context, order domain.DCAOrder, price float64) error {
	if domain.IsPlaceholderPrice(price) {
		// A placeholder tick must not reach price-based sizing or the
		// ledger. Size the buy as an even split and price it off the quote.
		price = 0
	}
	spendSOL := orders.CalculateNextBuyAmount(order, price)
	if spendSOL <= 0 {
		return fmt.Errorf("scheduler: dca %s: no budget left: %w", order.ID, domain.ErrInvalidState)
	}

	quote, err := l.swap.Quote(ctx, domain.WrappedSOLMint, order.Mint, spendSOL, order.SlippageBps)
	if err != nil {
		return fmt.Errorf("scheduler: quote dca %s: %w", order.ID, err)
	}

	signature, err := l.swap.BuildAndSubmit(ctx, quote, dcaSignerKey(order))
	if err != nil && signature == "" {
		return fmt.Errorf("scheduler: submit dca %s: %w", order.ID, err)
	}
	if err != nil {
		// The transaction may have landed. Record the buy on the strength of
		// the returned signature rather than risk double-spending the slice,
		// and page the operator to verify.
		l.logger.ErrorContext(ctx, "scheduler: dca submit ambiguous, recording buy",
			slog.String("order_id", order.ID),
			slog.String("signature", signature),
			slog.String("error", err.Error()),
		)
		l.notifier.ExecutionError(ctx, "dca order "+order.ID+" tx "+signature, err)
	}

	execPrice := price
	if execPrice <= 0 && quote.OutAmount > 0 {
		execPrice = spendSOL / quote.OutAmount
	}

	exec := domain.BuyExecution{
		Index:       order.CurrentBuyIndex,
		Timestamp:   l.clock.Now(),
		SpentSOL:    spendSOL,
		Received:    quote.OutAmount,
		Price:       execPrice,
		TxSignature: signature,
	}
	updated, err := l.dcas.RecordBuyExecution(ctx, order.ID, exec)
	if err != nil {
		l.notifier.ExecutionError(ctx, "dca order "+order.ID+" tx "+signature, err)
		return err
	}

	if err := bookBuy(ctx, l.ledger, bookBuyParams{
		WalletKey:          order.WalletKey,
		Mint:               order.Mint,
		Tokens:             quote.OutAmount,
		CostSOL:            spendSOL,
		Price:              execPrice,
		StrategyName:       l.defaultStrategy,
		IsPrivate:          order.IsPrivate,
		ExecutionWalletKey: order.ExecutionWalletKey,
		Now:                l.clock.Now(),
	}); err != nil {
		l.logger.ErrorContext(ctx, "scheduler: ledger update after dca buy failed",
			slog.String("order_id", order.ID),
			slog.String("signature", signature),
			slog.String("error", err.Error()),
		)
		l.notifier.ExecutionError(ctx, "dca buy "+order.ID+" tx "+signature, err)
	}

	l.notifier.DCABuyExecuted(ctx, updated, exec)
	return nil
}

func dcaSignerKey(order domain.DCAOrder) string {
	if order.ExecutionWalletKey != "" {
		return order.ExecutionWalletKey
	}
	return order.WalletKey
}
