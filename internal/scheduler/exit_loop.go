package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/engine"
	"github.com/avelov/sellbot/internal/ledger"
	"github.com/avelov/sellbot/internal/notify"
	"github.com/avelov/sellbot/internal/pending"
)

// Mode selects what happens when a position's exit strategy triggers.
type Mode string

const (
	// ModeAuto sells immediately with the bot-custodied wallet.
	ModeAuto Mode = "auto"
	// ModeApproval queues a pending sell and waits for a human co-signer.
	ModeApproval Mode = "approval"
	// ModeMonitor evaluates and logs but never trades.
	ModeMonitor Mode = "monitor"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeApproval || m == ModeMonitor
}

// ExitLoop is the shortest-interval loop: refresh prices for every mint with
// an open position, update the ledger, evaluate exit strategies, and act on
// triggers according to the configured mode.
type ExitLoop struct {
	ledger      *ledger.Ledger
	feed        domain.PriceFeed
	executor    *SellExecutor
	queue       *pending.Queue
	swap        domain.SwapExecutor
	notifier    *notify.Notifier
	clock       domain.Clock
	mode        Mode
	interval    time.Duration
	slippageBps int
	logger      *slog.Logger

	// notified remembers the last decision alerted per position in monitor
	// mode, so a condition holding across ticks pages the operator once.
	// Only the tick goroutine touches it.
	notified map[string]string
}

// ExitLoopConfig carries the knobs for NewExitLoop.
type ExitLoopConfig struct {
	Mode        Mode
	Interval    time.Duration
	SlippageBps int
}

// NewExitLoop creates an ExitLoop. queue may be nil in pure auto mode as long
// as no position is marked private.
func NewExitLoop(
	lg *ledger.Ledger,
	feed domain.PriceFeed,
	executor *SellExecutor,
	queue *pending.Queue,
	swap domain.SwapExecutor,
	notifier *notify.Notifier,
	clock domain.Clock,
	cfg ExitLoopConfig,
	logger *slog.Logger,
) *ExitLoop {
	return &ExitLoop{
		ledger:      lg,
		feed:        feed,
		executor:    executor,
		queue:       queue,
		swap:        swap,
		notifier:    notifier,
		clock:       clock,
		mode:        cfg.Mode,
		interval:    cfg.Interval,
		slippageBps: cfg.SlippageBps,
		logger:      logger.With(slog.String("component", "exit_loop")),
		notified:    make(map[string]string),
	}
}

// Run ticks until ctx is cancelled.
func (l *ExitLoop) Run(ctx context.Context) error {
	return runTicker(ctx, l.interval, l.Tick)
}

// Tick performs one full evaluation pass. Failures on individual positions
// are logged and skipped; the next tick retries naturally.
func (l *ExitLoop) Tick(ctx context.Context) {
	mints := l.ledger.ActiveMints()
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

	now := l.clock.Now()
	for _, pos := range l.ledger.Active() {
		price, ok := prices[pos.Mint]
		if !ok || domain.IsPlaceholderPrice(price) {
			continue
		}

		updated, err := l.ledger.UpdatePrice(ctx, pos.WalletKey, pos.Mint, price)
		if err != nil {
			l.logger.WarnContext(ctx, "scheduler: price update skipped",
				slog.String("position", pos.Key()),
				slog.String("error", err.Error()),
			)
			continue
		}

		dec := engine.Evaluate(updated, price, domain.StrategyByName(updated.StrategyName), now)
		if !dec.ShouldExit {
			delete(l.notified, pos.Key())
			continue
		}
		l.handleTrigger(ctx, updated, dec, price)
	}
}

func (l *ExitLoop) handleTrigger(ctx context.Context, pos domain.Position, dec domain.ExitDecision, price float64) {
	l.logger.InfoContext(ctx, "scheduler: exit triggered",
		slog.String("position", pos.Key()),
		slog.String("decision", dec.String()),
		slog.Float64("price", price),
	)

	switch {
	case l.mode == ModeMonitor:
		if l.notified[pos.Key()] == dec.String() {
			return
		}
		l.notified[pos.Key()] = dec.String()
		l.notifier.ExitTriggered(ctx, pos, dec, false)

	case l.mode == ModeApproval || pos.IsPrivate:
		l.queueForApproval(ctx, pos, dec, price)

	default:
		err := l.executor.ExecuteExit(ctx, pos, dec)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrLockHeld):
			l.logger.DebugContext(ctx, "scheduler: position locked, skipping",
				slog.String("position", pos.Key()))
		default:
			l.logger.ErrorContext(ctx, "scheduler: exit failed",
				slog.String("position", pos.Key()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// queueForApproval builds an unsigned sell transaction and parks it in the
// pending queue. Duplicate triggers while one entry is outstanding are
// expected on every tick and dropped silently.
func (l *ExitLoop) queueForApproval(ctx context.Context, pos domain.Position, dec domain.ExitDecision, price float64) {
	ps := domain.PendingSell{
		WalletKey:     pos.WalletKey,
		Mint:          pos.Mint,
		SellPercent:   dec.SellPercent,
		PriceAtDetect: price,
		ProfitPct:     pos.ProfitPercent(price),
		Reason:        dec.Reason,
	}

	sellTokens := pos.TokenAmount * dec.SellPercent / 100
	quote, err := l.swap.Quote(ctx, pos.Mint, domain.WrappedSOLMint, sellTokens, l.slippageBps)
	if err == nil {
		// The payload is advisory; approval proceeds without it when the
		// swap API is down.
		ps.TxPayload, err = l.swap.BuildUnsigned(ctx, quote, signerKeyFor(pos))
	}
	if err != nil {
		l.logger.WarnContext(ctx, "scheduler: unsigned payload unavailable",
			slog.String("position", pos.Key()),
			slog.String("error", err.Error()),
		)
	}

	created, err := l.queue.Create(ctx, ps)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return // one already awaiting approval
		}
		l.logger.ErrorContext(ctx, "scheduler: pending sell not queued",
			slog.String("position", pos.Key()),
			slog.String("error", err.Error()),
		)
		return
	}
	l.notifier.PendingSellQueued(ctx, created)
	l.notifier.ExitTriggered(ctx, pos, dec, true)
}
