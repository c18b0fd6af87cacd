// Package scheduler runs the timer-driven loops: price ticks with exit
// evaluation, limit order execution, DCA buys, and housekeeping. Loops are
// independent, share no locks, and tolerate being individually disabled; an
// errgroup-based orchestrator ties their lifetimes together.
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
)

// SellExecutor performs triggered exits for bot-custodied wallets: quote the
// tokens into SOL, hand off to the signer, and record the outcome in the
// ledger. A distributed lock per position key guarantees one writer per
// position even with overlapping ticks or multiple instances.
type SellExecutor struct {
	ledger      *ledger.Ledger
	swap        domain.SwapExecutor
	locks       domain.LockManager
	notifier    *notify.Notifier
	slippageBps int
	lockTTL     time.Duration
	logger      *slog.Logger
}

// NewSellExecutor creates a SellExecutor.
func NewSellExecutor(
	lg *ledger.Ledger,
	swap domain.SwapExecutor,
	locks domain.LockManager,
	notifier *notify.Notifier,
	slippageBps int,
	lockTTL time.Duration,
	logger *slog.Logger,
) *SellExecutor {
	return &SellExecutor{
		ledger:      lg,
		swap:        swap,
		locks:       locks,
		notifier:    notifier,
		slippageBps: slippageBps,
		lockTTL:     lockTTL,
		logger:      logger.With(slog.String("component", "sell_executor")),
	}
}

// ExecuteExit sells dec.SellPercent of the position and records the result.
// It returns domain.ErrLockHeld when another tick already owns the position;
// callers skip and the next tick re-evaluates.
func (e *SellExecutor) ExecuteExit(ctx context.Context, pos domain.Position, dec domain.ExitDecision) error {
	unlock, err := e.locks.Acquire(ctx, pos.Key(), e.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return err
		}
		return fmt.Errorf("scheduler: lock %s: %w", pos.Key(), err)
	}
	defer unlock()

	// Re-read under the lock; a concurrent fill may have changed the
	// position since evaluation.
	pos, err = e.ledger.Get(pos.WalletKey, pos.Mint)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionStatusActive {
		return fmt.Errorf("scheduler: position %s is %s: %w", pos.Key(), pos.Status, domain.ErrInvalidState)
	}

	sellTokens := pos.TokenAmount * dec.SellPercent / 100
	quote, err := e.swap.Quote(ctx, pos.Mint, domain.WrappedSOLMint, sellTokens, e.slippageBps)
	if err != nil {
		return fmt.Errorf("scheduler: quote exit %s: %w", pos.Key(), err)
	}

	signature, err := e.swap.BuildAndSubmit(ctx, quote, signerKeyFor(pos))
	if err != nil {
		if signature != "" {
			// The swap may be on-chain but we cannot prove it. Keep the
			// position untouched and page the operator with enough detail
			// for manual repair.
			e.logger.ErrorContext(ctx, "scheduler: exit submit ambiguous",
				slog.String("position", pos.Key()),
				slog.String("signature", signature),
				slog.String("error", err.Error()),
			)
			e.notifier.ExecutionError(ctx, "exit "+pos.Key()+" tx "+signature, err)
		}
		return fmt.Errorf("scheduler: submit exit %s: %w", pos.Key(), err)
	}

	if err := e.record(ctx, pos, dec); err != nil {
		// Broadcast succeeded, persistence did not. Manual-repair case.
		e.logger.ErrorContext(ctx, "scheduler: exit persisted state diverged",
			slog.String("position", pos.Key()),
			slog.String("signature", signature),
			slog.String("error", err.Error()),
		)
		e.notifier.ExecutionError(ctx, "exit "+pos.Key()+" tx "+signature, err)
		return err
	}

	e.logger.InfoContext(ctx, "scheduler: exit executed",
		slog.String("position", pos.Key()),
		slog.Float64("sell_percent", dec.SellPercent),
		slog.String("reason", dec.Reason),
		slog.String("signature", signature),
	)
	e.notifier.ExitTriggered(ctx, pos, dec, false)
	return nil
}

// RecordApprovedSell books an externally-broadcast sell (the approval flow)
// into the ledger.
func (e *SellExecutor) RecordApprovedSell(ctx context.Context, ps domain.PendingSell) error {
	pos, err := e.ledger.Get(ps.WalletKey, ps.Mint)
	if err != nil {
		return err
	}
	return e.record(ctx, pos, domain.ExitDecision{
		ShouldExit:  true,
		SellPercent: ps.SellPercent,
		Reason:      ps.Reason,
	})
}

func (e *SellExecutor) record(ctx context.Context, pos domain.Position, dec domain.ExitDecision) error {
	if dec.SellPercent >= 100 {
		return e.ledger.Close(ctx, pos.WalletKey, pos.Mint)
	}
	_, err := e.ledger.AdvanceStage(ctx, pos.WalletKey, pos.Mint, dec.SellPercent)
	return err
}

// signerKeyFor picks the wallet the signer service should use: the dedicated
// execution wallet when one is configured, else the position's own wallet.
func signerKeyFor(pos domain.Position) string {
	if pos.ExecutionWalletKey != "" {
		return pos.ExecutionWalletKey
	}
	return pos.WalletKey
}
