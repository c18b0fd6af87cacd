package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/pending"
)

// ApprovalListener consumes approval decisions from the bus and resolves the
// matching pending sells. Approvals carry the signature of the transaction
// the co-signer broadcast; the listener only does the bookkeeping.
type ApprovalListener struct {
	bus      domain.ApprovalBus
	queue    *pending.Queue
	executor *SellExecutor
	logger   *slog.Logger
}

// NewApprovalListener creates an ApprovalListener.
func NewApprovalListener(bus domain.ApprovalBus, queue *pending.Queue, executor *SellExecutor, logger *slog.Logger) *ApprovalListener {
	return &ApprovalListener{
		bus:      bus,
		queue:    queue,
		executor: executor,
		logger:   logger.With(slog.String("component", "approval_listener")),
	}
}

// Run consumes messages until ctx is cancelled.
func (l *ApprovalListener) Run(ctx context.Context) error {
	msgs, err := l.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: subscribe approvals: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			if err := l.handle(ctx, msg); err != nil {
				l.logger.ErrorContext(ctx, "scheduler: approval handling failed",
					slog.String("pending_sell_id", msg.PendingSellID),
					slog.String("action", string(msg.Action)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (l *ApprovalListener) handle(ctx context.Context, msg domain.ApprovalMessage) error {
	switch msg.Action {
	case domain.ApprovalApprove:
		return l.approve(ctx, msg)
	case domain.ApprovalCancel:
		return l.queue.Cancel(ctx, msg.PendingSellID)
	default:
		return fmt.Errorf("scheduler: unknown approval action %q: %w", msg.Action, domain.ErrValidation)
	}
}

// approve walks the entry through executing → executed and books the sell
// into the ledger. MarkExecuting refuses overdue entries, so a late approval
// of an expired sell is rejected here rather than executed.
func (l *ApprovalListener) approve(ctx context.Context, msg domain.ApprovalMessage) error {
	if err := l.queue.MarkExecuting(ctx, msg.PendingSellID); err != nil {
		return err
	}

	ps, err := l.queue.Get(msg.PendingSellID)
	if err != nil {
		return err
	}

	if err := l.queue.MarkExecuted(ctx, msg.PendingSellID, msg.Signature); err != nil {
		return err
	}

	if err := l.executor.RecordApprovedSell(ctx, ps); err != nil {
		l.logger.ErrorContext(ctx, "scheduler: ledger update after approved sell failed",
			slog.String("pending_sell_id", ps.ID),
			slog.String("position", domain.PositionKey(ps.WalletKey, ps.Mint)),
			slog.String("signature", msg.Signature),
			slog.String("error", err.Error()),
		)
		return err
	}

	l.logger.InfoContext(ctx, "scheduler: approved sell executed",
		slog.String("pending_sell_id", ps.ID),
		slog.String("position", domain.PositionKey(ps.WalletKey, ps.Mint)),
		slog.String("signature", msg.Signature),
	)
	return nil
}
