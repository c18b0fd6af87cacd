package domain

import (
	"context"
	"time"
)

// PositionStore persists positions, keyed by (wallet, mint).
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, wallet, mint string) (Position, error)
	ListActive(ctx context.Context) ([]Position, error)
}

// LimitOrderStore persists limit orders.
type LimitOrderStore interface {
	Create(ctx context.Context, order LimitOrder) error
	Update(ctx context.Context, order LimitOrder) error
	Get(ctx context.Context, id string) (LimitOrder, error)
	ListByStatus(ctx context.Context, status LimitOrderStatus) ([]LimitOrder, error)
	// DeleteTerminalBefore removes terminal orders older than cutoff and
	// returns the deleted rows so callers can archive them.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]LimitOrder, error)
}

// DCAOrderStore persists DCA orders together with their buy execution log.
type DCAOrderStore interface {
	Create(ctx context.Context, order DCAOrder) error
	Update(ctx context.Context, order DCAOrder) error
	Get(ctx context.Context, id string) (DCAOrder, error)
	ListByStatus(ctx context.Context, status DCAOrderStatus) ([]DCAOrder, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) ([]DCAOrder, error)
}

// PendingSellStore persists the approval queue.
type PendingSellStore interface {
	Create(ctx context.Context, ps PendingSell) error
	Update(ctx context.Context, ps PendingSell) error
	Get(ctx context.Context, id string) (PendingSell, error)
	ListByStatus(ctx context.Context, status PendingSellStatus) ([]PendingSell, error)
}
