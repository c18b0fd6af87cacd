// Package orders implements the standing-order managers: price-triggered
// limit orders and time/price-distributed DCA orders. Each manager keeps an
// in-memory index of live orders over a durable store and exposes the
// ready-set selection the scheduler loops poll.
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/avelov/sellbot/internal/domain"
)

// LimitManager owns the limit order collection.
type LimitManager struct {
	mu     sync.RWMutex
	byID   map[string]domain.LimitOrder
	store  domain.LimitOrderStore
	clock  domain.Clock
	logger *slog.Logger
}

// NewLimitManager creates an empty LimitManager. Call Restore to reload
// non-terminal orders from the store.
func NewLimitManager(store domain.LimitOrderStore, clock domain.Clock, logger *slog.Logger) *LimitManager {
	return &LimitManager{
		byID:   make(map[string]domain.LimitOrder),
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "limit_orders")),
	}
}

// Restore loads pending and executing orders back into memory. Orders stuck
// in executing after a crash are kept as-is; they need manual intervention
// because a swap may have been broadcast.
func (m *LimitManager) Restore(ctx context.Context) error {
	for _, status := range []domain.LimitOrderStatus{domain.LimitOrderPending, domain.LimitOrderExecuting} {
		list, err := m.store.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("orders: restore limit %s: %w", status, err)
		}
		m.mu.Lock()
		for _, o := range list {
			m.byID[o.ID] = o
		}
		m.mu.Unlock()
	}
	return nil
}

// Create validates and records a new limit order in pending state.
func (m *LimitManager) Create(ctx context.Context, order domain.LimitOrder) (domain.LimitOrder, error) {
	if order.WalletKey == "" || order.Mint == "" {
		return domain.LimitOrder{}, fmt.Errorf("orders: create limit: wallet and mint are required: %w", domain.ErrValidation)
	}
	if order.Side != domain.OrderSideBuy && order.Side != domain.OrderSideSell {
		return domain.LimitOrder{}, fmt.Errorf("orders: create limit: unknown side %q: %w", order.Side, domain.ErrValidation)
	}
	if order.TargetPrice <= 0 || order.Amount <= 0 {
		return domain.LimitOrder{}, fmt.Errorf("orders: create limit: price and amount must be positive: %w", domain.ErrValidation)
	}
	if order.SlippageBps < 0 || order.SlippageBps > 10_000 {
		return domain.LimitOrder{}, fmt.Errorf("orders: create limit: slippage %d bps out of range: %w", order.SlippageBps, domain.ErrValidation)
	}

	order.ID = uuid.New().String()
	order.Status = domain.LimitOrderPending
	order.CreatedAt = m.clock.Now()

	if err := m.store.Create(ctx, order); err != nil {
		return domain.LimitOrder{}, fmt.Errorf("orders: persist limit %s: %v: %w", order.ID, err, domain.ErrPersistence)
	}

	m.mu.Lock()
	m.byID[order.ID] = order
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "orders: limit order created",
		slog.String("id", order.ID),
		slog.String("mint", order.Mint),
		slog.String("side", string(order.Side)),
		slog.Float64("target_price", order.TargetPrice),
	)
	return order, nil
}

// Get returns the current in-memory state of an order.
func (m *LimitManager) Get(id string) (domain.LimitOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[id]
	if !ok {
		return domain.LimitOrder{}, fmt.Errorf("orders: limit %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

// PendingMints returns the distinct mints with at least one pending order,
// so the limit loop fetches each price once per tick.
func (m *LimitManager) PendingMints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var mints []string
	for _, o := range m.byID {
		if o.Status == domain.LimitOrderPending && !seen[o.Mint] {
			seen[o.Mint] = true
			mints = append(mints, o.Mint)
		}
	}
	return mints
}

// GetReady returns pending orders for the mint whose target is at-or-better
// than currentPrice. Expiry is detected lazily here: an overdue order is
// transitioned to expired as a side effect and excluded from the ready set.
func (m *LimitManager) GetReady(ctx context.Context, mint string, currentPrice float64) []domain.LimitOrder {
	now := m.clock.Now()

	m.mu.Lock()
	var ready, expired []domain.LimitOrder
	for id, o := range m.byID {
		if o.Status != domain.LimitOrderPending || o.Mint != mint {
			continue
		}
		if o.ExpiredAt(now) {
			o.Status = domain.LimitOrderExpired
			m.byID[id] = o
			expired = append(expired, o)
			continue
		}
		if o.Triggered(currentPrice) {
			ready = append(ready, o)
		}
	}
	m.mu.Unlock()

	for _, o := range expired {
		if err := m.store.Update(ctx, o); err != nil {
			m.logger.WarnContext(ctx, "orders: persist limit expiry failed",
				slog.String("id", o.ID),
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.InfoContext(ctx, "orders: limit order expired",
				slog.String("id", o.ID),
				slog.String("mint", o.Mint),
			)
		}
	}
	return ready
}

// MarkExecuting transitions a pending order to executing before the swap is
// submitted, so a concurrent tick cannot pick it up again.
func (m *LimitManager) MarkExecuting(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.LimitOrderPending, func(o *domain.LimitOrder) {
		o.Status = domain.LimitOrderExecuting
	})
}

// RevertToPending returns an executing order to the pending pool after a
// failure that provably happened before broadcast, so the next tick retries.
func (m *LimitManager) RevertToPending(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.LimitOrderExecuting, func(o *domain.LimitOrder) {
		o.Status = domain.LimitOrderPending
	})
}

// MarkFilled finalizes an executing order with the transaction signature and
// the mint that was credited.
func (m *LimitManager) MarkFilled(ctx context.Context, id, signature, receivedMint string) error {
	now := m.clock.Now()
	err := m.transition(ctx, id, domain.LimitOrderExecuting, func(o *domain.LimitOrder) {
		o.Status = domain.LimitOrderFilled
		o.TxSignature = signature
		o.ReceivedMint = receivedMint
		o.FilledAt = &now
	})
	if err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "orders: limit order filled",
		slog.String("id", id),
		slog.String("signature", signature),
	)
	return nil
}

// Cancel cancels a pending order. It fails with ErrInvalidState while the
// order is executing: a swap may be in flight.
func (m *LimitManager) Cancel(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.LimitOrderPending, func(o *domain.LimitOrder) {
		o.Status = domain.LimitOrderCancelled
	})
}

// transition applies fn to the order iff its status equals from, then
// persists. The in-memory change is rolled back when the durable write fails
// so status transitions stay atomic from the caller's point of view.
func (m *LimitManager) transition(ctx context.Context, id string, from domain.LimitOrderStatus, fn func(*domain.LimitOrder)) error {
	m.mu.Lock()
	o, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("orders: limit %s: %w", id, domain.ErrNotFound)
	}
	if o.Status != from {
		m.mu.Unlock()
		return fmt.Errorf("orders: limit %s is %s: %w", id, o.Status, domain.ErrInvalidState)
	}
	prev := o
	fn(&o)
	m.byID[id] = o
	m.mu.Unlock()

	if err := m.store.Update(ctx, o); err != nil {
		m.mu.Lock()
		m.byID[id] = prev
		m.mu.Unlock()
		return fmt.Errorf("orders: persist limit %s: %v: %w", id, err, domain.ErrPersistence)
	}
	return nil
}

// Cleanup archives nothing itself; it deletes terminal orders older than the
// retention window from the store and drops them from memory, returning the
// deleted rows so the housekeeping loop can archive them first.
func (m *LimitManager) Cleanup(ctx context.Context, retentionDays int) ([]domain.LimitOrder, error) {
	cutoff := m.clock.Now().AddDate(0, 0, -retentionDays)
	deleted, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("orders: cleanup limit: %w", err)
	}

	m.mu.Lock()
	for _, o := range deleted {
		delete(m.byID, o.ID)
	}
	m.mu.Unlock()

	if len(deleted) > 0 {
		m.logger.InfoContext(ctx, "orders: limit orders cleaned up",
			slog.Int("count", len(deleted)),
			slog.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
