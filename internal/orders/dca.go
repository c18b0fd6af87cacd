package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelov/sellbot/internal/domain"
)

// DCA order creation bounds.
const (
	MinDCABuys        = 2
	MaxDCABuys        = 100
	MinDCAIntervalMin = 1

	// Price-based sizing clamps: spend up to 2x the even split as price
	// falls below the reference, down to 0.5x as it rises above.
	dcaScaleMin = 0.5
	dcaScaleMax = 2.0
)

// DCAManager owns the DCA order collection.
type DCAManager struct {
	mu     sync.RWMutex
	byID   map[string]domain.DCAOrder
	store  domain.DCAOrderStore
	clock  domain.Clock
	logger *slog.Logger
}

// NewDCAManager creates an empty DCAManager. Call Restore to reload live
// orders from the store.
func NewDCAManager(store domain.DCAOrderStore, clock domain.Clock, logger *slog.Logger) *DCAManager {
	return &DCAManager{
		byID:   make(map[string]domain.DCAOrder),
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "dca_orders")),
	}
}

// Restore loads active and paused orders back into memory.
func (m *DCAManager) Restore(ctx context.Context) error {
	for _, status := range []domain.DCAOrderStatus{domain.DCAActive, domain.DCAPaused} {
		list, err := m.store.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("orders: restore dca %s: %w", status, err)
		}
		m.mu.Lock()
		for _, o := range list {
			m.byID[o.ID] = o
		}
		m.mu.Unlock()
	}
	return nil
}

// Create validates and records a new DCA order. The first buy is scheduled
// immediately.
func (m *DCAManager) Create(ctx context.Context, order domain.DCAOrder) (domain.DCAOrder, error) {
	if order.WalletKey == "" || order.Mint == "" {
		return domain.DCAOrder{}, fmt.Errorf("orders: create dca: wallet and mint are required: %w", domain.ErrValidation)
	}
	if order.TotalBudget <= 0 {
		return domain.DCAOrder{}, fmt.Errorf("orders: create dca: budget must be positive: %w", domain.ErrValidation)
	}
	if order.NumberOfBuys < MinDCABuys || order.NumberOfBuys > MaxDCABuys {
		return domain.DCAOrder{}, fmt.Errorf("orders: create dca: number of buys %d outside [%d,%d]: %w",
			order.NumberOfBuys, MinDCABuys, MaxDCABuys, domain.ErrValidation)
	}
	if order.IntervalMinutes < MinDCAIntervalMin {
		return domain.DCAOrder{}, fmt.Errorf("orders: create dca: interval %d min below minimum: %w", order.IntervalMinutes, domain.ErrValidation)
	}
	switch order.StrategyType {
	case domain.DCATimeBased, domain.DCAPriceBased:
	case "":
		order.StrategyType = domain.DCATimeBased
	default:
		return domain.DCAOrder{}, fmt.Errorf("orders: create dca: unknown strategy type %q: %w", order.StrategyType, domain.ErrValidation)
	}

	now := m.clock.Now()
	order.ID = uuid.New().String()
	order.Status = domain.DCAActive
	order.CurrentBuyIndex = 0
	order.Executions = nil
	order.CreatedAt = now
	order.NextBuyAt = &now

	if err := m.store.Create(ctx, order); err != nil {
		return domain.DCAOrder{}, fmt.Errorf("orders: persist dca %s: %v: %w", order.ID, err, domain.ErrPersistence)
	}

	m.mu.Lock()
	m.byID[order.ID] = order
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "orders: dca order created",
		slog.String("id", order.ID),
		slog.String("mint", order.Mint),
		slog.Float64("budget_sol", order.TotalBudget),
		slog.Int("buys", order.NumberOfBuys),
		slog.Int("interval_min", order.IntervalMinutes),
	)
	return order, nil
}

// Get returns the current in-memory state of an order.
func (m *DCAManager) Get(id string) (domain.DCAOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[id]
	if !ok {
		return domain.DCAOrder{}, fmt.Errorf("orders: dca %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

// ActiveMints returns the distinct mints with at least one active order.
func (m *DCAManager) ActiveMints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var mints []string
	for _, o := range m.byID {
		if o.Status == domain.DCAActive && !seen[o.Mint] {
			seen[o.Mint] = true
			mints = append(mints, o.Mint)
		}
	}
	return mints
}

// GetReadyForBuy returns active orders whose next buy is due as of now.
func (m *DCAManager) GetReadyForBuy(now time.Time) []domain.DCAOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ready []domain.DCAOrder
	for _, o := range m.byID {
		if o.ReadyForBuy(now) {
			ready = append(ready, o)
		}
	}
	return ready
}

// CalculateNextBuyAmount returns how much SOL the next buy should spend.
// Time-based orders split the remaining budget evenly across remaining buys.
// Price-based orders scale that even split by how far the current price sits
// from the reference, clamped to [0.5x, 2.0x]; with no reference or no
// current price the even split is used as-is. currentPrice <= 0 means
// unavailable.
func CalculateNextBuyAmount(order domain.DCAOrder, currentPrice float64) float64 {
	remaining := order.RemainingBuys()
	if remaining <= 0 {
		return 0
	}
	evenSplit := (order.TotalBudget - order.SpentSOL()) / float64(remaining)

	if order.StrategyType != domain.DCAPriceBased || order.ReferencePrice <= 0 || currentPrice <= 0 {
		return evenSplit
	}

	scale := 1 - 2*(currentPrice-order.ReferencePrice)/order.ReferencePrice
	if scale < dcaScaleMin {
		scale = dcaScaleMin
	}
	if scale > dcaScaleMax {
		scale = dcaScaleMax
	}
	return evenSplit * scale
}

// RecordBuyExecution appends a completed buy to the log, advances the index,
// schedules the next buy relative to the execution timestamp, and completes
// the order once every buy is done.
func (m *DCAManager) RecordBuyExecution(ctx context.Context, id string, exec domain.BuyExecution) (domain.DCAOrder, error) {
	m.mu.Lock()
	o, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return domain.DCAOrder{}, fmt.Errorf("orders: dca %s: %w", id, domain.ErrNotFound)
	}
	if o.Status != domain.DCAActive {
		status := o.Status
		m.mu.Unlock()
		return domain.DCAOrder{}, fmt.Errorf("orders: dca %s is %s: %w", id, status, domain.ErrInvalidState)
	}

	prev := o
	exec.Index = o.CurrentBuyIndex
	o.Executions = append(append([]domain.BuyExecution(nil), o.Executions...), exec)
	o.CurrentBuyIndex++
	ts := exec.Timestamp
	o.LastBuyAt = &ts

	if o.CurrentBuyIndex >= o.NumberOfBuys {
		o.Status = domain.DCACompleted
		o.NextBuyAt = nil
		completedAt := m.clock.Now()
		o.CompletedAt = &completedAt
	} else {
		next := exec.Timestamp.Add(time.Duration(o.IntervalMinutes) * time.Minute)
		o.NextBuyAt = &next
	}
	m.byID[id] = o
	m.mu.Unlock()

	if err := m.store.Update(ctx, o); err != nil {
		m.mu.Lock()
		m.byID[id] = prev
		m.mu.Unlock()
		return domain.DCAOrder{}, fmt.Errorf("orders: persist dca buy %s: %v: %w", id, err, domain.ErrPersistence)
	}

	m.logger.InfoContext(ctx, "orders: dca buy recorded",
		slog.String("id", id),
		slog.Int("index", exec.Index),
		slog.Float64("spent_sol", exec.SpentSOL),
		slog.Float64("price", exec.Price),
		slog.Bool("completed", o.Status == domain.DCACompleted),
	)
	return o, nil
}

// Pause suspends an active order.
func (m *DCAManager) Pause(ctx context.Context, id string) error {
	return m.transition(ctx, id, domain.DCAActive, func(o *domain.DCAOrder) {
		o.Status = domain.DCAPaused
		o.NextBuyAt = nil
	})
}

// Resume reactivates a paused order. The next buy is scheduled one interval
// from now; missed buys are not caught up.
func (m *DCAManager) Resume(ctx context.Context, id string) error {
	now := m.clock.Now()
	return m.transition(ctx, id, domain.DCAPaused, func(o *domain.DCAOrder) {
		o.Status = domain.DCAActive
		n := now.Add(time.Duration(o.IntervalMinutes) * time.Minute)
		o.NextBuyAt = &n
	})
}

// Cancel terminates an order in active or paused state.
func (m *DCAManager) Cancel(ctx context.Context, id string) error {
	err := m.transition(ctx, id, domain.DCAActive, func(o *domain.DCAOrder) {
		o.Status = domain.DCACancelled
		o.NextBuyAt = nil
	})
	if err == nil || !errors.Is(err, domain.ErrInvalidState) {
		return err
	}
	return m.transition(ctx, id, domain.DCAPaused, func(o *domain.DCAOrder) {
		o.Status = domain.DCACancelled
		o.NextBuyAt = nil
	})
}

// transition applies fn iff the order's status equals from, then persists,
// rolling back the in-memory change when the durable write fails.
func (m *DCAManager) transition(ctx context.Context, id string, from domain.DCAOrderStatus, fn func(*domain.DCAOrder)) error {
	m.mu.Lock()
	o, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("orders: dca %s: %w", id, domain.ErrNotFound)
	}
	if o.Status != from {
		m.mu.Unlock()
		return fmt.Errorf("orders: dca %s is %s: %w", id, o.Status, domain.ErrInvalidState)
	}
	prev := o
	fn(&o)
	m.byID[id] = o
	m.mu.Unlock()

	if err := m.store.Update(ctx, o); err != nil {
		m.mu.Lock()
		m.byID[id] = prev
		m.mu.Unlock()
		return fmt.Errorf("orders: persist dca %s: %v: %w", id, err, domain.ErrPersistence)
	}
	return nil
}

// Cleanup deletes terminal orders older than the retention window, returning
// the deleted rows for archival.
func (m *DCAManager) Cleanup(ctx context.Context, retentionDays int) ([]domain.DCAOrder, error) {
	cutoff := m.clock.Now().AddDate(0, 0, -retentionDays)
	deleted, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("orders: cleanup dca: %w", err)
	}

	m.mu.Lock()
	for _, o := range deleted {
		delete(m.byID, o.ID)
	}
	m.mu.Unlock()

	if len(deleted) > 0 {
		m.logger.InfoContext(ctx, "orders: dca orders cleaned up",
			slog.Int("count", len(deleted)),
			slog.Time("cutoff", cutoff),
		)
	}
	return deleted, nil
}
