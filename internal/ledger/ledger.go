// Package ledger maintains the per-wallet, per-mint position index. All
// mutation happens in memory first under a per-entry mutex, then hits the
// store: synchronously for state transitions (open, merge, stage advance,
// close), asynchronously for high-frequency price updates where the durable
// copy is advisory and may lag.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avelov/sellbot/internal/domain"
)

// persistTimeout bounds the detached write for best-effort price updates.
const persistTimeout = 5 * time.Second

type entry struct {
	mu  sync.Mutex
	pos domain.Position
}

// Ledger owns the in-memory position index and its durable backing store.
type Ledger struct {
	mu    sync.RWMutex
	byKey map[string]*entry

	store  domain.PositionStore
	clock  domain.Clock
	logger *slog.Logger
}

// New creates an empty Ledger. Call Restore to repopulate it from the store.
func New(store domain.PositionStore, clock domain.Clock, logger *slog.Logger) *Ledger {
	return &Ledger{
		byKey:  make(map[string]*entry),
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Restore loads every active position from the store into the in-memory
// index. It is called once at startup; a restart must re-derive state from
// persistence rather than resume an in-memory queue.
func (l *Ledger) Restore(ctx context.Context) error {
	positions, err := l.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("ledger: restore: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, pos := range positions {
		l.byKey[pos.Key()] = &entry{pos: pos}
	}

	l.logger.InfoContext(ctx, "ledger: restored active positions",
		slog.Int("count", len(positions)),
	)
	return nil
}

func (l *Ledger) lookup(wallet, mint string) (*entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byKey[domain.PositionKey(wallet, mint)]
	return e, ok
}

// Open records a new position. It fails with ErrInvalidState when an active
// position already exists for the (wallet, mint) pair.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) error {
	if pos.WalletKey == "" || pos.Mint == "" {
		return fmt.Errorf("ledger: open: wallet and mint are required: %w", domain.ErrValidation)
	}
	if pos.TokenAmount <= 0 || pos.TotalCostBasis <= 0 {
		return fmt.Errorf("ledger: open %s: amount and cost basis must be positive: %w", pos.Mint, domain.ErrValidation)
	}

	pos.Status = domain.PositionStatusActive
	pos.ExitStagesCompleted = 0
	if pos.EntryTime.IsZero() {
		pos.EntryTime = l.clock.Now()
	}
	if pos.EntryPrice == 0 {
		pos.EntryPrice = pos.TotalCostBasis / pos.TokenAmount
	}
	pos.CurrentPrice = pos.EntryPrice
	pos.UpdatedAt = l.clock.Now()

	key := pos.Key()
	l.mu.Lock()
	if existing, ok := l.byKey[key]; ok {
		existing.mu.Lock()
		active := existing.pos.Status == domain.PositionStatusActive
		existing.mu.Unlock()
		if active {
			l.mu.Unlock()
			return fmt.Errorf("ledger: open %s: active position exists: %w", key, domain.ErrInvalidState)
		}
	}
	l.byKey[key] = &entry{pos: pos}
	l.mu.Unlock()

	if err := l.store.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("ledger: persist open %s: %v: %w", key, err, domain.ErrPersistence)
	}

	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.String("wallet", pos.WalletKey),
		slog.String("mint", pos.Mint),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("tokens", pos.TokenAmount),
		slog.String("strategy", pos.StrategyName),
	)
	return nil
}

// MergeBuy averages an additional buy into an active position. The entry
// price becomes (oldCost+addedCost)/(oldTokens+addedTokens) and the stage
// counter resets to zero: averaging in changes the cost basis, so
// partially-completed staged exits restart against the new basis.
func (l *Ledger) MergeBuy(ctx context.Context, wallet, mint string, addedTokens, addedCost, executionPrice float64) (domain.Position, error) {
	if addedTokens <= 0 || addedCost <= 0 {
		return domain.Position{}, fmt.Errorf("ledger: merge %s: amounts must be positive: %w", mint, domain.ErrValidation)
	}

	e, ok := l.lookup(wallet, mint)
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: merge %s/%s: %w", wallet, mint, domain.ErrNotFound)
	}

	e.mu.Lock()
	if e.pos.Status != domain.PositionStatusActive {
		status := e.pos.Status
		e.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: merge %s/%s: position is %s: %w", wallet, mint, status, domain.ErrInvalidState)
	}

	e.pos.TotalCostBasis += addedCost
	e.pos.TokenAmount += addedTokens
	e.pos.EntryPrice = e.pos.TotalCostBasis / e.pos.TokenAmount
	e.pos.ExitStagesCompleted = 0
	e.pos.CurrentPrice = executionPrice
	e.pos.UpdatedAt = l.clock.Now()
	snapshot := e.pos
	e.mu.Unlock()

	if err := l.store.Upsert(ctx, snapshot); err != nil {
		return snapshot, fmt.Errorf("ledger: persist merge %s/%s: %v: %w", wallet, mint, err, domain.ErrPersistence)
	}

	l.logger.InfoContext(ctx, "ledger: buy merged",
		slog.String("wallet", wallet),
		slog.String("mint", mint),
		slog.Float64("new_entry_price", snapshot.EntryPrice),
		slog.Float64("tokens", snapshot.TokenAmount),
	)
	return snapshot, nil
}

// UpdatePrice refreshes the current price, profit, and profit watermark of an
// active position. The in-memory value is authoritative and returned
// immediately; the durable write is detached and its failure only logged.
// Known placeholder prices from the feed are rejected so they cannot corrupt
// the watermark.
func (l *Ledger) UpdatePrice(ctx context.Context, wallet, mint string, price float64) (domain.Position, error) {
	if domain.IsPlaceholderPrice(price) {
		return domain.Position{}, fmt.Errorf("ledger: update price %s: placeholder price %g rejected: %w", mint, price, domain.ErrValidation)
	}

	e, ok := l.lookup(wallet, mint)
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: update price %s/%s: %w", wallet, mint, domain.ErrNotFound)
	}

	e.mu.Lock()
	if e.pos.Status != domain.PositionStatusActive {
		status := e.pos.Status
		e.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: update price %s/%s: position is %s: %w", wallet, mint, status, domain.ErrInvalidState)
	}

	e.pos.CurrentPrice = price
	e.pos.CurrentProfitPct = e.pos.ProfitPercent(price)
	if e.pos.CurrentProfitPct > e.pos.HighestProfitPct {
		e.pos.HighestProfitPct = e.pos.CurrentProfitPct
	}
	e.pos.UpdatedAt = l.clock.Now()
	snapshot := e.pos
	e.mu.Unlock()

	// Best-effort durable write: current price is a display field, so we
	// trade durability for latency and never block the price tick on it.
	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := l.store.Upsert(pctx, snapshot); err != nil {
			l.logger.Warn("ledger: price persist failed",
				slog.String("wallet", wallet),
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}()

	return snapshot, nil
}

// AdvanceStage records a confirmed partial exit: the stage counter
// increments and the sold slice comes off the holdings proportionally, so
// the entry price is unchanged and the cost-basis invariant holds.
func (l *Ledger) AdvanceStage(ctx context.Context, wallet, mint string, soldPercent float64) (domain.Position, error) {
	if soldPercent <= 0 || soldPercent >= 100 {
		return domain.Position{}, fmt.Errorf("ledger: advance stage %s: sold percent %g out of range: %w", mint, soldPercent, domain.ErrValidation)
	}

	e, ok := l.lookup(wallet, mint)
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: advance stage %s/%s: %w", wallet, mint, domain.ErrNotFound)
	}

	e.mu.Lock()
	if e.pos.Status != domain.PositionStatusActive {
		status := e.pos.Status
		e.mu.Unlock()
		return domain.Position{}, fmt.Errorf("ledger: advance stage %s/%s: position is %s: %w", wallet, mint, status, domain.ErrInvalidState)
	}

	keep := 1 - soldPercent/100
	e.pos.TokenAmount *= keep
	e.pos.TotalCostBasis *= keep
	e.pos.ExitStagesCompleted++
	e.pos.UpdatedAt = l.clock.Now()
	snapshot := e.pos
	e.mu.Unlock()

	if err := l.store.Upsert(ctx, snapshot); err != nil {
		return snapshot, fmt.Errorf("ledger: persist stage advance %s/%s: %v: %w", wallet, mint, err, domain.ErrPersistence)
	}

	l.logger.InfoContext(ctx, "ledger: exit stage advanced",
		slog.String("wallet", wallet),
		slog.String("mint", mint),
		slog.Int("stages_completed", snapshot.ExitStagesCompleted),
		slog.Float64("sold_percent", soldPercent),
	)
	return snapshot, nil
}

// Close marks a position fully exited. The record stays in the index and the
// store for history.
func (l *Ledger) Close(ctx context.Context, wallet, mint string) error {
	e, ok := l.lookup(wallet, mint)
	if !ok {
		return fmt.Errorf("ledger: close %s/%s: %w", wallet, mint, domain.ErrNotFound)
	}

	e.mu.Lock()
	if e.pos.Status == domain.PositionStatusClosed {
		e.mu.Unlock()
		return fmt.Errorf("ledger: close %s/%s: already closed: %w", wallet, mint, domain.ErrInvalidState)
	}
	e.pos.Status = domain.PositionStatusClosed
	e.pos.UpdatedAt = l.clock.Now()
	snapshot := e.pos
	e.mu.Unlock()

	if err := l.store.Upsert(ctx, snapshot); err != nil {
		return fmt.Errorf("ledger: persist close %s/%s: %v: %w", wallet, mint, err, domain.ErrPersistence)
	}

	l.logger.InfoContext(ctx, "ledger: position closed",
		slog.String("wallet", wallet),
		slog.String("mint", mint),
		slog.Float64("final_profit_pct", snapshot.CurrentProfitPct),
	)
	return nil
}

// Get returns the current in-memory state of a position.
func (l *Ledger) Get(wallet, mint string) (domain.Position, error) {
	e, ok := l.lookup(wallet, mint)
	if !ok {
		return domain.Position{}, fmt.Errorf("ledger: get %s/%s: %w", wallet, mint, domain.ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, nil
}

// Active returns a snapshot of every active position.
func (l *Ledger) Active() []domain.Position {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.byKey))
	for _, e := range l.byKey {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	var out []domain.Position
	for _, e := range entries {
		e.mu.Lock()
		if e.pos.Status == domain.PositionStatusActive {
			out = append(out, e.pos)
		}
		e.mu.Unlock()
	}
	return out
}

// ActiveMints returns the distinct mints with at least one active position,
// so the price loop fetches each mint once per tick.
func (l *Ledger) ActiveMints() []string {
	seen := make(map[string]bool)
	var mints []string
	for _, pos := range l.Active() {
		if !seen[pos.Mint] {
			seen[pos.Mint] = true
			mints = append(mints, pos.Mint)
		}
	}
	return mints
}
