// Package pending implements the approval queue for non-custodial exits. A
// triggered exit on a wallet the bot cannot sign for is parked here with a
// prepared transaction payload until a human approves, cancels, or lets it
// expire.
package pending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelov/sellbot/internal/domain"
)

// Queue owns the pending-sell collection.
type Queue struct {
	mu     sync.RWMutex
	byID   map[string]domain.PendingSell
	ttl    time.Duration
	store  domain.PendingSellStore
	clock  domain.Clock
	logger *slog.Logger
}

// New creates an empty Queue. A non-positive ttl falls back to the default.
// Call Restore to reload outstanding entries from the store.
func New(store domain.PendingSellStore, clock domain.Clock, ttl time.Duration, logger *slog.Logger) *Queue {
	if ttl <= 0 {
		ttl = domain.DefaultPendingSellTTL
	}
	return &Queue{
		byID:   make(map[string]domain.PendingSell),
		ttl:    ttl,
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "pending_sells")),
	}
}

// Restore loads pending and executing entries back into memory.
func (q *Queue) Restore(ctx context.Context) error {
	for _, status := range []domain.PendingSellStatus{domain.PendingSellPending, domain.PendingSellExecuting} {
		list, err := q.store.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("pending: restore %s: %w", status, err)
		}
		q.mu.Lock()
		for _, ps := range list {
			q.byID[ps.ID] = ps
		}
		q.mu.Unlock()
	}
	return nil
}

// Create queues a triggered exit for approval. It refuses with
// ErrInvalidState while an outstanding pending entry exists for the same
// position, so repeated ticks on the same trigger do not stack duplicates.
func (q *Queue) Create(ctx context.Context, ps domain.PendingSell) (domain.PendingSell, error) {
	if ps.WalletKey == "" || ps.Mint == "" {
		return domain.PendingSell{}, fmt.Errorf("pending: create: wallet and mint are required: %w", domain.ErrValidation)
	}
	if ps.SellPercent <= 0 || ps.SellPercent > 100 {
		return domain.PendingSell{}, fmt.Errorf("pending: create: sell percent %.2f out of range: %w", ps.SellPercent, domain.ErrValidation)
	}

	now := q.clock.Now()

	q.mu.Lock()
	for _, existing := range q.byID {
		if existing.Status == domain.PendingSellPending &&
			existing.WalletKey == ps.WalletKey && existing.Mint == ps.Mint &&
			!existing.ExpiredAt(now) {
			q.mu.Unlock()
			return domain.PendingSell{}, fmt.Errorf("pending: position %s already has entry %s awaiting approval: %w",
				domain.PositionKey(ps.WalletKey, ps.Mint), existing.ID, domain.ErrInvalidState)
		}
	}
	q.mu.Unlock()

	ps.ID = uuid.New().String()
	ps.Status = domain.PendingSellPending
	ps.CreatedAt = now
	ps.ExpiresAt = now.Add(q.ttl)

	if err := q.store.Create(ctx, ps); err != nil {
		return domain.PendingSell{}, fmt.Errorf("pending: persist %s: %v: %w", ps.ID, err, domain.ErrPersistence)
	}

	q.mu.Lock()
	q.byID[ps.ID] = ps
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "pending: sell queued for approval",
		slog.String("id", ps.ID),
		slog.String("mint", ps.Mint),
		slog.Float64("sell_percent", ps.SellPercent),
		slog.String("reason", ps.Reason),
		slog.Time("expires_at", ps.ExpiresAt),
	)
	return ps, nil
}

// Get returns the current in-memory state of an entry.
func (q *Queue) Get(id string) (domain.PendingSell, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ps, ok := q.byID[id]
	if !ok {
		return domain.PendingSell{}, fmt.Errorf("pending: %s: %w", id, domain.ErrNotFound)
	}
	return ps, nil
}

// Outstanding returns entries still awaiting approval, excluding overdue
// ones. The expiry sweep is ExpireStale's job; this is a read-only view.
func (q *Queue) Outstanding() []domain.PendingSell {
	now := q.clock.Now()
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []domain.PendingSell
	for _, ps := range q.byID {
		if ps.Status == domain.PendingSellPending && !ps.ExpiredAt(now) {
			out = append(out, ps)
		}
	}
	return out
}

// MarkExecuting claims an approved entry before the signed transaction is
// broadcast. It refuses an entry that expired while waiting.
func (q *Queue) MarkExecuting(ctx context.Context, id string) error {
	now := q.clock.Now()
	return q.transition(ctx, id, domain.PendingSellPending, func(ps *domain.PendingSell) error {
		if ps.ExpiredAt(now) {
			return fmt.Errorf("pending: %s expired at %s: %w", id, ps.ExpiresAt.Format(time.RFC3339), domain.ErrInvalidState)
		}
		ps.Status = domain.PendingSellExecuting
		return nil
	})
}

// MarkExecuted finalizes an executing entry with the broadcast signature.
func (q *Queue) MarkExecuted(ctx context.Context, id, signature string) error {
	err := q.transition(ctx, id, domain.PendingSellExecuting, func(ps *domain.PendingSell) error {
		ps.Status = domain.PendingSellExecuted
		ps.TxSignature = signature
		return nil
	})
	if err != nil {
		return err
	}
	q.logger.InfoContext(ctx, "pending: sell executed",
		slog.String("id", id),
		slog.String("signature", signature),
	)
	return nil
}

// Cancel withdraws a pending entry. It fails with ErrInvalidState while the
// entry is executing: the signed transaction may already be in flight.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.transition(ctx, id, domain.PendingSellPending, func(ps *domain.PendingSell) error {
		ps.Status = domain.PendingSellCancelled
		return nil
	})
}

// ExpireStale sweeps overdue pending entries to expired and returns how many
// were flipped. Persistence failures are logged and retried on the next
// sweep; the in-memory flip stands either way since an overdue entry must
// never execute.
func (q *Queue) ExpireStale(ctx context.Context, now time.Time) int {
	q.mu.Lock()
	var stale []domain.PendingSell
	for id, ps := range q.byID {
		if ps.Status == domain.PendingSellPending && ps.ExpiredAt(now) {
			ps.Status = domain.PendingSellExpired
			q.byID[id] = ps
			stale = append(stale, ps)
		}
	}
	q.mu.Unlock()

	for _, ps := range stale {
		if err := q.store.Update(ctx, ps); err != nil {
			q.logger.WarnContext(ctx, "pending: persist expiry failed",
				slog.String("id", ps.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		q.logger.InfoContext(ctx, "pending: sell expired unapproved",
			slog.String("id", ps.ID),
			slog.String("mint", ps.Mint),
		)
	}
	return len(stale)
}

// transition applies fn to the entry iff its status equals from, then
// persists. The in-memory change is rolled back when fn rejects or the
// durable write fails.
func (q *Queue) transition(ctx context.Context, id string, from domain.PendingSellStatus, fn func(*domain.PendingSell) error) error {
	q.mu.Lock()
	ps, ok := q.byID[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("pending: %s: %w", id, domain.ErrNotFound)
	}
	if ps.Status != from {
		q.mu.Unlock()
		return fmt.Errorf("pending: %s is %s: %w", id, ps.Status, domain.ErrInvalidState)
	}
	prev := ps
	if err := fn(&ps); err != nil {
		q.mu.Unlock()
		return err
	}
	q.byID[id] = ps
	q.mu.Unlock()

	if err := q.store.Update(ctx, ps); err != nil {
		q.mu.Lock()
		q.byID[id] = prev
		q.mu.Unlock()
		return fmt.Errorf("pending: persist %s: %v: %w", id, err, domain.ErrPersistence)
	}
	return nil
}
