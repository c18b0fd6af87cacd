package scheduler

import (
	"context"
	"log/slog"
	"time"

	s3blob "github.com/avelov/sellbot/internal/blob/s3"
	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/notify"
	"github.com/avelov/sellbot/internal/orders"
	"github.com/avelov/sellbot/internal/pending"
)

// HousekeepingLoop runs the slow maintenance work: sweeping overdue pending
// sells to expired and purging terminal orders past the retention window,
// archiving the purged rows to object storage.
type HousekeepingLoop struct {
	queue         *pending.Queue
	limits        *orders.LimitManager
	dcas          *orders.DCAManager
	archiver      *s3blob.Archiver
	notifier      *notify.Notifier
	clock         domain.Clock
	interval      time.Duration
	retentionDays int
	logger        *slog.Logger
}

// NewHousekeepingLoop creates a HousekeepingLoop. archiver may be nil when
// object storage is not configured; purged rows are then dropped.
func NewHousekeepingLoop(
	queue *pending.Queue,
	limits *orders.LimitManager,
	dcas *orders.DCAManager,
	archiver *s3blob.Archiver,
	notifier *notify.Notifier,
	clock domain.Clock,
	interval time.Duration,
	retentionDays int,
	logger *slog.Logger,
) *HousekeepingLoop {
	return &HousekeepingLoop{
		queue:         queue,
		limits:        limits,
		dcas:          dcas,
		archiver:      archiver,
		notifier:      notifier,
		clock:         clock,
		interval:      interval,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "housekeeping")),
	}
}

// Run ticks until ctx is cancelled.
func (l *HousekeepingLoop) Run(ctx context.Context) error {
	return runTicker(ctx, l.interval, l.Tick)
}

// Tick performs one maintenance pass.
func (l *HousekeepingLoop) Tick(ctx context.Context) {
	if n := l.queue.ExpireStale(ctx, l.clock.Now()); n > 0 {
		l.logger.InfoContext(ctx, "scheduler: pending sells expired", slog.Int("count", n))
	}
	l.cleanupLimits(ctx)
	l.cleanupDCAs(ctx)
}

func (l *HousekeepingLoop) cleanupLimits(ctx context.Context) {
	purged, err := l.limits.Cleanup(ctx, l.retentionDays)
	if err != nil {
		l.logger.ErrorContext(ctx, "scheduler: limit cleanup failed", slog.String("error", err.Error()))
		return
	}
	if len(purged) == 0 {
		return
	}
	l.logger.InfoContext(ctx, "scheduler: limit orders purged", slog.Int("count", len(purged)))
	if l.archiver == nil {
		return
	}
	path, err := l.archiver.ArchiveLimitOrders(ctx, purged)
	if err != nil {
		l.logger.ErrorContext(ctx, "scheduler: limit archive failed",
			slog.Int("count", len(purged)),
			slog.String("error", err.Error()),
		)
		l.notifier.ExecutionError(ctx, "limit order archive", err)
		return
	}
	l.logger.InfoContext(ctx, "scheduler: limit orders archived", slog.String("path", path))
}

func (l *HousekeepingLoop) cleanupDCAs(ctx context.Context) {
	purged, err := l.dcas.Cleanup(ctx, l.retentionDays)
	if err != nil {
		l.logger.ErrorContext(ctx, "scheduler: dca cleanup failed", slog.String("error", err.Error()))
		return
	}
	if len(purged) == 0 {
		return
	}
	l.logger.InfoContext(ctx, "scheduler: dca orders purged", slog.Int("count", len(purged)))
	if l.archiver == nil {
		return
	}
	path, err := l.archiver.ArchiveDCAOrders(ctx, purged)
	if err != nil {
		l.logger.ErrorContext(ctx, "scheduler: dca archive failed",
			slog.Int("count", len(purged)),
			slog.String("error", err.Error()),
		)
		l.notifier.ExecutionError(ctx, "dca order archive", err)
		return
	}
	l.logger.InfoContext(ctx, "scheduler: dca orders archived", slog.String("path", path))
}
