package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/avelov/sellbot/internal/feed"
)

// Orchestrator manages all scheduler goroutines: the price stream, the exit
// evaluation loop, the limit and DCA executors, housekeeping, and (in
// approval mode) the approval listener.
type Orchestrator struct {
	stream       *feed.PriceStream
	exitLoop     *ExitLoop
	limitLoop    *LimitLoop
	dcaLoop      *DCALoop
	housekeeping *HousekeepingLoop
	listener     *ApprovalListener
	logger       *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Any component except exitLoop and
// housekeeping may be nil; nil components are simply not started.
func NewOrchestrator(
	stream *feed.PriceStream,
	exitLoop *ExitLoop,
	limitLoop *LimitLoop,
	dcaLoop *DCALoop,
	housekeeping *HousekeepingLoop,
	listener *ApprovalListener,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		stream:       stream,
		exitLoop:     exitLoop,
		limitLoop:    limitLoop,
		dcaLoop:      dcaLoop,
		housekeeping: housekeeping,
		listener:     listener,
		logger:       logger,
	}
}

// Run starts every configured loop as a concurrent goroutine using an
// errgroup. Each goroutine respects ctx cancellation. If any goroutine
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler starting")

	g, ctx := errgroup.WithContext(ctx)

	if o.stream != nil {
		g.Go(func() error {
			o.logger.Info("starting price stream")
			err := o.stream.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("price stream: %w", err)
		})
	}

	g.Go(func() error {
		o.logger.Info("starting exit loop")
		err := o.exitLoop.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("exit loop: %w", err)
	})

	if o.limitLoop != nil {
		g.Go(func() error {
			o.logger.Info("starting limit order loop")
			err := o.limitLoop.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("limit loop: %w", err)
		})
	}

	if o.dcaLoop != nil {
		g.Go(func() error {
			o.logger.Info("starting dca loop")
			err := o.dcaLoop.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("dca loop: %w", err)
		})
	}

	g.Go(func() error {
		o.logger.Info("starting housekeeping loop")
		err := o.housekeeping.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("housekeeping: %w", err)
	})

	if o.listener != nil {
		g.Go(func() error {
			o.logger.Info("starting approval listener")
			err := o.listener.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("approval listener: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("scheduler stopped cleanly")
	return nil
}
