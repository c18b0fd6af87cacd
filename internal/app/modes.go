package app

import (
	"context"

	"github.com/avelov/sellbot/internal/scheduler"
)

// AutoMode runs the full trading stack with bot-custodied execution:
// triggered exits are sold immediately, limit and DCA orders execute on their
// own loops, and housekeeping sweeps expiries and archives purged history.
func (a *App) AutoMode(ctx context.Context, deps *Dependencies) error {
	return a.runScheduler(ctx, deps, scheduler.ModeAuto, false)
}

// ApprovalMode runs the same loops but parks triggered exits in the pending
// queue for a human co-signer, and additionally consumes approval decisions
// from the bus.
func (a *App) ApprovalMode(ctx context.Context, deps *Dependencies) error {
	return a.runScheduler(ctx, deps, scheduler.ModeApproval, true)
}

// MonitorMode evaluates and logs exit decisions without ever trading. Limit
// and DCA loops are not started; housekeeping still expires stale entries.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	exitLoop, housekeeping := a.buildCommonLoops(deps, scheduler.ModeMonitor)
	orch := scheduler.NewOrchestrator(deps.Stream, exitLoop, nil, nil, housekeeping, nil, a.logger)
	return orch.Run(ctx)
}

func (a *App) runScheduler(ctx context.Context, deps *Dependencies, mode scheduler.Mode, withListener bool) error {
	exitLoop, housekeeping := a.buildCommonLoops(deps, mode)

	limitLoop := scheduler.NewLimitLoop(
		deps.Limits, deps.Ledger, deps.Feed, deps.Swap, deps.Notifier, deps.Clock,
		a.cfg.Scheduler.LimitInterval.Duration, a.cfg.Trading.DefaultStrategy, a.logger,
	)
	dcaLoop := scheduler.NewDCALoop(
		deps.DCAs, deps.Ledger, deps.Feed, deps.Swap, deps.Notifier, deps.Clock,
		a.cfg.Scheduler.DCAInterval.Duration, a.cfg.Trading.DefaultStrategy, a.logger,
	)

	var listener *scheduler.ApprovalListener
	if withListener {
		executor := a.buildExecutor(deps)
		listener = scheduler.NewApprovalListener(deps.Bus, deps.Queue, executor, a.logger)
	}

	orch := scheduler.NewOrchestrator(deps.Stream, exitLoop, limitLoop, dcaLoop, housekeeping, listener, a.logger)
	return orch.Run(ctx)
}

func (a *App) buildCommonLoops(deps *Dependencies, mode scheduler.Mode) (*scheduler.ExitLoop, *scheduler.HousekeepingLoop) {
	executor := a.buildExecutor(deps)
	exitLoop := scheduler.NewExitLoop(
		deps.Ledger, deps.Feed, executor, deps.Queue, deps.Swap, deps.Notifier, deps.Clock,
		scheduler.ExitLoopConfig{
			Mode:        mode,
			Interval:    a.cfg.Scheduler.ExitInterval.Duration,
			SlippageBps: a.cfg.Trading.SlippageBps,
		},
		a.logger,
	)
	housekeeping := scheduler.NewHousekeepingLoop(
		deps.Queue, deps.Limits, deps.DCAs, deps.Archiver, deps.Notifier, deps.Clock,
		a.cfg.Scheduler.HousekeepingInterval.Duration, a.cfg.Trading.RetentionDays, a.logger,
	)
	return exitLoop, housekeeping
}

func (a *App) buildExecutor(deps *Dependencies) *scheduler.SellExecutor {
	return scheduler.NewSellExecutor(
		deps.Ledger, deps.Swap, deps.Locks, deps.Notifier,
		a.cfg.Trading.SlippageBps, a.cfg.Scheduler.LockTTL.Duration, a.logger,
	)
}
