// Package engine implements the exit strategy evaluator: a pure decision
// function over a position, the current price, and a declarative strategy.
// It never mutates state; callers advance the stage counter only after the
// resulting trade is confirmed.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/avelov/sellbot/internal/domain"
)

// Evaluate decides whether the position should exit at the given price, and
// by how much. Checks run in fixed priority order: manual short-circuit,
// stop-loss (trailing or fixed), max-hold, then the current take-profit
// stage. Stop-loss and max-hold always request a full exit.
//
// The caller is expected to have already raised the position's profit
// watermark for this tick; Evaluate reads it but does not update it.
func Evaluate(pos domain.Position, currentPrice float64, strategy domain.ExitStrategy, now time.Time) domain.ExitDecision {
	if strategy.Name == domain.ManualStrategyName {
		return domain.ExitDecision{}
	}

	profitPct := pos.ProfitPercent(currentPrice)
	heldMin := pos.HeldMinutes(now)

	if stopLossHit(pos, profitPct, strategy) {
		reason := "stop loss"
		if strategy.IsTrailingStop {
			reason = "trailing stop"
		}
		return domain.ExitDecision{ShouldExit: true, SellPercent: 100, Reason: reason}
	}

	if strategy.MaxHoldTimeMin > 0 && heldMin >= strategy.MaxHoldTimeMin {
		return domain.ExitDecision{ShouldExit: true, SellPercent: 100, Reason: "max hold time"}
	}

	if stage, n, ok := currentStage(pos, strategy); ok {
		if stageTriggered(stage, profitPct, heldMin, strategy.IsPercentageBased) {
			return domain.ExitDecision{
				ShouldExit:  true,
				SellPercent: stage.SellPercent,
				Reason:      fmt.Sprintf("stage %d", n),
			}
		}
	}

	return domain.ExitDecision{}
}

// stopLossHit applies the fixed or trailing stop. A StopLossPct of -100
// disables the fixed stop; the trailing variant measures drawdown from the
// profit watermark instead of loss from entry.
func stopLossHit(pos domain.Position, profitPct float64, s domain.ExitStrategy) bool {
	if s.StopLossPct <= -100 {
		return false
	}
	if s.IsTrailingStop {
		return pos.HighestProfitPct-profitPct >= math.Abs(s.StopLossPct)
	}
	return profitPct <= s.StopLossPct
}

// currentStage returns the next unconsumed stage and its 1-based number.
func currentStage(pos domain.Position, s domain.ExitStrategy) (domain.ExitStage, int, bool) {
	i := pos.ExitStagesCompleted
	if i < 0 || i >= len(s.Stages) {
		return domain.ExitStage{}, 0, false
	}
	return s.Stages[i], i + 1, true
}

func stageTriggered(stage domain.ExitStage, profitPct, heldMin float64, percentageBased bool) bool {
	if profitPct < stage.MinProfitPct {
		return false
	}
	if percentageBased {
		return true
	}
	return heldMin >= stage.TimeMinutes
}
