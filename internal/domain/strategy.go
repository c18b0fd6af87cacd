package domain

// ExitStage is one step of a multi-step profit-taking plan. Stages are
// consumed strictly in order via Position.ExitStagesCompleted; a passed stage
// is never re-evaluated.
type ExitStage struct {
	SellPercent   float64
	MinProfitPct  float64
	TimeMinutes   float64 // only gates when the strategy is time-based
}

// ExitStrategy is an immutable exit configuration keyed by name.
//
// StopLossPct is negative; -100 disables the stop entirely. When
// IsTrailingStop is set the stop is measured as drawdown from the profit
// watermark instead of loss from entry. When IsPercentageBased is set stages
// gate on profit only; otherwise a stage additionally requires its elapsed
// time to have passed.
type ExitStrategy struct {
	Name              string
	Stages            []ExitStage
	MaxHoldTimeMin    float64
	StopLossPct       float64
	IsPercentageBased bool
	IsTrailingStop    bool
}

// ManualStrategyName is the no-op strategy: the engine never exits it.
const ManualStrategyName = "manual"

// builtinStrategies is the declarative strategy table. It is read-only after
// init; callers receive values, never pointers into it.
var builtinStrategies = map[string]ExitStrategy{
	ManualStrategyName: {
		Name:        ManualStrategyName,
		StopLossPct: -100,
	},
	"conservative": {
		Name:              "conservative",
		IsPercentageBased: true,
		StopLossPct:       -15,
		MaxHoldTimeMin:    720,
		Stages: []ExitStage{
			{SellPercent: 25, MinProfitPct: 20},
			{SellPercent: 25, MinProfitPct: 50},
			{SellPercent: 25, MinProfitPct: 100},
			{SellPercent: 25, MinProfitPct: 200},
		},
	},
	"moderate": {
		Name:           "moderate",
		StopLossPct:    -30,
		MaxHoldTimeMin: 1440,
		Stages: []ExitStage{
			{SellPercent: 25, MinProfitPct: 50, TimeMinutes: 5},
			{SellPercent: 25, MinProfitPct: 100, TimeMinutes: 30},
			{SellPercent: 25, MinProfitPct: 200, TimeMinutes: 120},
			{SellPercent: 25, MinProfitPct: 400, TimeMinutes: 360},
		},
	},
	"aggressive": {
		Name:              "aggressive",
		IsPercentageBased: true,
		IsTrailingStop:    true,
		StopLossPct:       -20,
		MaxHoldTimeMin:    2880,
		Stages: []ExitStage{
			{SellPercent: 50, MinProfitPct: 40},
			{SellPercent: 50, MinProfitPct: 150},
		},
	},
}

// StrategyByName looks up a built-in exit strategy. Unknown names fall back
// to manual so a misconfigured position is never force-sold.
func StrategyByName(name string) ExitStrategy {
	if s, ok := builtinStrategies[name]; ok {
		return s
	}
	return builtinStrategies[ManualStrategyName]
}

// StrategyNames returns the names of all built-in strategies.
func StrategyNames() []string {
	names := make([]string, 0, len(builtinStrategies))
	for n := range builtinStrategies {
		names = append(names, n)
	}
	return names
}
