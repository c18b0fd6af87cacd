package domain

import "time"

// DCAStrategyType selects how the per-buy amount is computed.
type DCAStrategyType string

const (
	// DCATimeBased splits the remaining budget evenly across remaining buys.
	DCATimeBased DCAStrategyType = "time-based"
	// DCAPriceBased scales the even split by how far price sits from the
	// reference: up to 2x when price falls, down to 0.5x when it rises.
	DCAPriceBased DCAStrategyType = "price-based"
)

// DCAOrderStatus tracks the DCA order lifecycle.
type DCAOrderStatus string

const (
	DCAActive    DCAOrderStatus = "active"
	DCAPaused    DCAOrderStatus = "paused"
	DCACompleted DCAOrderStatus = "completed"
	DCACancelled DCAOrderStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s DCAOrderStatus) IsTerminal() bool {
	return s == DCACompleted || s == DCACancelled
}

// BuyExecution is one recorded buy of a DCA schedule.
type BuyExecution struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	SpentSOL    float64   `json:"spent_sol"`
	Received    float64   `json:"received"`
	Price       float64   `json:"price"`
	TxSignature string    `json:"tx_signature"`
}

// DCAOrder spreads TotalBudget SOL across NumberOfBuys purchases spaced
// IntervalMinutes apart. CurrentBuyIndex always equals len(Executions), and
// the order completes exactly when the index reaches NumberOfBuys.
type DCAOrder struct {
	ID                 string
	WalletKey          string
	Mint               string
	TotalBudget        float64
	NumberOfBuys       int
	IntervalMinutes    int
	StrategyType       DCAStrategyType
	CurrentBuyIndex    int
	NextBuyAt          *time.Time
	LastBuyAt          *time.Time
	Executions         []BuyExecution
	ReferencePrice     float64 // 0 when unset
	SlippageBps        int
	Status             DCAOrderStatus
	CreatedAt          time.Time
	CompletedAt        *time.Time
	IsPrivate          bool
	ExecutionWalletKey string
}

// SpentSOL returns the budget consumed by recorded buys.
func (o DCAOrder) SpentSOL() float64 {
	var total float64
	for _, e := range o.Executions {
		total += e.SpentSOL
	}
	return total
}

// RemainingBuys returns how many buys are still scheduled.
func (o DCAOrder) RemainingBuys() int {
	return o.NumberOfBuys - o.CurrentBuyIndex
}

// ReadyForBuy reports whether the next scheduled buy is due as of now.
func (o DCAOrder) ReadyForBuy(now time.Time) bool {
	if o.Status != DCAActive || o.CurrentBuyIndex >= o.NumberOfBuys {
		return false
	}
	return o.NextBuyAt != nil && !o.NextBuyAt.After(now)
}
