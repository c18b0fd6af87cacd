package domain

import (
	"fmt"
	"time"
)

// PositionStatus tracks the lifecycle of a position. Positions are never
// deleted; a fully exited position transitions to closed and stays on record.
type PositionStatus string

const (
	PositionStatusActive  PositionStatus = "active"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// Position is a per-wallet, per-mint holding. The entry price is a
// cost-basis-weighted average across all buys and is recomputed on every
// merge, so TotalCostBasis ≈ EntryPrice × TokenAmount up to float rounding.
type Position struct {
	WalletKey           string
	Mint                string
	EntryTime           time.Time
	EntryPrice          float64 // USD, weighted average
	TokenAmount         float64
	TotalCostBasis      float64 // SOL spent across all buys
	ExitStagesCompleted int
	StrategyName        string
	HighestProfitPct    float64 // monotonic watermark
	Status              PositionStatus
	CurrentPrice        float64
	CurrentProfitPct    float64
	IsPrivate           bool
	ExecutionWalletKey  string
	UpdatedAt           time.Time
}

// Key returns the (wallet, mint) identity used by the in-memory index.
func (p Position) Key() string {
	return PositionKey(p.WalletKey, p.Mint)
}

// PositionKey builds the composite index key for a wallet/mint pair.
func PositionKey(wallet, mint string) string {
	return wallet + "|" + mint
}

// ProfitPercent computes the profit of the position at the given price.
func (p Position) ProfitPercent(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (price - p.EntryPrice) / p.EntryPrice * 100
}

// HeldMinutes returns how long the position has been open as of now.
func (p Position) HeldMinutes(now time.Time) float64 {
	return now.Sub(p.EntryTime).Minutes()
}

// placeholderFeedPrice is the fixed stub the upstream price feed substitutes
// when it has no liquidity data for a mint. Letting it through would corrupt
// the profit watermark, so price updates reject it. This is a workaround for
// a known feed quirk, not general validation; drop it once the feed learns to
// report "unavailable".
const placeholderFeedPrice = 0.0001

// IsPlaceholderPrice reports whether p is the feed's known stub value
// (or non-positive, which no real quote ever is).
func IsPlaceholderPrice(p float64) bool {
	return p <= 0 || p == placeholderFeedPrice
}

// ExitDecision is the outcome of evaluating a position against its strategy.
type ExitDecision struct {
	ShouldExit  bool
	SellPercent float64
	Reason      string
}

func (d ExitDecision) String() string {
	if !d.ShouldExit {
		return "hold"
	}
	return fmt.Sprintf("sell %.0f%% (%s)", d.SellPercent, d.Reason)
}
