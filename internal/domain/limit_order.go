package domain

import "time"

// OrderSide indicates whether an order buys or sells the mint.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// LimitOrderStatus tracks the limit order lifecycle. Transitions are
// monotonic: pending → executing → filled, or pending → cancelled/expired.
type LimitOrderStatus string

const (
	LimitOrderPending   LimitOrderStatus = "pending"
	LimitOrderExecuting LimitOrderStatus = "executing"
	LimitOrderFilled    LimitOrderStatus = "filled"
	LimitOrderCancelled LimitOrderStatus = "cancelled"
	LimitOrderExpired   LimitOrderStatus = "expired"
)

// IsTerminal reports whether the status admits no further transitions.
func (s LimitOrderStatus) IsTerminal() bool {
	switch s {
	case LimitOrderFilled, LimitOrderCancelled, LimitOrderExpired:
		return true
	}
	return false
}

// LimitOrder is a standing order that fires when the market price reaches
// the target. Amount is SOL for buys; for sells it is token units in the
// same scale as Position.TokenAmount (raw amount over 1e9, not the mint's
// display decimals).
type LimitOrder struct {
	ID                 string
	WalletKey          string
	Mint               string
	Side               OrderSide
	TargetPrice        float64
	Amount             float64
	SlippageBps        int
	Status             LimitOrderStatus
	CreatedAt          time.Time
	ExpiresAt          *time.Time
	FilledAt           *time.Time
	TxSignature        string
	ReceivedMint       string // mint credited by the fill (sell side: SOL mint)
	IsPrivate          bool
	ExecutionWalletKey string
}

// Triggered reports whether currentPrice is at-or-better than the target:
// at-or-below for buys, at-or-above for sells.
func (o LimitOrder) Triggered(currentPrice float64) bool {
	switch o.Side {
	case OrderSideBuy:
		return currentPrice <= o.TargetPrice
	case OrderSideSell:
		return currentPrice >= o.TargetPrice
	}
	return false
}

// ExpiredAt reports whether the order's expiry has passed as of now.
func (o LimitOrder) ExpiredAt(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}
