package domain

import "time"

// PendingSellStatus tracks the approval-queue lifecycle.
type PendingSellStatus string

const (
	PendingSellPending   PendingSellStatus = "pending"
	PendingSellExecuting PendingSellStatus = "executing"
	PendingSellExecuted  PendingSellStatus = "executed"
	PendingSellCancelled PendingSellStatus = "cancelled"
	PendingSellExpired   PendingSellStatus = "expired"
)

// DefaultPendingSellTTL is how long an unapproved pending sell stays valid.
const DefaultPendingSellTTL = 30 * time.Minute

// PendingSell buffers a triggered exit between "condition met" and
// "transaction broadcast" for non-custodial wallets, where a human must
// co-sign. At most one pending entry may exist per position at a time.
type PendingSell struct {
	ID            string
	WalletKey     string
	Mint          string
	SellPercent   float64
	PriceAtDetect float64
	ProfitPct     float64
	Reason        string
	TxPayload     []byte // prepared but unsigned transaction
	Status        PendingSellStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
	TxSignature   string
}

// ExpiredAt reports whether the entry is overdue as of now.
func (p PendingSell) ExpiredAt(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
