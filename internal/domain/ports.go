package domain

import (
	"context"
	"time"
)

// WrappedSOLMint is the canonical mint of wrapped SOL, the native side of
// every swap this bot performs.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// PriceFeed supplies USD prices per mint. Implementations may serve stale or
// cached values; the core does not retry beyond the next scheduled tick.
type PriceFeed interface {
	GetPrice(ctx context.Context, mint string) (float64, error)
	GetPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// SwapQuote is an executable quote returned by the swap API.
type SwapQuote struct {
	InputMint   string
	OutputMint  string
	InAmount    float64
	OutAmount   float64
	Price       float64
	SlippageBps int
	Route       []byte // opaque route payload passed back on submission
}

// SwapExecutor quotes and executes swaps. It is a black box that can fail
// transiently (network) or permanently (insufficient funds, no route).
type SwapExecutor interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (SwapQuote, error)
	// BuildAndSubmit signs with the given key, broadcasts, and returns the
	// transaction signature.
	BuildAndSubmit(ctx context.Context, quote SwapQuote, signerKey string) (string, error)
	// BuildUnsigned prepares a transaction payload for external co-signing.
	BuildUnsigned(ctx context.Context, quote SwapQuote, ownerKey string) ([]byte, error)
}

// Clock abstracts "now" so time-based stages, expiries, and intervals are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// PriceCache provides fast shared access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, mint string) (float64, time.Time, error)
	GetPrices(ctx context.Context, mints []string) (map[string]float64, error)
}

// LockManager provides distributed locking, used to guard per-position exit
// execution across ticks.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles calls to external APIs.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the limit;
	// permitted requests are counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ApprovalAction is what a human decided about a queued pending sell.
type ApprovalAction string

const (
	ApprovalApprove ApprovalAction = "approve"
	ApprovalCancel  ApprovalAction = "cancel"
)

// ApprovalMessage reports an external decision on a pending sell. Signature
// is set on approvals: the co-signer broadcasts the prepared transaction
// themselves and reports the resulting signature back.
type ApprovalMessage struct {
	PendingSellID string         `json:"pending_sell_id"`
	Action        ApprovalAction `json:"action"`
	Signature     string         `json:"signature,omitempty"`
}

// ApprovalBus carries approval decisions from external signers to the bot.
type ApprovalBus interface {
	Publish(ctx context.Context, msg ApprovalMessage) error
	// Subscribe returns a channel of decisions. The channel closes when ctx
	// is cancelled.
	Subscribe(ctx context.Context) (<-chan ApprovalMessage, error)
}
