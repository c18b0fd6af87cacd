// Package notify fans trading events out to the configured channels
// (Telegram, Discord). Operators pick which event types they want; delivery
// failures are logged, never propagated into the trading path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/avelov/sellbot/internal/domain"
)

// Event types operators can filter on.
const (
	EventExitTriggered = "exit_triggered"
	EventLimitFilled   = "limit_filled"
	EventDCABuy        = "dca_buy"
	EventPendingSell   = "pending_sell"
	EventError         = "error"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to all registered senders, filtered by
// event type. An empty allow-list lets every event through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// ExitTriggered reports an exit decision on a position.
func (n *Notifier) ExitTriggered(ctx context.Context, pos domain.Position, dec domain.ExitDecision, pendingApproval bool) {
	title := "Exit triggered"
	if pendingApproval {
		title = "Exit awaiting approval"
	}
	n.notify(ctx, EventExitTriggered, title, fmt.Sprintf(
		"%s: sell %.0f%% (%s)\nprofit %.1f%% at %.6g",
		pos.Mint, dec.SellPercent, dec.Reason, pos.CurrentProfitPct, pos.CurrentPrice,
	))
}

// LimitFilled reports a filled limit order.
func (n *Notifier) LimitFilled(ctx context.Context, order domain.LimitOrder, signature string) {
	n.notify(ctx, EventLimitFilled, "Limit order filled", fmt.Sprintf(
		"%s %s %.6g @ target %.6g\ntx %s",
		order.Side, order.Mint, order.Amount, order.TargetPrice, signature,
	))
}

// DCABuyExecuted reports one executed DCA buy.
func (n *Notifier) DCABuyExecuted(ctx context.Context, order domain.DCAOrder, exec domain.BuyExecution) {
	n.notify(ctx, EventDCABuy, "DCA buy executed", fmt.Sprintf(
		"%s: buy %d/%d, spent %.4f SOL at %.6g\ntx %s",
		order.Mint, exec.Index+1, order.NumberOfBuys, exec.SpentSOL, exec.Price, exec.TxSignature,
	))
}

// PendingSellQueued reports a new entry in the approval queue.
func (n *Notifier) PendingSellQueued(ctx context.Context, ps domain.PendingSell) {
	n.notify(ctx, EventPendingSell, "Sell awaiting approval", fmt.Sprintf(
		"%s: sell %.0f%% (%s)\napprove before %s\nid %s",
		ps.Mint, ps.SellPercent, ps.Reason, ps.ExpiresAt.Format("15:04:05 MST"), ps.ID,
	))
}

// ExecutionError reports a failure that needs operator attention, such as a
// swap that may have broadcast without its result being persisted.
func (n *Notifier) ExecutionError(ctx context.Context, where string, err error) {
	n.notify(ctx, EventError, "Execution error", fmt.Sprintf("%s: %v", where, err))
}

func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// postJSON is the shared HTTP delivery used by the webhook-style senders.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
