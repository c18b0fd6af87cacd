// Package feed provides live price delivery: a WebSocket stream pushing
// fresh quotes into the shared cache, and a cache-first PriceFeed decorator
// the schedulers read through.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelov/sellbot/internal/domain"
)

const (
	reconnectDelay = 2 * time.Second
	readTimeout    = 60 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// PriceHandler is called for each price update received on the stream.
type PriceHandler func(ctx context.Context, mint string, price float64, ts time.Time)

// PriceStream subscribes to a WebSocket price stream for whatever mints the
// bot currently holds or watches. It reconnects on disconnect, re-resolving
// the subscription set each time so positions opened mid-connection get
// picked up on the next reconnect.
type PriceStream struct {
	wsURL     string
	mints     func() []string
	onPrice   PriceHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewPriceStream creates a stream. mints is re-evaluated on every connect.
func NewPriceStream(wsURL string, mints func() []string, onPrice PriceHandler, logger *slog.Logger) *PriceStream {
	return &PriceStream{
		wsURL:   wsURL,
		mints:   mints,
		onPrice: onPrice,
		logger:  logger.With(slog.String("component", "price_stream")),
		done:    make(chan struct{}),
	}
}

// Run connects and processes updates until ctx is cancelled or Close is
// called. Reconnects with a fixed delay on disconnect.
func (s *PriceStream) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("feed: stream disconnected, reconnecting", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

type subscribeMessage struct {
	Op    string   `json:"op"`
	Mints []string `json:"mints"`
}

type priceMessage struct {
	Mint  string  `json:"mint"`
	Price float64 `json:"price"`
	TS    int64   `json:"ts"` // Unix milliseconds, 0 when the feed omits it
}

func (s *PriceStream) runConnection(ctx context.Context) error {
	mints := s.mints()
	if len(mints) == 0 {
		// Nothing to watch yet. Treat as a soft failure so Run retries
		// after the positions ledger fills up.
		return fmt.Errorf("feed: no mints to subscribe")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Mints: mints}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	s.logger.Info("feed: stream subscribed", slog.Int("mints", len(mints)))

	// Keepalive pings; the read loop below owns the connection lifetime.
	pingCtx, stopPings := context.WithCancel(ctx)
	defer stopPings()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
		}
	}()

	go func() {
		// Unblock ReadMessage when the context ends.
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-pingCtx.Done():
			return
		}
		_ = conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("feed: set read deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}

		var msg priceMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Mint == "" {
			continue
		}

		ts := time.Now().UTC()
		if msg.TS > 0 {
			ts = time.UnixMilli(msg.TS).UTC()
		}
		s.onPrice(ctx, msg.Mint, msg.Price, ts)
	}
}

// Close stops the stream.
func (s *PriceStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// CachingHandler returns a PriceHandler that writes updates into the shared
// price cache, skipping the feed's placeholder stub values.
func CachingHandler(cache domain.PriceCache, logger *slog.Logger) PriceHandler {
	log := logger.With(slog.String("component", "price_stream"))
	return func(ctx context.Context, mint string, price float64, ts time.Time) {
		if domain.IsPlaceholderPrice(price) {
			return
		}
		if err := cache.SetPrice(ctx, mint, price, ts); err != nil {
			log.Warn("feed: cache price failed",
				slog.String("mint", mint),
				slog.String("error", err.Error()),
			)
		}
	}
}
