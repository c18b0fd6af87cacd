package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/avelov/sellbot/internal/blob/s3"
	"github.com/avelov/sellbot/internal/cache/redis"
	"github.com/avelov/sellbot/internal/config"
	"github.com/avelov/sellbot/internal/domain"
	"github.com/avelov/sellbot/internal/feed"
	"github.com/avelov/sellbot/internal/ledger"
	"github.com/avelov/sellbot/internal/notify"
	"github.com/avelov/sellbot/internal/orders"
	"github.com/avelov/sellbot/internal/pending"
	"github.com/avelov/sellbot/internal/platform/jupiter"
	"github.com/avelov/sellbot/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Clock domain.Clock

	// Core state
	Ledger *ledger.Ledger
	Limits *orders.LimitManager
	DCAs   *orders.DCAManager
	Queue  *pending.Queue

	// Price access
	Feed   domain.PriceFeed
	Stream *feed.PriceStream

	// Execution
	Swap  domain.SwapExecutor
	Locks domain.LockManager
	Bus   domain.ApprovalBus

	// Archival and notifications
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration, restores in-memory state from the database, and returns the
// dependencies together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	clock := domain.RealClock{}
	deps := &Dependencies{Clock: clock}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	positionStore := postgres.NewPositionStore(pool)
	limitStore := postgres.NewLimitOrderStore(pool)
	dcaStore := postgres.NewDCAOrderStore(pool)
	pendingStore := postgres.NewPendingSellStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	priceCache := redis.NewPriceCache(redisClient)
	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewApprovalBus(redisClient)
	limiter := redis.NewRateLimiter(redisClient)

	// --- Swap / price APIs ---
	jup := jupiter.New(jupiter.Config{
		PriceURL:          cfg.Jupiter.PriceURL,
		QuoteURL:          cfg.Jupiter.QuoteURL,
		SignerURL:         cfg.Jupiter.SignerURL,
		RequestsPerSecond: cfg.Jupiter.RequestsPerSecond,
	}, limiter)
	deps.Swap = jup
	deps.Feed = feed.NewCachedFeed(priceCache, jup, clock, logger)

	// --- Core state, restored from the database ---
	deps.Ledger = ledger.New(positionStore, clock, logger)
	deps.Limits = orders.NewLimitManager(limitStore, clock, logger)
	deps.DCAs = orders.NewDCAManager(dcaStore, clock, logger)
	deps.Queue = pending.New(pendingStore, clock, cfg.Trading.PendingSellTTL.Duration, logger)

	if err := deps.Ledger.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore positions: %w", err)
	}
	if err := deps.Limits.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore limit orders: %w", err)
	}
	if err := deps.DCAs.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore dca orders: %w", err)
	}
	if err := deps.Queue.Restore(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: restore pending sells: %w", err)
	}

	// --- Streaming feed ---
	if cfg.Feed.Enabled {
		subscribed := watchedMints(deps.Ledger, deps.Limits, deps.DCAs)
		deps.Stream = feed.NewPriceStream(cfg.Feed.WsURL, subscribed, feed.CachingHandler(priceCache, logger), logger)
	}

	// --- S3 archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 health: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), clock)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// watchedMints returns a function producing the union of every mint worth
// streaming prices for: open positions plus pending limit and active DCA
// orders. Evaluated per websocket (re)connection so new mints are picked up
// on reconnect.
func watchedMints(lg *ledger.Ledger, limits *orders.LimitManager, dcas *orders.DCAManager) func() []string {
	return func() []string {
		seen := make(map[string]bool)
		var mints []string
		for _, set := range [][]string{lg.ActiveMints(), limits.PendingMints(), dcas.ActiveMints()} {
			for _, m := range set {
				if !seen[m] {
					seen[m] = true
					mints = append(mints, m)
				}
			}
		}
		return mints
	}
}
