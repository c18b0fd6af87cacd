package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avelov/sellbot/internal/domain"
)

// CachedFeed is a PriceFeed that answers from the shared cache when it can
// and falls through to the live feed for misses, writing fetched values
// back. With the stream running, the schedulers mostly never touch the HTTP
// feed at all.
type CachedFeed struct {
	cache  domain.PriceCache
	feed   domain.PriceFeed
	clock  domain.Clock
	logger *slog.Logger
}

// NewCachedFeed wraps feed with the cache.
func NewCachedFeed(cache domain.PriceCache, feed domain.PriceFeed, clock domain.Clock, logger *slog.Logger) *CachedFeed {
	return &CachedFeed{
		cache:  cache,
		feed:   feed,
		clock:  clock,
		logger: logger.With(slog.String("component", "cached_feed")),
	}
}

// GetPrice returns the cached price when fresh, otherwise fetches live.
func (f *CachedFeed) GetPrice(ctx context.Context, mint string) (float64, error) {
	price, _, err := f.cache.GetPrice(ctx, mint)
	if err == nil {
		return price, nil
	}

	price, err = f.feed.GetPrice(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("feed: live price %s: %w", mint, err)
	}
	f.backfill(ctx, mint, price)
	return price, nil
}

// GetPrices serves as much as possible from the cache and fetches the rest
// in one live call. Mints the live feed has no quote for are omitted.
func (f *CachedFeed) GetPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	cached, err := f.cache.GetPrices(ctx, mints)
	if err != nil {
		// Degrade to the live feed rather than failing the tick.
		f.logger.Warn("feed: price cache unavailable", slog.String("error", err.Error()))
		cached = map[string]float64{}
	}

	var missing []string
	for _, mint := range mints {
		if _, ok := cached[mint]; !ok {
			missing = append(missing, mint)
		}
	}
	if len(missing) == 0 {
		return cached, nil
	}

	live, err := f.feed.GetPrices(ctx, missing)
	if err != nil {
		if len(cached) > 0 {
			// Partial data beats none; the tick can still act on what we have.
			f.logger.Warn("feed: live fetch failed, serving cache only",
				slog.Int("missing", len(missing)),
				slog.String("error", err.Error()),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("feed: live prices: %w", err)
	}

	for mint, price := range live {
		cached[mint] = price
		f.backfill(ctx, mint, price)
	}
	return cached, nil
}

func (f *CachedFeed) backfill(ctx context.Context, mint string, price float64) {
	if domain.IsPlaceholderPrice(price) {
		return
	}
	if err := f.cache.SetPrice(ctx, mint, price, f.clock.Now()); err != nil {
		f.logger.Warn("feed: backfill cache failed",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.PriceFeed = (*CachedFeed)(nil)
