package marketdata

import (
	"context"
	"sync"
	"time"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/logging"
)

// Source is the market data entry point. It tries providers in
// priority order, caches results, and falls back to synthetic data
// when every provider is exhausted. Candles never fails outward
// except on context cancellation.
type Source struct {
	providers []Provider
	retry     RetryPolicy
	cache     *CandleCache
	shared    *RedisCandleCache // optional, may be nil
	synth     *SyntheticGenerator
	log       *logging.Logger

	// last successfully fetched spot, anchors synthetic generation
	mu        sync.RWMutex
	lastSpot  *SpotPrice
	anchor    float64
	synthetic bool // true when the last series was generated
}

// NewSource builds the provider chain from configuration
func NewSource(cfg config.MarketDataConfig, shared *RedisCandleCache) *Source {
	retry := RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  2.0,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy()
	}

	var providers []Provider
	for _, pc := range cfg.Providers {
		switch pc.Name {
		case "goldprice":
			providers = append(providers, NewGoldPriceProvider(pc.BaseURL, pc.APIKey, cfg.RequestTimeout))
		case "twelvedata":
			providers = append(providers, NewTimeSeriesProvider(pc.BaseURL, pc.APIKey, cfg.RequestTimeout))
		default:
			logging.WithComponent("marketdata").Warn("unknown provider in config", "name", pc.Name)
		}
	}

	return &Source{
		providers: providers,
		retry:     retry,
		cache:     NewCandleCache(cfg.CacheTTL),
		shared:    shared,
		synth:     NewSyntheticGenerator(cfg.SyntheticSeed),
		log:       logging.WithComponent("marketdata"),
		anchor:    cfg.SyntheticAnchor,
	}
}

// Candles returns exactly count candles for (symbol, interval), oldest
// first. Order of attempts: in-memory cache, shared Redis cache,
// providers with per-provider retry, synthetic generation.
func (s *Source) Candles(ctx context.Context, symbol, interval string, count int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cached := s.cache.GetSeries(symbol, interval, count); cached != nil {
		return cached, nil
	}

	if s.shared != nil {
		if cached := s.shared.GetSeries(ctx, symbol, interval, count); len(cached) == count {
			s.cache.SetSeries(symbol, interval, count, cached)
			return cached, nil
		}
	}

	for _, provider := range s.providers {
		candles, err := fetchWithRetry(ctx, s.retry, provider.Name(), func(ctx context.Context) ([]Candle, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, s.retry.perAttemptTimeout())
			defer cancel()
			return provider.FetchCandles(attemptCtx, symbol, interval, count)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("provider exhausted, trying next",
				"provider", provider.Name(), "symbol", symbol, "error", err)
			continue
		}

		if len(candles) < count {
			s.log.Warn("provider returned short series, trying next",
				"provider", provider.Name(), "got", len(candles), "want", count)
			continue
		}

		candles = trimToCount(candles, count)
		s.store(ctx, symbol, interval, count, candles, false)
		return candles, nil
	}

	// Every provider failed; synthesize a plausible series so the
	// pipeline always has data to work with.
	s.log.Warn("all providers failed, generating synthetic candles",
		"symbol", symbol, "interval", interval, "count", count)

	candles := s.synth.Generate(interval, count, s.anchorPrice())
	s.store(ctx, symbol, interval, count, candles, true)
	return candles, nil
}

// Spot returns the current price for a symbol, falling back to the
// last candle close (or the configured anchor) when no spot provider
// responds.
func (s *Source) Spot(ctx context.Context, symbol string) (*SpotPrice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cached := s.cache.GetSpot(symbol); cached != nil {
		return cached, nil
	}

	for _, provider := range s.providers {
		fetcher, ok := provider.(SpotFetcher)
		if !ok {
			continue
		}
		spot, err := fetcher.FetchSpot(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Debug("spot fetch failed", "provider", provider.Name(), "error", err)
			continue
		}

		s.cache.SetSpot(symbol, spot)
		s.mu.Lock()
		s.lastSpot = spot
		s.mu.Unlock()
		return spot, nil
	}

	// Fallback quote anchored at the last known price
	price := s.anchorPrice()
	return &SpotPrice{
		Symbol:    symbol,
		Price:     price,
		Open:      price,
		High:      price,
		Low:       price,
		Timestamp: time.Now().UTC(),
	}, nil
}

// IsSynthetic reports whether the most recent series was generated
// rather than fetched.
func (s *Source) IsSynthetic() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synthetic
}

// CacheStats exposes in-memory cache hit/miss counters
func (s *Source) CacheStats() (hits, misses int64) {
	return s.cache.Stats()
}

func (s *Source) store(ctx context.Context, symbol, interval string, count int, candles []Candle, synthetic bool) {
	s.cache.SetSeries(symbol, interval, count, candles)
	if s.shared != nil && !synthetic {
		s.shared.SetSeries(ctx, symbol, interval, count, candles)
	}

	s.mu.Lock()
	s.synthetic = synthetic
	s.mu.Unlock()
}

func (s *Source) anchorPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSpot != nil {
		return s.lastSpot.Price
	}
	return s.anchor
}

// trimToCount keeps the newest count candles of a series
func trimToCount(candles []Candle, count int) []Candle {
	if len(candles) > count {
		return candles[len(candles)-count:]
	}
	return candles
}

// perAttemptTimeout bounds one provider attempt. The HTTP client
// carries its own timeout as well; this guards non-HTTP stalls.
func (p RetryPolicy) perAttemptTimeout() time.Duration {
	return 12 * time.Second
}
