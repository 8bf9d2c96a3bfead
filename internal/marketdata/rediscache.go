package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gold-analysis-engine/config"
	"gold-analysis-engine/internal/logging"

	"github.com/redis/go-redis/v9"
)

// RedisCandleCache provides Redis-based candle caching for deployments
// where several engine instances share one data budget. When Redis is
// unavailable the cache degrades silently: callers fall through to the
// in-memory cache and the providers.
type RedisCandleCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

const redisCandlePrefix = "candles:%s:%s:%d"

// NewRedisCandleCache connects to Redis and verifies connectivity
func NewRedisCandleCache(cfg config.RedisConfig) (*RedisCandleCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	cache := &RedisCandleCache{
		client:        client,
		ttl:           cfg.CandleTTL,
		log:           logging.WithComponent("rediscache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	cache.healthy = true

	return cache, nil
}

// GetSeries returns a shared cached series, or nil on miss or outage
func (c *RedisCandleCache) GetSeries(ctx context.Context, symbol, interval string, count int) []Candle {
	if !c.available() {
		return nil
	}

	key := fmt.Sprintf(redisCandlePrefix, symbol, interval, count)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.recordFailure(err)
		}
		return nil
	}
	c.recordSuccess()

	var candles []Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		c.log.Warn("dropping corrupt cached series", "key", key, "error", err)
		c.client.Del(ctx, key)
		return nil
	}
	return candles
}

// SetSeries stores a series with the configured TTL; failures only log
func (c *RedisCandleCache) SetSeries(ctx context.Context, symbol, interval string, count int, candles []Candle) {
	if !c.available() {
		return
	}

	data, err := json.Marshal(candles)
	if err != nil {
		return
	}

	key := fmt.Sprintf(redisCandlePrefix, symbol, interval, count)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess()
}

// available reports whether Redis should be attempted. After repeated
// failures attempts pause until the check interval has passed.
func (c *RedisCandleCache) available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.healthy {
		return true
	}
	return time.Since(c.lastCheck) > c.checkInterval
}

func (c *RedisCandleCache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	c.lastCheck = time.Now()
	if c.failureCount >= c.maxFailures && c.healthy {
		c.healthy = false
		c.log.Warn("redis cache marked unhealthy", "failures", c.failureCount, "error", err)
	}
}

func (c *RedisCandleCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		c.log.Info("redis cache recovered")
	}
	c.healthy = true
	c.failureCount = 0
}

// Close releases the underlying client
func (c *RedisCandleCache) Close() error {
	return c.client.Close()
}
