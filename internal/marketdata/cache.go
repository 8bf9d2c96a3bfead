package marketdata

import (
	"fmt"
	"sync"
	"time"
)

// cachedSeries holds one candle series with its fetch timestamp
type cachedSeries struct {
	Data      []Candle
	UpdatedAt time.Time
}

// cachedSpot holds one spot quote with its fetch timestamp
type cachedSpot struct {
	Data      *SpotPrice
	UpdatedAt time.Time
}

// CandleCache provides thread-safe in-memory caching of candle series
// keyed by (symbol, interval, count) and spot quotes keyed by symbol.
type CandleCache struct {
	series sync.Map // "symbol:interval:count" -> *cachedSeries
	spots  sync.Map // symbol -> *cachedSpot
	ttl    time.Duration

	// Statistics
	hitCount  int64
	missCount int64
	statsMu   sync.RWMutex
}

// NewCandleCache creates a cache with the given TTL
func NewCandleCache(ttl time.Duration) *CandleCache {
	return &CandleCache{ttl: ttl}
}

func seriesKey(symbol, interval string, count int) string {
	return fmt.Sprintf("%s:%s:%d", symbol, interval, count)
}

// GetSeries returns a cached series, or nil when absent or expired
func (c *CandleCache) GetSeries(symbol, interval string, count int) []Candle {
	if val, ok := c.series.Load(seriesKey(symbol, interval, count)); ok {
		cached := val.(*cachedSeries)
		if time.Since(cached.UpdatedAt) < c.ttl {
			c.recordHit()
			out := make([]Candle, len(cached.Data))
			copy(out, cached.Data)
			return out
		}
	}
	c.recordMiss()
	return nil
}

// SetSeries stores a candle series
func (c *CandleCache) SetSeries(symbol, interval string, count int, candles []Candle) {
	data := make([]Candle, len(candles))
	copy(data, candles)
	c.series.Store(seriesKey(symbol, interval, count), &cachedSeries{
		Data:      data,
		UpdatedAt: time.Now(),
	})
}

// GetSpot returns a cached spot quote, or nil when absent or expired
func (c *CandleCache) GetSpot(symbol string) *SpotPrice {
	if val, ok := c.spots.Load(symbol); ok {
		cached := val.(*cachedSpot)
		if time.Since(cached.UpdatedAt) < c.ttl {
			c.recordHit()
			cp := *cached.Data
			return &cp
		}
	}
	c.recordMiss()
	return nil
}

// SetSpot stores a spot quote
func (c *CandleCache) SetSpot(symbol string, spot *SpotPrice) {
	cp := *spot
	c.spots.Store(symbol, &cachedSpot{Data: &cp, UpdatedAt: time.Now()})
}

// Clear drops all cached entries
func (c *CandleCache) Clear() {
	c.series.Range(func(key, _ interface{}) bool {
		c.series.Delete(key)
		return true
	})
	c.spots.Range(func(key, _ interface{}) bool {
		c.spots.Delete(key)
		return true
	})
}

func (c *CandleCache) recordHit() {
	c.statsMu.Lock()
	c.hitCount++
	c.statsMu.Unlock()
}

func (c *CandleCache) recordMiss() {
	c.statsMu.Lock()
	c.missCount++
	c.statsMu.Unlock()
}

// Stats returns cache hit/miss counters
func (c *CandleCache) Stats() (hits, misses int64) {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.hitCount, c.missCount
}
