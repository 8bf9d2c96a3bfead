package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gold-analysis-engine/config"
)

func testCandleRows(count int) []goldCandleRow {
	rows := make([]goldCandleRow, count)
	base := time.Now().Add(-time.Duration(count) * 15 * time.Minute)
	price := 2650.0
	for i := 0; i < count; i++ {
		rows[i] = goldCandleRow{
			Timestamp: base.Add(time.Duration(i) * 15 * time.Minute).Unix(),
			Open:      price,
			High:      price + 2,
			Low:       price - 2,
			Close:     price + 1,
			Volume:    1000,
		}
		price += 0.5
	}
	return rows
}

func sourceConfig(providerURL string) config.MarketDataConfig {
	return config.MarketDataConfig{
		Symbol:      "XAU/USD",
		Interval:    "15m",
		CandleCount: 50,
		Providers: []config.ProviderConfig{
			{Name: "goldprice", BaseURL: providerURL},
		},
		RequestTimeout:  2 * time.Second,
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
		RetryMaxDelay:   5 * time.Millisecond,
		CacheTTL:        time.Minute,
		SyntheticSeed:   99,
		SyntheticAnchor: 2650.0,
	}
}

// TestCandlesFromProvider verifies the happy path returns the exact
// requested count with valid candles
func TestCandlesFromProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testCandleRows(50))
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	candles, err := src.Candles(context.Background(), "XAU/USD", "15m", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSeries(candles, 50); err != nil {
		t.Fatalf("series validation failed: %v", err)
	}
	if src.IsSynthetic() {
		t.Error("provider data flagged as synthetic")
	}
}

// TestCandlesCacheHit verifies a second call within the TTL does not
// reach the provider again
func TestCandlesCacheHit(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(testCandleRows(50))
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	ctx := context.Background()

	if _, err := src.Candles(ctx, "XAU/USD", "15m", 50); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if _, err := src.Candles(ctx, "XAU/USD", "15m", 50); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("expected 1 provider call, got %d", got)
	}

	hits, _ := src.CacheStats()
	if hits == 0 {
		t.Error("expected at least one cache hit")
	}
}

// TestCandlesSyntheticFallback verifies total provider failure still
// yields a full, valid series
func TestCandlesSyntheticFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	candles, err := src.Candles(context.Background(), "XAU/USD", "15m", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateSeries(candles, 50); err != nil {
		t.Fatalf("synthetic series validation failed: %v", err)
	}
	if !src.IsSynthetic() {
		t.Error("fallback series not flagged as synthetic")
	}
}

// TestCandlesRetryOn5xx verifies retryable failures are retried before
// falling back
func TestCandlesRetryOn5xx(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(testCandleRows(50))
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	candles, err := src.Candles(context.Background(), "XAU/USD", "15m", 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 50 {
		t.Fatalf("expected 50 candles, got %d", len(candles))
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Errorf("expected 2 provider calls (1 retry), got %d", got)
	}
	if src.IsSynthetic() {
		t.Error("retried provider data flagged as synthetic")
	}
}

// TestCandlesNonRetryableAdvances verifies a 404 is not retried
func TestCandlesNonRetryableAdvances(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	if _, err := src.Candles(context.Background(), "XAU/USD", "15m", 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("expected 1 provider call for non-retryable status, got %d", got)
	}
}

// TestCandlesContextCancelled verifies cancellation propagates
func TestCandlesContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewSource(sourceConfig("http://127.0.0.1:0"), nil)
	if _, err := src.Candles(ctx, "XAU/USD", "15m", 50); err == nil {
		t.Error("expected error from cancelled context")
	}
}

// TestSpotFallback verifies Spot never fails outward
func TestSpotFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	spot, err := src.Spot(context.Background(), "XAU/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot.Price != 2650.0 {
		t.Errorf("expected anchor price 2650, got %f", spot.Price)
	}
}

// TestSpotFromProvider verifies the spot quote round-trip
func TestSpotFromProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"price": 2712.5, "open": 2700.0, "high": 2720.0, "low": 2695.0, "change": 12.5}`)
	}))
	defer server.Close()

	src := NewSource(sourceConfig(server.URL), nil)
	spot, err := src.Spot(context.Background(), "XAU/USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spot.Price != 2712.5 {
		t.Errorf("expected price 2712.5, got %f", spot.Price)
	}
	if spot.Change != 12.5 {
		t.Errorf("expected change 12.5, got %f", spot.Change)
	}
}

// TestRetryPolicyDelayCap verifies exponential backoff respects the cap
func TestRetryPolicyDelayCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, Multiplier: 2.0, MaxDelay: 5 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 5 * time.Second}, // capped
		{6, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := p.delayFor(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}
