package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"gold-analysis-engine/internal/logging"
)

// Provider fetches candle series from one upstream source
type Provider interface {
	Name() string
	FetchCandles(ctx context.Context, symbol, interval string, count int) ([]Candle, error)
}

// SpotFetcher is implemented by providers that also serve spot prices
type SpotFetcher interface {
	FetchSpot(ctx context.Context, symbol string) (*SpotPrice, error)
}

// providerError marks an upstream failure and whether retrying the
// same provider can help
type providerError struct {
	provider  string
	status    int
	retryable bool
	err       error
}

func (e *providerError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("provider %s: http %d: %v", e.provider, e.status, e.err)
	}
	return fmt.Sprintf("provider %s: %v", e.provider, e.err)
}

func (e *providerError) Unwrap() error { return e.err }

// isRetryable reports whether an attempt against the same provider is
// worth repeating: timeouts, connection errors, HTTP 408/429/5xx.
func isRetryable(err error) bool {
	var pe *providerError
	if errors.As(err, &pe) {
		if pe.status == http.StatusRequestTimeout || pe.status == http.StatusTooManyRequests {
			return true
		}
		if pe.status >= 500 {
			return true
		}
		if pe.status > 0 {
			return false
		}
		return pe.retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// RetryPolicy controls per-provider retry behaviour
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the upstream contract: 3 attempts,
// 500ms base, doubling, capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		MaxDelay:    5 * time.Second,
	}
}

// delayFor returns the backoff delay before the given attempt (1-based)
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// fetchWithRetry runs fn under the retry policy. Non-retryable errors
// abort immediately so the caller can advance to the next provider.
func fetchWithRetry(ctx context.Context, policy RetryPolicy, name string, fn func(context.Context) ([]Candle, error)) ([]Candle, error) {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		candles, err := fn(ctx)
		if err == nil {
			return candles, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.delayFor(attempt)
		logging.ProviderContext(name, "", "").Debug("retrying provider fetch",
			"attempt", attempt, "delay", delay.String(), "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// ==================== GOLD PRICE PROVIDER ====================

// GoldPriceProvider talks to a dedicated precious-metals API serving
// both spot quotes and OHLC history.
type GoldPriceProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGoldPriceProvider creates the primary gold-price provider
func NewGoldPriceProvider(baseURL, apiKey string, timeout time.Duration) *GoldPriceProvider {
	return &GoldPriceProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *GoldPriceProvider) Name() string { return "goldprice" }

// goldCandleRow is one OHLCV record from the gold API
type goldCandleRow struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// FetchCandles fetches OHLCV history from the gold API
func (p *GoldPriceProvider) FetchCandles(ctx context.Context, symbol, interval string, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", metalCode(symbol))
	params.Set("interval", interval)
	params.Set("count", strconv.Itoa(count))

	endpoint := fmt.Sprintf("%s/candles?%s", p.baseURL, params.Encode())
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var rows []goldCandleRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("malformed candle payload: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("empty candle payload")}
	}

	candles := make([]Candle, 0, len(rows))
	for _, r := range rows {
		c := Candle{
			OpenTime: time.Unix(r.Timestamp, 0).UTC(),
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			Volume:   r.Volume,
		}
		if err := c.Validate(); err != nil {
			return nil, &providerError{provider: p.Name(), err: fmt.Errorf("invalid candle: %w", err)}
		}
		candles = append(candles, c)
	}

	sortCandles(candles)
	return candles, nil
}

// goldSpotPayload is the spot quote envelope: price plus daily range
type goldSpotPayload struct {
	Price  float64 `json:"price"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Change float64 `json:"change"`
}

// FetchSpot fetches the current spot quote
func (p *GoldPriceProvider) FetchSpot(ctx context.Context, symbol string) (*SpotPrice, error) {
	endpoint := fmt.Sprintf("%s/price/%s", p.baseURL, metalCode(symbol))
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payload goldSpotPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("malformed spot payload: %w", err)}
	}
	if payload.Price <= 0 {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("non-positive spot price %.4f", payload.Price)}
	}

	return &SpotPrice{
		Symbol:    symbol,
		Price:     payload.Price,
		Open:      payload.Open,
		High:      payload.High,
		Low:       payload.Low,
		Change:    payload.Change,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *GoldPriceProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &providerError{provider: p.Name(), err: err}
	}
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &providerError{provider: p.Name(), retryable: true, err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providerError{provider: p.Name(), retryable: true, err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &providerError{provider: p.Name(), status: resp.StatusCode, err: fmt.Errorf("%s", strings.TrimSpace(string(body)))}
	}
	return body, nil
}

// ==================== TIME SERIES PROVIDER ====================

// TimeSeriesProvider talks to a general time-series API (TwelveData
// style JSON envelope: either an error status or a values array).
type TimeSeriesProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTimeSeriesProvider creates the secondary time-series provider
func NewTimeSeriesProvider(baseURL, apiKey string, timeout time.Duration) *TimeSeriesProvider {
	return &TimeSeriesProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *TimeSeriesProvider) Name() string { return "twelvedata" }

// timeSeriesEnvelope is the provider response: Status "error" carries
// Message, otherwise Values holds newest-first string-encoded rows.
type timeSeriesEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Values  []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

// FetchCandles fetches OHLC history from the time-series API
func (p *TimeSeriesProvider) FetchCandles(ctx context.Context, symbol, interval string, count int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeSeriesInterval(interval))
	params.Set("outputsize", strconv.Itoa(count))
	if p.apiKey != "" {
		params.Set("apikey", p.apiKey)
	}

	endpoint := fmt.Sprintf("%s/time_series?%s", p.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &providerError{provider: p.Name(), err: err}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &providerError{provider: p.Name(), retryable: true, err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providerError{provider: p.Name(), retryable: true, err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &providerError{provider: p.Name(), status: resp.StatusCode, err: fmt.Errorf("time series request failed")}
	}

	var envelope timeSeriesEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("malformed envelope: %w", err)}
	}
	if envelope.Status == "error" {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("api error: %s", envelope.Message)}
	}
	if len(envelope.Values) == 0 {
		return nil, &providerError{provider: p.Name(), err: fmt.Errorf("empty values array")}
	}

	candles := make([]Candle, 0, len(envelope.Values))
	for _, v := range envelope.Values {
		ts, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			// Daily series omit the time portion
			ts, err = time.Parse("2006-01-02", v.Datetime)
			if err != nil {
				return nil, &providerError{provider: p.Name(), err: fmt.Errorf("bad datetime %q: %w", v.Datetime, err)}
			}
		}

		c := Candle{
			OpenTime: ts.UTC(),
			Open:     parseFloat(v.Open),
			High:     parseFloat(v.High),
			Low:      parseFloat(v.Low),
			Close:    parseFloat(v.Close),
			Volume:   parseFloat(v.Volume),
		}
		if err := c.Validate(); err != nil {
			return nil, &providerError{provider: p.Name(), err: fmt.Errorf("invalid candle: %w", err)}
		}
		candles = append(candles, c)
	}

	sortCandles(candles)
	return candles, nil
}

// timeSeriesInterval maps internal interval names to provider names
func timeSeriesInterval(interval string) string {
	switch interval {
	case "1m":
		return "1min"
	case "5m":
		return "5min"
	case "15m":
		return "15min"
	case "30m":
		return "30min"
	case "4h":
		return "4h"
	case "1d":
		return "1day"
	default:
		return interval
	}
}

// metalCode strips the quote currency: "XAU/USD" -> "XAU"
func metalCode(symbol string) string {
	if idx := strings.Index(symbol, "/"); idx > 0 {
		return symbol[:idx]
	}
	return symbol
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// sortCandles orders a series oldest first
func sortCandles(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
}
