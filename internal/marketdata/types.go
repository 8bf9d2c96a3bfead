package marketdata

import (
	"fmt"
	"time"
)

// Candle represents one OHLCV price record. Series are ordered
// oldest to newest; the last element is the most recent candle.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// Validate checks the structural OHLCV invariants
func (c Candle) Validate() error {
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle high %.4f below body (open %.4f close %.4f)", c.High, c.Open, c.Close)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("candle low %.4f above body (open %.4f close %.4f)", c.Low, c.Open, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle volume %.4f is negative", c.Volume)
	}
	return nil
}

// ValidateSeries checks every candle in a series and its length
func ValidateSeries(candles []Candle, wantCount int) error {
	if len(candles) != wantCount {
		return fmt.Errorf("series length %d, expected %d", len(candles), wantCount)
	}
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
	}
	return nil
}

// SpotPrice represents the current price snapshot for a symbol
type SpotPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Change    float64   `json:"change"`
	Timestamp time.Time `json:"timestamp"`
}

// IntervalDuration maps an interval string to its duration.
// Unknown intervals fall back to one minute.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
