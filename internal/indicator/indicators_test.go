package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"gold-analysis-engine/internal/marketdata"
)

// flatSeries builds count identical candles at the given price
func flatSeries(count int, price float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, count)
	base := time.Now().Add(-time.Duration(count) * time.Hour)
	for i := range candles {
		candles[i] = marketdata.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   1000,
		}
	}
	return candles
}

// trendingSeries builds count candles rising (or falling) by step each
func trendingSeries(count int, start, step float64) []marketdata.Candle {
	candles := make([]marketdata.Candle, count)
	base := time.Now().Add(-time.Duration(count) * time.Hour)
	price := start
	for i := range candles {
		open := price
		close := price + step
		high := math.Max(open, close) + 0.5
		low := math.Min(open, close) - 0.5
		candles[i] = marketdata.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   1000,
		}
		price = close
	}
	return candles
}

// TestComputeInsufficientData verifies a short series fails outright
// instead of returning a partial set
func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(flatSeries(50, 2650))
	if err == nil {
		t.Fatal("expected error for short series")
	}
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
}

// TestComputeFullSet verifies a sufficient series yields a valid set
func TestComputeFullSet(t *testing.T) {
	set, err := Compute(trendingSeries(250, 2600, 0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if set.RSI < 0 || set.RSI > 100 {
		t.Errorf("RSI %f outside [0,100]", set.RSI)
	}
	if set.ATR <= 0 {
		t.Errorf("ATR %f not positive", set.ATR)
	}
	if set.MA20 <= set.MA200 {
		// Steady uptrend: short averages sit above long averages
		t.Errorf("expected MA20 > MA200 in uptrend, got %f vs %f", set.MA20, set.MA200)
	}
}

// TestRSIBounds verifies RSI stays in [0,100] on extreme series
func TestRSIBounds(t *testing.T) {
	cases := []struct {
		name    string
		candles []marketdata.Candle
	}{
		{"all gains", trendingSeries(50, 2600, 1.0)},
		{"all losses", trendingSeries(50, 2700, -1.0)},
		{"flat", flatSeries(50, 2650)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rsi := RSI(tc.candles, RSIPeriod)
			if rsi < 0 || rsi > 100 {
				t.Errorf("RSI %f outside [0,100]", rsi)
			}
		})
	}
}

// TestRSIDirection verifies gains push RSI above 50 and losses below
func TestRSIDirection(t *testing.T) {
	up := RSI(trendingSeries(50, 2600, 1.0), RSIPeriod)
	if up != 100 {
		t.Errorf("pure uptrend should give RSI 100, got %f", up)
	}

	down := RSI(trendingSeries(50, 2700, -1.0), RSIPeriod)
	if down > 1 {
		t.Errorf("pure downtrend should give RSI near 0, got %f", down)
	}
}

// TestATRPositive verifies ATR > 0 for any series with range
func TestATRPositive(t *testing.T) {
	atr := ATR(flatSeries(50, 2650), ATRPeriod)
	if atr <= 0 {
		t.Errorf("ATR should be positive for ranged candles, got %f", atr)
	}
}

// TestATRShortSeries verifies insufficient history returns zero
// (Compute converts this to a hard error)
func TestATRShortSeries(t *testing.T) {
	if atr := ATR(flatSeries(5, 2650), ATRPeriod); atr != 0 {
		t.Errorf("expected 0 for short series, got %f", atr)
	}
}

// TestSMA verifies the arithmetic mean over the window
func TestSMA(t *testing.T) {
	candles := trendingSeries(20, 100, 1.0)
	// Closes run 101..120, SMA20 = 110.5
	got := SMA(candles, 20)
	if math.Abs(got-110.5) > 1e-9 {
		t.Errorf("expected SMA 110.5, got %f", got)
	}
}

// TestMACDSignalTracksMACD verifies the signal line is a smoothed
// version of the MACD line, not a fixed ratio of it
func TestMACDSignalTracksMACD(t *testing.T) {
	macd, signal := MACD(trendingSeries(250, 2600, 0.5), MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)

	if macd <= 0 {
		t.Errorf("uptrend should give positive MACD, got %f", macd)
	}
	if signal <= 0 {
		t.Errorf("uptrend should give positive signal line, got %f", signal)
	}
	// In a steady trend the MACD line leads its own smoothing
	if signal > macd {
		t.Errorf("signal %f should trail MACD %f in a steady uptrend", signal, macd)
	}
}

// TestSetValidate verifies degenerate sets are rejected
func TestSetValidate(t *testing.T) {
	good := &Set{RSI: 55, MACD: 1, MACDSignal: 0.8, MA20: 2650, MA50: 2640, MA100: 2630, MA200: 2620, ATR: 5}
	if err := good.Validate(); err != nil {
		t.Errorf("valid set rejected: %v", err)
	}

	bad := *good
	bad.ATR = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero ATR accepted")
	}

	nan := *good
	nan.RSI = math.NaN()
	if err := nan.Validate(); err == nil {
		t.Error("NaN RSI accepted")
	}
}
