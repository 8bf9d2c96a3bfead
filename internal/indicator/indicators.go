package indicator

import (
	"errors"
	"fmt"
	"math"

	"gold-analysis-engine/internal/marketdata"
)

// Standard lookback periods
const (
	RSIPeriod        = 14
	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
	ATRPeriod        = 14
)

// MinCandles is the shortest series Compute accepts: the longest
// moving-average window plus one candle for the true-range seed.
const MinCandles = 201

// ErrInsufficientData signals the series is too short for a full
// indicator set. Downstream stop sizing needs a valid ATR, so a
// partial set is never returned.
var ErrInsufficientData = errors.New("insufficient candle history for indicators")

// Set holds one complete indicator snapshot for a candle series
type Set struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MA20       float64 `json:"ma20"`
	MA50       float64 `json:"ma50"`
	MA100      float64 `json:"ma100"`
	MA200      float64 `json:"ma200"`
	ATR        float64 `json:"atr"`
}

// Compute calculates the full indicator set from a candle series.
// It is a pure function of its input. Series shorter than MinCandles
// or producing a non-finite/non-positive ATR fail outright.
func Compute(candles []marketdata.Candle) (*Set, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), MinCandles)
	}

	set := &Set{
		RSI:   RSI(candles, RSIPeriod),
		MA20:  SMA(candles, 20),
		MA50:  SMA(candles, 50),
		MA100: SMA(candles, 100),
		MA200: SMA(candles, 200),
		ATR:   ATR(candles, ATRPeriod),
	}
	set.MACD, set.MACDSignal = MACD(candles, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod)

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate rejects sets with non-finite values or a degenerate ATR
func (s *Set) Validate() error {
	values := []float64{s.RSI, s.MACD, s.MACDSignal, s.MA20, s.MA50, s.MA100, s.MA200, s.ATR}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("indicator set contains non-finite value")
		}
	}
	if s.ATR <= 0 {
		return fmt.Errorf("ATR %.6f is not positive", s.ATR)
	}
	if s.RSI < 0 || s.RSI > 100 {
		return fmt.Errorf("RSI %.4f outside [0,100]", s.RSI)
	}
	return nil
}

// SMA calculates the Simple Moving Average of closes over period
func SMA(candles []marketdata.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// RSI calculates the Relative Strength Index over period using the
// average-gain / average-loss ratio
func RSI(candles []marketdata.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD calculates the MACD line and its signal line. The signal line
// is a true EMA over the MACD series, not an approximation.
func MACD(candles []marketdata.Candle, fastPeriod, slowPeriod, signalPeriod int) (macd, signal float64) {
	if len(candles) < slowPeriod+signalPeriod {
		return 0, 0
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	fastEMA := emaSeries(closes, fastPeriod)
	slowEMA := emaSeries(closes, slowPeriod)

	// MACD series starts where the slow EMA becomes defined
	macdSeries := make([]float64, 0, len(closes)-slowPeriod+1)
	for i := slowPeriod - 1; i < len(closes); i++ {
		macdSeries = append(macdSeries, fastEMA[i]-slowEMA[i])
	}

	signalSeries := emaSeries(macdSeries, signalPeriod)

	macd = macdSeries[len(macdSeries)-1]
	signal = signalSeries[len(signalSeries)-1]
	return macd, signal
}

// ATR calculates the Average True Range over period
func ATR(candles []marketdata.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)
		trSum += tr
	}

	return trSum / float64(period)
}

// emaSeries computes the full EMA series for values. Entries before
// the period-th value hold the running seed SMA so indexes align with
// the input.
func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || period <= 0 {
		return out
	}
	if len(values) < period {
		// Not enough data for a proper seed; degrade to cumulative mean
		sum := 0.0
		for i, v := range values {
			sum += v
			out[i] = sum / float64(i+1)
		}
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
		out[i] = sum / float64(i+1)
	}

	multiplier := 2.0 / float64(period+1)
	ema := out[period-1]
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out[i] = ema
	}
	return out
}
