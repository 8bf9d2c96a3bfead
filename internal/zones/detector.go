package zones

import (
	"fmt"
	"math"
	"sort"

	"gold-analysis-engine/internal/indicator"
	"gold-analysis-engine/internal/marketdata"
)

// Level is one detected support or resistance zone
type Level struct {
	Price       float64  `json:"price"`
	Strength    float64  `json:"strength"` // [0,1]
	TouchCount  int      `json:"touch_count"`
	Source      string   `json:"source"` // pivot, ma, merged
	IsSupport   bool     `json:"is_support"`
	Confluences []string `json:"confluences"`
}

// Result holds detected zones split by side of the current price
type Result struct {
	Supports    []Level `json:"supports"`
	Resistances []Level `json:"resistances"`
}

const (
	// pivotLookback is how many candles on each side must be lower
	// (higher) for a pivot high (low)
	pivotLookback = 3

	// mergeProximity merges levels within 0.3% of each other
	mergeProximity = 0.003

	// roundProximity qualifies round-number confluence within 0.25%
	roundProximity = 0.0025
)

// Detect finds support/resistance levels from pivots, prior reactions
// and moving averages, filtered by the given policy. The policy is an
// immutable per-run snapshot; Detect never reads ambient state.
func Detect(candles []marketdata.Candle, ind *indicator.Set, policy Policy) (*Result, error) {
	if len(candles) < 2*pivotLookback+1 {
		return nil, fmt.Errorf("need at least %d candles for zone detection, have %d", 2*pivotLookback+1, len(candles))
	}
	if ind == nil {
		return nil, fmt.Errorf("indicator set required for zone detection")
	}

	currentPrice := candles[len(candles)-1].Close
	avgVolume := averageVolume(candles)

	highs, lows := findPivots(candles)

	levels := make([]Level, 0, 16)
	levels = append(levels, clusterPivots(candles, lows, true, currentPrice, avgVolume, ind, policy)...)
	levels = append(levels, clusterPivots(candles, highs, false, currentPrice, avgVolume, ind, policy)...)
	levels = append(levels, maLevels(ind, currentPrice)...)

	levels = mergeLevels(levels)

	result := &Result{}
	for _, lvl := range levels {
		if !passesPolicy(lvl, policy) {
			continue
		}
		if lvl.IsSupport {
			result.Supports = append(result.Supports, lvl)
		} else {
			result.Resistances = append(result.Resistances, lvl)
		}
	}

	// Nearest level first on both sides
	sort.Slice(result.Supports, func(i, j int) bool {
		return result.Supports[i].Price > result.Supports[j].Price
	})
	sort.Slice(result.Resistances, func(i, j int) bool {
		return result.Resistances[i].Price < result.Resistances[j].Price
	})

	return result, nil
}

// pivot records one local extreme
type pivot struct {
	index  int
	price  float64
	volume float64
}

// findPivots locates local highs and lows with pivotLookback candles
// strictly inside on each side
func findPivots(candles []marketdata.Candle) (highs, lows []pivot) {
	for i := pivotLookback; i < len(candles)-pivotLookback; i++ {
		isHigh := true
		isLow := true
		for j := i - pivotLookback; j <= i+pivotLookback; j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			highs = append(highs, pivot{index: i, price: candles[i].High, volume: candles[i].Volume})
		}
		if isLow {
			lows = append(lows, pivot{index: i, price: candles[i].Low, volume: candles[i].Volume})
		}
	}
	return highs, lows
}

// clusterPivots groups pivots within mergeProximity into levels and
// scores each cluster's strength, liquidity and confluence
func clusterPivots(candles []marketdata.Candle, pivots []pivot, isLow bool, currentPrice, avgVolume float64, ind *indicator.Set, policy Policy) []Level {
	if len(pivots) == 0 {
		return nil
	}

	sorted := make([]pivot, len(pivots))
	copy(sorted, pivots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].price < sorted[j].price })

	var levels []Level
	cluster := []pivot{sorted[0]}

	flush := func() {
		lvl, ok := scoreCluster(candles, cluster, isLow, currentPrice, avgVolume, ind, policy)
		if ok {
			levels = append(levels, lvl)
		}
	}

	for _, p := range sorted[1:] {
		ref := cluster[len(cluster)-1].price
		if math.Abs(p.price-ref)/ref <= mergeProximity {
			cluster = append(cluster, p)
			continue
		}
		flush()
		cluster = []pivot{p}
	}
	flush()

	return levels
}

// scoreCluster turns one pivot cluster into a candidate level
func scoreCluster(candles []marketdata.Candle, cluster []pivot, isLow bool, currentPrice, avgVolume float64, ind *indicator.Set, policy Policy) (Level, bool) {
	touches := len(cluster)

	sumPrice := 0.0
	sumVolume := 0.0
	lastIndex := 0
	for _, p := range cluster {
		sumPrice += p.price
		sumVolume += p.volume
		if p.index > lastIndex {
			lastIndex = p.index
		}
	}
	price := sumPrice / float64(touches)
	touchVolume := sumVolume / float64(touches)

	// A low pivot cluster above price (or high cluster below) has been
	// broken through; it flips role rather than disappearing.
	isSupport := price < currentPrice

	// Strength: touch recurrence plus recency of the latest touch
	recency := float64(lastIndex) / float64(len(candles))
	strength := math.Min(1.0, 0.25*float64(touches)) * (0.7 + 0.3*recency)

	liquidity := 0.0
	if avgVolume > 0 {
		liquidity = math.Min(1.0, touchVolume/(avgVolume*2))
	}

	var confluences []string
	if touches >= policy.MinPivotCount {
		confluences = append(confluences, "pivot_recurrence")
	}
	if nearRoundNumber(price) {
		confluences = append(confluences, "round_number")
	}
	if hasPriorReaction(candles, cluster, isLow) {
		confluences = append(confluences, "prior_reaction")
	}
	if isSupport && ind.RSI <= policy.RSIOversold {
		confluences = append(confluences, "rsi_oversold")
	}
	if !isSupport && ind.RSI >= policy.RSIOverbought {
		confluences = append(confluences, "rsi_overbought")
	}

	if touches < policy.MinPivotCount {
		return Level{}, false
	}

	return Level{
		Price:       price,
		Strength:    strength,
		TouchCount:  touches,
		Source:      "pivot",
		IsSupport:   isSupport,
		Confluences: confluences,
	}, liquidity >= policy.MinLiquidityStrength
}

// maLevels treats the long moving averages as dynamic levels
func maLevels(ind *indicator.Set, currentPrice float64) []Level {
	mas := []struct {
		name  string
		value float64
	}{
		{"ma50", ind.MA50},
		{"ma100", ind.MA100},
		{"ma200", ind.MA200},
	}

	var levels []Level
	for _, ma := range mas {
		if ma.value <= 0 {
			continue
		}
		// Ignore averages sitting on top of price, they carry no edge
		if math.Abs(ma.value-currentPrice)/currentPrice < mergeProximity {
			continue
		}
		levels = append(levels, Level{
			Price:       ma.value,
			Strength:    0.5,
			TouchCount:  0,
			Source:      "ma",
			IsSupport:   ma.value < currentPrice,
			Confluences: []string{"moving_average"},
		})
	}
	return levels
}

// mergeLevels combines levels from different detectors that sit within
// mergeProximity of each other. Prices are weighted-averaged by
// strength, touch counts summed, confluence sources unioned.
func mergeLevels(levels []Level) []Level {
	if len(levels) < 2 {
		return levels
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })

	var merged []Level
	current := levels[0]

	for _, lvl := range levels[1:] {
		if lvl.IsSupport == current.IsSupport &&
			math.Abs(lvl.Price-current.Price)/current.Price <= mergeProximity {
			totalStrength := current.Strength + lvl.Strength
			if totalStrength > 0 {
				current.Price = (current.Price*current.Strength + lvl.Price*lvl.Strength) / totalStrength
			}
			current.Strength = math.Min(1.0, totalStrength*0.75)
			current.TouchCount += lvl.TouchCount
			current.Confluences = unionStrings(current.Confluences, lvl.Confluences)
			current.Source = "merged"
			continue
		}
		merged = append(merged, current)
		current = lvl
	}
	merged = append(merged, current)

	return merged
}

// passesPolicy applies the final policy filters to a level
func passesPolicy(lvl Level, policy Policy) bool {
	if lvl.Strength < policy.MinZoneStrength {
		return false
	}
	if len(lvl.Confluences) < policy.MinConfluence {
		return false
	}
	return true
}

// nearRoundNumber reports whether price sits within roundProximity of
// a psychologically round level (multiples of 25)
func nearRoundNumber(price float64) bool {
	if price <= 0 {
		return false
	}
	nearest := math.Round(price/25.0) * 25.0
	return math.Abs(price-nearest)/price <= roundProximity
}

// hasPriorReaction checks for rejection wicks at the cluster's touches
func hasPriorReaction(candles []marketdata.Candle, cluster []pivot, isLow bool) bool {
	for _, p := range cluster {
		c := candles[p.index]
		body := math.Abs(c.Close - c.Open)
		if body == 0 {
			body = c.Close * 1e-6
		}
		if isLow {
			wick := math.Min(c.Open, c.Close) - c.Low
			if wick > body {
				return true
			}
		} else {
			wick := c.High - math.Max(c.Open, c.Close)
			if wick > body {
				return true
			}
		}
	}
	return false
}

func averageVolume(candles []marketdata.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Volume
	}
	return sum / float64(len(candles))
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(a, b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
