package marketdata

import (
	"math"
	"math/rand"
	"time"
)

// marketRegime is the trend held during one synthetic run-length
type marketRegime int

const (
	regimeBullish marketRegime = iota
	regimeBearish
	regimeSideways
)

// regime drift per candle, as a fraction of price
var regimeDrift = map[marketRegime]float64{
	regimeBullish:  0.0008,
	regimeBearish:  -0.0008,
	regimeSideways: 0.0,
}

// regime volatility multipliers on top of the base factor
var regimeVolatility = map[marketRegime]float64{
	regimeBullish:  1.0,
	regimeBearish:  1.3,
	regimeSideways: 0.6,
}

// SyntheticGenerator produces statistically plausible fallback candles
// when every upstream provider is exhausted. A fixed seed yields a
// reproducible series.
type SyntheticGenerator struct {
	rng            *rand.Rand
	baseVolatility float64
}

// NewSyntheticGenerator creates a generator. seed == 0 seeds from the
// clock; any other value gives deterministic output.
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticGenerator{
		rng:            rand.New(rand.NewSource(seed)),
		baseVolatility: 0.004, // 0.4% per candle before regime scaling
	}
}

// Generate produces exactly count candles anchored at anchorPrice,
// ending at the current time, using a random walk with regime
// switching. Every candle satisfies the OHLCV invariants.
func (g *SyntheticGenerator) Generate(interval string, count int, anchorPrice float64) []Candle {
	if count <= 0 {
		return nil
	}
	if anchorPrice <= 0 {
		anchorPrice = 2650.0
	}

	step := IntervalDuration(interval)
	now := time.Now().UTC().Truncate(step)

	regime := g.pickRegime()
	regimeLeft := g.runLength()

	candles := make([]Candle, count)
	price := anchorPrice

	for i := 0; i < count; i++ {
		if regimeLeft == 0 {
			regime = g.pickRegime()
			regimeLeft = g.runLength()
		}
		regimeLeft--

		vol := g.baseVolatility * regimeVolatility[regime]
		drift := regimeDrift[regime]

		open := price
		change := drift + (g.rng.Float64()-0.5)*2*vol
		closePrice := open * (1 + change)

		// Wicks scale with the candle's volatility
		upperWick := math.Max(open, closePrice) * (1 + g.rng.Float64()*vol*0.6)
		lowerWick := math.Min(open, closePrice) * (1 - g.rng.Float64()*vol*0.6)

		candles[i] = Candle{
			OpenTime: now.Add(-time.Duration(count-i) * step),
			Open:     open,
			High:     upperWick,
			Low:      lowerWick,
			Close:    closePrice,
			Volume:   g.volume(),
		}

		price = closePrice
	}

	return candles
}

// pickRegime chooses the next trend regime
func (g *SyntheticGenerator) pickRegime() marketRegime {
	switch g.rng.Intn(3) {
	case 0:
		return regimeBullish
	case 1:
		return regimeBearish
	default:
		return regimeSideways
	}
}

// runLength draws how many candles a regime persists (20-60)
func (g *SyntheticGenerator) runLength() int {
	return 20 + g.rng.Intn(41)
}

// volume draws from a skewed range with occasional spikes
func (g *SyntheticGenerator) volume() float64 {
	base := 800.0 + g.rng.Float64()*g.rng.Float64()*4200.0
	if g.rng.Float64() < 0.05 {
		base *= 3.0 + g.rng.Float64()*3.0
	}
	return base
}
