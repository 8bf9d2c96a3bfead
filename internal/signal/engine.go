package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gold-analysis-engine/internal/indicator"
	"gold-analysis-engine/internal/logging"
	"gold-analysis-engine/internal/zones"
)

// Per-horizon sizing and acceptance thresholds
const (
	ScalpStopATR       = 1.5
	ScalpTargetATR     = 2.5
	ScalpMinConfidence = 50
	ScalpMinRiskReward = 1.5

	SwingStopATR       = 3.0
	SwingTargetATR     = 9.0
	SwingMinConfidence = 60
	SwingMinRiskReward = 3.0

	// maxZoneStopATR caps how far away a zone-derived stop may sit
	// before the ATR fallback takes over
	maxZoneStopATR = 4.0

	// minPriceGap is the smallest relative gap tolerated between entry
	// and stop/target after invariant correction
	minPriceGap = 0.001
)

type horizonParams struct {
	horizon       Horizon
	stopATR       float64
	targetATR     float64
	minConfidence int
	minRiskReward float64
}

var scalpParams = horizonParams{
	horizon:       HorizonScalp,
	stopATR:       ScalpStopATR,
	targetATR:     ScalpTargetATR,
	minConfidence: ScalpMinConfidence,
	minRiskReward: ScalpMinRiskReward,
}

var swingParams = horizonParams{
	horizon:       HorizonSwing,
	stopATR:       SwingStopATR,
	targetATR:     SwingTargetATR,
	minConfidence: SwingMinConfidence,
	minRiskReward: SwingMinRiskReward,
}

// Engine turns one analysis snapshot into scalp and swing
// recommendations. It holds no market state between calls.
type Engine struct {
	log *logging.Logger
}

func NewEngine() *Engine {
	return &Engine{log: logging.WithComponent("signal-engine")}
}

// Generate builds the scalp/swing pair for the current snapshot.
// Inputs are read only; the engine never mutates them. Every returned
// recommendation either satisfies the direction price ordering or is
// NO_TRADE with zeroed prices.
func (e *Engine) Generate(price float64, ind *indicator.Set, zr *zones.Result) (*Pair, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("invalid current price %f", price)
	}
	if ind == nil {
		return nil, fmt.Errorf("indicator set required")
	}
	if err := ind.Validate(); err != nil {
		return nil, fmt.Errorf("indicator set rejected: %w", err)
	}
	if zr == nil {
		zr = &zones.Result{}
	}

	direction, confirmations := e.assessBias(price, ind)

	pair := &Pair{
		Scalp: e.build(scalpParams, direction, price, ind, zr, confirmations),
		Swing: e.build(swingParams, direction, price, ind, zr, confirmations),
	}

	e.log.Debug("signal pair generated",
		"direction", string(direction),
		"scalp", string(pair.Scalp.Direction),
		"swing", string(pair.Swing.Direction),
		"confirmations", len(confirmations))

	return pair, nil
}

// assessBias scores trend and momentum evidence and picks a direction.
// The confirmation list is shared by both horizons; weights feed the
// confidence score.
func (e *Engine) assessBias(price float64, ind *indicator.Set) (Direction, []Confirmation) {
	var bull, bear []Confirmation

	// Trend: moving-average ordering
	if price > ind.MA20 && ind.MA20 > ind.MA50 && ind.MA50 > ind.MA200 {
		bull = append(bull, Confirmation{
			Name: "ma_stack_bullish", Category: "trend", Weight: 30,
			Detail: fmt.Sprintf("price %.2f above stacked MAs 20/50/200", price),
		})
	} else if price < ind.MA20 && ind.MA20 < ind.MA50 && ind.MA50 < ind.MA200 {
		bear = append(bear, Confirmation{
			Name: "ma_stack_bearish", Category: "trend", Weight: 30,
			Detail: fmt.Sprintf("price %.2f below stacked MAs 20/50/200", price),
		})
	} else if price > ind.MA50 {
		bull = append(bull, Confirmation{
			Name: "above_ma50", Category: "trend", Weight: 15,
			Detail: fmt.Sprintf("price %.2f above MA50 %.2f", price, ind.MA50),
		})
	} else if price < ind.MA50 {
		bear = append(bear, Confirmation{
			Name: "below_ma50", Category: "trend", Weight: 15,
			Detail: fmt.Sprintf("price %.2f below MA50 %.2f", price, ind.MA50),
		})
	}

	if price > ind.MA200 {
		bull = append(bull, Confirmation{
			Name: "above_ma200", Category: "trend", Weight: 10,
			Detail: fmt.Sprintf("price %.2f above MA200 %.2f", price, ind.MA200),
		})
	} else if price < ind.MA200 {
		bear = append(bear, Confirmation{
			Name: "below_ma200", Category: "trend", Weight: 10,
			Detail: fmt.Sprintf("price %.2f below MA200 %.2f", price, ind.MA200),
		})
	}

	// Momentum: MACD line against its signal line
	if ind.MACD > ind.MACDSignal {
		bull = append(bull, Confirmation{
			Name: "macd_bullish_cross", Category: "momentum", Weight: 20,
			Detail: fmt.Sprintf("MACD %.3f above signal %.3f", ind.MACD, ind.MACDSignal),
		})
	} else if ind.MACD < ind.MACDSignal {
		bear = append(bear, Confirmation{
			Name: "macd_bearish_cross", Category: "momentum", Weight: 20,
			Detail: fmt.Sprintf("MACD %.3f below signal %.3f", ind.MACD, ind.MACDSignal),
		})
	}

	// Momentum: RSI regime. Extremes read as exhaustion against the
	// move, the middle band as continuation.
	switch {
	case ind.RSI <= 30:
		bull = append(bull, Confirmation{
			Name: "rsi_oversold", Category: "momentum", Weight: 15,
			Detail: fmt.Sprintf("RSI %.1f oversold", ind.RSI),
		})
	case ind.RSI >= 70:
		bear = append(bear, Confirmation{
			Name: "rsi_overbought", Category: "momentum", Weight: 15,
			Detail: fmt.Sprintf("RSI %.1f overbought", ind.RSI),
		})
	case ind.RSI > 55:
		bull = append(bull, Confirmation{
			Name: "rsi_bullish_momentum", Category: "momentum", Weight: 10,
			Detail: fmt.Sprintf("RSI %.1f above midline", ind.RSI),
		})
	case ind.RSI < 45:
		bear = append(bear, Confirmation{
			Name: "rsi_bearish_momentum", Category: "momentum", Weight: 10,
			Detail: fmt.Sprintf("RSI %.1f below midline", ind.RSI),
		})
	}

	bullScore := totalWeight(bull)
	bearScore := totalWeight(bear)

	switch {
	case bullScore > bearScore:
		return DirectionBuy, bull
	case bearScore > bullScore:
		return DirectionSell, bear
	default:
		return DirectionNoTrade, nil
	}
}

// build assembles and vets one horizon's recommendation
func (e *Engine) build(p horizonParams, direction Direction, price float64, ind *indicator.Set, zr *zones.Result, confirmations []Confirmation) *Recommendation {
	now := time.Now()

	if direction == DirectionNoTrade {
		return noTrade(p.horizon, "no directional edge in trend and momentum evidence", now)
	}

	confs := append([]Confirmation(nil), confirmations...)
	stop, stopSource := e.stopPrice(p, direction, price, ind, zr)
	target, target2, targetSource := e.targetPrices(p, direction, price, ind, zr)

	if stopSource == "zone" {
		confs = append(confs, Confirmation{
			Name: "zone_protected_stop", Category: "zone", Weight: 10,
			Detail: fmt.Sprintf("stop %.2f shielded by detected level", stop),
		})
	}
	if targetSource == "zone" {
		confs = append(confs, Confirmation{
			Name: "zone_bounded_target", Category: "zone", Weight: 5,
			Detail: fmt.Sprintf("target %.2f at detected level", target),
		})
	}

	confidence := totalWeight(confs)
	if confidence > 100 {
		confidence = 100
	}

	rec := &Recommendation{
		Horizon:       p.horizon,
		Direction:     direction,
		EntryPrice:    price,
		StopLoss:      stop,
		TakeProfit:    target,
		TakeProfit2:   target2,
		Confidence:    confidence,
		Confirmations: confs,
		GeneratedAt:   now,
	}

	rec = e.enforceOrdering(rec)
	if rec.Direction == DirectionNoTrade {
		return rec
	}

	rec.RiskReward = riskReward(rec.EntryPrice, rec.StopLoss, rec.TakeProfit)
	if math.IsNaN(rec.RiskReward) || math.IsInf(rec.RiskReward, 0) || rec.RiskReward <= 0 {
		return noTrade(p.horizon, "degenerate risk/reward after price correction", now)
	}

	if rec.Confidence < p.minConfidence {
		return noTrade(p.horizon,
			fmt.Sprintf("confidence %d below %s threshold %d", rec.Confidence, p.horizon, p.minConfidence), now)
	}
	if rec.RiskReward < p.minRiskReward {
		return noTrade(p.horizon,
			fmt.Sprintf("risk/reward %.2f below %s threshold %.1f", rec.RiskReward, p.horizon, p.minRiskReward), now)
	}

	rec.Reasoning = summarize(rec)
	return rec
}

// stopPrice picks the protective stop: just beyond the nearest adverse
// zone when one sits close enough, ATR multiple otherwise
func (e *Engine) stopPrice(p horizonParams, direction Direction, price float64, ind *indicator.Set, zr *zones.Result) (float64, string) {
	atrStopDistance := p.stopATR * ind.ATR

	if direction == DirectionBuy {
		if len(zr.Supports) > 0 {
			nearest := zr.Supports[0].Price // nearest-first ordering
			if price-nearest > 0 && price-nearest <= maxZoneStopATR*ind.ATR {
				return nearest * (1 - minPriceGap), "zone"
			}
		}
		return price - atrStopDistance, "atr"
	}

	if len(zr.Resistances) > 0 {
		nearest := zr.Resistances[0].Price
		if nearest-price > 0 && nearest-price <= maxZoneStopATR*ind.ATR {
			return nearest * (1 + minPriceGap), "zone"
		}
	}
	return price + atrStopDistance, "atr"
}

// targetPrices picks the primary and extended targets: nearest
// favorable zone when it exists, ATR multiples otherwise
func (e *Engine) targetPrices(p horizonParams, direction Direction, price float64, ind *indicator.Set, zr *zones.Result) (target, target2 float64, source string) {
	atrTarget := p.targetATR * ind.ATR

	if direction == DirectionBuy {
		target = price + atrTarget
		target2 = price + atrTarget*1.5
		source = "atr"
		if len(zr.Resistances) > 0 && zr.Resistances[0].Price > price {
			target = zr.Resistances[0].Price
			source = "zone"
			if len(zr.Resistances) > 1 {
				target2 = zr.Resistances[1].Price
			} else {
				target2 = target + atrTarget*0.5
			}
		}
		return target, target2, source
	}

	target = price - atrTarget
	target2 = price - atrTarget*1.5
	source = "atr"
	if len(zr.Supports) > 0 && zr.Supports[0].Price < price {
		target = zr.Supports[0].Price
		source = "zone"
		if len(zr.Supports) > 1 {
			target2 = zr.Supports[1].Price
		} else {
			target2 = target - atrTarget*0.5
		}
	}
	return target, target2, source
}

// enforceOrdering corrects the structural price invariants with a
// minimum-gap nudge, degrading to NO_TRADE when correction is not
// possible. A malformed recommendation never leaves the engine.
func (e *Engine) enforceOrdering(rec *Recommendation) *Recommendation {
	entry := rec.EntryPrice
	if entry <= 0 {
		return noTrade(rec.Horizon, "entry price collapsed to zero", rec.GeneratedAt)
	}

	switch rec.Direction {
	case DirectionBuy:
		if rec.StopLoss >= entry {
			e.log.Warn("correcting BUY stop above entry", "entry", entry, "stop", rec.StopLoss)
			rec.StopLoss = entry * (1 - minPriceGap)
		}
		if rec.TakeProfit <= entry {
			e.log.Warn("correcting BUY target below entry", "entry", entry, "target", rec.TakeProfit)
			rec.TakeProfit = entry * (1 + minPriceGap)
		}
		if rec.TakeProfit2 <= rec.TakeProfit {
			rec.TakeProfit2 = rec.TakeProfit * (1 + minPriceGap)
		}
		if !(rec.StopLoss < entry && entry < rec.TakeProfit) {
			return noTrade(rec.Horizon, "BUY price ordering unrecoverable", rec.GeneratedAt)
		}
	case DirectionSell:
		if rec.StopLoss <= entry {
			e.log.Warn("correcting SELL stop below entry", "entry", entry, "stop", rec.StopLoss)
			rec.StopLoss = entry * (1 + minPriceGap)
		}
		if rec.TakeProfit >= entry {
			e.log.Warn("correcting SELL target above entry", "entry", entry, "target", rec.TakeProfit)
			rec.TakeProfit = entry * (1 - minPriceGap)
		}
		if rec.TakeProfit2 >= rec.TakeProfit {
			rec.TakeProfit2 = rec.TakeProfit * (1 - minPriceGap)
		}
		if !(rec.TakeProfit < entry && entry < rec.StopLoss) {
			return noTrade(rec.Horizon, "SELL price ordering unrecoverable", rec.GeneratedAt)
		}
	}
	return rec
}

// riskReward computes |TP-entry| / |entry-SL|
func riskReward(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return math.Inf(1)
	}
	return math.Abs(target-entry) / risk
}

func noTrade(h Horizon, reason string, at time.Time) *Recommendation {
	return &Recommendation{
		Horizon:     h,
		Direction:   DirectionNoTrade,
		Reasoning:   reason,
		GeneratedAt: at,
	}
}

func totalWeight(confs []Confirmation) int {
	total := 0
	for _, c := range confs {
		total += c.Weight
	}
	return total
}

func summarize(rec *Recommendation) string {
	names := make([]string, 0, len(rec.Confirmations))
	for _, c := range rec.Confirmations {
		names = append(names, c.Name)
	}
	return fmt.Sprintf("%s %s: entry %.2f, stop %.2f, target %.2f (RR %.2f, confidence %d) on %s",
		rec.Direction, rec.Horizon, rec.EntryPrice, rec.StopLoss, rec.TakeProfit,
		rec.RiskReward, rec.Confidence, strings.Join(names, ", "))
}
