package signal

import "time"

// Direction of a trade recommendation
type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNoTrade Direction = "NO_TRADE"
)

// Horizon names the two recommendation timeframes
type Horizon string

const (
	HorizonScalp Horizon = "scalp"
	HorizonSwing Horizon = "swing"
)

// Confirmation is one typed contribution to a recommendation's
// confidence score
type Confirmation struct {
	Name     string `json:"name"`
	Category string `json:"category"` // trend, momentum, zone
	Detail   string `json:"detail"`
	Weight   int    `json:"weight"`
}

// Recommendation is one fully-specified trade idea. For BUY the price
// ordering is SL < entry < TP, for SELL it is TP < entry < SL, and
// NO_TRADE carries zeroed prices with the rejection reason.
type Recommendation struct {
	Horizon       Horizon        `json:"horizon"`
	Direction     Direction      `json:"direction"`
	EntryPrice    float64        `json:"entry_price"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	TakeProfit2   float64        `json:"take_profit_2"`
	Confidence    int            `json:"confidence"` // [0,100]
	RiskReward    float64        `json:"risk_reward"`
	Reasoning     string         `json:"reasoning"`
	Confirmations []Confirmation `json:"confirmations,omitempty"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Actionable reports whether the recommendation proposes a trade
func (r *Recommendation) Actionable() bool {
	return r != nil && (r.Direction == DirectionBuy || r.Direction == DirectionSell)
}

// Pair bundles the scalp and swing recommendations from one run
type Pair struct {
	Scalp *Recommendation `json:"scalp"`
	Swing *Recommendation `json:"swing"`
}
