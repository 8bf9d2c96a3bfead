package zones

import "fmt"

// Policy bundles the detection thresholds for one pipeline run. It is
// passed explicitly into every detection call and never mutated after
// construction; there is no package-level policy state.
type Policy struct {
	Name                 string  `json:"name"`
	MinZoneStrength      float64 `json:"min_zone_strength"`      // [0,1]
	MinConfluence        int     `json:"min_confluence"`         // independent confirmations
	MinPivotCount        int     `json:"min_pivot_count"`        // touches to qualify a pivot cluster
	RSIOversold          float64 `json:"rsi_oversold"`           // RSI floor for support confluence
	RSIOverbought        float64 `json:"rsi_overbought"`         // RSI ceiling for resistance confluence
	MinLiquidityStrength float64 `json:"min_liquidity_strength"` // [0,1], relative volume at touches
}

// Named strictness levels
const (
	StrictnessRelaxed  = "relaxed"
	StrictnessBalanced = "balanced"
	StrictnessStrict   = "strict"
)

// PolicyFor resolves a named strictness level to its thresholds
func PolicyFor(level string) (Policy, error) {
	switch level {
	case StrictnessRelaxed:
		return Policy{
			Name:                 StrictnessRelaxed,
			MinZoneStrength:      0.25,
			MinConfluence:        1,
			MinPivotCount:        2,
			RSIOversold:          35,
			RSIOverbought:        65,
			MinLiquidityStrength: 0.2,
		}, nil
	case StrictnessBalanced:
		return Policy{
			Name:                 StrictnessBalanced,
			MinZoneStrength:      0.4,
			MinConfluence:        2,
			MinPivotCount:        2,
			RSIOversold:          30,
			RSIOverbought:        70,
			MinLiquidityStrength: 0.3,
		}, nil
	case StrictnessStrict:
		return Policy{
			Name:                 StrictnessStrict,
			MinZoneStrength:      0.55,
			MinConfluence:        3,
			MinPivotCount:        3,
			RSIOversold:          25,
			RSIOverbought:        75,
			MinLiquidityStrength: 0.4,
		}, nil
	default:
		return Policy{}, fmt.Errorf("unknown strictness level %q", level)
	}
}
