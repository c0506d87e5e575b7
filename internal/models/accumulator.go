package models

// Accumulator is a bundle of predictions for a multi-leg bet.
// CombinedProbability assumes the legs are independent.
type Accumulator struct {
	Selections          []MatchPrediction      `json:"selections"`
	RequestedLegs       int                    `json:"requested_legs"`
	CombinedProbability float64                `json:"combined_probability"`
	ConfidenceBreakdown map[ConfidenceTier]int `json:"confidence_breakdown"`
	// CombinedOdds is nil unless every selection has a 1X2 price on its winner.
	CombinedOdds        *float64 `json:"combined_odds,omitempty"`
	RecommendedStakePct float64  `json:"recommended_stake_pct"`
}

// Shortfall is the number of requested legs that could not be filled.
func (a *Accumulator) Shortfall() int {
	if n := a.RequestedLegs - len(a.Selections); n > 0 {
		return n
	}
	return 0
}

// Complete reports whether every requested leg was filled.
func (a *Accumulator) Complete() bool {
	return len(a.Selections) > 0 && a.Shortfall() == 0
}
