package models

import "time"

// Display names used on ValueBet.Market.
const (
	MarketName1X2       = "1X2"
	MarketNameOverUnder = "Over/Under"
	MarketNameBTTS      = "BTTS"
)

// ValueBet is an actionable recommendation derived from a MatchPrediction and one market.
// ValueGap is in percentage points; ExpectedValue is per unit stake.
type ValueBet struct {
	ID                  string    `json:"id,omitempty"`
	MatchID             string    `json:"match_id"`
	Market              string    `json:"market"`
	MarketKey           string    `json:"market_key"`
	Selection           string    `json:"selection"`
	Odds                float64   `json:"odds"`
	ModelProbability    float64   `json:"model_probability"`
	ImpliedProbability  float64   `json:"implied_probability"`
	ValueGap            float64   `json:"value_gap"`
	ExpectedValue       float64   `json:"expected_value"`
	RecommendedStakePct float64   `json:"recommended_stake_pct"`
	Recommended         bool      `json:"recommended"`
	DetectedAt          time.Time `json:"detected_at,omitempty"`
}
