// Package engine implements the betting calculation core: odds math, value-bet
// detection, safest-pick selection and accumulator building.
//
// Everything here is pure and synchronous. Functions take their inputs by value or
// read-only slice, never mutate them, and share no state, so callers may invoke them
// concurrently across matches and users without coordination.
package engine

import (
	"errors"
	"fmt"
	"math"
)

// Risk constants. Staking is always half-Kelly, hard capped at MaxStakePct of bankroll.
const (
	KellyMultiplier = 0.5
	MaxStakePct     = 5.0
)

var (
	// ErrInvalidOdds is returned for decimal odds that are not finite or not above 1.
	ErrInvalidOdds = errors.New("invalid odds")
	// ErrInvalidProbability is returned for probabilities outside (0, 1].
	ErrInvalidProbability = errors.New("invalid probability")
)

// BettingMath is the full set of derived quantities for one price.
type BettingMath struct {
	ImpliedProbability  float64 `json:"implied_probability"`
	ImpliedPercentage   float64 `json:"implied_percentage"`
	FairOdds            float64 `json:"fair_odds"`
	ExpectedValue       float64 `json:"expected_value"`
	ValueGapPP          float64 `json:"value_gap_pp"`
	KellyFraction       float64 `json:"kelly_fraction"`
	HalfKelly           float64 `json:"half_kelly"`
	RecommendedStakePct float64 `json:"recommended_stake_pct"`
}

// CalculateBettingMath derives implied probability, fair odds, EV, value gap and
// Kelly staking from a model probability and decimal odds.
func CalculateBettingMath(modelProbability, odds float64) (BettingMath, error) {
	if math.IsNaN(odds) || math.IsInf(odds, 0) || odds <= 1 {
		return BettingMath{}, fmt.Errorf("%w: %v must be a finite decimal price above 1", ErrInvalidOdds, odds)
	}
	if math.IsNaN(modelProbability) || modelProbability < 0 || modelProbability > 1 {
		return BettingMath{}, fmt.Errorf("%w: %v must be between 0 and 1", ErrInvalidProbability, modelProbability)
	}
	if modelProbability == 0 {
		return BettingMath{}, fmt.Errorf("%w: fair odds are undefined for zero probability", ErrInvalidProbability)
	}

	implied := 1 / odds
	ev := modelProbability*odds - 1

	kelly := math.Max(0, ev/(odds-1))
	half := kelly * KellyMultiplier

	return BettingMath{
		ImpliedProbability:  implied,
		ImpliedPercentage:   implied * 100,
		FairOdds:            1 / modelProbability,
		ExpectedValue:       ev,
		ValueGapPP:          (modelProbability - implied) * 100,
		KellyFraction:       kelly,
		HalfKelly:           half,
		RecommendedStakePct: math.Min(MaxStakePct, math.Max(0, half*100)),
	}, nil
}
