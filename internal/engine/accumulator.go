package engine

import (
	"github.com/rewired-gh/maxadvisor/internal/models"
)

// DefaultAccumulatorLegs is the leg count used when the caller does not ask for one.
const DefaultAccumulatorLegs = 3

// BuildAccumulator fills up to legs selections, Safe tier first and then Medium, each in
// global p_win order. Value-tier predictions are never eligible. A short result is not an
// error; Accumulator.Shortfall reports the missing legs.
//
// CombinedProbability multiplies the selected legs' p_win as if the matches were
// independent. No correlation adjustment is made.
func BuildAccumulator(predictions []models.MatchPrediction, legs int) models.Accumulator {
	acc := models.Accumulator{
		Selections:          make([]models.MatchPrediction, 0),
		RequestedLegs:       legs,
		ConfidenceBreakdown: make(map[models.ConfidenceTier]int),
	}
	if legs <= 0 {
		return acc
	}

	var safe, medium []models.MatchPrediction
	for _, p := range sortByWinProbability(predictions) {
		switch p.Tier() {
		case models.TierSafe:
			safe = append(safe, p)
		case models.TierMedium:
			medium = append(medium, p)
		}
	}

	for _, pool := range [][]models.MatchPrediction{safe, medium} {
		for _, p := range pool {
			if len(acc.Selections) == legs {
				break
			}
			acc.Selections = append(acc.Selections, p)
		}
	}

	if len(acc.Selections) == 0 {
		return acc
	}

	acc.CombinedProbability = 1.0
	for _, s := range acc.Selections {
		acc.CombinedProbability *= s.Model.PWin
		acc.ConfidenceBreakdown[s.Tier()]++
	}
	acc.CombinedOdds = combinedOdds(acc.Selections)
	acc.RecommendedStakePct = accumulatorStakePct(acc.ConfidenceBreakdown[models.TierSafe], len(acc.Selections))

	return acc
}

// combinedOdds multiplies each leg's winner-side 1X2 price. Any missing or unusable
// price makes the whole product unknown.
func combinedOdds(selections []models.MatchPrediction) *float64 {
	combined := 1.0
	for _, s := range selections {
		odds, ok := s.WinnerOdds()
		if !ok || odds <= 1 {
			return nil
		}
		combined *= odds
	}
	return &combined
}

// accumulatorStakePct scales the suggested stake with the share of Safe legs.
func accumulatorStakePct(safeCount, total int) float64 {
	switch {
	case total == 0:
		return 0
	case safeCount == total:
		return 2.0
	case float64(safeCount)/float64(total) >= 0.67:
		return 1.5
	case safeCount > 0:
		return 1.0
	default:
		return 0.5
	}
}
