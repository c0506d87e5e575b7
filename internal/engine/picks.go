package engine

import (
	"sort"

	"github.com/rewired-gh/maxadvisor/internal/models"
)

// DefaultSafestCount is how many safest picks the conversation layer asks for by default.
const DefaultSafestCount = 2

// sortByWinProbability returns a copy of predictions stably sorted by p_win descending.
// Equal probabilities keep their upstream order.
func sortByWinProbability(predictions []models.MatchPrediction) []models.MatchPrediction {
	sorted := make([]models.MatchPrediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Model.PWin > sorted[j].Model.PWin
	})
	return sorted
}

// GetSafestPicks returns up to count Safe-tier predictions, highest probability first.
// It never pads with lower tiers; an empty result means no Safe picks exist.
func GetSafestPicks(predictions []models.MatchPrediction, count int) []models.MatchPrediction {
	return GetPicksByTier(predictions, models.TierSafe, count)
}

// GetPicksByTier returns up to count predictions of exactly tier, highest probability first.
func GetPicksByTier(predictions []models.MatchPrediction, tier models.ConfidenceTier, count int) []models.MatchPrediction {
	picks := make([]models.MatchPrediction, 0)
	if count <= 0 {
		return picks
	}
	for _, p := range sortByWinProbability(predictions) {
		if p.Tier() != tier {
			continue
		}
		picks = append(picks, p)
		if len(picks) == count {
			break
		}
	}
	return picks
}
