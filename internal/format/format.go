// Package format renders engine results as the fixed user-facing texts sent by the
// bot and returned by the API. Every number shown to a user passes through decimal
// rounding here so the same probability always prints the same way.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/maxadvisor/internal/engine"
	"github.com/rewired-gh/maxadvisor/internal/models"
)

// RefusalKind selects one of the brand-safe refusal texts.
type RefusalKind string

const (
	RefusalOddsCalculation   RefusalKind = "odds_calculation"
	RefusalUnsupportedMarket RefusalKind = "unsupported_market"
	RefusalNoData            RefusalKind = "no_data"
)

const (
	NoSafePicks          = "No Safe picks (≥70%) available today. Let me show you Medium confidence options instead."
	NoAccumulator        = "Not enough suitable picks available for accumulator today."
	AccumulatorFooter    = "ℹ Based on RealWin model probabilities. Please check sportsbook for odds and returns."
	defaultReason        = "model prediction"
	maxReasons           = 2
	defaultRestDays      = 3.0
	xgTrendMargin        = 0.5
	restAdvantageDays    = 2.0
	strongFormMinimumWin = 3
)

var refusals = map[RefusalKind]string{
	RefusalOddsCalculation: "My predictions focus on match winners and accumulators. For goal-line bets like Over 2.5, " +
		"please check your sportsbook for odds and returns. Want me to show today's safest match-winner picks instead?",
	RefusalUnsupportedMarket: "My focus is on match-winner predictions and confidence tiers. For other markets like " +
		"goals or handicaps, your sportsbook will show the latest odds and returns.",
	RefusalNoData: "I don't have current data for that match. Let me show you today's predictions with " +
		"full analysis instead.",
}

var hundred = decimal.NewFromInt(100)

// Refusal returns the fixed text for kind. Unknown kinds get the unsupported-market text.
func Refusal(kind RefusalKind) string {
	if text, ok := refusals[kind]; ok {
		return text
	}
	return refusals[RefusalUnsupportedMarket]
}

// Percent renders a probability in [0,1] as a percentage with the given decimals.
func Percent(p float64, places int32) string {
	return decimal.NewFromFloat(p).Mul(hundred).StringFixed(places)
}

// Signed renders v with an explicit sign, e.g. "+0.43" or "-0.12".
func Signed(v float64, places int32) string {
	d := decimal.NewFromFloat(v).Round(places)
	if d.Sign() >= 0 {
		return "+" + d.StringFixed(places)
	}
	return d.StringFixed(places)
}

// Fixed renders v rounded half away from zero.
func Fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

// Kickoff renders the kickoff time as "HH:MM ZONE" in loc.
func Kickoff(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("15:04 MST")
}

// Pick renders one prediction as a bullet line.
func Pick(p models.MatchPrediction, loc *time.Location) string {
	return fmt.Sprintf("• %s to win (%s%%) – Kickoff %s. %s",
		p.Model.Winner, Percent(p.Model.PWin, 1), Kickoff(p.KickoffUTC, loc), OneLineReason(p.Stats))
}

// SafestPicks renders the safest-picks reply.
func SafestPicks(picks []models.MatchPrediction, loc *time.Location) string {
	if len(picks) == 0 {
		return NoSafePicks
	}
	lines := make([]string, 0, len(picks))
	for _, p := range picks {
		lines = append(lines, Pick(p, loc))
	}
	return strings.Join(lines, "\n")
}

// Accumulator renders an accumulator with its combined numbers and footer.
func Accumulator(acc models.Accumulator, loc *time.Location) string {
	if len(acc.Selections) == 0 {
		return NoAccumulator
	}

	lines := make([]string, 0, len(acc.Selections)+5)
	for _, s := range acc.Selections {
		lines = append(lines, Pick(s, loc))
	}
	if short := acc.Shortfall(); short > 0 {
		lines = append(lines, fmt.Sprintf("Only %d of %d legs available.", len(acc.Selections), acc.RequestedLegs))
	}

	lines = append(lines, fmt.Sprintf("Combined probability: %s%% (%s)",
		Percent(acc.CombinedProbability, 1), breakdown(acc.ConfidenceBreakdown)))
	if acc.CombinedOdds != nil {
		lines = append(lines, fmt.Sprintf("Combined odds: %s", Fixed(*acc.CombinedOdds, 2)))
	}
	lines = append(lines, fmt.Sprintf("Suggested stake: %s%% of bankroll", Fixed(acc.RecommendedStakePct, 1)))
	lines = append(lines, AccumulatorFooter)

	return strings.Join(lines, "\n")
}

func breakdown(counts map[models.ConfidenceTier]int) string {
	parts := make([]string, 0, 2)
	for _, tier := range []models.ConfidenceTier{models.TierSafe, models.TierMedium} {
		if n := counts[tier]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, tier))
		}
	}
	return strings.Join(parts, ", ")
}

// ValueBet renders the three-line block for one bet.
func ValueBet(bet models.ValueBet, p models.MatchPrediction) string {
	model := Percent(bet.ModelProbability, 0)
	return fmt.Sprintf("• %s (%s%%)\n  ○ %s\n  ○ Book odds → Implied %s%%, Model %s%% → Value Gap +%spp, EV %s.",
		bet.Selection, model,
		OneLineReason(p.Stats),
		Percent(bet.ImpliedProbability, 1), model, Fixed(bet.ValueGap, 1), Signed(bet.ExpectedValue, 2))
}

// ValueBets renders value bets in the given order. Bets whose prediction is not in
// predictions are skipped; with nothing to show the no-data refusal is returned.
func ValueBets(bets []models.ValueBet, predictions []models.MatchPrediction) string {
	byID := make(map[string]models.MatchPrediction, len(predictions))
	for _, p := range predictions {
		byID[p.MatchID] = p
	}

	blocks := make([]string, 0, len(bets))
	for _, bet := range bets {
		p, ok := byID[bet.MatchID]
		if !ok {
			continue
		}
		blocks = append(blocks, ValueBet(bet, p))
	}
	if len(blocks) == 0 {
		return Refusal(RefusalNoData)
	}
	return strings.Join(blocks, "\n")
}

// BettingMath renders the full odds math for one price.
func BettingMath(m engine.BettingMath) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Implied probability: %s%%\n", Percent(m.ImpliedProbability, 1))
	fmt.Fprintf(&b, "Fair odds: %s\n", Fixed(m.FairOdds, 2))
	fmt.Fprintf(&b, "Expected value: %s per unit\n", Signed(m.ExpectedValue, 2))
	fmt.Fprintf(&b, "Value gap: %spp\n", Signed(m.ValueGapPP, 1))
	fmt.Fprintf(&b, "Kelly: %s%% (half-Kelly %s%%)\n", Percent(m.KellyFraction, 1), Percent(m.HalfKelly, 1))
	fmt.Fprintf(&b, "Recommended stake: %s%% of bankroll", Fixed(m.RecommendedStakePct, 1))
	return b.String()
}

// StakeAmount converts a stake percentage of bankroll into money, rounded to cents.
func StakeAmount(bankroll, pct float64) decimal.Decimal {
	return decimal.NewFromFloat(bankroll).
		Mul(decimal.NewFromFloat(pct)).
		Div(hundred).
		Round(2)
}
