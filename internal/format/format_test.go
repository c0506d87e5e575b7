package format

import (
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/engine"
	"github.com/rewired-gh/maxadvisor/internal/models"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", name, err)
	}
	return loc
}

func prediction(id, home, away string, pWin float64, stats map[string]any) models.MatchPrediction {
	return models.MatchPrediction{
		MatchID:    id,
		KickoffUTC: time.Date(2025, 9, 25, 18, 30, 0, 0, time.UTC),
		Teams:      models.Teams{Home: home, Away: away},
		Model:      models.Model{Winner: home, PWin: pWin},
		Markets:    models.Markets{models.Market1X2: {"home": 2.1, "draw": 3.2, "away": 3.5}},
		Stats:      stats,
	}
}

func TestPickLine(t *testing.T) {
	p := prediction("m1", "Chelsea", "Spurs", 0.72, map[string]any{
		"form_last5": map[string]any{"home": "WWDWW"},
	})

	got := Pick(p, mustLoad(t, "Asia/Kolkata"))
	want := "• Chelsea to win (72.0%) – Kickoff 00:00 IST. strong home form"
	if got != want {
		t.Errorf("Pick() = %q, want %q", got, want)
	}
}

func TestSafestPicksEmpty(t *testing.T) {
	if got := SafestPicks(nil, time.UTC); got != NoSafePicks {
		t.Errorf("SafestPicks(nil) = %q", got)
	}
}

func TestSafestPicksLines(t *testing.T) {
	picks := []models.MatchPrediction{
		prediction("m1", "Chelsea", "Spurs", 0.80, nil),
		prediction("m2", "Arsenal", "Everton", 0.72, nil),
	}
	got := SafestPicks(picks, time.UTC)
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), got)
	}
	if !strings.HasPrefix(lines[0], "• Chelsea to win (80.0%) – Kickoff 18:30 UTC.") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "model prediction") {
		t.Errorf("expected default reason, got %q", lines[1])
	}
}

func TestAccumulatorText(t *testing.T) {
	odds := 4.41
	acc := models.Accumulator{
		Selections: []models.MatchPrediction{
			prediction("m1", "Chelsea", "Spurs", 0.80, nil),
			prediction("m2", "Arsenal", "Everton", 0.60, nil),
		},
		RequestedLegs:       3,
		CombinedProbability: 0.48,
		ConfidenceBreakdown: map[models.ConfidenceTier]int{models.TierSafe: 1, models.TierMedium: 1},
		CombinedOdds:        &odds,
		RecommendedStakePct: 1.0,
	}

	got := Accumulator(acc, time.UTC)
	for _, want := range []string{
		"Only 2 of 3 legs available.",
		"Combined probability: 48.0% (1 Safe, 1 Medium)",
		"Combined odds: 4.41",
		"Suggested stake: 1.0% of bankroll",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("accumulator text missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, AccumulatorFooter) {
		t.Errorf("accumulator text should end with the footer:\n%s", got)
	}

	if got := Accumulator(models.Accumulator{RequestedLegs: 3}, time.UTC); got != NoAccumulator {
		t.Errorf("empty accumulator = %q", got)
	}
}

func TestValueBetsBlock(t *testing.T) {
	p := prediction("m1", "Chelsea", "Spurs", 0.68, nil)
	bet := models.ValueBet{
		MatchID:            "m1",
		Selection:          "Chelsea to win",
		ModelProbability:   0.68,
		ImpliedProbability: 1 / 2.1,
		ValueGap:           20.38,
		ExpectedValue:      0.428,
	}

	got := ValueBets([]models.ValueBet{bet}, []models.MatchPrediction{p})
	want := "• Chelsea to win (68%)\n" +
		"  ○ model prediction\n" +
		"  ○ Book odds → Implied 47.6%, Model 68% → Value Gap +20.4pp, EV +0.43."
	if got != want {
		t.Errorf("ValueBets() =\n%s\nwant\n%s", got, want)
	}
}

func TestValueBetsWithoutPredictions(t *testing.T) {
	bets := []models.ValueBet{{MatchID: "ghost"}}
	if got := ValueBets(bets, nil); got != Refusal(RefusalNoData) {
		t.Errorf("expected no-data refusal, got %q", got)
	}
	if got := ValueBets(nil, nil); got != Refusal(RefusalNoData) {
		t.Errorf("expected no-data refusal, got %q", got)
	}
}

func TestRefusal(t *testing.T) {
	if !strings.Contains(Refusal(RefusalOddsCalculation), "goal-line bets like Over 2.5") {
		t.Error("odds calculation refusal text changed")
	}
	if !strings.HasPrefix(Refusal(RefusalNoData), "I don't have current data") {
		t.Error("no-data refusal text changed")
	}
	if Refusal("parlay_builder") != Refusal(RefusalUnsupportedMarket) {
		t.Error("unknown kinds should fall back to the unsupported-market text")
	}
}

func TestBettingMathText(t *testing.T) {
	m, err := engine.CalculateBettingMath(0.68, 2.10)
	if err != nil {
		t.Fatal(err)
	}
	got := BettingMath(m)
	for _, want := range []string{
		"Implied probability: 47.6%",
		"Fair odds: 1.47",
		"Expected value: +0.43 per unit",
		"Value gap: +20.4pp",
		"Recommended stake: 5.0% of bankroll",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("betting math text missing %q:\n%s", want, got)
		}
	}
}

func TestRounding(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"percent half up", Percent(0.6855, 1), "68.6"},
		{"percent whole", Percent(0.7, 0), "70"},
		{"signed positive", Signed(0.428, 2), "+0.43"},
		{"signed negative", Signed(-0.125, 2), "-0.13"},
		{"fixed", Fixed(4.405, 2), "4.41"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestStakeAmount(t *testing.T) {
	if got := StakeAmount(1000, 2.5).StringFixed(2); got != "25.00" {
		t.Errorf("StakeAmount(1000, 2.5) = %s", got)
	}
	if got := StakeAmount(333.33, 1.5).StringFixed(2); got != "5.00" {
		t.Errorf("StakeAmount(333.33, 1.5) = %s", got)
	}
}

func TestOneLineReason(t *testing.T) {
	tests := []struct {
		name  string
		stats map[string]any
		want  string
	}{
		{"nil stats", nil, "model prediction"},
		{"form", map[string]any{"form_last5": map[string]any{"home": "WWLWD"}}, "strong home form"},
		{"weak form", map[string]any{"form_last5": map[string]any{"home": "WLLDW"}}, "model prediction"},
		{"xg trend", map[string]any{"xg_last5": map[string]any{"home": 2.1, "away": 1.2}}, "+0.9 xG trend"},
		{"xg margin not cleared", map[string]any{"xg_last5": map[string]any{"home": 1.6, "away": 1.2}}, "model prediction"},
		{"injury", map[string]any{"injuries_key": []any{"Sterling OUT", "Mount doubtful"}}, "key player out"},
		{"rest", map[string]any{"rest_days": map[string]any{"home": 7.0, "away": 3.0}}, "better rest"},
		{"rest defaults", map[string]any{"rest_days": map[string]any{"home": 6.0}}, "better rest"},
		{
			"at most two",
			map[string]any{
				"form_last5":   map[string]any{"home": "WWWWW"},
				"injuries_key": []string{"Kane out"},
				"rest_days":    map[string]any{"home": 9.0, "away": 2.0},
			},
			"strong home form, key player out",
		},
		{"mistyped", map[string]any{"form_last5": "WWWWW", "xg_last5": map[string]any{"home": "2.0"}}, "model prediction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OneLineReason(tt.stats); got != tt.want {
				t.Errorf("OneLineReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
