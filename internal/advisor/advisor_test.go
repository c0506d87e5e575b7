package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/feed"
	"github.com/rewired-gh/maxadvisor/internal/format"
	"github.com/rewired-gh/maxadvisor/internal/metrics"
	"github.com/rewired-gh/maxadvisor/internal/models"
	"github.com/rewired-gh/maxadvisor/internal/storage"
)

type stubSource struct {
	predictions []models.MatchPrediction
	rejected    []feed.RecordError
	err         error
}

func (s *stubSource) Fetch(ctx context.Context) ([]models.MatchPrediction, []feed.RecordError, error) {
	return s.predictions, s.rejected, s.err
}

func match(id, home, away string, pWin float64, kickoff time.Time, homeOdds float64) models.MatchPrediction {
	return models.MatchPrediction{
		MatchID:    id,
		KickoffUTC: kickoff.UTC().Truncate(time.Second),
		Teams:      models.Teams{Home: home, Away: away},
		Model:      models.Model{Winner: home, PWin: pWin},
		Markets:    models.Markets{models.Market1X2: {"home": homeOdds, "draw": 3.4, "away": 4.0}},
	}
}

func newTestAdvisor(t *testing.T, src feed.Source) *Advisor {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return New(src, store, metrics.New(), Options{
		Workers:      2,
		KickoffGrace: time.Hour,
		MaxLegs:      5,
	})
}

// fixture: m1 is Medium with 1X2 value, m2 and m3 are Safe without value, m4 is
// Value tier and "old" kicked off hours ago.
func fixture() []models.MatchPrediction {
	soon := time.Now().Add(3 * time.Hour)
	return []models.MatchPrediction{
		match("m1", "Chelsea", "Spurs", 0.68, soon, 2.10),
		match("m2", "Arsenal", "Everton", 0.80, soon, 1.30),
		match("m3", "Liverpool", "Wolves", 0.74, soon, 1.45),
		match("m4", "Brentford", "Fulham", 0.45, soon, 2.00),
		match("old", "Leeds", "Burnley", 0.90, time.Now().Add(-5*time.Hour), 1.2),
	}
}

func TestRefresh(t *testing.T) {
	src := &stubSource{
		predictions: fixture(),
		rejected:    []feed.RecordError{{Index: 5, MatchID: "bad", Err: errors.New("missing teams.home")}},
	}
	a := newTestAdvisor(t, src)
	ctx := context.Background()

	res, err := a.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if res.Ingested != 5 || len(res.Rejected) != 1 {
		t.Errorf("unexpected ingest counts: %d ingested, %d rejected", res.Ingested, len(res.Rejected))
	}
	if len(res.Upcoming) != 4 {
		t.Errorf("expected 4 upcoming (old excluded), got %d", len(res.Upcoming))
	}
	if len(res.ValueBets) != 1 || res.ValueBets[0].MatchID != "m1" {
		t.Fatalf("expected one value bet on m1, got %+v", res.ValueBets)
	}
	if len(res.NewValueBets) != 1 {
		t.Errorf("first refresh should report the bet as new")
	}
	firstID := res.ValueBets[0].ID

	res, err = a.Refresh(ctx)
	if err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	if len(res.NewValueBets) != 0 {
		t.Errorf("unchanged bets must not be reported as new, got %+v", res.NewValueBets)
	}
	if res.ValueBets[0].ID != firstID {
		t.Errorf("bet identity should survive a refresh: %s != %s", res.ValueBets[0].ID, firstID)
	}
}

func TestRefreshFetchError(t *testing.T) {
	src := &stubSource{predictions: fixture()}
	a := newTestAdvisor(t, src)
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	src.err = errors.New("upstream down")
	if _, err := a.Refresh(ctx); err == nil {
		t.Fatal("expected fetch error")
	}
	upcoming, err := a.Upcoming(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(upcoming) != 4 {
		t.Errorf("a failed fetch must keep the last good set, got %d upcoming", len(upcoming))
	}
}

func TestRefreshDropsWithdrawnMatches(t *testing.T) {
	src := &stubSource{predictions: fixture()}
	a := newTestAdvisor(t, src)
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	src.predictions = fixture()[:1]
	res, err := a.Refresh(ctx)
	if err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
	if len(res.Upcoming) != 1 || res.Upcoming[0].MatchID != "m1" {
		t.Errorf("expected only m1 upcoming, got %d predictions", len(res.Upcoming))
	}

	text, err := a.SafestPicks(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(text, "Arsenal") || strings.Contains(text, "Liverpool") {
		t.Errorf("withdrawn matches still served:\n%s", text)
	}
	if !strings.HasPrefix(text, format.NoSafePicks) {
		t.Errorf("expected the no-safe-picks notice, got:\n%s", text)
	}

	acc, err := a.BuildAccumulator(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	for _, sel := range acc.Selections {
		if sel.MatchID != "m1" {
			t.Errorf("withdrawn match %s used as an accumulator leg", sel.MatchID)
		}
	}
}

func TestSafestConsidersEveryUpcomingMatch(t *testing.T) {
	now := time.Now()
	preds := []models.MatchPrediction{
		match("e1", "Arsenal", "Everton", 0.80, now.Add(1*time.Hour), 1.30),
		match("e2", "Liverpool", "Wolves", 0.78, now.Add(2*time.Hour), 1.40),
		match("e3", "Inter", "Lecce", 0.76, now.Add(3*time.Hour), 1.45),
		match("e4", "Porto", "Arouca", 0.75, now.Add(4*time.Hour), 1.50),
	}
	for i := 0; i < 250; i++ {
		preds = append(preds, match(fmt.Sprintf("f%d", i), "Home", "Away", 0.40, now.Add(5*time.Hour), 2.5))
	}
	preds = append(preds, match("late", "Bayern", "Bochum", 0.95, now.Add(72*time.Hour), 1.10))

	a := newTestAdvisor(t, &stubSource{predictions: preds})
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	picks, err := a.Safest(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(picks) != 1 || picks[0].MatchID != "late" {
		t.Errorf("expected the 95%% match far down the feed, got %+v", picks)
	}
}

func TestSafestTiesKeepFeedOrder(t *testing.T) {
	kickoff := time.Now().Add(2 * time.Hour)
	src := &stubSource{predictions: []models.MatchPrediction{
		match("zz", "Arsenal", "Everton", 0.80, kickoff, 1.30),
		match("aa", "Napoli", "Empoli", 0.80, kickoff, 1.30),
	}}
	a := newTestAdvisor(t, src)
	ctx := context.Background()

	tests := []struct {
		name  string
		order []int
		want  string
	}{
		{"feed order zz aa", []int{0, 1}, "zz"},
		{"feed order aa zz", []int{1, 0}, "aa"},
	}
	base := src.predictions
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src.predictions = []models.MatchPrediction{base[tt.order[0]], base[tt.order[1]]}
			if _, err := a.Refresh(ctx); err != nil {
				t.Fatal(err)
			}
			picks, err := a.Safest(ctx, 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(picks) != 1 || picks[0].MatchID != tt.want {
				t.Errorf("expected %s, got %+v", tt.want, picks)
			}
		})
	}
}

func TestSafestPicks(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{predictions: fixture()})
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	text, err := a.SafestPicks(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(text, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 picks by default, got %q", text)
	}
	if !strings.HasPrefix(lines[0], "• Arsenal to win (80.0%)") || !strings.HasPrefix(lines[1], "• Liverpool to win (74.0%)") {
		t.Errorf("unexpected picks:\n%s", text)
	}
	if strings.Contains(text, "Leeds") {
		t.Error("kicked-off matches must not be offered")
	}
}

func TestSafestPicksFallsBackToMedium(t *testing.T) {
	soon := time.Now().Add(2 * time.Hour)
	a := newTestAdvisor(t, &stubSource{predictions: []models.MatchPrediction{
		match("m1", "Chelsea", "Spurs", 0.62, soon, 2.0),
		match("m2", "Arsenal", "Everton", 0.40, soon, 2.0),
	}})
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	text, err := a.SafestPicks(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text, format.NoSafePicks) {
		t.Errorf("expected the no-safe notice first, got %q", text)
	}
	if !strings.Contains(text, "Chelsea to win (62.0%)") || strings.Contains(text, "Arsenal") {
		t.Errorf("expected only the Medium pick after the notice, got %q", text)
	}
}

func TestAccumulator(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{predictions: fixture()})
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	acc, err := a.BuildAccumulator(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(acc.Selections) != 3 || acc.RequestedLegs != 3 {
		t.Fatalf("expected 3 legs by default, got %d/%d", len(acc.Selections), acc.RequestedLegs)
	}
	got := []string{acc.Selections[0].MatchID, acc.Selections[1].MatchID, acc.Selections[2].MatchID}
	if strings.Join(got, ",") != "m2,m3,m1" {
		t.Errorf("expected Safe legs then Medium, got %v", got)
	}

	capped, _ := a.BuildAccumulator(ctx, 50)
	if capped.RequestedLegs != 5 {
		t.Errorf("legs should be capped at 5, got %d", capped.RequestedLegs)
	}

	text, err := a.Accumulator(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Only 3 of 4 legs available.") || !strings.HasSuffix(text, format.AccumulatorFooter) {
		t.Errorf("unexpected accumulator text:\n%s", text)
	}
}

func TestMarketAnalysis(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{predictions: fixture()})
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	text, err := a.MarketAnalysis(ctx, "1X2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text, "• Chelsea to win (68%)") || !strings.Contains(text, "Value Gap +20.4pp") {
		t.Errorf("unexpected analysis:\n%s", text)
	}

	text, _ = a.MarketAnalysis(ctx, "btts")
	if text != format.Refusal(format.RefusalNoData) {
		t.Errorf("expected no-data refusal for btts, got %q", text)
	}

	text, _ = a.MarketAnalysis(ctx, "corners")
	if text != format.Refusal(format.RefusalUnsupportedMarket) {
		t.Errorf("expected unsupported refusal, got %q", text)
	}

	if _, err := a.ValueBets(ctx, "corners"); !errors.Is(err, ErrUnsupportedMarket) {
		t.Errorf("expected ErrUnsupportedMarket, got %v", err)
	}
}

func TestMath(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{})
	text, err := a.Math(0.68, 2.10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "Value gap: +20.4pp") || strings.Contains(text, "bankroll:") {
		t.Errorf("unexpected math text:\n%s", text)
	}

	text, _ = a.Math(0.68, 2.10, 1000)
	if !strings.HasSuffix(text, "Stake on a 1000.00 bankroll: 50.00") {
		t.Errorf("expected stake amount line, got:\n%s", text)
	}

	if _, err := a.Math(0.5, 1.0, 0); err == nil {
		t.Error("expected error for odds of 1.0")
	}
}

func TestRecordQueryAndStats(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{})
	ctx := context.Background()

	a.RecordQuery(ctx, "telegram", "42", "safest")
	a.RecordQuery(ctx, "telegram", "42", "value")

	stats, err := a.Stats(ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.ByCommand["value"] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestPrune(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{predictions: fixture()})
	ctx := context.Background()
	if _, err := a.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Prune(ctx, 2*time.Hour); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	a.opts.KickoffGrace = 24 * time.Hour
	upcoming, _ := a.Upcoming(ctx)
	for _, p := range upcoming {
		if p.MatchID == "old" {
			t.Error("old match should have been pruned")
		}
	}
}

func TestUnsupported(t *testing.T) {
	a := newTestAdvisor(t, &stubSource{})
	if got := a.Unsupported(format.RefusalOddsCalculation); got != format.Refusal(format.RefusalOddsCalculation) {
		t.Errorf("unexpected refusal: %q", got)
	}
	if err := a.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
