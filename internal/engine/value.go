package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rewired-gh/maxadvisor/internal/models"
)

// ValueThresholdPP is the minimum value gap, in percentage points, for a bet to be emitted.
const ValueThresholdPP = 8.0

// defaultOverUnderLine applies when the feed prices Over/Under without a line.
const defaultOverUnderLine = 2.5

// supportedMarkets are the market names the conversation layer accepts. Only the first
// three have analyzers; "ah" and "dnb" are accepted but never produce value bets.
var supportedMarkets = []string{models.Market1X2, models.MarketOverUnder, models.MarketBTTS, "ah", "dnb"}

// AnalysisError is a per-market failure during value-bet detection. It is non-fatal:
// the offending market is skipped and the rest of the batch is analyzed.
type AnalysisError struct {
	MatchID string
	Market  string
	Err     error
}

func (e AnalysisError) Error() string {
	return fmt.Sprintf("analysis error for match %s market %s: %v", e.MatchID, e.Market, e.Err)
}

func (e AnalysisError) Unwrap() error {
	return e.Err
}

// IsMarketSupported reports whether name is a market the advisor accepts (case-insensitive).
func IsMarketSupported(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range supportedMarkets {
		if m == name {
			return true
		}
	}
	return false
}

// SupportedMarkets returns a copy of the accepted market names.
func SupportedMarkets() []string {
	return append([]string(nil), supportedMarkets...)
}

// Analyze1X2 evaluates the match-winner market on the model's declared winner.
// A nil bet with a nil error means the market is not applicable or does not qualify.
func Analyze1X2(p models.MatchPrediction) (*models.ValueBet, error) {
	sel, ok := p.WinnerSelection()
	if !ok {
		return nil, nil
	}
	odds, ok := p.Markets.Price(models.Market1X2, sel)
	if !ok {
		return nil, nil
	}
	return qualify(p, models.Market1X2, models.MarketName1X2, p.Model.Winner+" to win", p.Model.PWin, odds)
}

// AnalyzeOverUnder evaluates Over at the quoted line. Under is never a candidate.
func AnalyzeOverUnder(p models.MatchPrediction) (*models.ValueBet, error) {
	if p.Model.OUModelProb == nil {
		return nil, nil
	}
	odds, ok := p.Markets.Price(models.MarketOverUnder, models.SelectionOver)
	if !ok {
		return nil, nil
	}
	line, ok := p.Markets.Price(models.MarketOverUnder, models.SelectionLine)
	if !ok {
		line = defaultOverUnderLine
	}
	selection := "Over " + strconv.FormatFloat(line, 'f', -1, 64)
	return qualify(p, models.MarketOverUnder, models.MarketNameOverUnder, selection, *p.Model.OUModelProb, odds)
}

// AnalyzeBTTS evaluates Both Teams To Score - Yes. No is never a candidate.
func AnalyzeBTTS(p models.MatchPrediction) (*models.ValueBet, error) {
	if p.Model.BTTSModelProb == nil {
		return nil, nil
	}
	odds, ok := p.Markets.Price(models.MarketBTTS, models.SelectionYes)
	if !ok {
		return nil, nil
	}
	return qualify(p, models.MarketBTTS, models.MarketNameBTTS, "Both Teams To Score - Yes", *p.Model.BTTSModelProb, odds)
}

func qualify(p models.MatchPrediction, key, name, selection string, prob, odds float64) (*models.ValueBet, error) {
	// A zero model probability can never clear the gate; treat it as not evaluable.
	if prob == 0 {
		return nil, nil
	}
	m, err := CalculateBettingMath(prob, odds)
	if err != nil {
		return nil, err
	}
	if m.ValueGapPP < ValueThresholdPP {
		return nil, nil
	}
	return &models.ValueBet{
		MatchID:             p.MatchID,
		Market:              name,
		MarketKey:           key,
		Selection:           selection,
		Odds:                odds,
		ModelProbability:    prob,
		ImpliedProbability:  m.ImpliedProbability,
		ValueGap:            m.ValueGapPP,
		ExpectedValue:       m.ExpectedValue,
		RecommendedStakePct: m.RecommendedStakePct,
		Recommended:         true,
	}, nil
}

type analyzer func(models.MatchPrediction) (*models.ValueBet, error)

var analyzers = []struct {
	market string
	fn     analyzer
}{
	{models.Market1X2, Analyze1X2},
	{models.MarketOverUnder, AnalyzeOverUnder},
	{models.MarketBTTS, AnalyzeBTTS},
}

func wantedMarkets(markets []string) map[string]bool {
	want := make(map[string]bool, len(analyzers))
	if len(markets) == 0 {
		for _, a := range analyzers {
			want[a.market] = true
		}
		return want
	}
	for _, m := range markets {
		want[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return want
}

func analyzeMatch(p models.MatchPrediction, want map[string]bool) ([]models.ValueBet, []AnalysisError) {
	var bets []models.ValueBet
	var errs []AnalysisError
	for _, a := range analyzers {
		if !want[a.market] {
			continue
		}
		bet, err := a.fn(p)
		if err != nil {
			errs = append(errs, AnalysisError{MatchID: p.MatchID, Market: a.market, Err: err})
			continue
		}
		if bet != nil {
			bets = append(bets, *bet)
		}
	}
	return bets, errs
}

func sortByValueGap(bets []models.ValueBet) {
	sort.SliceStable(bets, func(i, j int) bool {
		return bets[i].ValueGap > bets[j].ValueGap
	})
}

// FindValueBets runs the requested market analyzers (all of them when markets is empty)
// over every prediction and returns qualifying bets sorted by value gap, descending.
// Markets whose prices are unusable are reported in the error slice and skipped.
func FindValueBets(predictions []models.MatchPrediction, markets ...string) ([]models.ValueBet, []AnalysisError) {
	want := wantedMarkets(markets)

	bets := make([]models.ValueBet, 0)
	var errs []AnalysisError
	for _, p := range predictions {
		b, e := analyzeMatch(p, want)
		bets = append(bets, b...)
		errs = append(errs, e...)
	}

	sortByValueGap(bets)
	return bets, errs
}

// FindValueBetsParallel is FindValueBets with per-match analysis spread over workers
// goroutines. Results are merged in input order before the final sort, so the output
// is identical to the sequential version.
func FindValueBetsParallel(ctx context.Context, predictions []models.MatchPrediction, workers int, markets ...string) ([]models.ValueBet, []AnalysisError, error) {
	if workers <= 1 || len(predictions) < 2 {
		bets, errs := FindValueBets(predictions, markets...)
		return bets, errs, nil
	}
	want := wantedMarkets(markets)

	type result struct {
		bets []models.ValueBet
		errs []AnalysisError
	}
	results := make([]result, len(predictions))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b, e := analyzeMatch(predictions[i], want)
				results[i] = result{bets: b, errs: e}
			}
		}()
	}

	var ctxErr error
feed:
	for i := range predictions {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if ctxErr != nil {
		return nil, nil, ctxErr
	}

	bets := make([]models.ValueBet, 0)
	var errs []AnalysisError
	for _, r := range results {
		bets = append(bets, r.bets...)
		errs = append(errs, r.errs...)
	}
	sortByValueGap(bets)
	return bets, errs, nil
}
