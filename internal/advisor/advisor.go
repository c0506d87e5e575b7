// Package advisor is the stateful service around the pure engine. It refreshes
// predictions from the feed into storage, runs value-bet detection, and answers the
// queries the bot and the HTTP API expose.
//
// Answers are built from upcoming predictions only: anything that kicked off more
// than the configured grace period ago is ignored.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/engine"
	"github.com/rewired-gh/maxadvisor/internal/feed"
	"github.com/rewired-gh/maxadvisor/internal/format"
	"github.com/rewired-gh/maxadvisor/internal/logger"
	"github.com/rewired-gh/maxadvisor/internal/metrics"
	"github.com/rewired-gh/maxadvisor/internal/models"
	"github.com/rewired-gh/maxadvisor/internal/storage"
)

// ErrUnsupportedMarket is returned for market names the advisor does not accept.
var ErrUnsupportedMarket = errors.New("unsupported market")

// Options tunes query defaults. Zero values fall back to the engine defaults.
type Options struct {
	Workers         int
	KickoffGrace    time.Duration
	SafestCount     int
	AccumulatorLegs int
	MaxLegs         int
	Location        *time.Location
}

// Advisor answers betting queries from stored predictions.
type Advisor struct {
	source  feed.Source
	store   *storage.Store
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// RefreshResult summarises one refresh cycle.
type RefreshResult struct {
	Ingested       int
	Rejected       []feed.RecordError
	Upcoming       []models.MatchPrediction
	ValueBets      []models.ValueBet
	NewValueBets   []models.ValueBet
	AnalysisErrors []engine.AnalysisError
}

// New creates a new Advisor. m may be nil.
func New(source feed.Source, store *storage.Store, m *metrics.Metrics, opts Options) *Advisor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SafestCount < 1 {
		opts.SafestCount = engine.DefaultSafestCount
	}
	if opts.AccumulatorLegs < 1 {
		opts.AccumulatorLegs = engine.DefaultAccumulatorLegs
	}
	if opts.MaxLegs < opts.AccumulatorLegs {
		opts.MaxLegs = opts.AccumulatorLegs
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Advisor{
		source:  source,
		store:   store,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// Ping checks that the store is reachable.
func (a *Advisor) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Location returns the zone kickoff times are displayed in.
func (a *Advisor) Location() *time.Location {
	return a.opts.Location
}

func valueBetKey(b models.ValueBet) string {
	return b.MatchID + "|" + b.MarketKey + "|" + b.Selection
}

// Refresh pulls the feed, stores the valid predictions and recomputes value bets.
// Malformed records and unusable markets are logged and skipped.
func (a *Advisor) Refresh(ctx context.Context) (RefreshResult, error) {
	var res RefreshResult
	start := time.Now()

	fail := func(err error) (RefreshResult, error) {
		if a.metrics != nil {
			a.metrics.RecordRefresh("error", time.Since(start).Seconds(), res.Ingested, len(res.Rejected))
		}
		return res, err
	}

	predictions, rejected, err := a.source.Fetch(ctx)
	if err != nil {
		return fail(fmt.Errorf("fetch feed: %w", err))
	}
	res.Rejected = rejected
	for _, re := range rejected {
		logger.Warn("Skipping feed record: %v", re)
	}

	// The fetched batch is the whole current set; withdrawn matches go with it.
	if err := a.store.ReplacePredictions(ctx, predictions); err != nil {
		return fail(fmt.Errorf("replace predictions: %w", err))
	}
	res.Ingested = len(predictions)

	upcoming, err := a.Upcoming(ctx)
	if err != nil {
		return fail(err)
	}
	res.Upcoming = upcoming

	previous, err := a.store.ListValueBets(ctx, 0)
	if err != nil {
		return fail(fmt.Errorf("list value bets: %w", err))
	}
	seen := make(map[string]models.ValueBet, len(previous))
	for _, b := range previous {
		seen[valueBetKey(b)] = b
	}

	bets, analysisErrs, err := engine.FindValueBetsParallel(ctx, upcoming, a.opts.Workers)
	if err != nil {
		return fail(fmt.Errorf("find value bets: %w", err))
	}
	res.AnalysisErrors = analysisErrs
	for _, ae := range analysisErrs {
		logger.Debug("Skipping market: %v", ae)
	}

	// Keep identity of bets that were already known so only fresh ones count as new.
	var fresh []string
	for i := range bets {
		if old, ok := seen[valueBetKey(bets[i])]; ok {
			bets[i].ID = old.ID
			bets[i].DetectedAt = old.DetectedAt
			continue
		}
		fresh = append(fresh, valueBetKey(bets[i]))
	}

	stored, err := a.store.ReplaceValueBets(ctx, bets)
	if err != nil {
		return fail(fmt.Errorf("replace value bets: %w", err))
	}
	res.ValueBets = stored

	isFresh := make(map[string]bool, len(fresh))
	for _, k := range fresh {
		isFresh[k] = true
	}
	for _, b := range stored {
		if isFresh[valueBetKey(b)] {
			res.NewValueBets = append(res.NewValueBets, b)
		}
	}

	if a.metrics != nil {
		a.metrics.RecordRefresh("ok", time.Since(start).Seconds(), res.Ingested, len(res.Rejected))
		byMarket := make(map[string]int)
		for _, b := range stored {
			byMarket[b.MarketKey]++
		}
		a.metrics.SetValueBets(byMarket)
		byTier := make(map[string]int)
		for _, p := range upcoming {
			byTier[p.Tier().String()]++
		}
		a.metrics.SetUpcoming(byTier)
	}

	logger.Info("Refresh complete: %d ingested, %d rejected, %d upcoming, %d value bets (%d new)",
		res.Ingested, len(res.Rejected), len(upcoming), len(stored), len(res.NewValueBets))

	return res, nil
}

// Upcoming returns every stored prediction that has not kicked off longer than the
// grace period ago, in feed order.
func (a *Advisor) Upcoming(ctx context.Context) ([]models.MatchPrediction, error) {
	preds, err := a.store.ListUpcoming(ctx, a.now().Add(-a.opts.KickoffGrace))
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	return preds, nil
}

// Safest returns up to count Safe picks; count ≤ 0 uses the configured default.
func (a *Advisor) Safest(ctx context.Context, count int) ([]models.MatchPrediction, error) {
	if count <= 0 {
		count = a.opts.SafestCount
	}
	upcoming, err := a.Upcoming(ctx)
	if err != nil {
		return nil, err
	}
	return engine.GetSafestPicks(upcoming, count), nil
}

// SafestPicks renders the safest picks. With no Safe picks the fixed notice is
// followed by the best Medium picks, as the notice promises.
func (a *Advisor) SafestPicks(ctx context.Context, count int) (string, error) {
	if count <= 0 {
		count = a.opts.SafestCount
	}
	upcoming, err := a.Upcoming(ctx)
	if err != nil {
		return "", err
	}

	picks := engine.GetSafestPicks(upcoming, count)
	if len(picks) > 0 {
		return format.SafestPicks(picks, a.opts.Location), nil
	}

	medium := engine.GetPicksByTier(upcoming, models.TierMedium, count)
	if len(medium) == 0 {
		return format.NoSafePicks, nil
	}
	return format.NoSafePicks + "\n" + format.SafestPicks(medium, a.opts.Location), nil
}

func (a *Advisor) clampLegs(legs int) int {
	if legs <= 0 {
		return a.opts.AccumulatorLegs
	}
	if legs > a.opts.MaxLegs {
		return a.opts.MaxLegs
	}
	return legs
}

// BuildAccumulator builds an accumulator over upcoming predictions. legs ≤ 0 uses the
// configured default and legs above the configured maximum are capped.
func (a *Advisor) BuildAccumulator(ctx context.Context, legs int) (models.Accumulator, error) {
	upcoming, err := a.Upcoming(ctx)
	if err != nil {
		return models.Accumulator{}, err
	}
	return engine.BuildAccumulator(upcoming, a.clampLegs(legs)), nil
}

// Accumulator renders an accumulator.
func (a *Advisor) Accumulator(ctx context.Context, legs int) (string, error) {
	acc, err := a.BuildAccumulator(ctx, legs)
	if err != nil {
		return "", err
	}
	return format.Accumulator(acc, a.opts.Location), nil
}

// ValueBets returns the stored value bets, optionally filtered to one market.
func (a *Advisor) ValueBets(ctx context.Context, market string) ([]models.ValueBet, error) {
	market = strings.ToLower(strings.TrimSpace(market))
	if market != "" && !engine.IsMarketSupported(market) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMarket, market)
	}

	bets, err := a.store.ListValueBets(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list value bets: %w", err)
	}
	if market == "" {
		return bets, nil
	}

	filtered := make([]models.ValueBet, 0, len(bets))
	for _, b := range bets {
		if b.MarketKey == market {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

// MarketAnalysis renders the value bets for market ("" for all markets).
func (a *Advisor) MarketAnalysis(ctx context.Context, market string) (string, error) {
	bets, err := a.ValueBets(ctx, market)
	if errors.Is(err, ErrUnsupportedMarket) {
		return format.Refusal(format.RefusalUnsupportedMarket), nil
	}
	if err != nil {
		return "", err
	}
	upcoming, err := a.Upcoming(ctx)
	if err != nil {
		return "", err
	}
	return format.ValueBets(bets, upcoming), nil
}

// Math renders the odds math for a model probability and decimal odds. A positive
// bankroll adds the money amount of the recommended stake.
func (a *Advisor) Math(p, odds, bankroll float64) (string, error) {
	m, err := engine.CalculateBettingMath(p, odds)
	if err != nil {
		return "", err
	}
	text := format.BettingMath(m)
	if bankroll > 0 {
		text += fmt.Sprintf("\nStake on a %s bankroll: %s",
			format.Fixed(bankroll, 2), format.StakeAmount(bankroll, m.RecommendedStakePct).StringFixed(2))
	}
	return text, nil
}

// Unsupported returns the brand-safe refusal for kind.
func (a *Advisor) Unsupported(kind format.RefusalKind) string {
	return format.Refusal(kind)
}

// RecordQuery logs one handled command. Failures are logged, never returned, so a
// storage hiccup cannot block a reply.
func (a *Advisor) RecordQuery(ctx context.Context, channel, userID, command string) {
	if a.metrics != nil {
		a.metrics.RecordQuery(channel, command)
	}
	q := storage.Query{Channel: channel, UserID: userID, Command: command, CreatedAt: a.now()}
	if err := a.store.RecordQuery(ctx, q); err != nil {
		logger.Warn("Failed to record query %s for %s: %v", command, userID, err)
	}
}

// Stats returns the query history summary for userID.
func (a *Advisor) Stats(ctx context.Context, userID string) (storage.QueryStats, error) {
	return a.store.QueryStats(ctx, userID)
}

// Prune drops stored data older than retention.
func (a *Advisor) Prune(ctx context.Context, retention time.Duration) error {
	res, err := a.store.PruneBefore(ctx, a.now().Add(-retention))
	if err != nil {
		return fmt.Errorf("prune storage: %w", err)
	}
	logger.Debug("Pruned %d predictions, %d value bets, %d queries", res.Predictions, res.ValueBets, res.Queries)
	return nil
}
