package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/advisor"
	"github.com/rewired-gh/maxadvisor/internal/engine"
	"github.com/rewired-gh/maxadvisor/internal/feed"
	"github.com/rewired-gh/maxadvisor/internal/format"
	"github.com/rewired-gh/maxadvisor/internal/logger"
	"github.com/rewired-gh/maxadvisor/internal/models"
)

const (
	channel      = "api"
	maxBodyBytes = 1 << 20
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// pick is a prediction with its tier and the rendered bullet line.
type pick struct {
	models.MatchPrediction
	Tier models.ConfidenceTier `json:"tier"`
	Text string                `json:"text"`
}

type mathRequest struct {
	Probability float64 `json:"probability"`
	Odds        float64 `json:"odds"`
	Bankroll    float64 `json:"bankroll,omitempty"`
}

type mathResponse struct {
	engine.BettingMath
	StakeAmount string `json:"stake_amount,omitempty"`
	Text        string `json:"text"`
}

type rejectedRecord struct {
	Index   int    `json:"index"`
	MatchID string `json:"match_id,omitempty"`
	Error   string `json:"error"`
}

type analyzeResponse struct {
	Predictions     []pick             `json:"predictions"`
	Rejected        []rejectedRecord   `json:"rejected"`
	ValueBets       []models.ValueBet  `json:"value_bets"`
	ValueBetsText   string             `json:"value_bets_text"`
	SkippedMarkets  []string           `json:"skipped_markets"`
	Accumulator     models.Accumulator `json:"accumulator"`
	AccumulatorText string             `json:"accumulator_text"`
}

// HealthCheck returns the health status of the API
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.advisor.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "storage unhealthy", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "maxadvisor",
	})
}

// GetSafestPicks returns the top Safe-tier picks.
// Query params: count
func (s *Server) GetSafestPicks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.advisor.RecordQuery(ctx, channel, userID(r), "safest")

	picks, err := s.advisor.Safest(ctx, parseIntParam(r, "count", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load picks", err)
		return
	}

	loc := s.advisor.Location()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"picks": toPicks(picks, loc),
		"count": len(picks),
		"text":  format.SafestPicks(picks, loc),
	})
}

// GetAccumulator builds an accumulator from upcoming predictions.
// Query params: legs
func (s *Server) GetAccumulator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.advisor.RecordQuery(ctx, channel, userID(r), "acca")

	acc, err := s.advisor.BuildAccumulator(ctx, parseIntParam(r, "legs", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build accumulator", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accumulator": acc,
		"text":        format.Accumulator(acc, s.advisor.Location()),
	})
}

// GetValueBets returns current value bets ordered by value gap.
// Query params: market
func (s *Server) GetValueBets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.advisor.RecordQuery(ctx, channel, userID(r), "value")

	market := r.URL.Query().Get("market")
	bets, err := s.advisor.ValueBets(ctx, market)
	if errors.Is(err, advisor.ErrUnsupportedMarket) {
		respondError(w, http.StatusBadRequest, format.Refusal(format.RefusalUnsupportedMarket), nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load value bets", err)
		return
	}

	upcoming, err := s.advisor.Upcoming(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load predictions", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"value_bets": nonNil(bets),
		"count":      len(bets),
		"text":       format.ValueBets(bets, upcoming),
	})
}

// PostMath returns the odds math for one probability and price.
func (s *Server) PostMath(w http.ResponseWriter, r *http.Request) {
	var req mathRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	s.advisor.RecordQuery(r.Context(), channel, userID(r), "math")

	m, err := engine.CalculateBettingMath(req.Probability, req.Odds)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return
	}

	resp := mathResponse{BettingMath: m, Text: format.BettingMath(m)}
	if req.Bankroll > 0 {
		resp.StakeAmount = format.StakeAmount(req.Bankroll, m.RecommendedStakePct).StringFixed(2)
	}
	respondJSON(w, http.StatusOK, resp)
}

// PostAnalyze runs the full engine over the records in the request body without
// touching storage. Bad records are reported, not fatal.
// Query params: legs, markets (comma separated)
func (s *Server) PostAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var markets []string
	if raw := r.URL.Query().Get("markets"); raw != "" {
		for _, m := range strings.Split(raw, ",") {
			m = strings.ToLower(strings.TrimSpace(m))
			if !engine.IsMarketSupported(m) {
				respondError(w, http.StatusBadRequest, format.Refusal(format.RefusalUnsupportedMarket), nil)
				return
			}
			markets = append(markets, m)
		}
	}

	legs := parseIntParam(r, "legs", engine.DefaultAccumulatorLegs)
	if legs < 1 {
		legs = engine.DefaultAccumulatorLegs
	}
	if legs > s.cfg.MaxLegs {
		legs = s.cfg.MaxLegs
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	predictions, recordErrs, err := feed.Decode(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "body must be a JSON array of match records", err)
		return
	}
	s.advisor.RecordQuery(ctx, channel, userID(r), "analyze")

	bets, analysisErrs := engine.FindValueBets(predictions, markets...)
	acc := engine.BuildAccumulator(predictions, legs)
	loc := s.advisor.Location()

	resp := analyzeResponse{
		Predictions:     toPicks(predictions, loc),
		Rejected:        make([]rejectedRecord, 0, len(recordErrs)),
		ValueBets:       nonNil(bets),
		ValueBetsText:   format.ValueBets(bets, predictions),
		SkippedMarkets:  make([]string, 0, len(analysisErrs)),
		Accumulator:     acc,
		AccumulatorText: format.Accumulator(acc, loc),
	}
	for _, re := range recordErrs {
		resp.Rejected = append(resp.Rejected, rejectedRecord{Index: re.Index, MatchID: re.MatchID, Error: re.Err.Error()})
	}
	for _, ae := range analysisErrs {
		resp.SkippedMarkets = append(resp.SkippedMarkets, ae.Error())
	}

	respondJSON(w, http.StatusOK, resp)
}

func toPicks(predictions []models.MatchPrediction, loc *time.Location) []pick {
	out := make([]pick, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, pick{MatchPrediction: p, Tier: p.Tier(), Text: format.Pick(p, loc)})
	}
	return out
}

func nonNil(bets []models.ValueBet) []models.ValueBet {
	if bets == nil {
		return []models.ValueBet{}
	}
	return bets
}

func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "anonymous"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Error encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		logger.Error("%s: %v", message, err)
	}
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
