// Package models defines the core domain entities for the maxadvisor application.
// These models represent model-generated match predictions, the value bets derived
// from them, and accumulator bundles built from several predictions.
// All inputs are validated once at construction so calculations never see malformed data.
//
// Terminology:
//   - Market: a betting market on a match, keyed by short name ("1x2", "ou", "btts").
//   - Selection: one priced outcome within a market ("home", "over", "yes").
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Market keys as they appear in upstream records.
const (
	Market1X2       = "1x2"
	MarketOverUnder = "ou"
	MarketBTTS      = "btts"
)

// Selection keys within markets. SelectionLine carries the Over/Under line, not a price.
const (
	SelectionHome = "home"
	SelectionDraw = "draw"
	SelectionAway = "away"
	SelectionOver = "over"
	SelectionYes  = "yes"
	SelectionLine = "line"
)

// ErrInvalidPrediction wraps every MatchPrediction validation failure.
var ErrInvalidPrediction = errors.New("invalid match prediction")

// Teams holds the two named sides of a match.
type Teams struct {
	Home string `json:"home"`
	Away string `json:"away"`
}

// Model is the upstream model's estimate for a match.
// OUModelProb and BTTSModelProb are optional sport-specific extras.
type Model struct {
	Winner        string   `json:"winner"`
	PWin          float64  `json:"p_win"`
	OUModelProb   *float64 `json:"ou_model_prob,omitempty"`
	BTTSModelProb *float64 `json:"btts_model_prob,omitempty"`
}

// Markets maps a market key to selection → decimal odds.
type Markets map[string]map[string]float64

// Price returns the decimal odds for a selection and whether it is present.
func (m Markets) Price(market, selection string) (float64, bool) {
	sel, ok := m[market]
	if !ok {
		return 0, false
	}
	odds, ok := sel[selection]
	return odds, ok
}

// MatchPrediction is one upcoming or live match with a model-generated outcome estimate.
// It is constructed per request from upstream data and is not mutated afterwards.
type MatchPrediction struct {
	MatchID    string         `json:"match_id"`
	Sport      string         `json:"sport,omitempty"`
	KickoffUTC time.Time      `json:"kickoff_utc"`
	Teams      Teams          `json:"teams"`
	Model      Model          `json:"model"`
	Markets    Markets        `json:"markets,omitempty"`
	Stats      map[string]any `json:"stats,omitempty"`
}

// Tier derives the confidence tier from the model's win probability.
func (p *MatchPrediction) Tier() ConfidenceTier {
	return ClassifyConfidence(p.Model.PWin)
}

// WinnerSelection returns the 1X2 selection key for the model's winner.
// ok is false when the winner matches neither side.
func (p *MatchPrediction) WinnerSelection() (selection string, ok bool) {
	switch p.Model.Winner {
	case p.Teams.Home:
		return SelectionHome, true
	case p.Teams.Away:
		return SelectionAway, true
	}
	return "", false
}

// WinnerOdds returns the 1X2 price on the model's winner, if the feed carried one.
func (p *MatchPrediction) WinnerOdds() (float64, bool) {
	sel, ok := p.WinnerSelection()
	if !ok {
		return 0, false
	}
	return p.Markets.Price(Market1X2, sel)
}

// Validate checks the prediction invariants.
func (p *MatchPrediction) Validate() error {
	if strings.TrimSpace(p.MatchID) == "" {
		return invalid("match ID must not be empty")
	}
	if strings.TrimSpace(p.Teams.Home) == "" {
		return invalid("home team must not be empty")
	}
	if strings.TrimSpace(p.Teams.Away) == "" {
		return invalid("away team must not be empty")
	}
	if p.Teams.Home == p.Teams.Away {
		return invalid("home and away teams must differ")
	}
	if p.KickoffUTC.IsZero() {
		return invalid("kickoff time must be set")
	}
	if _, ok := p.WinnerSelection(); !ok {
		return invalid(fmt.Sprintf("winner %q must be %q or %q", p.Model.Winner, p.Teams.Home, p.Teams.Away))
	}
	if !isProbability(p.Model.PWin) {
		return invalid("p_win must be between 0.0 and 1.0")
	}
	if p.Model.OUModelProb != nil && !isProbability(*p.Model.OUModelProb) {
		return invalid("ou_model_prob must be between 0.0 and 1.0")
	}
	if p.Model.BTTSModelProb != nil && !isProbability(*p.Model.BTTSModelProb) {
		return invalid("btts_model_prob must be between 0.0 and 1.0")
	}
	for market, selections := range p.Markets {
		for sel, v := range selections {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalid(fmt.Sprintf("market %s/%s is not a finite number", market, sel))
			}
		}
	}
	return nil
}

func isProbability(v float64) bool {
	return !math.IsNaN(v) && v >= 0.0 && v <= 1.0
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPrediction, msg)
}

// Float64 returns a pointer to v, for optional model probabilities.
func Float64(v float64) *float64 {
	return &v
}
