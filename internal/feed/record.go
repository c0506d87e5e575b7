// Package feed is the ingestion boundary for upstream match predictions. It decodes
// raw JSON records, converts them into validated models.MatchPrediction values and
// reports malformed records individually so one bad record never sinks a batch.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/models"
)

// ErrNotJSON is returned when a feed body cannot be read as JSON at all.
var ErrNotJSON = errors.New("feed body is not JSON")

// Record is one upstream prediction as it appears on the wire.
type Record struct {
	MatchID    string                                `json:"match_id"`
	Sport      string                                `json:"sport"`
	KickoffUTC string                                `json:"kickoff_utc"`
	Teams      models.Teams                          `json:"teams"`
	Model      RecordModel                           `json:"model"`
	Markets    map[string]map[string]json.RawMessage `json:"markets"`
	Stats      map[string]any                        `json:"stats"`
}

// RecordModel mirrors models.Model with every field optional so that missing
// values can be told apart from zeros.
type RecordModel struct {
	Winner        string   `json:"winner"`
	PWin          *float64 `json:"p_win"`
	OUModelProb   *float64 `json:"ou_model_prob"`
	BTTSModelProb *float64 `json:"btts_model_prob"`
}

// RecordError is a non-fatal per-record failure. The record is skipped.
type RecordError struct {
	Index   int
	MatchID string
	Err     error
}

func (e RecordError) Error() string {
	if e.MatchID == "" {
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("record %d (match %s): %v", e.Index, e.MatchID, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// ToPrediction converts the record into a validated MatchPrediction.
func (r Record) ToPrediction() (models.MatchPrediction, error) {
	var missing []string
	if strings.TrimSpace(r.MatchID) == "" {
		missing = append(missing, "match_id")
	}
	if strings.TrimSpace(r.Teams.Home) == "" {
		missing = append(missing, "teams.home")
	}
	if strings.TrimSpace(r.Teams.Away) == "" {
		missing = append(missing, "teams.away")
	}
	if strings.TrimSpace(r.Model.Winner) == "" {
		missing = append(missing, "model.winner")
	}
	if r.Model.PWin == nil {
		missing = append(missing, "model.p_win")
	}
	if strings.TrimSpace(r.KickoffUTC) == "" {
		missing = append(missing, "kickoff_utc")
	}
	if len(missing) > 0 {
		return models.MatchPrediction{}, fmt.Errorf("%w: missing %s", models.ErrInvalidPrediction, strings.Join(missing, ", "))
	}

	kickoff, err := parseKickoff(r.KickoffUTC)
	if err != nil {
		return models.MatchPrediction{}, fmt.Errorf("%w: kickoff_utc %q: %v", models.ErrInvalidPrediction, r.KickoffUTC, err)
	}

	markets, err := parseMarkets(r.Markets)
	if err != nil {
		return models.MatchPrediction{}, fmt.Errorf("%w: %v", models.ErrInvalidPrediction, err)
	}

	p := models.MatchPrediction{
		MatchID:    r.MatchID,
		Sport:      r.Sport,
		KickoffUTC: kickoff,
		Teams:      r.Teams,
		Model: models.Model{
			Winner:        r.Model.Winner,
			PWin:          *r.Model.PWin,
			OUModelProb:   r.Model.OUModelProb,
			BTTSModelProb: r.Model.BTTSModelProb,
		},
		Markets: markets,
		Stats:   r.Stats,
	}
	if err := p.Validate(); err != nil {
		return models.MatchPrediction{}, err
	}
	return p, nil
}

func parseKickoff(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("not an ISO-8601 timestamp")
}

// parseMarkets accepts odds as JSON numbers or numeric strings ("2.10").
func parseMarkets(raw map[string]map[string]json.RawMessage) (models.Markets, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	markets := make(models.Markets, len(raw))
	for market, selections := range raw {
		key := strings.ToLower(market)
		markets[key] = make(map[string]float64, len(selections))
		for sel, v := range selections {
			odds, err := parseOdds(v)
			if err != nil {
				return nil, fmt.Errorf("market %s/%s: %v", market, sel, err)
			}
			markets[key][strings.ToLower(sel)] = odds
		}
	}
	return markets, nil
}

func parseOdds(v json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("odds %s are not numeric", string(v))
}

// Decode reads a JSON array of records, or an object with a "matches" array, and
// returns the valid predictions. Malformed records are reported and skipped. Only a
// body that is not JSON, or JSON of the wrong shape, is a fatal error.
func Decode(r io.Reader) ([]models.MatchPrediction, []RecordError, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read feed: %w", err)
	}

	raws, err := splitRecords(body)
	if err != nil {
		return nil, nil, err
	}

	predictions := make([]models.MatchPrediction, 0, len(raws))
	var recordErrs []RecordError
	for i, raw := range raws {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			recordErrs = append(recordErrs, RecordError{Index: i, MatchID: probeMatchID(raw), Err: err})
			continue
		}
		p, err := rec.ToPrediction()
		if err != nil {
			recordErrs = append(recordErrs, RecordError{Index: i, MatchID: rec.MatchID, Err: err})
			continue
		}
		predictions = append(predictions, p)
	}
	return predictions, recordErrs, nil
}

func splitRecords(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, ErrNotJSON
	}

	var raws []json.RawMessage
	switch {
	case bytes.HasPrefix(body, []byte("[")):
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode feed array: %w", err)
		}
	case bytes.HasPrefix(body, []byte("{")):
		var envelope struct {
			Matches []json.RawMessage `json:"matches"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("failed to decode feed object: %w", err)
		}
		raws = envelope.Matches
	default:
		return nil, fmt.Errorf("%w: expected an array or an object with matches", ErrNotJSON)
	}
	return raws, nil
}

func probeMatchID(raw json.RawMessage) string {
	var probe struct {
		MatchID any `json:"match_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.MatchID == nil {
		return ""
	}
	return fmt.Sprint(probe.MatchID)
}
