package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/maxadvisor/internal/models"
)

const sampleRecord = `{"match_id":"m1","sport":"football","kickoff_utc":"2025-09-25T18:30:00Z",
 "teams":{"home":"Chelsea","away":"Spurs"},
 "model":{"winner":"Chelsea","p_win":0.68,"ou_model_prob":0.61},
 "markets":{"1x2":{"home":2.10,"draw":3.2,"away":3.5},"ou":{"line":2.5,"over":1.9}},
 "stats":{"form_last5":{"home":"WWDWW"}}}`

func TestDecodeArray(t *testing.T) {
	preds, recErrs, err := Decode(strings.NewReader("[" + sampleRecord + "]"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(recErrs) != 0 {
		t.Fatalf("unexpected record errors: %v", recErrs)
	}
	if len(preds) != 1 {
		t.Fatalf("expected 1 prediction, got %d", len(preds))
	}

	p := preds[0]
	if p.MatchID != "m1" || p.Teams.Home != "Chelsea" || p.Model.PWin != 0.68 {
		t.Errorf("unexpected prediction: %+v", p)
	}
	if !p.KickoffUTC.Equal(time.Date(2025, 9, 25, 18, 30, 0, 0, time.UTC)) {
		t.Errorf("unexpected kickoff: %v", p.KickoffUTC)
	}
	if odds, ok := p.Markets.Price(models.Market1X2, models.SelectionHome); !ok || odds != 2.10 {
		t.Errorf("expected home odds 2.10, got %v (%v)", odds, ok)
	}
	if p.Model.OUModelProb == nil || *p.Model.OUModelProb != 0.61 {
		t.Errorf("expected ou_model_prob 0.61")
	}
	if p.Model.BTTSModelProb != nil {
		t.Errorf("expected no btts_model_prob")
	}
}

func TestDecodeEnvelopeWithBadRecords(t *testing.T) {
	body := `{"matches":[
		` + sampleRecord + `,
		{"match_id":"m2","kickoff_utc":"2025-09-25T18:30:00Z","teams":{"away":"Spurs"},"model":{"winner":"Spurs","p_win":0.6}},
		{"match_id":"m3","kickoff_utc":"2025-09-25T18:30:00Z","teams":{"home":"A","away":"B"},"model":{"winner":"A","p_win":"high"}},
		{"match_id":"m4","kickoff_utc":"2025-09-25T18:30:00Z","teams":{"home":"A","away":"B"},"model":{"winner":"A","p_win":0.6},"markets":{"1x2":{"home":"evens"}}},
		{"match_id":"m5","kickoff_utc":"2025-09-25T18:30:00Z","teams":{"home":"A","away":"B"},"model":{"winner":"A","p_win":0.6},"markets":{"1x2":{"home":"1.85"}}}
	]}`

	preds, recErrs, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(preds) != 2 {
		t.Fatalf("expected 2 valid predictions, got %d", len(preds))
	}
	if preds[1].MatchID != "m5" {
		t.Errorf("expected m5 to survive, got %s", preds[1].MatchID)
	}
	if odds, _ := preds[1].Markets.Price(models.Market1X2, models.SelectionHome); odds != 1.85 {
		t.Errorf("expected string odds to parse, got %v", odds)
	}

	if len(recErrs) != 3 {
		t.Fatalf("expected 3 record errors, got %d: %v", len(recErrs), recErrs)
	}
	wantIDs := []string{"m2", "m3", "m4"}
	wantIdx := []int{1, 2, 3}
	for i, re := range recErrs {
		if re.MatchID != wantIDs[i] || re.Index != wantIdx[i] {
			t.Errorf("record error %d = %+v", i, re)
		}
	}
	if !errors.Is(recErrs[0], models.ErrInvalidPrediction) {
		t.Errorf("missing field should wrap ErrInvalidPrediction: %v", recErrs[0])
	}
}

func TestDecodeNotJSON(t *testing.T) {
	tests := []string{"<html>oops</html>", `"just a string"`, ""}
	for _, body := range tests {
		if _, _, err := Decode(strings.NewReader(body)); !errors.Is(err, ErrNotJSON) {
			t.Errorf("Decode(%q) error = %v, want ErrNotJSON", body, err)
		}
	}
}

func TestToPredictionMissingFields(t *testing.T) {
	pWin := 0.7
	base := func() Record {
		return Record{
			MatchID:    "m1",
			KickoffUTC: "2025-09-25T18:30:00Z",
			Teams:      models.Teams{Home: "Chelsea", Away: "Spurs"},
			Model:      RecordModel{Winner: "Chelsea", PWin: &pWin},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *Record)
		want   string
	}{
		{"match id", func(r *Record) { r.MatchID = "" }, "match_id"},
		{"home", func(r *Record) { r.Teams.Home = "" }, "teams.home"},
		{"away", func(r *Record) { r.Teams.Away = " " }, "teams.away"},
		{"winner", func(r *Record) { r.Model.Winner = "" }, "model.winner"},
		{"p_win", func(r *Record) { r.Model.PWin = nil }, "model.p_win"},
		{"kickoff", func(r *Record) { r.KickoffUTC = "tomorrow" }, "kickoff_utc"},
		{"winner not a side", func(r *Record) { r.Model.Winner = "Arsenal" }, "winner"},
	}

	if _, err := base().ToPrediction(); err != nil {
		t.Fatalf("base record should convert: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			_, err := r.ToPrediction()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json, got %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("expected API key header, got %q", r.Header.Get("X-API-Key"))
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[" + sampleRecord + "]"))
	}))
	defer server.Close()

	client := NewClient(server.URL,
		WithAPIKey("secret"),
		WithRetry(3, time.Millisecond),
		WithRateLimit(1000, 10),
	)

	preds, recErrs, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(preds) != 1 || len(recErrs) != 0 {
		t.Errorf("expected 1 prediction and no record errors, got %d/%d", len(preds), len(recErrs))
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestClientGivesUp(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetry(2, time.Millisecond), WithRateLimit(1000, 10))
	if _, _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 calls, got %d", got)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetry(3, time.Millisecond), WithRateLimit(1000, 10))
	if _, _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single call, got %d", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	if err := os.WriteFile(path, []byte(`{"matches":[`+sampleRecord+`]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	preds, _, err := FileSource{Path: path}.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(preds) != 1 || preds[0].MatchID != "m1" {
		t.Errorf("unexpected predictions: %+v", preds)
	}

	if _, _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSampleFeed(t *testing.T) {
	preds, recErrs, err := LoadFile(filepath.Join("..", "..", "testdata", "feed.json"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(preds) != 4 {
		t.Errorf("expected 4 valid predictions, got %d", len(preds))
	}
	if len(recErrs) != 1 || recErrs[0].MatchID != "epl-2026-0412-bre-ful" {
		t.Errorf("expected the record without an away team to be rejected, got %v", recErrs)
	}
	for _, p := range preds {
		if p.MatchID == "epl-2026-0412-ars-eve" {
			if odds, _ := p.Markets.Price(models.Market1X2, models.SelectionHome); odds != 1.30 {
				t.Errorf("string odds should decode to 1.30, got %v", odds)
			}
		}
	}
}
