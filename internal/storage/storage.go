// Package storage persists predictions, detected value bets and per-user query
// history behind database/sql. SQLite (modernc.org/sqlite, pure Go) is the default
// and PostgreSQL (lib/pq) is supported for shared deployments.
//
// Queries are written once with "?" placeholders and rebound for PostgreSQL.
// Timestamps are stored as Unix seconds so ordering and pruning behave the same on
// both backends.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/maxadvisor/internal/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the SQL-backed persistence layer. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
}

// Query is one handled user command.
type Query struct {
	ID        string
	Channel   string
	UserID    string
	Command   string
	CreatedAt time.Time
}

// QueryStats summarises a user's query history.
type QueryStats struct {
	Total     int            `json:"total"`
	ByCommand map[string]int `json:"by_command"`
	First     time.Time      `json:"first"`
	Last      time.Time      `json:"last"`
}

// PruneResult counts the rows removed by PruneBefore.
type PruneResult struct {
	Predictions int64
	ValueBets   int64
	Queries     int64
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS predictions (
		match_id    TEXT PRIMARY KEY,
		sport       TEXT NOT NULL DEFAULT '',
		kickoff_utc BIGINT NOT NULL,
		home        TEXT NOT NULL,
		away        TEXT NOT NULL,
		winner      TEXT NOT NULL,
		p_win       DOUBLE PRECISION NOT NULL,
		tier        TEXT NOT NULL,
		payload     TEXT NOT NULL,
		seq         BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_predictions_kickoff ON predictions (kickoff_utc)`,
	`CREATE TABLE IF NOT EXISTS value_bets (
		id                  TEXT PRIMARY KEY,
		match_id            TEXT NOT NULL,
		market              TEXT NOT NULL,
		market_key          TEXT NOT NULL,
		selection           TEXT NOT NULL,
		model_probability   DOUBLE PRECISION NOT NULL,
		implied_probability DOUBLE PRECISION NOT NULL,
		odds                DOUBLE PRECISION NOT NULL,
		value_gap           DOUBLE PRECISION NOT NULL,
		expected_value      DOUBLE PRECISION NOT NULL,
		stake_pct           DOUBLE PRECISION NOT NULL,
		seq                 BIGINT NOT NULL,
		detected_at         BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_value_bets_gap ON value_bets (value_gap)`,
	`CREATE TABLE IF NOT EXISTS queries (
		id         TEXT PRIMARY KEY,
		channel    TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		command    TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queries_user ON queries (user_id)`,
}

// New opens the database and applies the schema.
func New(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection: SQLite serialises writers anyway, and ":memory:" is per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return s, nil
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ReplacePredictions swaps the stored predictions for the current feed batch in one
// transaction. Matches missing from the batch are dropped and the batch order is kept
// as seq so reads return predictions in upstream order. A repeated match ID keeps
// its last record.
func (s *Store) ReplacePredictions(ctx context.Context, predictions []models.MatchPrediction) error {
	for _, p := range predictions {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid prediction %s: %w", p.MatchID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM predictions`); err != nil {
		return fmt.Errorf("clear predictions: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO predictions (match_id, sport, kickoff_utc, home, away, winner, p_win, tier, payload, seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (match_id) DO UPDATE SET
			sport = excluded.sport,
			kickoff_utc = excluded.kickoff_utc,
			home = excluded.home,
			away = excluded.away,
			winner = excluded.winner,
			p_win = excluded.p_win,
			tier = excluded.tier,
			payload = excluded.payload,
			seq = excluded.seq,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, p := range predictions {
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal prediction %s: %w", p.MatchID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.MatchID, p.Sport, p.KickoffUTC.Unix(), p.Teams.Home, p.Teams.Away,
			p.Model.Winner, p.Model.PWin, p.Tier().String(), string(payload), i, now,
		); err != nil {
			return fmt.Errorf("insert prediction %s: %w", p.MatchID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit predictions: %w", err)
	}
	return nil
}

// GetPrediction retrieves a prediction by match ID.
func (s *Store) GetPrediction(ctx context.Context, matchID string) (*models.MatchPrediction, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM predictions WHERE match_id = ?`), matchID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", matchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query prediction: %w", err)
	}

	var p models.MatchPrediction
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode prediction %s: %w", matchID, err)
	}
	return &p, nil
}

// ListUpcoming returns predictions kicking off at or after from, in the order the
// feed listed them.
func (s *Store) ListUpcoming(ctx context.Context, from time.Time) ([]models.MatchPrediction, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT payload FROM predictions WHERE kickoff_utc >= ? ORDER BY seq ASC`), from.Unix())
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	predictions := make([]models.MatchPrediction, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		var p models.MatchPrediction
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// ReplaceValueBets swaps the stored value bets for bets in one transaction. Bets
// without an ID get a fresh UUID and bets without a detection time get now. The
// slice order is kept as seq. The stored copies are returned.
func (s *Store) ReplaceValueBets(ctx context.Context, bets []models.ValueBet) ([]models.ValueBet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM value_bets`); err != nil {
		return nil, fmt.Errorf("clear value bets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO value_bets (id, match_id, market, market_key, selection, model_probability,
			implied_probability, odds, value_gap, expected_value, stake_pct, seq, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Truncate(time.Second)
	stored := make([]models.ValueBet, 0, len(bets))
	for i, b := range bets {
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		if b.DetectedAt.IsZero() {
			b.DetectedAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			b.ID, b.MatchID, b.Market, b.MarketKey, b.Selection, b.ModelProbability,
			b.ImpliedProbability, b.Odds, b.ValueGap, b.ExpectedValue, b.RecommendedStakePct, i, b.DetectedAt.Unix(),
		); err != nil {
			return nil, fmt.Errorf("insert value bet %s: %w", b.ID, err)
		}
		stored = append(stored, b)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit value bets: %w", err)
	}
	return stored, nil
}

// ListValueBets returns stored value bets, largest value gap first. Equal gaps keep
// the order they were stored in.
func (s *Store) ListValueBets(ctx context.Context, limit int) ([]models.ValueBet, error) {
	query := `SELECT id, match_id, market, market_key, selection, model_probability, implied_probability,
		odds, value_gap, expected_value, stake_pct, detected_at
		FROM value_bets ORDER BY value_gap DESC, seq ASC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query value bets: %w", err)
	}
	defer rows.Close()

	bets := make([]models.ValueBet, 0)
	for rows.Next() {
		var b models.ValueBet
		var detected int64
		if err := rows.Scan(&b.ID, &b.MatchID, &b.Market, &b.MarketKey, &b.Selection, &b.ModelProbability,
			&b.ImpliedProbability, &b.Odds, &b.ValueGap, &b.ExpectedValue, &b.RecommendedStakePct, &detected); err != nil {
			return nil, fmt.Errorf("scan value bet: %w", err)
		}
		b.DetectedAt = time.Unix(detected, 0).UTC()
		b.Recommended = true
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// RecordQuery stores one handled command.
func (s *Store) RecordQuery(ctx context.Context, q Query) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO queries (id, channel, user_id, command, created_at) VALUES (?, ?, ?, ?, ?)`),
		q.ID, q.Channel, q.UserID, q.Command, q.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// QueryStats summarises the queries recorded for userID.
func (s *Store) QueryStats(ctx context.Context, userID string) (QueryStats, error) {
	stats := QueryStats{ByCommand: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT command, COUNT(*), MIN(created_at), MAX(created_at)
		FROM queries WHERE user_id = ? GROUP BY command`), userID)
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var first, last int64
	for rows.Next() {
		var command string
		var count int
		var minAt, maxAt int64
		if err := rows.Scan(&command, &count, &minAt, &maxAt); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByCommand[command] = count
		stats.Total += count
		if first == 0 || minAt < first {
			first = minAt
		}
		if maxAt > last {
			last = maxAt
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if stats.Total > 0 {
		stats.First = time.Unix(first, 0).UTC()
		stats.Last = time.Unix(last, 0).UTC()
	}
	return stats, nil
}

// PruneBefore removes predictions that kicked off before cutoff, value bets on
// matches no longer stored, and queries older than cutoff. Value bets age with their
// match, not with their detection time.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (PruneResult, error) {
	var res PruneResult
	ts := cutoff.Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		query string
		args  []interface{}
		n     *int64
	}{
		{`DELETE FROM predictions WHERE kickoff_utc < ?`, []interface{}{ts}, &res.Predictions},
		{`DELETE FROM value_bets WHERE match_id NOT IN (SELECT match_id FROM predictions)`, nil, &res.ValueBets},
		{`DELETE FROM queries WHERE created_at < ?`, []interface{}{ts}, &res.Queries},
	}
	for _, step := range steps {
		r, err := tx.ExecContext(ctx, s.rebind(step.query), step.args...)
		if err != nil {
			return res, fmt.Errorf("prune: %w", err)
		}
		if *step.n, err = r.RowsAffected(); err != nil {
			return res, fmt.Errorf("prune rows affected: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit prune: %w", err)
	}
	return res, nil
}
