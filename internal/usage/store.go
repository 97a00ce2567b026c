// Package usage records language-model usage per day and the history of
// completed turns in SQLite.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered" // model reply spoken
	OutcomeFallback Outcome = "fallback" // fallback reply spoken
	OutcomeSilent   Outcome = "silent"   // reply produced but speech failed
	OutcomeAborted  Outcome = "aborted"  // reset before the reply was spoken
)

// Turn is one completed conversation turn.
type Turn struct {
	ID        string        `json:"id"`
	Utterance string        `json:"utterance"`
	Reply     string        `json:"reply"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Stats is the usage of one local day against the daily limit.
type Stats struct {
	Date      string  `json:"date"` // YYYY-MM-DD
	Count     int     `json:"count"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
	Percent   float64 `json:"percent"`
}

// OverLimit reports whether the day's count reached the limit.
func (s Stats) OverLimit() bool {
	return s.Limit > 0 && s.Count >= s.Limit
}

// ═══════════════════════════════════════════════════════════════════════════════
// STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store provides SQLite-backed usage storage.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	limit  int
	loc    *time.Location
	logger zerolog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string, limit int, loc *time.Location, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, limit, loc, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a usage store on an open database.
func NewStore(db *sql.DB, limit int, loc *time.Location, logger zerolog.Logger) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Store{
		db:     db,
		limit:  limit,
		loc:    loc,
		logger: logger.With().Str("component", "usage").Logger(),
		now:    time.Now,
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_daily (
		date TEXT PRIMARY KEY,
		requests INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		utterance TEXT NOT NULL,
		reply TEXT NOT NULL,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) today() string {
	return s.now().In(s.loc).Format("2006-01-02")
}

// ═══════════════════════════════════════════════════════════════════════════════
// RECORDING
// ═══════════════════════════════════════════════════════════════════════════════

// RecordRequest counts one language-model request against today. Going over
// the limit only logs.
func (s *Store) RecordRequest(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.today()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_daily (date, requests) VALUES (?, 1)
		ON CONFLICT(date) DO UPDATE SET
			requests = requests + 1,
			updated_at = CURRENT_TIMESTAMP
	`, date)
	if err != nil {
		return Stats{}, fmt.Errorf("record request: %w", err)
	}

	stats, err := s.stats(ctx, date)
	if err != nil {
		return Stats{}, err
	}
	if stats.OverLimit() {
		s.logger.Warn().Int("count", stats.Count).Int("limit", stats.Limit).Msg("Daily request limit reached")
	}
	return stats, nil
}

// RecordTurn stores a completed turn, assigning an id when missing.
func (s *Store) RecordTurn(ctx context.Context, t Turn) (Turn, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, utterance, reply, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Utterance, t.Reply, string(t.Outcome), t.Duration.Milliseconds(), t.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return t, fmt.Errorf("record turn: %w", err)
	}
	return t, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ═══════════════════════════════════════════════════════════════════════════════

// Stats returns today's usage.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats(ctx, s.today())
}

func (s *Store) stats(ctx context.Context, date string) (Stats, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT requests FROM usage_daily WHERE date = ?`, date).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("query usage: %w", err)
	}

	st := Stats{Date: date, Count: count, Limit: s.limit}
	if s.limit > 0 {
		st.Remaining = max(s.limit-count, 0)
		st.Percent = float64(count) / float64(s.limit) * 100
	}
	return st, nil
}

// History returns up to limit turns, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, utterance, reply, outcome, duration_ms, created_at
		FROM turns ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t       Turn
			outcome string
			ms      int64
			created string
		)
		if err := rows.Scan(&t.ID, &t.Utterance, &t.Reply, &outcome, &ms, &created); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Outcome = Outcome(outcome)
		t.Duration = time.Duration(ms) * time.Millisecond
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
