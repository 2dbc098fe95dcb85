// Package sqlite persists pipeline state in a local SQLite database. It is
// the storage backend for single-node deployments where DynamoDB is not
// available.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stevenriosCOL/agente-ia-sensora/internal/domain"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/memory"
	"github.com/stevenriosCOL/agente-ia-sensora/internal/ratelimit"
)

// Store implements the rate limiter, conversation memory and analytics sink
// on one SQLite database.
type Store struct {
	db        *sql.DB
	limit     int
	window    time.Duration
	memoryCap int
	now       func() time.Time
}

type Option func(*Store)

// WithRateLimit overrides the admission limit and window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Store) {
		s.limit = limit
		s.window = window
	}
}

// WithMemoryCap overrides the per-subscriber turn cap.
func WithMemoryCap(maxTurns int) Option {
	return func(s *Store) {
		s.memoryCap = maxTurns
	}
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("sqlite: db path must not be empty")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
	}

	// _txlock=immediate makes every transaction take the write lock at
	// BEGIN. Without it the admission check's read-then-write upgrade
	// fails with SQLITE_BUSY under concurrency (busy_timeout does not
	// cover deferred lock upgrades), and an erroring limiter would let
	// the pipeline fail-open past the limit.
	db, err := sql.Open("sqlite", dbPath+"?_txlock=immediate&_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}

	s := &Store{
		db:        db,
		limit:     ratelimit.DefaultLimit,
		window:    ratelimit.DefaultWindow,
		memoryCap: memory.DefaultCap,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limit <= 0 || s.window <= 0 {
		db.Close()
		return nil, errors.New("sqlite: rate limit and window must be positive")
	}
	if s.memoryCap <= 0 {
		db.Close()
		return nil, errors.New("sqlite: memory cap must be positive")
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ ratelimit.Limiter = (*Store)(nil)
var _ memory.Store = (*Store)(nil)

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rate_limits (
		subscriber_id TEXT PRIMARY KEY,
		window_start  INTEGER NOT NULL,
		msg_count     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		subscriber_id TEXT NOT NULL,
		role          TEXT NOT NULL,
		content       TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_subscriber ON turns(subscriber_id, id);

	CREATE TABLE IF NOT EXISTS analytics (
		id            TEXT PRIMARY KEY,
		subscriber_id TEXT NOT NULL,
		display_name  TEXT NOT NULL,
		category      TEXT NOT NULL,
		input         TEXT NOT NULL,
		output        TEXT NOT NULL,
		escalated     INTEGER NOT NULL,
		duration_ms   INTEGER NOT NULL,
		language      TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analytics_subscriber ON analytics(subscriber_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CheckAndAdmit runs the fixed-window admission check inside one
// transaction so concurrent checks for the same subscriber serialize on
// the row.
func (s *Store) CheckAndAdmit(ctx context.Context, subscriberID string) (ratelimit.Decision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: CheckAndAdmit begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	cutoff := now.Add(-s.window).UnixMilli()

	var windowStart int64
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT window_start, msg_count FROM rate_limits WHERE subscriber_id = ?`,
		subscriberID).Scan(&windowStart, &count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		windowStart = 0
		count = 0
	case err != nil:
		return ratelimit.Decision{}, fmt.Errorf("sqlite: CheckAndAdmit read: %w", err)
	}

	if windowStart <= cutoff {
		// new or expired window
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rate_limits (subscriber_id, window_start, msg_count)
			VALUES (?, ?, 1)
			ON CONFLICT(subscriber_id) DO UPDATE SET window_start = excluded.window_start, msg_count = 1`,
			subscriberID, now.UnixMilli())
		if err != nil {
			return ratelimit.Decision{}, fmt.Errorf("sqlite: CheckAndAdmit reset: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return ratelimit.Decision{}, fmt.Errorf("sqlite: CheckAndAdmit commit: %w", err)
		}
		return ratelimit.Decision{Allowed: true, Count: 1, Limit: s.limit}, nil
	}

	if count >= s.limit {
		// denial does not increment
		return ratelimit.Decision{Allowed: false, Count: count, Limit: s.limit}, nil
	}

	count++
	_, err = tx.ExecContext(ctx,
		`UPDATE rate_limits SET msg_count = ? WHERE subscriber_id = ?`,
		count, subscriberID)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: CheckAndAdmit increment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ratelimit.Decision{}, fmt.Errorf("sqlite: CheckAndAdmit commit: %w", err)
	}
	return ratelimit.Decision{Allowed: true, Count: count, Limit: s.limit}, nil
}

// Append persists one conversation turn and trims the subscriber's history
// to the cap.
func (s *Store) Append(ctx context.Context, subscriberID, role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: Append begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertTurn(ctx, tx, subscriberID, role, content, s.now()); err != nil {
		return fmt.Errorf("sqlite: Append: %w", err)
	}
	if err := s.trim(ctx, tx, subscriberID); err != nil {
		return fmt.Errorf("sqlite: Append trim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: Append commit: %w", err)
	}
	return nil
}

// AppendExchange writes the user turn and the assistant reply in one
// transaction.
func (s *Store) AppendExchange(ctx context.Context, subscriberID, userText, assistantText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: AppendExchange begin: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	if err := insertTurn(ctx, tx, subscriberID, domain.RoleUser, userText, now); err != nil {
		return fmt.Errorf("sqlite: AppendExchange user turn: %w", err)
	}
	if err := insertTurn(ctx, tx, subscriberID, domain.RoleAssistant, assistantText, now); err != nil {
		return fmt.Errorf("sqlite: AppendExchange assistant turn: %w", err)
	}
	if err := s.trim(ctx, tx, subscriberID); err != nil {
		return fmt.Errorf("sqlite: AppendExchange trim: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: AppendExchange commit: %w", err)
	}
	return nil
}

func insertTurn(ctx context.Context, tx *sql.Tx, subscriberID, role, content string, ts time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO turns (subscriber_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		subscriberID, role, content, ts.UTC().UnixMilli())
	return err
}

// trim deletes the oldest rows beyond the memory cap.
func (s *Store) trim(ctx context.Context, tx *sql.Tx, subscriberID string) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM turns WHERE subscriber_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE subscriber_id = ? ORDER BY id DESC LIMIT ?
		)`,
		subscriberID, subscriberID, s.memoryCap)
	return err
}

// Snapshot returns the subscriber's retained turns, oldest first.
func (s *Store) Snapshot(ctx context.Context, subscriberID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE subscriber_id = ? ORDER BY id ASC`,
		subscriberID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: Snapshot query: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var role, content string
		var createdAt int64
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: Snapshot scan: %w", err)
		}
		turns = append(turns, domain.Turn{
			Role:      role,
			Content:   content,
			Timestamp: time.UnixMilli(createdAt).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: Snapshot rows: %w", err)
	}
	return turns, nil
}

// Record persists one analytics record.
func (s *Store) Record(ctx context.Context, rec domain.AnalyticsRecord) error {
	if rec.ID == "" {
		return errors.New("sqlite: Record: record id is required")
	}
	escalated := 0
	if rec.Escalated {
		escalated = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics (id, subscriber_id, display_name, category, input, output, escalated, duration_ms, language, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SubscriberID, rec.DisplayName, string(rec.Category), rec.Input, rec.Output,
		escalated, rec.DurationMs, string(rec.Language), rec.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("sqlite: Record: %w", err)
	}
	return nil
}
