package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // CGO-free SQLite
)

type Config struct {
	Path            string `mapstructure:"path"`
	MaxQueuedEvents int    `mapstructure:"max_queued_events"`
}

const defaultMaxQueuedEvents = 500

// Queue is the durable event queue backed by a local SQLite database. The
// same database carries the tracker_state table used for the visitor id and
// the persisted opt-out flag.
type Queue struct {
	db        *sql.DB
	maxQueued int
}

func New(ctx context.Context, cfg Config) (*Queue, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}

	// all queue mutations serialize on a single connection; concurrent
	// tracking calls wait on the pool instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping queue database: %w", err)
	}

	if err = createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	q := &Queue{
		db:        db,
		maxQueued: cfg.MaxQueuedEvents,
	}
	if q.maxQueued == 0 {
		q.maxQueued = defaultMaxQueuedEvents
	}

	return q, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS queued_events(
	  sequence     INTEGER PRIMARY KEY AUTOINCREMENT,
	  created_at   INTEGER NOT NULL,
	  visitor_id   TEXT    NOT NULL,
	  session_id   TEXT    NOT NULL,
	  kind         TEXT    NOT NULL,
	  payload_json TEXT    NOT NULL CHECK (json_valid(payload_json))
	);
	CREATE TABLE IF NOT EXISTS tracker_state(
	  key   TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("create queue tables: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}
