package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetState reads a durable tracker state value. The second return reports
// whether the key exists.
func (q *Queue) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := q.db.QueryRowContext(ctx, `SELECT value FROM tracker_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select tracker state: %w", err)
	}
	return value, true, nil
}

// SetState writes a durable tracker state value, replacing any previous one.
func (q *Queue) SetState(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tracker_state(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("upsert tracker state: %w", err)
	}
	return nil
}
