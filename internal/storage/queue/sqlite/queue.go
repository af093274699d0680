package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leshachaplin/trackpost/internal/domain"
)

// Enqueue appends the event with a fresh sequence number and commits before
// returning. Returns false without mutating anything when the queue already
// holds the configured maximum number of events.
func (q *Queue) Enqueue(ctx context.Context, event domain.TrackedEvent) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin enqueue transaction: %w", err)
	}

	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_events`).Scan(&count); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("count queued events: %w", err)
	}
	if count >= q.maxQueued {
		_ = tx.Rollback()
		return false, nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queued_events(created_at, visitor_id, session_id, kind, payload_json) VALUES(?,?,?,?,json(?))`,
		event.CreatedAt.UnixMilli(), event.VisitorID, event.SessionID, string(event.Kind), string(payload),
	)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert queued event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit enqueue transaction: %w", err)
	}
	return true, nil
}

// PeekBatch returns up to limit oldest records in sequence order without
// removing them.
func (q *Queue) PeekBatch(ctx context.Context, limit int) ([]domain.QueueRecord, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT sequence, payload_json FROM queued_events ORDER BY sequence ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select queued events: %w", err)
	}
	defer rows.Close()

	var batch []domain.QueueRecord
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err = rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan queued event: %w", err)
		}

		var event domain.TrackedEvent
		if err = json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		batch = append(batch, domain.QueueRecord{Sequence: seq, Event: event})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued events: %w", err)
	}
	return batch, nil
}

// RemoveBatch deletes exactly the given sequences. Sequences that are already
// gone are skipped silently.
func (q *Queue) RemoveBatch(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	placeholders := make([]string, len(seqs))
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		placeholders[i] = "?"
		args[i] = seq
	}

	_, err := q.db.ExecContext(ctx,
		`DELETE FROM queued_events WHERE sequence IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete queued events: %w", err)
	}
	return nil
}

func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queued_events`); err != nil {
		return fmt.Errorf("clear queued events: %w", err)
	}
	return nil
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_events`).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count queued events: %w", err)
	}
	return count, nil
}
