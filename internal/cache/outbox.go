package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxEntry is one pending publish. The payload is stored unsigned; the
// worker re-signs on every attempt, so a key rotation between attempts still
// produces a valid event.
type OutboxEntry struct {
	ID        string
	Kind      string
	RecordID  string
	Payload   json.RawMessage
	Encrypted bool
	Attempts  int
	LastError string
	NextAt    time.Time
	CreatedAt time.Time
}

// EnqueueOutbox stores a pending publish, due immediately.
func (s *Store) EnqueueOutbox(ctx context.Context, kind, recordID string, payload json.RawMessage, encrypted bool) (OutboxEntry, error) {
	entry := OutboxEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		RecordID:  recordID,
		Payload:   payload,
		Encrypted: encrypted,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, kind, record_id, payload, encrypted, attempts, last_error, next_attempt_ms, created_ms)
		VALUES (?, ?, ?, ?, ?, 0, '', 0, ?)`,
		entry.ID, entry.Kind, entry.RecordID, string(entry.Payload), entry.Encrypted,
		entry.CreatedAt.UnixMilli())
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("enqueue outbox %s/%s: %w", kind, recordID, err)
	}
	return entry, nil
}

// DueOutbox returns up to limit entries whose next attempt is at or before
// now, oldest first.
func (s *Store) DueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, record_id, payload, encrypted, attempts, last_error, next_attempt_ms, created_ms
		FROM outbox WHERE next_attempt_ms <= ?
		ORDER BY created_ms ASC LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var (
			e                 OutboxEntry
			payload           string
			nextMS, createdMS int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.RecordID, &payload, &e.Encrypted,
			&e.Attempts, &e.LastError, &nextMS, &createdMS); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.NextAt = fromMilli(nextMS)
		e.CreatedAt = fromMilli(createdMS)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetryOutbox records a failed attempt and reschedules the entry.
func (s *Store) RetryOutbox(ctx context.Context, id string, lastError string, nextAt time.Time) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = ?, next_attempt_ms = ?
		WHERE id = ?`, lastError, nextAt.UnixMilli(), id); err != nil {
		return fmt.Errorf("reschedule outbox %s: %w", id, err)
	}
	return nil
}

// AckOutbox removes an entry after a relay accepted its event.
func (s *Store) AckOutbox(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ack outbox %s: %w", id, err)
	}
	return nil
}

// CountOutbox reports pending entries, total across kinds.
func (s *Store) CountOutbox(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}
