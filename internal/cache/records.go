package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tillsync/internal/record"
	"tillsync/pkg/platform/sentinel"
)

// GetRecord returns one record by kind and id. Soft-deleted rows are still
// returned; callers that hide deletions filter on Record.Deleted.
func (s *Store) GetRecord(ctx context.Context, kind, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, status, date_ms, updated_ms, deleted
		FROM records WHERE kind = ? AND id = ?`, kind, id)
	rec, err := scanRecord(row, id)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("record %s/%s: %w", kind, id, sentinel.ErrNotFound)
	}
	return rec, err
}

// PutRecord upserts a record. synced marks whether the row has already been
// accepted by a relay; local writes pass false and MarkSynced flips it.
func (s *Store) PutRecord(ctx context.Context, kind string, rec record.Record, synced bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, payload, status, date_ms, updated_ms, deleted, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			status = excluded.status,
			date_ms = excluded.date_ms,
			updated_ms = excluded.updated_ms,
			deleted = excluded.deleted,
			synced = excluded.synced`,
		kind, rec.ID, string(rec.Payload), rec.Status,
		unixMilli(rec.Date), unixMilli(rec.UpdatedAt), rec.Deleted, synced)
	if err != nil {
		return fmt.Errorf("put record %s/%s: %w", kind, rec.ID, err)
	}
	return nil
}

// DeleteRecord removes a record. Soft delete keeps the row with deleted=1 so
// the tombstone replicates; hard delete drops the row entirely.
func (s *Store) DeleteRecord(ctx context.Context, kind, id string, soft bool) error {
	if soft {
		res, err := s.db.ExecContext(ctx,
			`UPDATE records SET deleted = 1, synced = 0 WHERE kind = ? AND id = ?`, kind, id)
		if err != nil {
			return fmt.Errorf("soft delete record %s/%s: %w", kind, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s/%s: %w", kind, id, sentinel.ErrNotFound)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("delete record %s/%s: %w", kind, id, err)
	}
	return nil
}

// ListRecent returns up to limit records of a kind, newest domain date
// first. limit <= 0 means no limit.
func (s *Store) ListRecent(ctx context.Context, kind string, limit int) ([]record.Record, error) {
	q := `SELECT payload, status, date_ms, updated_ms, deleted, id
		FROM records WHERE kind = ? ORDER BY date_ms DESC, updated_ms DESC`
	args := []any{kind}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.listRecords(ctx, q, args...)
}

// ListUnsynced returns records written locally that no relay has accepted
// yet. Used by the reconcile pass to re-push after offline periods.
func (s *Store) ListUnsynced(ctx context.Context, kind string) ([]record.Record, error) {
	return s.listRecords(ctx, `
		SELECT payload, status, date_ms, updated_ms, deleted, id
		FROM records WHERE kind = ? AND synced = 0`, kind)
}

// CountUnsynced reports how many local writes still await relay acceptance.
func (s *Store) CountUnsynced(ctx context.Context, kind string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE kind = ? AND synced = 0`, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced %s: %w", kind, err)
	}
	return n, nil
}

// MarkSynced records that a relay accepted the record.
func (s *Store) MarkSynced(ctx context.Context, kind, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE records SET synced = 1 WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("mark synced %s/%s: %w", kind, id, err)
	}
	return nil
}

func (s *Store) listRecords(ctx context.Context, query string, args ...any) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var (
			payload           string
			status, id        string
			dateMS, updatedMS int64
			deleted           bool
		)
		if err := rows.Scan(&payload, &status, &dateMS, &updatedMS, &deleted, &id); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, record.Record{
			ID:        id,
			Status:    status,
			Date:      fromMilli(dateMS),
			UpdatedAt: fromMilli(updatedMS),
			Deleted:   deleted,
			Payload:   json.RawMessage(payload),
		})
	}
	return out, rows.Err()
}

func scanRecord(row *sql.Row, id string) (record.Record, error) {
	var (
		payload, status   string
		dateMS, updatedMS int64
		deleted           bool
	)
	if err := row.Scan(&payload, &status, &dateMS, &updatedMS, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, err
		}
		return record.Record{}, fmt.Errorf("scan record: %w", err)
	}
	return record.Record{
		ID:        id,
		Status:    status,
		Date:      fromMilli(dateMS),
		UpdatedAt: fromMilli(updatedMS),
		Deleted:   deleted,
		Payload:   json.RawMessage(payload),
	}, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
