package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tillsync/internal/relay"
)

// The settings table is a string key/value store for engine state: device
// identity keys, the relay endpoint list, per-kind sync cursors.

const settingRelayEndpoints = "relay.endpoints"

// GetSetting returns the value for key, or "" when unset. Absence is not an
// error; identity bootstrap relies on that.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// LoadEndpoints restores the relay endpoint list saved by a previous run, so
// the pool comes up with the user's relay edits before any network I/O.
func (s *Store) LoadEndpoints(ctx context.Context) ([]relay.Endpoint, error) {
	raw, err := s.GetSetting(ctx, settingRelayEndpoints)
	if err != nil || raw == "" {
		return nil, err
	}
	var eps []relay.Endpoint
	if err := json.Unmarshal([]byte(raw), &eps); err != nil {
		return nil, fmt.Errorf("parse cached relay list: %w", err)
	}
	return eps, nil
}

// SaveEndpoints persists the relay endpoint list.
func (s *Store) SaveEndpoints(ctx context.Context, eps []relay.Endpoint) error {
	raw, err := json.Marshal(eps)
	if err != nil {
		return err
	}
	return s.SetSetting(ctx, settingRelayEndpoints, string(raw))
}
