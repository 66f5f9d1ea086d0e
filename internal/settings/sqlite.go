package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mattersync/internal/model"
)

const timeLayout = time.RFC3339Nano

// SQLite implements Store backed by the settings table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an already-open database. Migrations are the caller's
// responsibility (see internal/storage.Open).
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Close is a no-op; the shared database handle is closed by its owner.
func (s *SQLite) Close() error { return nil }

// Get returns the raw value for key, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// Set stores the raw value for key, replacing any previous value.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	return nil
}

// Credential returns the stored token pair, or nil when either half is absent.
func (s *SQLite) Credential(ctx context.Context) (*model.Credential, error) {
	access, err := s.Get(ctx, KeyAccessToken)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	refresh, err := s.Get(ctx, KeyRefreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Credential{AccessToken: access, RefreshToken: refresh}, nil
}

// SetCredential replaces the stored token pair wholesale.
func (s *SQLite) SetCredential(ctx context.Context, cred model.Credential) error {
	if err := s.Set(ctx, KeyAccessToken, cred.AccessToken); err != nil {
		return err
	}
	return s.Set(ctx, KeyRefreshToken, cred.RefreshToken)
}

// ClearCredential removes both tokens, forcing re-authentication.
func (s *SQLite) ClearCredential(ctx context.Context) error {
	if err := s.Delete(ctx, KeyAccessToken); err != nil {
		return err
	}
	return s.Delete(ctx, KeyRefreshToken)
}

// LastSync returns the last completed sync time, or the zero time if no
// sync has ever completed.
func (s *SQLite) LastSync(ctx context.Context) (time.Time, error) {
	return s.getTime(ctx, KeyLastSync)
}

// SetLastSync persists the last completed sync time. Once set it never
// moves backward; older values are silently ignored.
func (s *SQLite) SetLastSync(ctx context.Context, t time.Time) error {
	current, err := s.LastSync(ctx)
	if err != nil {
		return err
	}
	if !current.IsZero() && t.Before(current) {
		return nil
	}
	return s.Set(ctx, KeyLastSync, t.UTC().Format(timeLayout))
}

// IsSyncing reports whether a cycle currently holds the sync lock.
func (s *SQLite) IsSyncing(ctx context.Context) (bool, error) {
	v, err := s.Get(ctx, KeyIsSyncing)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetSyncing sets or clears the sync lock flag.
func (s *SQLite) SetSyncing(ctx context.Context, v bool) error {
	if v {
		return s.Set(ctx, KeyIsSyncing, "true")
	}
	return s.Set(ctx, KeyIsSyncing, "false")
}

// LastHeartbeat returns the most recent heartbeat, or the zero time.
func (s *SQLite) LastHeartbeat(ctx context.Context) (time.Time, error) {
	return s.getTime(ctx, KeyLastHeartbeat)
}

// SetLastHeartbeat records proof that the in-flight cycle is still alive.
func (s *SQLite) SetLastHeartbeat(ctx context.Context, t time.Time) error {
	return s.Set(ctx, KeyLastHeartbeat, t.UTC().Format(timeLayout))
}

// Interval returns the chosen sync interval, defaulting when unset.
func (s *SQLite) Interval(ctx context.Context) (model.SyncInterval, error) {
	v, err := s.Get(ctx, KeySyncInterval)
	if errors.Is(err, ErrNotFound) {
		return model.DefaultInterval, nil
	}
	if err != nil {
		return 0, err
	}
	return model.ParseInterval(v)
}

// SetInterval persists the chosen sync interval by its label.
func (s *SQLite) SetInterval(ctx context.Context, i model.SyncInterval) error {
	return s.Set(ctx, KeySyncInterval, i.String())
}

// Location returns the chosen placement strategy, defaulting when unset.
func (s *SQLite) Location(ctx context.Context) (model.SyncLocation, error) {
	v, err := s.Get(ctx, KeySyncLocation)
	if errors.Is(err, ErrNotFound) {
		return model.DefaultLocation, nil
	}
	if err != nil {
		return "", err
	}
	return model.ParseLocation(v)
}

// SetLocation persists the chosen placement strategy.
func (s *SQLite) SetLocation(ctx context.Context, l model.SyncLocation) error {
	return s.Set(ctx, KeySyncLocation, string(l))
}

func (s *SQLite) getTime(ctx context.Context, key string) (time.Time, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", key, v, err)
	}
	return t, nil
}
