// Package settings persists the credential pair and sync state as
// process-wide key-value settings.
package settings

import (
	"context"
	"errors"
	"time"

	"mattersync/internal/model"
)

// ErrNotFound is returned by Get for keys that have never been set.
var ErrNotFound = errors.New("setting not found")

// Setting keys. The typed accessors below are the only writers.
const (
	KeyAccessToken   = "accessToken"
	KeyRefreshToken  = "refreshToken"
	KeyLastSync      = "lastSync"
	KeyIsSyncing     = "isSyncing"
	KeyLastHeartbeat = "lastHeartbeat"
	KeySyncInterval  = "syncInterval"
	KeySyncLocation  = "syncLocation"
)

// Store is the interface for all settings persistence.
// Absent values map to zero values: nil credential, zero time, false flag;
// interval and location fall back to their defaults.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	Credential(ctx context.Context) (*model.Credential, error)
	SetCredential(ctx context.Context, cred model.Credential) error
	ClearCredential(ctx context.Context) error

	LastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error

	IsSyncing(ctx context.Context) (bool, error)
	SetSyncing(ctx context.Context, v bool) error

	LastHeartbeat(ctx context.Context) (time.Time, error)
	SetLastHeartbeat(ctx context.Context, t time.Time) error

	Interval(ctx context.Context) (model.SyncInterval, error)
	SetInterval(ctx context.Context, i model.SyncInterval) error

	Location(ctx context.Context) (model.SyncLocation, error)
	SetLocation(ctx context.Context, l model.SyncLocation) error

	Close() error
}
