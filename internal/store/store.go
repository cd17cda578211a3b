// Package store defines the persistence contract shared by the shot stores.
package store

import (
	"context"
	"errors"

	"github.com/PratikDhanave/shotlog/internal/models"
)

// ErrUnavailable wraps any failure to reach or write the backing store.
// Callers surface it as store_unavailable; the shot was not recorded.
var ErrUnavailable = errors.New("store_unavailable")

// Store is the persistence collaborator of the ingest pipeline.
type Store interface {
	// InsertIfAbsent stores shot unless its ID already exists. On insert it
	// assigns day_seq = 1 + max(day_seq) among rows with the same dayKey, in
	// the same atomic operation, and returns it. A duplicate returns (nil, nil).
	InsertIfAbsent(ctx context.Context, shot models.Shot, dayKey string) (*int64, error)

	// Recent returns at most limit shots, newest first.
	Recent(ctx context.Context, limit int) ([]models.Shot, error)

	Ping(ctx context.Context) error
	Close() error
}
