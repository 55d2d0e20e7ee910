// Package store persists catalog search results and spooled analytics
// events. Both a SQLite and a Postgres implementation are provided; the
// SQLite store is the default for single-node deployments.
package store

import (
	"context"
	"time"

	"github.com/shopglide/cartcore/internal/model"
)

// EventRecord is a spooled analytics event awaiting delivery.
type EventRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Kind       string    `json:"kind"`
	ProductID  string    `json:"product_id,omitempty"`
	VariantID  string    `json:"variant_id,omitempty"`
	Payload    string    `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Store defines the persistence interface shared by the SQLite and
// Postgres backends.
type Store interface {
	// Catalog search cache
	GetCachedSearch(ctx context.Context, key string) ([]model.Candidate, error)
	SetCachedSearch(ctx context.Context, key string, candidates []model.Candidate, ttl time.Duration) error
	DeleteExpiredSearches(ctx context.Context) (int, error)

	// Analytics event spool
	SaveEvent(ctx context.Context, ev EventRecord) error
	CountEvents(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
