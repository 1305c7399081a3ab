// Package cache is the engine's query cache: a keyed, TTL-aware store of
// fetched resources with background loading, in-flight deduplication,
// polling, stale-while-revalidate invalidation and optimistic writes.
//
// The Store keeps typed values in memory. A byte-level Backend (in-memory or
// Redis) can be attached to persist last-known values across restarts, and an
// Invalidator can fan invalidations out to other stores over Redis Pub/Sub.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in a Backend.
var ErrNotFound = errors.New("cache: key not found")

// Backend abstracts a byte-level key-value store with TTL support, used for
// snapshots. All operations are safe for concurrent use.
type Backend interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity to the underlying backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the backend.
	Close() error
}
