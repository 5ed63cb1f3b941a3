// Package store implements the Corpus Store and Result Store of spec §4.4
// and §4.6 on top of a storage-agnostic StorageProvider — mirrored on
// orchestration.StorageProvider in the teacher repo, so the same shape can
// be backed by an in-memory map (tests, single-process deployments) or
// Redis (SPEC_FULL §2) without changing the store logic itself.
package store

import (
	"context"
	"time"
)

// StorageProvider abstracts the underlying key/value + sorted-index
// backend. Implementations: MemoryProvider (default) and RedisProvider.
type StorageProvider interface {
	// Get retrieves a value by key. Returns empty string and nil error if not found.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with TTL. Use 0 for no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// AddToIndex adds a member with score to a sorted index (creation-time
	// ordering for List operations).
	AddToIndex(ctx context.Context, key string, score float64, member string) error

	// ListByScoreDesc returns members from a sorted index, highest score
	// (most recent) first, with offset/count pagination.
	ListByScoreDesc(ctx context.Context, key string, offset, count int64) ([]string, error)

	// RemoveFromIndex removes members from a sorted index.
	RemoveFromIndex(ctx context.Context, key string, members ...string) error

	// Incr atomically increments the integer stored at key (creating it at 0
	// first) and returns the new value. Used for CorpusRun id allocation.
	Incr(ctx context.Context, key string) (int64, error)
}
