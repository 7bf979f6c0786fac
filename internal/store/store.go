// Package store provides the counter backends for the chatgate rate limiter:
// a Redis-backed distributed store shared across gateway instances and an
// in-process fallback used when Redis is unavailable.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("store: connection closed")

	// ErrUnavailable is returned when the distributed backend cannot be reached.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Result holds the window state observed for a key. It is derived on every
// call and never persisted.
type Result struct {
	// TotalHits is the number of requests counted in the current window.
	TotalHits int64
	// Remaining is how many requests are still allowed before the limit.
	Remaining int64
	// ResetAt is when the current window expires. Windows are anchored at
	// the first hit; for a key with no hits it is now + window.
	ResetAt time.Time
}

// Clock supplies the current time. Stores accept one so tests can control
// window expiry without sleeping.
type Clock func() time.Time

// Store is a fixed-window hit counter keyed by client identity.
// All methods must be safe for concurrent use.
type Store interface {
	// Read returns the current window state for key without mutating it.
	// A key that has never been seen reads as zero hits.
	Read(ctx context.Context, key string) (Result, error)

	// Increment atomically adds one hit to the current window for key.
	// The first hit in a fresh window starts the window clock; the expiry
	// is not refreshed by later hits.
	Increment(ctx context.Context, key string) (Result, error)

	// Decrement removes one hit from the current window, flooring at zero.
	// Used by the strict admission strategy to refund skipped requests.
	Decrement(ctx context.Context, key string) error
}

// remaining computes how many hits are left under limit, never negative.
func remaining(limit, hits int64) int64 {
	if hits >= limit {
		return 0
	}
	return limit - hits
}
