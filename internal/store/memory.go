package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// window is the in-process state kept per key.
type window struct {
	count   int64
	startAt time.Time
}

// MemoryStore is the in-process fallback counter. State is local to the
// process, so it bounds load per gateway instance only, not per fleet.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*window
	window  time.Duration
	limit   int64
	now     Clock
}

// MemoryOption configures optional MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, for tests.
func WithClock(now Clock) MemoryOption {
	return func(ms *MemoryStore) {
		ms.now = now
	}
}

// NewMemoryStore creates an in-process fixed-window store.
func NewMemoryStore(windowDur time.Duration, limit int64, opts ...MemoryOption) (*MemoryStore, error) {
	if windowDur <= 0 {
		return nil, fmt.Errorf("store: window must be greater than 0")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("store: limit must be greater than 0")
	}

	ms := &MemoryStore{
		entries: make(map[string]*window),
		window:  windowDur,
		limit:   limit,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}

	return ms, nil
}

// Read returns the current window state for key. Missing or expired keys
// read as zero hits.
func (ms *MemoryStore) Read(_ context.Context, key string) (Result, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	ms.prune(now)

	ent, ok := ms.entries[key]
	if !ok {
		return Result{
			TotalHits: 0,
			Remaining: ms.limit,
			ResetAt:   now.Add(ms.window),
		}, nil
	}

	return Result{
		TotalHits: ent.count,
		Remaining: remaining(ms.limit, ent.count),
		ResetAt:   ent.startAt.Add(ms.window),
	}, nil
}

// Increment adds one hit for key, starting a fresh window if none is active.
func (ms *MemoryStore) Increment(_ context.Context, key string) (Result, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	ms.prune(now)

	ent, ok := ms.entries[key]
	if !ok {
		ent = &window{count: 0, startAt: now}
		ms.entries[key] = ent
	}
	ent.count++

	return Result{
		TotalHits: ent.count,
		Remaining: remaining(ms.limit, ent.count),
		ResetAt:   ent.startAt.Add(ms.window),
	}, nil
}

// Decrement refunds one hit for key, flooring at zero.
func (ms *MemoryStore) Decrement(_ context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.prune(ms.now())

	if ent, ok := ms.entries[key]; ok && ent.count > 0 {
		ent.count--
	}

	return nil
}

// Len reports how many live windows the store currently tracks.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.entries)
}

// prune drops expired windows. Called with ms.mu held; a full sweep per
// access keeps the table bounded without a background timer.
func (ms *MemoryStore) prune(now time.Time) {
	for key, ent := range ms.entries {
		if now.Sub(ent.startAt) >= ms.window {
			delete(ms.entries, key)
		}
	}
}
