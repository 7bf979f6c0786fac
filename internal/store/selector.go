package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCallTimeout bounds every distributed-backend call so a slow Redis
// cannot stall request admission.
const DefaultCallTimeout = 2 * time.Second

// Backend names reported by Selector.Backend.
const (
	BackendRedis = "redis"
	BackendLocal = "local"
)

// Dialer constructs the distributed backend on demand.
type Dialer func(ctx context.Context) (*RedisStore, error)

// Selector routes counter operations to the distributed backend while it is
// healthy and to the in-process fallback once it is not. Degradation is
// one-way: any dial, timeout, or command error sends all subsequent calls,
// for the lifetime of the process, to the local store. The limiter must
// never block request handling because its own storage is unavailable.
type Selector struct {
	local   *MemoryStore
	dial    Dialer
	timeout time.Duration

	mu       sync.Mutex
	redis    *RedisStore
	dialed   bool
	degraded atomic.Bool
}

// SelectorOption configures optional Selector behavior.
type SelectorOption func(*Selector)

// WithDialer supplies the constructor for the distributed backend. Without
// one the selector starts, and stays, on the local store.
func WithDialer(dial Dialer) SelectorOption {
	return func(s *Selector) {
		s.dial = dial
	}
}

// WithCallTimeout bounds each distributed-backend call.
func WithCallTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSelector creates a selector over the given local fallback store.
func NewSelector(local *MemoryStore, opts ...SelectorOption) *Selector {
	s := &Selector{
		local:   local,
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		s.degraded.Store(true)
	}

	return s
}

// Connect eagerly attempts the distributed backend. A failure here is not
// fatal: it degrades the selector and is reported for logging only.
func (s *Selector) Connect(ctx context.Context) error {
	_, err := s.distributed(ctx)
	return err
}

// Degraded reports whether the selector has fallen back to the local store.
func (s *Selector) Degraded() bool {
	return s.degraded.Load()
}

// Backend returns the name of the currently active backend.
func (s *Selector) Backend() string {
	if s.degraded.Load() {
		return BackendLocal
	}
	return BackendRedis
}

// Read returns the current window state for key from the active backend.
func (s *Selector) Read(ctx context.Context, key string) (Result, error) {
	rs, err := s.distributed(ctx)
	if err != nil || rs == nil {
		return s.local.Read(ctx, key)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := rs.Read(callCtx, key)
	if err != nil {
		s.degrade("read", err)
		return s.local.Read(ctx, key)
	}

	return result, nil
}

// Increment adds one hit for key on the active backend.
func (s *Selector) Increment(ctx context.Context, key string) (Result, error) {
	rs, err := s.distributed(ctx)
	if err != nil || rs == nil {
		return s.local.Increment(ctx, key)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := rs.Increment(callCtx, key)
	if err != nil {
		s.degrade("increment", err)
		return s.local.Increment(ctx, key)
	}

	return result, nil
}

// Decrement refunds one hit for key on the active backend.
func (s *Selector) Decrement(ctx context.Context, key string) error {
	rs, err := s.distributed(ctx)
	if err != nil || rs == nil {
		return s.local.Decrement(ctx, key)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := rs.Decrement(callCtx, key); err != nil {
		s.degrade("decrement", err)
		return s.local.Decrement(ctx, key)
	}

	return nil
}

// Close releases the distributed backend connection, if one was ever made.
func (s *Selector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.redis == nil {
		return nil
	}

	rs := s.redis
	s.redis = nil

	return rs.Close()
}

// distributed returns the distributed backend, dialing it on first use.
// It returns nil once the selector has degraded.
func (s *Selector) distributed(ctx context.Context) (*RedisStore, error) {
	if s.degraded.Load() {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded.Load() {
		return nil, nil
	}
	if s.dialed {
		return s.redis, nil
	}

	s.dialed = true

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rs, err := s.dial(dialCtx)
	if err != nil {
		s.degraded.Store(true)
		slog.Warn("store: distributed backend unavailable, falling back to local store", "error", err)
		return nil, err
	}

	s.redis = rs
	return rs, nil
}

// degrade flips the one-way switch after an operational error.
func (s *Selector) degrade(op string, err error) {
	if s.degraded.CompareAndSwap(false, true) {
		slog.Warn("store: distributed backend error, falling back to local store",
			"op", op, "error", err)
	}
}
