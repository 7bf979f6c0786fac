package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) *MemoryStore {
	t.Helper()

	ms, err := NewMemoryStore(time.Minute, 5)
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}
	return ms
}

func TestSelectorWithoutDialerStartsDegraded(t *testing.T) {
	s := NewSelector(newTestLocal(t))

	if !s.Degraded() {
		t.Fatal("expected selector without dialer to be degraded")
	}
	if s.Backend() != BackendLocal {
		t.Fatalf("expected backend %q, got %q", BackendLocal, s.Backend())
	}

	result, err := s.Increment(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if result.TotalHits != 1 {
		t.Errorf("expected 1 hit via local store, got %d", result.TotalHits)
	}
}

func TestSelectorDegradesOnDialError(t *testing.T) {
	dials := 0
	s := NewSelector(newTestLocal(t), WithDialer(func(_ context.Context) (*RedisStore, error) {
		dials++
		return nil, errors.New("connection refused")
	}))

	if s.Degraded() {
		t.Fatal("selector should not be degraded before first use")
	}
	if s.Backend() != BackendRedis {
		t.Fatalf("expected backend %q before first use, got %q", BackendRedis, s.Backend())
	}

	ctx := context.Background()

	// First call attempts the dial, fails, and serves from the local store.
	result, err := s.Read(ctx, "client-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result.TotalHits != 0 {
		t.Errorf("expected 0 hits, got %d", result.TotalHits)
	}

	if !s.Degraded() {
		t.Fatal("expected selector to degrade after dial error")
	}

	// Degradation is one-way: no further dial attempts.
	if _, err := s.Increment(ctx, "client-1"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if _, err := s.Read(ctx, "client-1"); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if dials != 1 {
		t.Errorf("expected exactly 1 dial attempt, got %d", dials)
	}
}

func TestSelectorConnectReportsDialError(t *testing.T) {
	wantErr := errors.New("no route to host")
	s := NewSelector(newTestLocal(t), WithDialer(func(_ context.Context) (*RedisStore, error) {
		return nil, wantErr
	}))

	if err := s.Connect(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected dial error from Connect, got %v", err)
	}
	if !s.Degraded() {
		t.Fatal("expected selector to be degraded after failed Connect")
	}
}

func TestSelectorLocalContractMatchesDirectUse(t *testing.T) {
	// The external contract must be identical whichever backend serves it:
	// same hit sequence, same remaining math.
	s := NewSelector(newTestLocal(t))
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		result, err := s.Increment(ctx, "client-1")
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if result.TotalHits != i {
			t.Errorf("hit %d: expected total %d, got %d", i, i, result.TotalHits)
		}
		if result.Remaining != 5-i {
			t.Errorf("hit %d: expected remaining %d, got %d", i, 5-i, result.Remaining)
		}
	}

	if err := s.Decrement(ctx, "client-1"); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}
	result, err := s.Read(ctx, "client-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result.TotalHits != 4 {
		t.Errorf("expected 4 hits after refund, got %d", result.TotalHits)
	}
}

func TestSelectorCloseWithoutConnection(t *testing.T) {
	s := NewSelector(newTestLocal(t))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
