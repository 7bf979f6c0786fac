package store

import (
	"context"
	"testing"
	"time"
)

func TestStoreInterfaceCompliance(t *testing.T) {
	// Compile-time checks that every backend implements Store.
	var _ Store = (*MemoryStore)(nil)
	var _ Store = (*RedisStore)(nil)
	var _ Store = (*Selector)(nil)
}

func TestNewMemoryStoreValidation(t *testing.T) {
	if _, err := NewMemoryStore(0, 10); err == nil {
		t.Fatal("expected error when window is zero")
	}
	if _, err := NewMemoryStore(time.Second, 0); err == nil {
		t.Fatal("expected error when limit is zero")
	}
}

func TestMemoryStoreReadMissingKey(t *testing.T) {
	now := time.Now()
	ms, err := NewMemoryStore(time.Minute, 5, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	result, err := ms.Read(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if result.TotalHits != 0 {
		t.Errorf("expected 0 hits for missing key, got %d", result.TotalHits)
	}
	if result.Remaining != 5 {
		t.Errorf("expected remaining 5, got %d", result.Remaining)
	}
	if !result.ResetAt.Equal(now.Add(time.Minute)) {
		t.Errorf("expected reset at now+window, got %v", result.ResetAt)
	}
}

func TestMemoryStoreIncrementSequence(t *testing.T) {
	now := time.Now()
	ms, err := NewMemoryStore(time.Minute, 3, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		result, err := ms.Increment(ctx, "client-1")
		if err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
		if result.TotalHits != i {
			t.Errorf("hit %d: expected total %d, got %d", i, i, result.TotalHits)
		}

		wantRemaining := int64(3 - i)
		if wantRemaining < 0 {
			wantRemaining = 0
		}
		if result.Remaining != wantRemaining {
			t.Errorf("hit %d: expected remaining %d, got %d", i, wantRemaining, result.Remaining)
		}
	}
}

func TestMemoryStoreWindowAnchoredAtFirstHit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	current := now
	ms, err := NewMemoryStore(time.Minute, 10, WithClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	first, err := ms.Increment(ctx, "client-1")
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	// A later hit must not push the reset boundary forward.
	current = now.Add(30 * time.Second)
	second, err := ms.Increment(ctx, "client-1")
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	if !second.ResetAt.Equal(first.ResetAt) {
		t.Errorf("reset moved from %v to %v; window should stay anchored at first hit",
			first.ResetAt, second.ResetAt)
	}
}

func TestMemoryStoreExpiryResetsWindow(t *testing.T) {
	current := time.Unix(1700000000, 0)
	ms, err := NewMemoryStore(time.Second, 3, WithClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := ms.Increment(ctx, "client-1"); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	// Advance past the window; the old state must be gone.
	current = current.Add(1100 * time.Millisecond)

	result, err := ms.Increment(ctx, "client-1")
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if result.TotalHits != 1 {
		t.Errorf("expected fresh window with 1 hit, got %d", result.TotalHits)
	}
	if result.Remaining != 2 {
		t.Errorf("expected remaining 2, got %d", result.Remaining)
	}
}

func TestMemoryStoreKeyIsolation(t *testing.T) {
	ms, err := NewMemoryStore(time.Minute, 2)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := ms.Increment(ctx, "client-a"); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	result, err := ms.Read(ctx, "client-b")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result.TotalHits != 0 {
		t.Errorf("exhausting client-a leaked into client-b: %d hits", result.TotalHits)
	}
}

func TestMemoryStoreDecrement(t *testing.T) {
	ms, err := NewMemoryStore(time.Minute, 5)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	// Decrementing a missing key is a no-op, not an error.
	if err := ms.Decrement(ctx, "client-1"); err != nil {
		t.Fatalf("Decrement on missing key failed: %v", err)
	}

	if _, err := ms.Increment(ctx, "client-1"); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := ms.Decrement(ctx, "client-1"); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}

	result, err := ms.Read(ctx, "client-1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if result.TotalHits != 0 {
		t.Errorf("expected 0 hits after refund, got %d", result.TotalHits)
	}

	// Never below zero.
	if err := ms.Decrement(ctx, "client-1"); err != nil {
		t.Fatalf("Decrement failed: %v", err)
	}
	result, _ = ms.Read(ctx, "client-1")
	if result.TotalHits != 0 {
		t.Errorf("expected floor at 0, got %d", result.TotalHits)
	}
}

func TestMemoryStorePrunesExpiredEntries(t *testing.T) {
	current := time.Unix(1700000000, 0)
	ms, err := NewMemoryStore(time.Second, 10, WithClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := ms.Increment(ctx, key); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	if ms.Len() != 3 {
		t.Fatalf("expected 3 tracked windows, got %d", ms.Len())
	}

	current = current.Add(2 * time.Second)

	// Any access sweeps the table.
	if _, err := ms.Read(ctx, "d"); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("expected expired windows to be pruned, %d left", ms.Len())
	}
}
