package redis

import (
	"context"
	"testing"
)

func TestRedisCounterStoreIncrementDecrement(t *testing.T) {
	t.Parallel()

	store := newTestCounterStore(t)

	depth, err := store.Increment(context.Background())
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}

	depth, err = store.Increment(context.Background())
	if err != nil {
		t.Fatalf("Increment() error = %v", err)
	}
	if depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}

	depth, err = store.Decrement(context.Background())
	if err != nil {
		t.Fatalf("Decrement() error = %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth = %d, want 1", depth)
	}
}

func TestRedisCounterStoreDecrementClampsAtZero(t *testing.T) {
	t.Parallel()

	store := newTestCounterStore(t)

	// Extra releases after crashes or reconciliation must not drive the
	// counter negative.
	for i := 0; i < 3; i++ {
		depth, err := store.Decrement(context.Background())
		if err != nil {
			t.Fatalf("Decrement() error = %v", err)
		}
		if depth != 0 {
			t.Fatalf("depth = %d, want clamp at 0", depth)
		}
	}

	depth, err := store.Depth(context.Background())
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Fatalf("depth = %d, want 0", depth)
	}
}

func TestRedisCounterStoreDepthMissingKey(t *testing.T) {
	t.Parallel()

	store := newTestCounterStore(t)

	depth, err := store.Depth(context.Background())
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Fatalf("depth = %d, want 0 for missing key", depth)
	}
}

func TestRedisCounterStoreSet(t *testing.T) {
	t.Parallel()

	store := newTestCounterStore(t)

	if err := store.Set(context.Background(), 42); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	depth, err := store.Depth(context.Background())
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 42 {
		t.Fatalf("depth = %d, want 42", depth)
	}
}

func newTestCounterStore(t *testing.T) *RedisCounterStore {
	t.Helper()

	store, err := NewRedisCounterStore(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewRedisCounterStore() error = %v", err)
	}
	return store
}
