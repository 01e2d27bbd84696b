package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestPebblePendingStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewPebblePendingStore(dir)
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	key := PendingMessagesKey("p1")
	if err := store.Set(ctx, key, []byte(`[{"id":"temp_1","content":"hi"}]`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewPebblePendingStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen pebble store: %v", err)
	}
	defer reopened.Close()

	data, ok, err := reopened.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected value after reopen, ok=%v err=%v", ok, err)
	}
	if string(data) != `[{"id":"temp_1","content":"hi"}]` {
		t.Fatalf("unexpected value: %s", data)
	}

	if err := reopened.Delete(ctx, key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := reopened.Get(ctx, key); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestPebblePendingStoreUseAfterClose(t *testing.T) {
	store, err := NewPebblePendingStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	ctx := context.Background()
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := store.Set(ctx, "k", []byte("v")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input after close, got %v", err)
	}
	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input after close, got %v", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input after close, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestPebblePendingStoreConcurrentClose(t *testing.T) {
	store, err := NewPebblePendingStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = store.Set(ctx, "k", []byte("v"))
				_, _, _ = store.Get(ctx, "k")
				_ = store.Delete(ctx, "k")
			}
		}()
	}
	_ = store.Close()
	wg.Wait()
}
