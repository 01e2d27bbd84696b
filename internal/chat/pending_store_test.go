package chat

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPendingStoreRoundTrip(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	data, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || string(data) != "v1" {
		t.Fatalf("get returned %q ok=%v err=%v", data, ok, err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestJSONFilePendingStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewJSONFilePendingStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Set(ctx, PendingMessagesKey("p1"), []byte(`[{"id":"temp_1"}]`)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewJSONFilePendingStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	data, ok, err := reopened.Get(ctx, PendingMessagesKey("p1"))
	if err != nil || !ok {
		t.Fatalf("expected value after reopen, ok=%v err=%v", ok, err)
	}
	if string(data) != `[{"id":"temp_1"}]` {
		t.Fatalf("unexpected value: %s", data)
	}
}

func TestBuildPendingStoreFromDSN(t *testing.T) {
	store, err := BuildPendingStoreFromDSN("")
	if err != nil {
		t.Fatalf("empty DSN failed: %v", err)
	}
	if _, ok := store.(*MemoryPendingStore); !ok {
		t.Fatalf("expected memory backend for empty DSN, got %T", store)
	}

	store, err = BuildPendingStoreFromDSN("memory://")
	if err != nil {
		t.Fatalf("memory DSN failed: %v", err)
	}
	if _, ok := store.(*MemoryPendingStore); !ok {
		t.Fatalf("expected memory backend, got %T", store)
	}

	store, err = BuildPendingStoreFromDSN("file://" + t.TempDir())
	if err != nil {
		t.Fatalf("file DSN failed: %v", err)
	}
	if _, ok := store.(*JSONFilePendingStore); !ok {
		t.Fatalf("expected file backend, got %T", store)
	}

	if _, err := BuildPendingStoreFromDSN("bogus://x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestPendingMessageHelpers(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := Message{ID: "temp_1", SenderID: "u1", ReceiverID: "p1", Content: "a", CreatedAt: at}
	second := Message{ID: "temp_2", SenderID: "u1", ReceiverID: "p1", Content: "b", CreatedAt: at.Add(time.Second)}
	if err := AppendPendingMessage(ctx, store, "p1", first); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := AppendPendingMessage(ctx, store, "p1", second); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	loaded, err := LoadPendingMessages(ctx, store, "p1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "temp_1" || loaded[1].ID != "temp_2" {
		t.Fatalf("unexpected pending messages: %+v", loaded)
	}

	if err := RemovePendingMessage(ctx, store, "p1", "temp_1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	loaded, _ = LoadPendingMessages(ctx, store, "p1")
	if len(loaded) != 1 || loaded[0].ID != "temp_2" {
		t.Fatalf("unexpected pending messages after remove: %+v", loaded)
	}

	// Removing the last message deletes the key outright.
	if err := RemovePendingMessage(ctx, store, "p1", "temp_2"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, PendingMessagesKey("p1")); ok {
		t.Fatalf("expected key deleted once list is empty")
	}
}

func TestPendingLabelHelpers(t *testing.T) {
	store := NewMemoryPendingStore()
	ctx := context.Background()

	if _, ok, err := LoadPendingLabels(ctx, store, "u1", "p1"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}

	labels := []Label{{ID: "l1", Name: "Work", Color: "#f00"}}
	if err := SavePendingLabels(ctx, store, "u1", "p1", labels); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, ok, err := LoadPendingLabels(ctx, store, "u1", "p1")
	if err != nil || !ok || len(loaded) != 1 || loaded[0].ID != "l1" {
		t.Fatalf("unexpected pending labels: %+v ok=%v err=%v", loaded, ok, err)
	}

	if err := DeletePendingLabels(ctx, store, "u1", "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := LoadPendingLabels(ctx, store, "u1", "p1"); ok {
		t.Fatalf("expected labels gone after delete")
	}
}
