package chatstate

import (
	"context"
	"testing"
	"time"
)

func TestSQLiteStore_SaveThenLoad_RoundTrips(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	snap := New("chat-1").ToSnapshot(now)
	snap.ExternalMemoryIndex["ref-1"] = "/var/nexus/ref-1.blob"

	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ExternalMemoryIndex["ref-1"] != "/var/nexus/ref-1.blob" {
		t.Fatalf("loaded ExternalMemoryIndex = %+v", loaded.ExternalMemoryIndex)
	}
}

func TestSQLiteStore_Load_UnknownChatReturnsErrNotFound(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if _, err := store.Load(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Save_OverwritesExistingCheckpoint(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	first := New("chat-1").ToSnapshot(time.Now())
	first.AutonomyCounters.IterationCount = 1
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}

	second := New("chat-1").ToSnapshot(time.Now())
	second.AutonomyCounters.IterationCount = 5
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	loaded, err := store.Load(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.AutonomyCounters.IterationCount != 5 {
		t.Fatalf("loaded AutonomyCounters.IterationCount = %d, want 5", loaded.AutonomyCounters.IterationCount)
	}
}

func TestSQLiteStore_Delete_RemovesCheckpoint(t *testing.T) {
	store, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	snap := New("chat-1").ToSnapshot(time.Now())
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "chat-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Load(ctx, "chat-1"); err != ErrNotFound {
		t.Fatalf("Load() after delete error = %v, want ErrNotFound", err)
	}
}
