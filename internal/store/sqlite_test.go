// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers database setup plus the schema constraints that resolve concurrent writers

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := first.CreateUser(ctx, &User{ID: "alice", DisplayName: "Alice", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	first.Close()

	second, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer second.Close()

	got, err := second.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser after reopen failed: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("DisplayName mismatch: got %q, want %q", got.DisplayName, "Alice")
	}
}

func TestSQLiteStore_PairIndexRejectsReversedPair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.CreateConversation(ctx, &Conversation{ID: "c1", UserAID: "alice", UserBID: "bob", LastMessageAt: now, CreatedAt: now}); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	err := store.CreateConversation(ctx, &Conversation{ID: "c2", UserAID: "bob", UserBID: "alice", LastMessageAt: now, CreatedAt: now})
	if err != ErrDuplicateConversation {
		t.Fatalf("expected ErrDuplicateConversation, got %v", err)
	}
}

func TestSQLiteStore_ConcurrentPinsStopAtLimit(t *testing.T) {
	// A file database so writers use separate pooled connections
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pins.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	if err := store.CreateGroup(ctx, &Group{ID: "g1", Name: "team", CreatedBy: "alice", CreatedAt: now}); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	const attempts = 16
	const limit = 10
	for i := 0; i < attempts; i++ {
		msg := &Message{ID: fmt.Sprintf("m%d", i), Content: "hi", SenderID: "alice", GroupID: "g1", CreatedAt: now}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.CreatePin(ctx, &PinnedMessage{
				ID:             fmt.Sprintf("p%d", i),
				MessageID:      fmt.Sprintf("m%d", i),
				PinnedByUserID: "alice",
				GroupID:        "g1",
				CreatedAt:      now,
			}, limit)
		}(i)
	}
	wg.Wait()

	created, limited := 0, 0
	for _, err := range errs {
		switch err {
		case nil:
			created++
		case ErrPinLimit:
			limited++
		default:
			t.Fatalf("unexpected CreatePin error: %v", err)
		}
	}

	if created != limit {
		t.Errorf("created %d pins, want %d", created, limit)
	}
	if limited != attempts-limit {
		t.Errorf("got %d limit errors, want %d", limited, attempts-limit)
	}

	n, err := store.CountPins(ctx, Scope{GroupID: "g1"})
	if err != nil {
		t.Fatalf("CountPins failed: %v", err)
	}
	if n != limit {
		t.Errorf("CountPins = %d, want %d", n, limit)
	}
}

func TestSQLiteStore_MessageRequiresExactlyOneScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.SaveMessage(ctx, &Message{ID: "orphan", Content: "x", SenderID: "alice", CreatedAt: now}); err == nil {
		t.Fatal("expected error saving a message with no scope")
	}
}

// newTestStore creates an in-memory SQLite store closed at test end
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
