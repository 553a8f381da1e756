package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	session := &models.Session{Key: "serve:/work/project", Workspace: "/work/project"}

	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if session.ID == "" {
		t.Fatalf("expected session id to be assigned")
	}

	loaded, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.Key != session.Key {
		t.Fatalf("expected key %q, got %q", session.Key, loaded.Key)
	}

	loaded.Title = "updated"
	if err := store.Update(context.Background(), loaded); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	updated, err := store.Get(context.Background(), loaded.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.Title != "updated" {
		t.Fatalf("expected title to update")
	}

	if err := store.Delete(context.Background(), updated.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(context.Background(), updated.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetOrCreateIsIdempotent(t *testing.T) {
	store := NewMemoryStore()

	first, err := store.GetOrCreate(context.Background(), "serve:/work/project", "/work/project")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := store.GetOrCreate(context.Background(), "serve:/work/project", "/work/project")
	if err != nil {
		t.Fatalf("second GetOrCreate() error = %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same session for the same key, got %s and %s", first.ID, second.ID)
	}
	if first.Workspace != "/work/project" {
		t.Fatalf("workspace = %q", first.Workspace)
	}
}

func TestMemoryStoreListFiltersByWorkspace(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "a", "/work/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetOrCreate(ctx, "b", "/work/b"); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}

	onlyA, err := store.List(ctx, ListOptions{Workspace: "/work/a"})
	if err != nil {
		t.Fatalf("List(workspace) error = %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].Workspace != "/work/a" {
		t.Fatalf("workspace filter failed: %+v", onlyA)
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	store := NewMemoryStore()
	session, err := store.GetOrCreate(context.Background(), "serve:/work/project", "/work/project")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	msg := &models.Message{SessionID: session.ID, Role: models.RoleUser, Content: "hello"}
	if err := store.AppendMessage(context.Background(), session.ID, msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	history, err := store.GetHistory(context.Background(), session.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}

	// Mutating the returned message must not leak into the store.
	history[0].Content = "mutated"
	again, _ := store.GetHistory(context.Background(), session.ID, 10)
	if again[0].Content != "hello" {
		t.Fatalf("history should be cloned, got %q", again[0].Content)
	}
}
