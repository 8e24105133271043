package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/turboalan/collab/pkg/models"
)

func newTestStore(t *testing.T) *WorkspaceStore {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	store := NewWorkspaceStore(gdb)
	if err := store.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := models.NewWorkspace("ws1", "My Workspace", "alice", 100)
	w.AddParticipant("bob")
	if _, err := w.AddMessage("alice", models.RoleUser, "hello", nil); err != nil {
		t.Fatalf("add message: %v", err)
	}
	w.AddDocument("f1", "a.docx", "docx", "job1")

	if err := store.Save(ctx, w.Snapshot()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	snap, err := store.Load(ctx, "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	restored := models.WorkspaceFromSnapshot(snap)
	if restored.Name() != "My Workspace" || restored.OwnerID() != "alice" {
		t.Fatalf("restored workspace = (%s, %s)", restored.Name(), restored.OwnerID())
	}
	if !restored.IsParticipant("bob") {
		t.Fatalf("restored workspace lost participant bob")
	}
	if restored.MessageCount() != 1 {
		t.Fatalf("restored message count = %d, want 1", restored.MessageCount())
	}
	if restored.ActiveDocumentID() != "f1" {
		t.Fatalf("restored active document = %q, want f1", restored.ActiveDocumentID())
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "nope")
	if err == nil {
		t.Fatalf("Load(missing) expected error")
	}
	if !IsNotFound(err) {
		t.Fatalf("Load(missing) error = %v, want record not found", err)
	}
}

func TestStore_SaveIsUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	w := models.NewWorkspace("ws1", "First", "alice", 100)
	if err := store.Save(ctx, w.Snapshot()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	w.AddParticipant("bob")
	if err := store.Save(ctx, w.Snapshot()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	snap, err := store.Load(ctx, "ws1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("participants = %v, want 2 entries", snap.Participants)
	}
}

func TestStore_LoadByParticipant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := models.NewWorkspace("ws1", "First", "alice", 100)
	if err := store.Save(ctx, first.Snapshot()); err != nil {
		t.Fatalf("Save(ws1) error = %v", err)
	}

	second := models.NewWorkspace("ws2", "Second", "carol", 100)
	second.AddParticipant("alice")
	if err := store.Save(ctx, second.Snapshot()); err != nil {
		t.Fatalf("Save(ws2) error = %v", err)
	}

	third := models.NewWorkspace("ws3", "Third", "carol", 100)
	if err := store.Save(ctx, third.Snapshot()); err != nil {
		t.Fatalf("Save(ws3) error = %v", err)
	}

	snaps, err := store.LoadByParticipant(ctx, "alice", 50)
	if err != nil {
		t.Fatalf("LoadByParticipant() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("LoadByParticipant returned %d snapshots, want 2", len(snaps))
	}
	// Newest-updated first: ws2 was saved after ws1.
	if snaps[0].ID != "ws2" || snaps[1].ID != "ws1" {
		t.Fatalf("order = [%s, %s], want [ws2, ws1]", snaps[0].ID, snaps[1].ID)
	}

	snaps, err = store.LoadByParticipant(ctx, "nobody", 50)
	if err != nil {
		t.Fatalf("LoadByParticipant(nobody) error = %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("LoadByParticipant(nobody) = %d snapshots, want 0", len(snaps))
	}
}
