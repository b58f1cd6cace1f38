package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if store == nil {
		t.Fatal("Store should not be nil")
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Error("Base directory was not created")
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	if err := store.Save("runner", RunState{PID: 4242, StartedAt: started, Command: "job-runner", SessionID: "s-1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rs, err := store.Load("runner")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rs == nil {
		t.Fatal("Expected run state")
	}
	if rs.PID != 4242 || rs.Command != "job-runner" || rs.SessionID != "s-1" {
		t.Errorf("Unexpected run state: %+v", rs)
	}
	if !rs.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", rs.StartedAt, started)
	}
	if rs.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	rs, err := store.Load("absent")
	if err != nil {
		t.Fatalf("Load of missing state should not error: %v", err)
	}
	if rs != nil {
		t.Errorf("Expected nil run state, got %+v", rs)
	}
}

func TestStore_LoadCorrupted(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	if err := os.WriteFile(filepath.Join(dir, "RUN_runner.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	rs, err := store.Load("runner")
	if err != nil || rs != nil {
		t.Errorf("Corrupted state should load as absent, got %+v, %v", rs, err)
	}
}

func TestStore_Validation(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	if err := store.Save("", RunState{PID: 1}); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := store.Save("runner", RunState{PID: 0}); err == nil {
		t.Error("Expected error for zero pid")
	}
	if _, err := store.Load(""); err == nil {
		t.Error("Expected error for empty name on load")
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	for _, name := range []string{"a", "b"} {
		if err := store.Save(name, RunState{PID: 10}); err != nil {
			t.Fatalf("Save %s failed: %v", name, err)
		}
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("Expected 2 names, got %v", names)
	}

	if err := store.Delete("a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete("a"); err != nil {
		t.Errorf("Deleting a missing state should not error: %v", err)
	}

	names, _ = store.List()
	if len(names) != 1 || names[0] != "b" {
		t.Errorf("Expected [b], got %v", names)
	}
}
