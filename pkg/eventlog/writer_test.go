package eventlog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"botpilot/pkg/proto"
)

func TestNewWriter(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "logs")

	writer, err := NewWriter(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	currentFile := writer.CurrentLogFile()
	if currentFile == "" {
		t.Fatal("No current log file set")
	}
	if _, err := os.Stat(currentFile); os.IsNotExist(err) {
		t.Error("Current log file does not exist")
	}
	if writer.Dir() != tmpDir {
		t.Errorf("Dir() = %s, want %s", writer.Dir(), tmpDir)
	}
}

func TestWriteAndReadRecords(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	ev := proto.StatusEvent{
		Stage:    proto.StageRunning,
		Activity: "Applying",
		Stats:    &proto.Stats{JobsFound: 3, JobsApplied: 1},
	}
	if err := writer.WriteStatus("s-1", ev); err != nil {
		t.Fatalf("Failed to write status: %v", err)
	}
	if err := writer.WriteTransition(proto.StateChangeNotification{
		SessionID: "s-1",
		FromState: proto.StateRunning,
		ToState:   proto.StateCompleted,
	}); err != nil {
		t.Fatalf("Failed to write transition: %v", err)
	}

	records, err := ReadRecords(writer.CurrentLogFile())
	if err != nil {
		t.Fatalf("Failed to read records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	if records[0].Kind != KindStatus || records[0].SessionID != "s-1" {
		t.Errorf("Unexpected first record: %+v", records[0])
	}
	if records[0].Status == nil || records[0].Status.Activity != "Applying" || records[0].Status.Stats.JobsFound != 3 {
		t.Errorf("Status event not preserved: %+v", records[0].Status)
	}
	if records[0].Time.IsZero() {
		t.Error("Record time should be set")
	}
	if records[1].Kind != KindTransition || records[1].Transition.ToState != proto.StateCompleted {
		t.Errorf("Unexpected second record: %+v", records[1])
	}
}

func TestDailyRotation(t *testing.T) {
	tmpDir := t.TempDir()
	var mu sync.Mutex
	now := time.Date(2026, 5, 1, 23, 59, 0, 0, time.Local)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	writer, err := newWriter(tmpDir, clock)
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	defer writer.Close()

	if err := writer.WriteStatus("s", proto.StatusEvent{Stage: proto.StageRunning}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	if err := writer.WriteStatus("s", proto.StatusEvent{Stage: proto.StageCompleted}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	files, err := ListLogFiles(tmpDir)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 log files, got %v", files)
	}
	if filepath.Base(files[0]) != "events-2026-05-01.jsonl" || filepath.Base(files[1]) != "events-2026-05-02.jsonl" {
		t.Errorf("Unexpected file names: %v", files)
	}
	if writer.CurrentLogFile() != files[1] {
		t.Errorf("Current file = %s, want %s", writer.CurrentLogFile(), files[1])
	}
}

func TestWriteAfterClose(t *testing.T) {
	writer, err := NewWriter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if err := writer.WriteStatus("s", proto.StatusEvent{Stage: proto.StageRunning}); err == nil {
		t.Error("Expected error writing to a closed log")
	}
	if writer.CurrentLogFile() != "" {
		t.Error("Closed writer should report no current file")
	}
}

func TestReadRecordsErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := ReadRecords(filepath.Join(tmpDir, "missing.jsonl")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(tmpDir, "bad.jsonl")
	if err := os.WriteFile(bad, []byte("{\"kind\":\"status\"}\n\nnot json\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadRecords(bad); err == nil {
		t.Error("Expected parse error")
	}

	empty := filepath.Join(tmpDir, "empty.jsonl")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	records, err := ReadRecords(empty)
	if err != nil || len(records) != 0 {
		t.Errorf("Expected no records, got %v, %v", records, err)
	}
}
