// Package eventlog records runtime status events and state transitions to
// daily rotated JSONL files.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"botpilot/pkg/proto"
)

// Record kinds.
const (
	KindStatus     = "status"
	KindTransition = "transition"
)

// Record is one line of the event log.
type Record struct {
	Time       time.Time                      `json:"time"`
	Status     *proto.StatusEvent             `json:"status,omitempty"`
	Transition *proto.StateChangeNotification `json:"transition,omitempty"`
	Kind       string                         `json:"kind"`
	SessionID  string                         `json:"session_id,omitempty"`
}

// Writer appends records to events-YYYY-MM-DD.jsonl in logDir.
type Writer struct {
	now         func() time.Time
	currentFile *os.File
	logDir      string
	currentDate string
	mu          sync.Mutex
}

// NewWriter creates a writer with daily rotation in logDir.
func NewWriter(logDir string) (*Writer, error) {
	return newWriter(logDir, time.Now)
}

func newWriter(logDir string, now func() time.Time) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &Writer{logDir: logDir, now: now}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize log file: %w", err)
	}
	return w, nil
}

// WriteStatus logs a status event received for session.
func (w *Writer) WriteStatus(session string, ev proto.StatusEvent) error {
	return w.write(Record{Kind: KindStatus, SessionID: session, Status: &ev})
}

// WriteTransition logs a state change notification.
func (w *Writer) WriteTransition(n proto.StateChangeNotification) error {
	return w.write(Record{Kind: KindTransition, SessionID: n.SessionID, Transition: &n})
}

func (w *Writer) write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return fmt.Errorf("event log is closed")
	}
	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if rec.Time.IsZero() {
		rec.Time = w.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := w.now().Format("2006-01-02")
	if w.currentFile == nil || w.currentDate != newDate {
		return w.rotate(newDate)
	}
	return nil
}

func (w *Writer) rotate(newDate string) error {
	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
	}

	path := filepath.Join(w.logDir, logFileName(newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// Close closes the current log file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile != nil {
		err := w.currentFile.Close()
		w.currentFile = nil
		if err != nil {
			return fmt.Errorf("failed to close event log file: %w", err)
		}
	}
	return nil
}

// CurrentLogFile returns the path of the active log file.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, logFileName(w.currentDate))
}

// Dir returns the log directory.
func (w *Writer) Dir() string {
	return w.logDir
}

func logFileName(date string) string {
	return fmt.Sprintf("events-%s.jsonl", date)
}

// ReadRecords parses every record in a log file. Blank lines are skipped.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse record on line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return records, nil
}

// ListLogFiles returns the event log files in logDir, oldest first.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "events-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
