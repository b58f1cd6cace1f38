// Package state persists the run state of the automation process so a restarted
// controller can find a runner that is still alive.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunState is the on-disk record of one launched runner.
type RunState struct {
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SessionID string    `json:"session_id,omitempty"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
}

// Store manages run state files under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a new state store with the given base directory.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Save atomically writes the run state for name.
func (s *Store) Save(name string, rs RunState) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if rs.PID <= 0 {
		return fmt.Errorf("pid must be positive, got %d", rs.PID)
	}
	rs.UpdatedAt = time.Now().UTC()

	if err := writeJSONAtomic(s.filename(name), rs); err != nil {
		return fmt.Errorf("failed to write run state %s: %w", name, err)
	}
	return nil
}

// Load returns the run state for name, or nil if none exists.
// A corrupted file is treated as absent.
func (s *Store) Load(name string) (*RunState, error) {
	if name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	data, err := os.ReadFile(s.filename(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil //nolint:nilnil // absent run state is not an error
		}
		return nil, fmt.Errorf("failed to read run state %s: %w", name, err)
	}

	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil || rs.PID <= 0 {
		return nil, nil //nolint:nilnil // corrupted run state is treated as absent
	}
	return &rs, nil
}

// Delete removes the run state for name. Missing files are not an error.
func (s *Store) Delete(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if err := os.Remove(s.filename(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete run state %s: %w", name, err)
	}
	return nil
}

// List returns the names that have a run state file.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "RUN_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(name, "RUN_"), ".json"))
	}
	return names, nil
}

func (s *Store) filename(name string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("RUN_%s.json", name))
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
