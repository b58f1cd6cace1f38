package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"botpilot/pkg/logx"
)

// LocalConfigVersion is the schema version written to the runtime config file.
const LocalConfigVersion = 1

// ErrIncomplete is returned when required preferences are missing.
var ErrIncomplete = errors.New("preferences incomplete")

// Source supplies the user's saved preferences.
type Source interface {
	Preferences(ctx context.Context) (*Preferences, error)
}

// LocalConfig is the document the runtime reads.
type LocalConfig struct {
	GeneratedAt time.Time   `yaml:"generated_at"`
	Preferences Preferences `yaml:"preferences"`
	Version     int         `yaml:"version"`
}

// Materializer writes preferences from a Source into a YAML file.
type Materializer struct {
	source Source
	logger *logx.Logger
	path   string
}

// NewMaterializer creates a materializer writing to path.
func NewMaterializer(source Source, path string) *Materializer {
	return &Materializer{
		source: source,
		path:   path,
		logger: logx.NewLogger("prefs"),
	}
}

// Path returns the config file location.
func (m *Materializer) Path() string {
	return m.path
}

// Materialize fetches the preferences and writes the local config file, returning its path.
func (m *Materializer) Materialize(ctx context.Context) (string, error) {
	p, err := m.source.Preferences(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load preferences: %w", err)
	}
	if missing := p.Missing(); len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}

	doc := LocalConfig{
		Version:     LocalConfigVersion,
		GeneratedAt: time.Now().UTC(),
		Preferences: p.Normalized(),
	}
	if err := WriteLocalConfig(m.path, &doc); err != nil {
		return "", err
	}
	m.logger.Info("Wrote runtime config to %s", m.path)
	return m.path, nil
}

// WriteLocalConfig atomically writes doc as YAML to path.
func WriteLocalConfig(path string, doc *LocalConfig) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode local config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write local config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to install local config: %w", err)
	}
	return nil
}

// LoadLocalConfig reads a file written by WriteLocalConfig.
func LoadLocalConfig(path string) (*LocalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local config: %w", err)
	}
	var doc LocalConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse local config: %w", err)
	}
	return &doc, nil
}
