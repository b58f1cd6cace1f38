package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// runtimeProbeTimeout bounds the version probe of the runtime binary.
const runtimeProbeTimeout = 5 * time.Second

// RuntimeInfo describes the automation runtime found on this machine.
type RuntimeInfo struct {
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Installed bool   `json:"installed"`
}

// ResolveRuntime locates the runtime executable. Relative names containing no
// path separator are resolved in dir first, then through PATH.
func ResolveRuntime(command, dir string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("runtime command is not configured")
	}

	if filepath.IsAbs(command) || strings.ContainsRune(command, filepath.Separator) {
		if isExecutable(command) {
			return command, nil
		}
		return "", fmt.Errorf("runtime %s is not an executable file", command)
	}

	if dir != "" {
		candidate := filepath.Join(dir, command)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("runtime %s not found: %w", command, err)
	}
	return path, nil
}

// ProbeRuntime checks whether the runtime is installed and, if it answers
// --version, records the reported version.
func ProbeRuntime(ctx context.Context, command, dir string) RuntimeInfo {
	path, err := ResolveRuntime(command, dir)
	if err != nil {
		return RuntimeInfo{}
	}

	info := RuntimeInfo{Path: path, Installed: true}

	probeCtx, cancel := context.WithTimeout(ctx, runtimeProbeTimeout)
	defer cancel()
	output, err := exec.CommandContext(probeCtx, path, "--version").Output()
	if err == nil {
		info.Version = strings.TrimSpace(string(output))
	}
	return info
}

func isExecutable(path string) bool {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return false
	}
	return st.Mode()&0o111 != 0
}
