package preflight

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"botpilot/pkg/logx"
)

// RuntimeEvent reports a change in runtime availability.
type RuntimeEvent struct {
	Error     error
	Path      string
	Installed bool
}

// RuntimeWatcher monitors the runtime install directory so the launch gate is
// re-evaluated when the runtime is installed or removed while the app is open.
type RuntimeWatcher struct {
	watcher   *fsnotify.Watcher
	events    chan RuntimeEvent
	logger    *logx.Logger
	command   string
	dir       string
	debounce  time.Duration
	mu        sync.RWMutex
	installed bool
}

// NewRuntimeWatcher creates a watcher for command inside dir.
func NewRuntimeWatcher(command, dir string) (*RuntimeWatcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("runtime directory is required for watching")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	_, resolveErr := ResolveRuntime(command, dir)

	return &RuntimeWatcher{
		watcher:   fsWatcher,
		events:    make(chan RuntimeEvent, 10),
		logger:    logx.NewLogger("runtime-watcher"),
		command:   command,
		dir:       dir,
		debounce:  200 * time.Millisecond,
		installed: resolveErr == nil,
	}, nil
}

// Events returns the channel that receives availability changes.
func (w *RuntimeWatcher) Events() <-chan RuntimeEvent {
	return w.events
}

// Installed returns the last observed availability.
func (w *RuntimeWatcher) Installed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.installed
}

// Start begins watching the runtime directory.
func (w *RuntimeWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", w.dir, err)
	}
	go w.run(ctx)
	return nil
}

// Stop closes the underlying watcher. The events channel is closed by run.
func (w *RuntimeWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *RuntimeWatcher) run(ctx context.Context) {
	defer close(w.events)

	target := filepath.Base(w.command)
	pending := false
	var lastEvent time.Time
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			pending = true
			lastEvent = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.emit(ctx, RuntimeEvent{Error: err})

		case <-ticker.C:
			if pending && time.Since(lastEvent) >= w.debounce {
				pending = false
				w.recheck(ctx)
			}
		}
	}
}

func (w *RuntimeWatcher) recheck(ctx context.Context) {
	path, err := ResolveRuntime(w.command, w.dir)
	installed := err == nil

	w.mu.Lock()
	changed := installed != w.installed
	w.installed = installed
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.Info("Automation runtime availability changed: installed=%v", installed)
	w.emit(ctx, RuntimeEvent{Installed: installed, Path: path})
}

func (w *RuntimeWatcher) emit(ctx context.Context, ev RuntimeEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}
