package conditions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"meridian/internal/logging"
)

// Monitor keeps a live snapshot of the conditions flag file, reloading
// on filesystem events. Missing files are tolerated; the zero snapshot
// evaluates as unsafe.
type Monitor struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current Snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor builds a monitor for the conditions file. Start begins
// watching.
func NewMonitor(path string, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		path:   path,
		logger: logger.With(logging.String(logging.FieldComponent, "conditions")),
	}
}

// Start loads the current snapshot and begins watching for updates.
// The file's parent directory is watched so atomic rename updates are
// seen.
func (m *Monitor) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	m.watcher = watcher
	m.reload()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx)
	return nil
}

// Close stops the watcher.
func (m *Monitor) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	_ = m.watcher.Close()
}

// Current returns the latest loaded snapshot. The zero snapshot means no
// reading has ever been seen.
func (m *Monitor) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				m.reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("conditions watcher error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "conditions_watch_error"))
		}
	}
}

func (m *Monitor) reload() {
	snapshot, err := ReadFile(m.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to read conditions file",
				logging.Error(err),
				logging.String("path", m.path),
				logging.String(logging.FieldEventType, "conditions_read_error"),
				logging.String(logging.FieldErrorHint, "Check the environment monitor is writing valid JSON"))
		}
		return
	}
	m.mu.Lock()
	changed := snapshot != m.current
	m.current = snapshot
	m.mu.Unlock()
	if changed {
		m.logger.Info("conditions updated",
			logging.Bool("safe", snapshot.Safe),
			logging.String("reason", snapshot.Reason),
			logging.String(logging.FieldEventType, "conditions_update"))
	}
}
