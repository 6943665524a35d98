package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"sitegate/pkg/logging"
)

// DefaultDebounceInterval is the time to wait after the last file change
// before triggering a reload. Editors often write config files in several
// quick operations.
const DefaultDebounceInterval = 500 * time.Millisecond

// Watcher monitors the config file and invokes a callback with the freshly
// loaded configuration whenever it changes.
type Watcher struct {
	mu sync.Mutex

	path     string
	onChange func(Config)

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file. onChange receives
// the reloaded config; it is only called when the file parses and validates.
func NewWatcher(path string, onChange func(Config)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
	}
}

// Start begins watching for config changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode would go stale.
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return err
	}

	w.fsWatcher = fsWatcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.watchLoop()

	logging.Info("ConfigWatcher", "Watching %s for changes", w.path)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	close(w.stopCh)
	w.fsWatcher.Close()
	w.running = false
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("ConfigWatcher", "Watch error: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces rapid successive file events into one reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(DefaultDebounceInterval, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		logging.Warn("ConfigWatcher", "Ignoring config change: %v", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Warn("ConfigWatcher", "Ignoring invalid config change: %v", err)
		return
	}

	logging.Info("ConfigWatcher", "Configuration reloaded from %s", w.path)
	w.onChange(cfg)
}
