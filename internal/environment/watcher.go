package environment

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"stagehand/pkg/logging"
)

const (
	watcherSubsystem = "ScenarioWatcher"

	DefaultDebounce = 500 * time.Millisecond
)

// ReloadFunc receives the complete set of scenarios after a change.
type ReloadFunc func(scenarios []Scenario)

// Watcher reloads scenario files when they change on disk. Bursts of events
// are debounced into one reload. A reload that fails to load or validate is
// logged and the previous scenarios stay in effect.
type Watcher struct {
	paths    []string
	debounce time.Duration
	kinds    KindChecker
	onReload ReloadFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches paths, which are files or directories as accepted by
// LoadAll. kinds may be nil to skip the service kind check.
func NewWatcher(paths []string, kinds KindChecker, debounce time.Duration, onReload ReloadFunc) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{paths: paths, debounce: debounce, kinds: kinds, onReload: onReload}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, p := range w.paths {
		if err := w.add(watcher, p); err != nil {
			return err
		}
	}
	logging.Info(watcherSubsystem, "Watching %v for scenario changes", w.paths)

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Error(watcherSubsystem, err, "Filesystem watcher error")
		}
	}
}

// add watches a single file through its directory, and a directory with all
// of its subdirectories.
func (w *Watcher) add(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && d.Name() == DefinitionsDir {
			return filepath.SkipDir
		}
		logging.Debug(watcherSubsystem, "Watching directory: %s", p)
		return watcher.Add(p)
	})
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	newDir := false
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Base(event.Name) == DefinitionsDir {
				return
			}
			if err := w.add(watcher, event.Name); err != nil {
				logging.Warn(watcherSubsystem, "Failed to watch %s: %v", event.Name, err)
			}
			// Files may have landed before the watch was added.
			newDir = true
		}
	}
	if !newDir && (!isYAMLFile(event.Name) || event.Op == fsnotify.Chmod) {
		return
	}

	logging.Debug(watcherSubsystem, "Change detected: %s %s", event.Op, event.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	scenarios, err := LoadAll(w.paths...)
	if err != nil {
		logging.Error(watcherSubsystem, err, "Reload failed, keeping previous scenarios")
		return
	}
	for _, s := range scenarios {
		if err := s.Validate(w.kinds); err != nil {
			logging.Error(watcherSubsystem, err, "Reload failed, keeping previous scenarios")
			return
		}
	}
	logging.Info(watcherSubsystem, "Reloaded %d scenario(s)", len(scenarios))
	w.onReload(scenarios)
}
