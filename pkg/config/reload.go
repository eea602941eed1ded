package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/matrixgen/pkg/logger"
	"github.com/poltergeist/matrixgen/pkg/types"
)

// ReloadManager reloads a pipeline when it or one of its matrix files changes
type ReloadManager struct {
	configPath     string
	loader         *Loader
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	watched        map[string]time.Time
	watchedDirs    map[string]bool
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isWatching     bool
}

// ReloadCallback is called when configuration changes
type ReloadCallback func(*types.PipelineConfig, error)

// ReloadEventType represents the type of reload event
type ReloadEventType string

const (
	ReloadEventTypeModified ReloadEventType = "modified"
	ReloadEventTypeCreated  ReloadEventType = "created"
	ReloadEventTypeRemoved  ReloadEventType = "removed"
	ReloadEventTypeError    ReloadEventType = "error"
)

// NewReloadManager creates a new configuration reload manager
func NewReloadManager(configPath string, loader *Loader, log logger.Logger) *ReloadManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &ReloadManager{
		configPath:     filepath.Clean(configPath),
		loader:         loader,
		logger:         log,
		watched:        make(map[string]time.Time),
		watchedDirs:    make(map[string]bool),
		debouncePeriod: 300 * time.Millisecond,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// AddCallback adds a reload callback
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// StartWatching begins watching the pipeline and its matrix files
func (rm *ReloadManager) StartWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isWatching {
		return fmt.Errorf("already watching configuration file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	rm.watcher = watcher

	files := []string{rm.configPath}
	if cfg, err := rm.loader.Load(rm.configPath); err == nil {
		files = SourceFiles(cfg)
	}
	if err := rm.trackLocked(files); err != nil {
		rm.watcher.Close()
		return err
	}

	rm.isWatching = true
	go rm.watchLoop()

	rm.logger.Debug("Started watching configuration",
		logger.WithField("path", rm.configPath),
		logger.WithField("files", len(rm.watched)))

	return nil
}

// StopWatching stops watching the configuration file
func (rm *ReloadManager) StopWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isWatching {
		return nil
	}

	rm.cancel()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
		rm.debounceTimer = nil
	}

	if rm.watcher != nil {
		if err := rm.watcher.Close(); err != nil {
			rm.logger.Warn("Error closing file watcher", logger.WithField("error", err))
		}
		rm.watcher = nil
	}

	rm.isWatching = false

	rm.logger.Debug("Stopped watching configuration")
	return nil
}

// IsWatching returns whether the manager is currently watching
func (rm *ReloadManager) IsWatching() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.isWatching
}

// WatchedFiles returns the files currently tracked
func (rm *ReloadManager) WatchedFiles() []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	files := make([]string, 0, len(rm.watched))
	for f := range rm.watched {
		files = append(files, f)
	}
	return files
}

// TriggerReload manually triggers a configuration reload
func (rm *ReloadManager) TriggerReload() {
	rm.logger.Debug("Manually triggering configuration reload")
	rm.reload(ReloadEventTypeModified, true)
}

// SetDebouncePeriod sets the debounce period for file change events
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debouncePeriod = period
}

// trackLocked watches the directories holding files. Directories rather
// than files are watched so editors that replace files are still seen.
func (rm *ReloadManager) trackLocked(files []string) error {
	tracked := make(map[string]time.Time, len(files))
	for _, f := range files {
		f = filepath.Clean(f)
		var modTime time.Time
		if stat, err := os.Stat(f); err == nil {
			modTime = stat.ModTime()
		}
		if prev, ok := rm.watched[f]; ok && prev.After(modTime) {
			modTime = prev
		}
		tracked[f] = modTime

		dir := filepath.Dir(f)
		if rm.watchedDirs[dir] {
			continue
		}
		if err := rm.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		rm.watchedDirs[dir] = true
	}
	rm.watched = tracked
	return nil
}

func (rm *ReloadManager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("Configuration watcher panic recovered",
				logger.WithField("panic", r))
		}
	}()

	rm.mu.RLock()
	watcher := rm.watcher
	rm.mu.RUnlock()

	for {
		select {
		case <-rm.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !rm.isWatchedFile(event.Name) {
				continue
			}

			rm.logger.Debug("Configuration file event received",
				logger.WithField("event", event.String()))

			rm.debounceReload(mapFsnotifyEvent(event.Op))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}

			rm.logger.Error("Configuration file watcher error",
				logger.WithField("error", err))
			rm.notifyCallbacks(nil, err)
		}
	}
}

func (rm *ReloadManager) isWatchedFile(path string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.watched[filepath.Clean(path)]
	return ok
}

func mapFsnotifyEvent(op fsnotify.Op) ReloadEventType {
	switch {
	case op&fsnotify.Write == fsnotify.Write:
		return ReloadEventTypeModified
	case op&fsnotify.Create == fsnotify.Create:
		return ReloadEventTypeCreated
	case op&fsnotify.Remove == fsnotify.Remove, op&fsnotify.Rename == fsnotify.Rename:
		return ReloadEventTypeRemoved
	default:
		return ReloadEventTypeModified
	}
}

func (rm *ReloadManager) debounceReload(eventType ReloadEventType) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
	}

	rm.debounceTimer = time.AfterFunc(rm.debouncePeriod, func() {
		rm.reload(eventType, false)
	})
}

// changed reports whether any tracked file has a newer mtime, or vanished
func (rm *ReloadManager) changed() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	for f, last := range rm.watched {
		stat, err := os.Stat(f)
		if err != nil || stat.ModTime().After(last) {
			return true
		}
	}
	return false
}

func (rm *ReloadManager) reload(eventType ReloadEventType, force bool) {
	rm.logger.Debug("Processing configuration change",
		logger.WithField("eventType", eventType))

	if !force && !rm.changed() {
		rm.logger.Debug("Configuration not modified, skipping reload")
		return
	}

	cfg, err := rm.loader.Load(rm.configPath)

	rm.mu.Lock()
	files := []string{rm.configPath}
	if cfg != nil {
		files = SourceFiles(cfg)
	} else {
		for f := range rm.watched {
			files = append(files, f)
		}
	}
	// Forget recorded mtimes so the next reload compares against disk.
	for f := range rm.watched {
		rm.watched[f] = time.Time{}
	}
	if rm.watcher != nil {
		if trackErr := rm.trackLocked(files); trackErr != nil && err == nil {
			err = trackErr
		}
	}
	rm.mu.Unlock()

	if err != nil {
		rm.logger.Error("Failed to reload configuration",
			logger.WithField("error", err))
		rm.notifyCallbacks(nil, err)
		return
	}

	rm.logger.Info("Configuration reloaded",
		logger.WithField("matrices", len(cfg.Matrices)))
	rm.notifyCallbacks(cfg, nil)
}

func (rm *ReloadManager) notifyCallbacks(cfg *types.PipelineConfig, err error) {
	rm.mu.RLock()
	callbacks := make([]ReloadCallback, len(rm.callbacks))
	copy(callbacks, rm.callbacks)
	rm.mu.RUnlock()

	for _, callback := range callbacks {
		func(cb ReloadCallback) {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("Reload callback panic recovered",
						logger.WithField("panic", r))
				}
			}()
			cb(cfg, err)
		}(callback)
	}
}
