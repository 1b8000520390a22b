package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadHandler receives the freshly loaded configuration after a file change.
type ReloadHandler func(cfg *Config)

// Watcher watches the config file and re-runs Load on modification. Only the
// handlers decide which fields are safe to apply at runtime; the watcher itself
// never mutates live components.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	handlers []ReloadHandler
	stopCh   chan struct{}
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory, not the file: editors and configmap mounts replace
	// files atomically, which drops a file-level watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}
	return &Watcher{
		path:    path,
		watcher: fw,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// OnReload registers a handler invoked after every successful reload.
func (w *Watcher) OnReload(h ReloadHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins the watch loop.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load()
			if err != nil {
				w.logger.Warn("Config reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("Config reloaded",
				zap.String("file", w.path),
				zap.Float64("similarity_threshold", cfg.Curator.SimilarityThreshold),
			)
			w.mu.Lock()
			handlers := append([]ReloadHandler(nil), w.handlers...)
			w.mu.Unlock()
			for _, h := range handlers {
				h(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
