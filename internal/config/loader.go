package config

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Loader owns a Config plus the file path it was loaded from, and
// optionally hot-reloads the Config when that file changes on disk.
// Grounded on the teacher's internal/mdloader.Watcher: a single fsnotify
// watcher on one file, re-parsing and swapping the value atomically so
// concurrent readers never observe a half-written Config.
type Loader struct {
	path    string
	current atomic.Pointer[Config]

	mu        sync.Mutex
	callbacks []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *slog.Logger
}

// NewLoader loads path once (or Default() if path is empty) and returns
// a Loader ready to serve Get() calls.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	l := &Loader{path: path, done: make(chan struct{}), logger: logger.With("component", "config.Loader")}
	l.current.Store(cfg)
	return l, nil
}

// Get returns the current Config. Safe for concurrent use with Reload
// and the fsnotify watch loop.
func (l *Loader) Get() *Config {
	return l.current.Load()
}

// Reload re-reads the config file and atomically swaps the current
// value. A parse failure leaves the previous Config in place.
func (l *Loader) Reload() error {
	cfg, err := Load(l.path)
	if err != nil {
		l.logger.Error("config reload failed, keeping previous config", "error", err)
		return err
	}
	l.current.Store(cfg)
	l.mu.Lock()
	cbs := make([]func(*Config), len(l.callbacks))
	copy(cbs, l.callbacks)
	l.mu.Unlock()
	for _, fn := range cbs {
		fn(cfg)
	}
	l.logger.Info("config reloaded", "path", l.path)
	return nil
}

// OnReload registers a callback invoked after every successful Reload.
func (l *Loader) OnReload(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, fn)
}

// Watch starts an fsnotify watcher on the loader's config file, calling
// Reload on every write. No-op if the loader was built without a path.
func (l *Loader) Watch() error {
	if l.path == "" {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(l.path); err != nil {
		_ = fsw.Close()
		return err
	}
	l.watcher = fsw

	go func() {
		for {
			select {
			case <-l.done:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					_ = l.Reload()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				l.logger.Error("config watch error", "error", err)
			}
		}
	}()
	return nil
}

// Stop shuts down the fsnotify watcher, if one was started.
func (l *Loader) Stop() error {
	close(l.done)
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}
