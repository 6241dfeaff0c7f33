package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/meshmcp/meshmcp/pkg/logger"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

// Watcher reloads the configuration file on every filesystem write and
// hot-swaps the registry's snapshot, implementing spec.md §4.5's "config
// changes apply without restart" requirement.
type Watcher struct {
	path      string
	loader    *YAMLLoader
	validator *Validator
	reg       *registry.Registry
	precheck  registry.Prechecker
	fsw       *fsnotify.Watcher
}

// NewWatcher constructs a Watcher for path, reloading into reg whenever the
// file changes. precheck is passed straight through to Registry.Swap and
// may be nil.
func NewWatcher(path string, reg *registry.Registry, precheck registry.Prechecker) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		path:      path,
		loader:    NewYAMLLoader(path),
		validator: NewValidator(),
		reg:       reg,
		precheck:  precheck,
		fsw:       fsw,
	}, nil
}

// Run blocks, reloading and swapping on every write/create/rename event
// until ctx is canceled. Reload errors are logged and do not stop the
// watch loop — the registry keeps running on its last-known-good snapshot.
func (w *Watcher) Run(ctx context.Context) {
	defer func() { _ = w.fsw.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload(ctx)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnw("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.loader.Load()
	if err != nil {
		logger.Warnw("config reload failed, keeping current configuration", "path", w.path, "error", err)
		return
	}
	if err := w.validator.Validate(cfg); err != nil {
		logger.Warnw("config reload rejected: invalid configuration, keeping current configuration",
			"path", w.path, "error", err)
		return
	}
	if err := w.reg.Swap(ctx, cfg.ToDescriptors(), w.precheck); err != nil {
		logger.Warnw("registry swap rejected, keeping current configuration", "path", w.path, "error", err)
		return
	}
	logger.Infow("configuration reloaded", "path", w.path, "backends", len(cfg.Backends))
}
