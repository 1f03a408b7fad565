package daemon

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/loraci/internal/config"
	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/logfields"
)

// reloadOps are the fsnotify operations that may leave new config content
// behind. Editors that save by rename produce Create or Rename, not Write.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// ConfigWatcher reloads the daemon when its config file changes. Bursts of
// events within debounceTime collapse into one reload, and saves that leave
// the content unchanged are ignored.
type ConfigWatcher struct {
	path         string
	apply        func(ctx context.Context, cfg *config.Config) error
	fsw          *fsnotify.Watcher
	debounceTime time.Duration

	sum      [sha256.Size]byte
	done     chan struct{}
	stopOnce sync.Once
}

// NewConfigWatcher creates a watcher that hands every successfully loaded
// config to apply.
func NewConfigWatcher(configPath string, apply func(ctx context.Context, cfg *config.Config) error) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, derrors.ConfigInvalid("config path", err.Error())
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, derrors.InternalError("create config watcher", err)
	}
	cw := &ConfigWatcher{
		path:         abs,
		apply:        apply,
		fsw:          fsw,
		debounceTime: 2 * time.Second,
		done:         make(chan struct{}),
	}
	cw.sum, _ = cw.checksum()
	return cw, nil
}

// Start watches the directory holding the config file until ctx ends or
// Stop is called.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.path)
	if err := cw.fsw.Add(dir); err != nil {
		return derrors.InternalError("watch config directory", err).WithContext("path", dir)
	}
	slog.Info("Watching configuration", logfields.Path(cw.path))
	go cw.run(ctx)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.done)
		if err := cw.fsw.Close(); err != nil {
			slog.Warn("Closing config watcher failed", logfields.Error(err))
		}
	})
}

func (cw *ConfigWatcher) run(ctx context.Context) {
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	name := filepath.Base(cw.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.done:
			return
		case ev, ok := <-cw.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op.Has(fsnotify.Remove) {
				slog.Warn("Config file removed; keeping current configuration", logfields.Path(ev.Name))
				continue
			}
			if ev.Op&reloadOps != 0 {
				debounce.Reset(cw.debounceTime)
			}
		case err, ok := <-cw.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", logfields.Error(err))
		case <-debounce.C:
			cw.reload(ctx)
		}
	}
}

func (cw *ConfigWatcher) reload(ctx context.Context) {
	sum, err := cw.checksum()
	if err != nil {
		slog.Warn("Config file unreadable; keeping current configuration", logfields.Path(cw.path), logfields.Error(err))
		return
	}
	if sum == cw.sum {
		slog.Debug("Config content unchanged", logfields.Path(cw.path))
		return
	}

	cfg, err := config.Load(cw.path)
	if err != nil {
		slog.Error("Rejected new configuration", logfields.Path(cw.path), logfields.Error(err))
		return
	}
	if err := cw.apply(ctx, cfg); err != nil {
		slog.Error("Applying new configuration failed", logfields.Error(err))
		return
	}
	cw.sum = sum
	slog.Info("Configuration reloaded", logfields.Path(cw.path))
}

func (cw *ConfigWatcher) checksum() ([sha256.Size]byte, error) {
	data, err := os.ReadFile(cw.path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}
