// pkg/config/watch.go

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/warden/pkg/fault"
	cerr "github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// DefaultDebounce waits out editors that write a file in several steps.
const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc receives every reload attempt. cfg is nil when err is set.
type ReloadFunc func(cfg *Config, err error)

// Watcher reloads a Loader when its config file changes.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	file     string
	onReload ReloadFunc
	debounce time.Duration
}

// NewWatcher watches the loader's config file. The parent directory is
// watched so files replaced by rename are still seen.
func NewWatcher(ld *Loader, onReload ReloadFunc) (*Watcher, error) {
	file := ld.File()
	if file == "" {
		return nil, cerr.New("no config file to watch")
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, cerr.Wrapf(err, "resolve %s", file)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cerr.Wrap(err, "create file watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, cerr.Wrapf(err, "watch %s", filepath.Dir(abs))
	}
	return &Watcher{
		loader:   ld,
		watcher:  fw,
		file:     abs,
		onReload: onReload,
		debounce: DefaultDebounce,
	}, nil
}

// Run delivers reloads until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	log := otelzap.Ctx(ctx)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				// A panicking callback is reported like any other worker.
				_ = fault.Go("config-reload", func() { w.reload(log) }).Wait()
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(log otelzap.LoggerWithCtx) {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn("Config reload failed", zap.String("file", w.file), zap.Error(err))
	} else {
		log.Debug("Config reloaded", zap.String("file", w.file))
	}
	w.onReload(cfg, err)
}
