package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skylinesignage/fleetd/internal/errors"
)

// ReloadCallback receives the freshly reloaded config. It must not block.
type ReloadCallback func(*Config) error

// Watcher reloads the config file with Load after a debounced change and
// passes the whole new Config to every registered callback. It applies no
// setting itself; which settings take effect is up to the callbacks.
type Watcher struct {
	path      string
	fsw       *fsnotify.Watcher
	callbacks []ReloadCallback
	mu        sync.Mutex
	debounce  time.Duration
	timer     *time.Timer
}

func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating fsnotify watcher")
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watching config file %s", path)
	}
	return &Watcher{path: path, fsw: fsw, debounce: 300 * time.Millisecond}, nil
}

func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Run blocks, dispatching debounced reloads until the watcher is closed.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		_ = cb(cfg)
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
