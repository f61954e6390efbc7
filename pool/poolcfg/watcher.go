package poolcfg

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces bursts of filesystem events (editors often write
// a file more than once per save) into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads Config from disk on change and invokes onReload with the
// freshly validated Config. A reload that fails validation is logged and
// discarded — the previously running Config stays in effect.
type Watcher struct {
	path     string
	onReload func(*Config)
	log      *slog.Logger

	fsw   *fsnotify.Watcher
	timer *time.Timer
	done  chan struct{}
}

// NewWatcher starts watching path for changes. onReload is called from the
// debounce timer's goroutine after each successful reload.
func NewWatcher(path string, onReload func(*Config), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		log:      log,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.log.Info("config reloaded", "path", w.path)
	w.onReload(cfg)
}

// Stop stops watching. Safe to call once.
func (w *Watcher) Stop() error {
	close(w.done)
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fsw.Close()
}
