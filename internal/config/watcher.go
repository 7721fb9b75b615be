package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces editor write bursts into a single reload.
const watchDebounce = 250 * time.Millisecond

// Watcher reloads the project config when .quarry.yaml changes and notifies
// a callback with the freshly validated configuration. Invalid edits are
// logged and skipped so a typo cannot take down a running engine.
type Watcher struct {
	dir      string
	onChange func(*Config)
	fw       *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// NewWatcher watches dir for project config changes. onChange runs on the
// watcher goroutine; keep it fast.
func NewWatcher(dir string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save
	// and a file watch would be lost after the first rename.
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{dir: dir, onChange: onChange, fw: fw}, nil
}

// Run processes events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !w.isConfigEvent(ev) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, w.reload)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) isConfigEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	return name == ".quarry.yaml" || name == ".quarry.yml"
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	cfg, err := Load(w.dir)
	if err != nil {
		slog.Warn("config reload skipped", "error", err)
		return
	}

	slog.Info("config reloaded",
		"fusion_policy", cfg.Retrieval.FusionPolicy,
		"default_alpha", cfg.Retrieval.DefaultAlpha)
	w.onChange(cfg)
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fw.Close()
}
