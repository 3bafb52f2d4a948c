package rules

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the rule store when its file changes. A document that fails
// validation is logged and ignored; the previous RuleSet stays active.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	holder    *Holder
	path      string
	debounce  time.Duration
	logger    *slog.Logger
	reloaded  chan *RuleSet
	done      chan struct{}
}

func NewWatcher(holder *Holder, path string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fsWatcher: fsw,
		holder:    holder,
		path:      filepath.Clean(path),
		debounce:  debounce,
		logger:    logger.With("component", "rules.watcher"),
		reloaded:  make(chan *RuleSet, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start watches the directory holding the rule file. The returned channel
// receives each successfully swapped RuleSet.
func (w *Watcher) Start() (<-chan *RuleSet, error) {
	dir := filepath.Dir(w.path)
	if err := w.fsWatcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}
	go w.loop()
	return w.reloaded, nil
}

func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rule watcher error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	rs, err := w.holder.Reload(w.path)
	if err != nil {
		w.logger.Error("rule store reload rejected, keeping previous rules", "path", w.path, "error", err)
		return
	}
	w.logger.Info("rule store reloaded", "path", w.path, "version", rs.Version(), "checksum", rs.Checksum(), "rules", rs.Len())
	select {
	case w.reloaded <- rs:
	default:
	}
}
