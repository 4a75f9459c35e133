package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/edgevision/aibox/internal/obslog"
)

// RuleWatcher watches a rule-set file on disk and pushes the raw bytes to a
// reload callback whenever it changes, so BehaviorAnalyzer.SetRules can be
// called without restarting a pipeline (spec: "Rule set is hot-replaceable").
type RuleWatcher struct {
	path   string
	reload func([]byte)
	log    *obslog.Logger
}

// NewRuleWatcher returns a watcher for path that invokes reload on change.
func NewRuleWatcher(path string, reload func([]byte)) *RuleWatcher {
	return &RuleWatcher{path: path, reload: reload, log: obslog.New("config:rulewatcher")}
}

// Start begins watching until ctx is cancelled. fsnotify does the
// signalling; only when the fsnotify watcher cannot be created or cannot
// watch path does a slow poll loop run instead of it.
func (w *RuleWatcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := err != nil
	if err == nil {
		if err := watcher.Add(w.path); err != nil {
			w.log.Warnf("watch %s failed (%v), falling back to polling", w.path, err)
			usePolling = true
			watcher.Close()
		}
	}

	if data, err := os.ReadFile(w.path); err == nil {
		w.reload(data)
	}

	if !usePolling {
		go w.watchLoop(ctx, watcher)
	} else {
		go w.pollLoop(ctx)
	}
}

func (w *RuleWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				time.Sleep(50 * time.Millisecond) // debounce partial writes
				w.reloadFromDisk()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watch error: %v", err)
		}
	}
}

func (w *RuleWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				w.reloadFromDisk()
			}
		}
	}
}

func (w *RuleWatcher) reloadFromDisk() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Errorf("reload read failed: %v", err)
		return
	}
	w.reload(data)
}
