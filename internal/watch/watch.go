// Package watch guards the invariant that a live Supervisor always has a
// workspace directory backing it. It has no direct teacher equivalent —
// the teacher and the original Python source both assume the workspace
// stays put for the process lifetime — but every other dependency in the
// domain stack is wired to a concrete component, so this package gives
// fsnotify a genuine home: watching each session's workspaceDir from the
// outside and forcing cleanup if it disappears out from under a running
// language server (external rm -rf, disk eviction, a buggy client tool).
package watch

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Berri-bot/mastermind-smart-suggestions/internal/logger"
)

// Watchdog watches one directory for removal or rename and invokes
// onGone exactly once when it disappears.
type Watchdog struct {
	watcher  *fsnotify.Watcher
	dir      string
	onGone   func()
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New starts watching dir. onGone is invoked from the watchdog's own
// goroutine; it must not block.
func New(dir string, onGone func()) (*Watchdog, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch: adding %s: %w", dir, err)
	}

	w := &Watchdog{watcher: watcher, dir: dir, onGone: onGone, stopCh: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watchdog) loop() {
	defer w.watcher.Close()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.dir {
				continue
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Warn(fmt.Sprintf("watch: workspace %s disappeared (%s)", w.dir, ev.Op))
				w.onGone()
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn(fmt.Sprintf("watch: watcher error for %s: %v", w.dir, err))
		case <-w.stopCh:
			return
		}
	}
}

// Stop tears down the watch without invoking onGone. Idempotent.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
