// Package srswatch watches the SRS and ffmpeg binary paths (the
// srs_bin_path and ffmpeg_path settings) for changes, so that an operator
// repointing the symlink one of them resolves to (the deployment workflow documented in original_source's
// Docker entrypoint scripts) is picked up without a process restart.
//
// Modeled on the teacher's config-file watcher pattern: a debounced
// fsnotify loop that calls back into the owner rather than mutating state
// itself.
package srswatch

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrecords121/ephyr/internal/logging"
)

const componentName = "srswatch"

var log = logging.ForComponent(componentName)

const debounce = 500 * time.Millisecond

// OnChange is called, debounced, whenever a watched path is (re)created or
// written to — in particular when a symlink is atomically repointed via
// rename, which fsnotify reports as Create on the link's parent directory.
type OnChange func(path string)

// Watcher watches a fixed set of paths for changes until its context is
// canceled.
type Watcher struct {
	fsw   *fsnotify.Watcher
	paths []string
	onChg OnChange
}

// New creates a Watcher for paths, invoking onChg after debounce whenever
// any of them changes. Paths that do not exist yet are skipped; callers
// that need to watch a not-yet-created path should call New again once it
// exists.
func New(paths []string, onChg OnChange) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, paths: paths, onChg: onChg}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			log.Warn("skipping unwatchable path", "path", p, "err", err)
			continue
		}
	}
	return w, nil
}

// Run drives the debounced watch loop until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	var timer *time.Timer
	var mu sync.Mutex
	pending := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			mu.Lock()
			pending[ev.Name] = true
			mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				mu.Lock()
				fired := pending
				pending = map[string]bool{}
				mu.Unlock()
				for p := range fired {
					w.onChg(p)
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "err", err)
		}
	}
}
