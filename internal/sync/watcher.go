package sync

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/semsync/semsync/internal/project"
)

// Watcher monitors a project's tree and requests an early pass from the
// scheduler when files change. Passes re-scan the whole tree, so the watcher
// only needs to signal that something changed, not what.
type Watcher struct {
	proj      *project.Project
	scheduler *Scheduler
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	logger    *zap.Logger
	done      chan struct{}
}

// DefaultDebounce is the quiet window collapsing bursts of events into one
// triggered pass.
const DefaultDebounce = 2 * time.Second

// NewWatcher creates a watcher for the project's root tree. Excluded
// directories are never added to the watch set.
func NewWatcher(proj *project.Project, scheduler *Scheduler, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		proj:      proj,
		scheduler: scheduler,
		fsWatcher: fsWatcher,
		debounce:  debounce,
		logger:    logger.With(zap.String("project", proj.ID)),
		done:      make(chan struct{}),
	}, nil
}

// Start registers the watch set and begins processing events until ctx is
// canceled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.proj.Root); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop closes the underlying watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()
	<-w.done
	return err
}

// addTree adds every non-excluded directory under root to the watch set.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtrees are simply not watched
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.proj.Rules.Excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.ignore(event) {
				continue
			}
			// New directories join the watch set so nested changes are seen.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-fire:
			timer = nil
			fire = nil
			if err := w.scheduler.TriggerNow(w.proj.ID); err != nil {
				w.logger.Warn("trigger pass", zap.Error(err))
			}
		}
	}
}

// ignore filters events from excluded directories and chmod-only noise.
func (w *Watcher) ignore(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}
	relPath, err := filepath.Rel(w.proj.Root, event.Name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if w.proj.Rules.Excluded(part) {
			return true
		}
	}
	return false
}
