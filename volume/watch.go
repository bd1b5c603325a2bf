package volume

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events (a study being copied
// in produces one event per slice) into a single reload signal.
const watchDebounce = 250 * time.Millisecond

// Watcher observes a slice directory and signals on Reload when its image
// files change, so a viewer can re-assemble the volume without restarting.
type Watcher struct {
	dir    string
	fs     *fsnotify.Watcher
	reload chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// NewWatcher starts watching dir for image file changes.
func NewWatcher(dir string) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("volume: watcher: %w", err)
	}
	if err := fs.Add(dir); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("volume: watch %q: %w", dir, err)
	}

	w := &Watcher{
		dir:    dir,
		fs:     fs,
		reload: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.loop()
	logger().Info("watching slice directory", "dir", dir)
	return w, nil
}

// Reload delivers one signal per debounced burst of slice changes. The
// channel has a one-slot buffer; signals are dropped while one is pending.
func (w *Watcher) Reload() <-chan struct{} {
	return w.reload
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) loop() {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isImageFile(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger().Debug("slice change", "file", ev.Name, "op", ev.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			timerC = timer.C

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger().Warn("slice watcher error", "err", err)

		case <-timerC:
			timer, timerC = nil, nil
			select {
			case w.reload <- struct{}{}:
			default:
			}
		}
	}
}
