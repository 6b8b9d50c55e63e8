package watch

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchNative starts a native fsnotify watch over root (recursing into
// subdirectories present at startup and any created afterward) and
// returns a channel that receives a value whenever the tree changes.
// The channel is buffered to 1 and never blocks a send — callers should
// treat it purely as a "something changed, re-scan" nudge, not an
// event log. If root does not exist yet, WatchNative still succeeds and
// simply never fires (the Supervisor's poll interval remains the
// fallback, satisfying the "polling fallback for network filesystems"
// requirement without a second code path).
func WatchNative(root string, logger *slog.Logger) (<-chan struct{}, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d == nil || !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})

	kick := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = w.Add(ev.Name)
					}
				}
				select {
				case kick <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("native watcher error", "root", root, "error", err)
			case <-done:
				w.Close()
				return
			}
		}
	}()

	stop := func() { close(done) }
	return kick, stop, nil
}
