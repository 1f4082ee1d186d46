// Package topicwatch provides an optional fsnotify-based watch on a topic
// root directory, so a host application can learn when a whole topic
// directory disappeared out-of-band (crash-recovery tooling cleaning up
// /run/mpa/, an operator running rm -rf, another process's reaper) rather
// than through the registry's own Close path.
package topicwatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mpago/mpago/internal/observability"
)

// RemovedFunc is invoked whenever a topic directory directly under the
// watched root is removed or renamed away.
type RemovedFunc func(name string)

// Watcher watches a topic root directory for out-of-band removal of the
// per-topic subdirectories it contains.
type Watcher struct {
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	onRemoved RemovedFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// WatchRoot starts watching root for topic-directory removal. Callers must
// call Close to stop the watch and release the inotify handle.
func WatchRoot(ctx context.Context, root string, log *slog.Logger, onRemoved RemovedFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(root); err != nil {
		fw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		log:       observability.WithComponent(log, "topicwatch"),
		watcher:   fw,
		onRemoved: onRemoved,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go w.loop(watchCtx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.Debug("topic directory removed out-of-band", slog.String("path", event.Name))

			w.mu.Lock()
			cb := w.onRemoved
			w.mu.Unlock()
			if cb != nil {
				cb(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("topic root watch error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watch and blocks until its goroutine has exited.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done
	return nil
}
