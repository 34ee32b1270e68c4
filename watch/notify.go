package watch

import (
	"context"
	"errors"
	"io/fs"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// NotifyWatcher watches a path with the platform notification API
// (inotify, kqueue, ReadDirectoryChangesW) through fsnotify.
type NotifyWatcher struct {
	opts options
}

// NewNotify returns an fsnotify backed Watcher.
func NewNotify(opts ...Option) *NotifyWatcher {
	return &NotifyWatcher{opts: newOptions(opts)}
}

// Subscribe implements Watcher.
func (w *NotifyWatcher) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	nw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, initError(path, err)
	}
	if err := nw.Add(path); err != nil {
		nw.Close()
		return nil, initError(path, err)
	}
	log := w.opts.logger.With(zap.String("path", path), zap.Stringer("backend", Notify))
	log.Debug("watch installed")

	return start(ctx, w.opts.buffer, func(ctx context.Context, send sendFunc) {
		defer func() {
			if err := nw.Close(); err != nil {
				log.Warn("release watch", zap.Error(err))
				return
			}
			log.Debug("watch released")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case fe, ok := <-nw.Events:
				if !ok {
					send(watchError(ErrClosed))
					return
				}
				ev, ok := normalize(fe)
				// Removing a file that is still open elsewhere only
				// drops its link count, which arrives as Chmod.
				if !ok && fe.Has(fsnotify.Chmod) && w.unlinked(path) {
					ev, ok = Event{Op: Deleted}, true
				}
				if !ok {
					log.Debug("ignored event", zap.Stringer("op", fe.Op))
					continue
				}
				if !send(ev) || ev.terminal() {
					return
				}
			case err, ok := <-nw.Errors:
				if !ok {
					err = ErrClosed
				}
				log.Debug("watch error", zap.Error(err))
				send(watchError(err))
				return
			}
		}
	}), nil
}

// unlinked reports whether path no longer exists.
func (w *NotifyWatcher) unlinked(path string) bool {
	_, err := w.opts.fs.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}

// normalize maps an fsnotify event onto the closed event set. Events that
// carry no append or removal information are dropped.
func normalize(fe fsnotify.Event) (Event, bool) {
	switch {
	case fe.Has(fsnotify.Remove), fe.Has(fsnotify.Rename):
		return Event{Op: Deleted}, true
	case fe.Has(fsnotify.Write):
		return Event{Op: Modified}, true
	}
	return Event{}, false
}
