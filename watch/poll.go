package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
)

// PollWatcher detects changes by comparing successive stats of the path.
// It works on filesystems without change notification (network mounts,
// afero.MemMapFs) at the cost of up to one interval of latency.
type PollWatcher struct {
	opts options
}

// NewPoll returns a stat polling Watcher.
func NewPoll(opts ...Option) *PollWatcher {
	return &PollWatcher{opts: newOptions(opts)}
}

type snapshot struct {
	info    os.FileInfo
	size    int64
	modTime time.Time
}

func snapshotOf(fi os.FileInfo) snapshot {
	return snapshot{info: fi, size: fi.Size(), modTime: fi.ModTime()}
}

// replacedBy reports whether cur describes a different file than s, i.e. the
// path was removed and created again between two stats. Without file identity
// (afero.MemMapFs, for one) a shrinking file is taken as replaced.
func (s snapshot) replacedBy(cur snapshot) bool {
	if os.SameFile(s.info, s.info) {
		return !os.SameFile(s.info, cur.info)
	}
	return cur.size < s.size
}

func (s snapshot) same(o snapshot) bool {
	return s.size == o.size && s.modTime.Equal(o.modTime)
}

// Subscribe implements Watcher.
func (w *PollWatcher) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	fi, err := w.opts.fs.Stat(path)
	if err != nil {
		return nil, initError(path, err)
	}
	log := w.opts.logger.With(zap.String("path", path), zap.Stringer("backend", Poll))
	ticker := w.opts.clock.Ticker(w.opts.interval)
	log.Debug("watch installed", zap.Duration("interval", w.opts.interval))

	last := snapshotOf(fi)
	return start(ctx, w.opts.buffer, func(ctx context.Context, send sendFunc) {
		defer func() {
			ticker.Stop()
			log.Debug("watch released")
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			fi, err := w.opts.fs.Stat(path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				send(Event{Op: Deleted})
				return
			case err != nil:
				log.Debug("stat failed", zap.Error(err))
				send(watchError(err))
				return
			}
			cur := snapshotOf(fi)
			if last.replacedBy(cur) {
				log.Debug("path names a new file")
				send(Event{Op: Deleted})
				return
			}
			if cur.same(last) {
				continue
			}
			last = cur
			if !send(Event{Op: Modified}) {
				return
			}
		}
	}), nil
}
