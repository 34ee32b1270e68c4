// Package tailf follows a single growing file and yields the lines appended
// to it, like "tail -f".
//
// A Tail is driven by change events from a watch.Watcher. Each Modified event
// triggers one delta read from the byte cursor; the bytes go through a Framer
// that reassembles lines split across reads. Deleting the file ends the
// sequence after flushing any partial trailing line.
package tailf

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/seedtray/tailf/watch"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultFS = afero.NewOsFs()

type state int

const (
	stateIdle state = iota
	stateReading
	stateEmitting
	stateClosed
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateReading:
		return "reading"
	case stateEmitting:
		return "emitting"
	case stateClosed:
		return "closed"
	case stateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Option configures a Tail.
type Option func(*Tail)

// WithFs sets the filesystem the file is read from. Unless WithWatcher is also
// given, a non-OS filesystem is watched by polling it.
func WithFs(fs afero.Fs) Option {
	return func(t *Tail) {
		if fs != nil {
			t.fs = fs
		}
	}
}

// WithWatcher sets the change watcher. The default is watch.NewNotify.
func WithWatcher(w watch.Watcher) Option {
	return func(t *Tail) { t.watcher = w }
}

// WithLogger sets the sink for diagnostic events.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tail) {
		if l != nil {
			t.log = l
		}
	}
}

// Tail follows one file. Create it with New and consume it with Lines.
type Tail struct {
	path    string
	fs      afero.Fs
	watcher watch.Watcher
	log     *zap.Logger

	sub    *watch.Subscription
	framer *Framer
	cursor atomic.Int64
	state  state
	ranged atomic.Bool
}

// New installs a watch on path and positions the cursor at the current end of
// the file. It fails with an error matching ErrWatchInit if the watch cannot
// be installed, for instance because path does not exist.
func New(path string, opts ...Option) (*Tail, error) {
	t := &Tail{
		path: path,
		fs:   defaultFS,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.watcher == nil {
		t.watcher = t.defaultWatcher()
	}
	t.log = t.log.With(zap.String("path", path))

	sub, err := t.watcher.Subscribe(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("tailf: %w", err)
	}
	// Sampled after the watch is in place: anything appended from here on
	// produces an event.
	size, err := fileSize(t.fs, path)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("tailf: %w: stat %q: %w", ErrWatchInit, path, err)
	}
	t.sub = sub
	t.cursor.Store(size)
	t.framer = NewFramer(size)
	t.log.Debug("tail started", zap.Int64("offset", size))
	return t, nil
}

func (t *Tail) defaultWatcher() watch.Watcher {
	opts := []watch.Option{watch.WithLogger(t.log)}
	if _, ok := t.fs.(*afero.OsFs); !ok {
		return watch.NewPoll(append(opts, watch.WithFs(t.fs))...)
	}
	return watch.NewNotify(opts...)
}

// Path returns the tailed path.
func (t *Tail) Path() string {
	return t.path
}

// Offset returns the file offset up to which bytes have been read.
func (t *Tail) Offset() int64 {
	return t.cursor.Load()
}

// Close releases the watch. A Lines loop in progress ends without error.
func (t *Tail) Close() error {
	return t.sub.Close()
}

// Lines returns the sequence of lines appended to the file after New.
//
// The sequence ends when the file is deleted (after yielding the buffered
// partial line, if any), when ctx is cancelled, when the loop body stops
// iterating, or after yielding a terminal error. Errors are always the last
// item: a fatal read error (ErrReadFatal), invalid UTF-8 (ErrDecode) or a
// watch failure (ErrWatch). The watch is released when the sequence ends.
//
// Lines may be ranged once; later calls yield ErrConsumed.
func (t *Tail) Lines(ctx context.Context) iter.Seq2[Line, error] {
	return func(yield func(Line, error) bool) {
		if !t.ranged.CompareAndSwap(false, true) {
			yield(Line{}, ErrConsumed)
			return
		}
		defer t.Close()

		events := t.sub.Events()
		for {
			t.transition(stateIdle)
			var (
				ev watch.Event
				ok bool
			)
			select {
			case <-ctx.Done():
				t.log.Debug("tail cancelled", zap.Error(ctx.Err()))
				return
			case ev, ok = <-events:
			}
			if !ok {
				return
			}

			switch ev.Op {
			case watch.Modified:
				lines, err := t.read()
				for _, line := range lines {
					if !yield(line, nil) {
						return
					}
				}
				if err != nil {
					t.fail(err)
					yield(Line{}, err)
					return
				}

			case watch.Deleted:
				t.transition(stateClosed)
				line, ok, err := t.framer.Flush()
				if err != nil {
					t.fail(err)
					yield(Line{}, err)
					return
				}
				if ok {
					yield(line, nil)
				}
				return

			case watch.Error:
				err := fmt.Errorf("tailf: %w", ev.Err)
				t.fail(err)
				yield(Line{}, err)
				return
			}
		}
	}
}

// read performs one delta read and frames the bytes. A file missing at read
// time is not an error: the delete event, if any, follows.
func (t *Tail) read() ([]Line, error) {
	t.transition(stateReading)
	from := t.cursor.Load()
	data, next, err := readDelta(t.fs, t.path, from)
	if errors.Is(err, ErrReadTransient) {
		t.log.Debug("file missing at read time", zap.Int64("offset", from))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tailf: %w", err)
	}
	t.cursor.Store(next)

	t.transition(stateEmitting)
	lines, err := t.framer.Push(data)
	if ce := t.log.Check(zapcore.DebugLevel, "delta read"); ce != nil {
		ce.Write(
			zap.Int64("from", from),
			zap.Int("bytes", len(data)),
			zap.Int("lines", len(lines)),
			zap.Int("buffered", t.framer.Buffered()),
		)
	}
	return lines, err
}

func (t *Tail) fail(err error) {
	t.transition(stateFailed)
	t.log.Debug("tail failed", zap.Error(err))
}

func (t *Tail) transition(to state) {
	if t.state == to {
		return
	}
	if ce := t.log.Check(zapcore.DebugLevel, "transition"); ce != nil {
		ce.Write(zap.Stringer("from", t.state), zap.Stringer("to", to))
	}
	t.state = to
}

// Follow tails path and calls fn for each line until the file is deleted or
// ctx is cancelled. It returns the terminal tail error, or the first error
// returned by fn.
func Follow(ctx context.Context, path string, fn func(Line) error, opts ...Option) error {
	t, err := New(path, opts...)
	if err != nil {
		return err
	}
	for line, err := range t.Lines(ctx) {
		if err != nil {
			return err
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return nil
}
