// Package watch turns platform file-change notifications into a small closed
// set of events for a single path.
//
// Two interchangeable backends implement the Watcher capability: Notify, built
// on fsnotify, and Poll, which stats the path on a ticker. Both run one worker
// goroutine per Subscription that owns the native handle and hands events to
// the consumer over a bounded channel.
package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultBuffer is the capacity of the channel between a watcher worker and
// its consumer.
const DefaultBuffer = 64

// DefaultPollInterval is how often the Poll backend stats the path.
const DefaultPollInterval = 250 * time.Millisecond

var (
	// ErrInit is matched by every error returned from Subscribe when the
	// watch could not be installed.
	ErrInit = errors.New("watch: cannot install watch")

	// ErrWatch is matched by the error carried on an Error event.
	ErrWatch = errors.New("watch: watch failed")

	// ErrClosed is reported when the native event source closes before the
	// path was deleted.
	ErrClosed = errors.New("watch: event source closed")
)

// Op is the kind of a change event.
type Op int

const (
	// Modified means at least one byte may have been appended.
	Modified Op = iota + 1
	// Deleted means the path no longer names the watched file.
	Deleted
	// Error means the watch subsystem failed; Event.Err holds the reason.
	Error
)

func (op Op) String() string {
	switch op {
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Error:
		return "error"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Event is a normalized change notification.
type Event struct {
	Op  Op
	Err error
}

func (e Event) String() string {
	if e.Op == Error && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op.String()
}

// terminal reports whether no event can follow e.
func (e Event) terminal() bool {
	return e.Op == Deleted || e.Op == Error
}

// Watcher installs a watch on one path and streams its change events.
type Watcher interface {
	// Subscribe installs the watch before returning. Errors match ErrInit.
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Subscription is a live watch on one path.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events returns the event sequence. The channel is closed after a Deleted
// event, after the single Error event, or once the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once the worker has exited and released the native watch.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the worker and waits for it to release the native watch. It is
// safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}

// sendFunc delivers one event, blocking while the channel is full. It returns
// false once the subscription is cancelled.
type sendFunc func(Event) bool

// start runs loop on its own goroutine. loop owns the native handle and must
// release it before returning; start closes the channel afterwards.
func start(ctx context.Context, buffer int, loop func(ctx context.Context, send sendFunc)) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		events: make(chan Event, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	send := func(ev Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		defer cancel()
		loop(ctx, send)
	}()
	return s
}

func initError(path string, err error) error {
	return fmt.Errorf("%w: %q: %w", ErrInit, path, err)
}

func watchError(err error) Event {
	return Event{Op: Error, Err: fmt.Errorf("%w: %w", ErrWatch, err)}
}

// Backend selects a Watcher implementation.
type Backend int

const (
	Notify Backend = iota
	Poll
)

func (b Backend) String() string {
	switch b {
	case Notify:
		return "notify"
	case Poll:
		return "poll"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend maps a configuration value to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "notify", "inotify", "fsnotify":
		return Notify, nil
	case "poll", "polling":
		return Poll, nil
	}
	return 0, fmt.Errorf("watch: unknown backend %q (want notify or poll)", s)
}

type options struct {
	logger   *zap.Logger
	buffer   int
	fs       afero.Fs
	clock    clock.Clock
	interval time.Duration
}

// Option configures a Watcher.
type Option func(*options)

// WithLogger sets the sink for diagnostic events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBuffer sets the hand-off channel capacity.
func WithBuffer(n int) Option {
	return func(o *options) { o.buffer = n }
}

// WithFs sets the filesystem the Poll backend stats. Ignored by Notify.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		if fs != nil {
			o.fs = fs
		}
	}
}

// WithClock sets the clock driving the Poll backend's ticker.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithInterval sets the Poll backend's stat interval.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

func newOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		buffer:   DefaultBuffer,
		fs:       afero.NewOsFs(),
		clock:    clock.New(),
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer <= 0 {
		o.buffer = DefaultBuffer
	}
	if o.interval <= 0 {
		o.interval = DefaultPollInterval
	}
	return o
}

// New returns the Watcher for backend b.
func New(b Backend, opts ...Option) (Watcher, error) {
	switch b {
	case Notify:
		return NewNotify(opts...), nil
	case Poll:
		return NewPoll(opts...), nil
	}
	return nil, fmt.Errorf("watch: unknown backend %v", b)
}
