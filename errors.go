package tailf

import (
	"errors"
	"fmt"

	"github.com/seedtray/tailf/watch"
)

var (
	// ErrWatchInit is matched by New when the watch cannot be installed.
	ErrWatchInit = watch.ErrInit

	// ErrWatch is matched by the terminal error of a failed watch.
	ErrWatch = watch.ErrWatch

	// ErrReadTransient is matched by a read that found the file missing.
	// The pipeline absorbs it and waits for the next event.
	ErrReadTransient = errors.New("file missing at read time")

	// ErrReadFatal is matched by read failures unrelated to deletion.
	ErrReadFatal = errors.New("read failed")

	// ErrDecode is matched by a completed line that is not valid UTF-8.
	ErrDecode = errors.New("invalid utf-8 in line")

	// ErrConsumed is yielded when Lines is ranged more than once.
	ErrConsumed = errors.New("tailf: lines already consumed")
)

// ReadError describes a failed delta read.
type ReadError struct {
	Path   string
	Offset int64
	Err    error

	transient bool
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("could not read %q from offset %d: %s", e.Path, e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Is matches ErrReadTransient or ErrReadFatal depending on the cause.
func (e *ReadError) Is(target error) bool {
	switch target {
	case ErrReadTransient:
		return e.transient
	case ErrReadFatal:
		return !e.transient
	}
	return false
}

// DecodeError reports a line that is not valid UTF-8.
type DecodeError struct {
	// Offset of the line's first byte in the file.
	Offset int64
	// Bytes of the line, without the delimiter.
	Bytes []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s at offset %d (%d bytes)", ErrDecode, e.Offset, len(e.Bytes))
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
