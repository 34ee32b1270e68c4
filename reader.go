package tailf

import (
	"errors"
	"io"
	"io/fs"

	"github.com/spf13/afero"
)

// readDelta returns the bytes appended to name since offset, and the offset
// following them. The new offset is derived from what was actually read, never
// from a separately sampled file size, so a file that shrank or vanished
// between the stat and the read cannot move the cursor backwards or past data.
func readDelta(fsys afero.Fs, name string, offset int64) ([]byte, int64, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, offset, &ReadError{
			Path:      name,
			Offset:    offset,
			Err:       err,
			transient: errors.Is(err, fs.ErrNotExist),
		}
	}
	defer f.Close()

	// A file shorter than the cursor was truncated; there is nothing after
	// the cursor to read. The size only gates the read, it never sets the
	// cursor.
	if fi, err := f.Stat(); err == nil && fi.Size() <= offset {
		return nil, offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, &ReadError{Path: name, Offset: offset, Err: err}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, offset, &ReadError{Path: name, Offset: offset, Err: err}
	}
	return data, offset + int64(len(data)), nil
}

// fileSize returns the current size of name, or 0 when it does not exist.
func fileSize(fsys afero.Fs, name string) (int64, error) {
	fi, err := fsys.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
