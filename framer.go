package tailf

import (
	"bytes"
	"unicode/utf8"
)

// Line is one complete line read from the tailed file.
type Line struct {
	// Text is the line without its "\n" (or "\r\n") terminator.
	Text string
	// Offset is the file offset of the line's first byte.
	Offset int64
}

// maxRetained is the buffer capacity kept after compaction when the
// remainder needs much less.
const maxRetained = 64 << 10

// Framer reassembles a byte stream, delivered in arbitrary chunks, into
// newline-delimited lines.
//
// Between calls the buffer only ever holds the bytes of the trailing,
// incomplete line. Each byte is scanned for a delimiter once: a push resumes
// the scan where the previous one stopped instead of rescanning the partial
// line from its start.
type Framer struct {
	buf []byte
	// scanned is the length of buf already known to contain no '\n'.
	scanned int
	// offset of buf[0] in the stream.
	offset int64
}

// NewFramer returns a Framer whose first pushed byte sits at file offset base.
func NewFramer(base int64) *Framer {
	return &Framer{offset: base}
}

// Buffered returns the number of bytes held for the incomplete line.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Push appends p and returns the lines it completed, in order. If a completed
// line is not valid UTF-8, Push returns the lines before it together with a
// *DecodeError; the offending line is consumed.
func (f *Framer) Push(p []byte) ([]Line, error) {
	f.buf = append(f.buf, p...)

	var (
		lines []Line
		start int
		err   error
	)
	for {
		i := bytes.IndexByte(f.buf[f.scanned:], '\n')
		if i < 0 {
			f.scanned = len(f.buf)
			break
		}
		end := f.scanned + i
		f.scanned = end + 1
		line, derr := f.cut(start, end)
		start = end + 1
		if derr != nil {
			err = derr
			break
		}
		lines = append(lines, line)
	}
	f.consume(start)
	return lines, err
}

// Flush returns the buffered remainder as a final line and resets the Framer.
// ok is false when nothing was buffered.
func (f *Framer) Flush() (line Line, ok bool, err error) {
	if len(f.buf) == 0 {
		return Line{}, false, nil
	}
	line, err = f.cut(0, len(f.buf))
	f.consume(len(f.buf))
	f.scanned = 0
	if err != nil {
		return Line{}, false, err
	}
	return line, true, nil
}

// cut builds the line buf[start:end], dropping a trailing '\r'.
func (f *Framer) cut(start, end int) (Line, error) {
	off := f.offset + int64(start)
	raw := f.buf[start:end]
	if n := len(raw); n > 0 && raw[n-1] == '\r' {
		raw = raw[:n-1]
	}
	if !utf8.Valid(raw) {
		return Line{}, &DecodeError{Offset: off, Bytes: bytes.Clone(raw)}
	}
	return Line{Text: string(raw), Offset: off}, nil
}

// consume discards buf[:n], keeping the remainder at the front of buf.
func (f *Framer) consume(n int) {
	if n == 0 {
		return
	}
	rest := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:rest]
	if cap(f.buf) > maxRetained && cap(f.buf) > 4*rest {
		f.buf = append(make([]byte, 0, 2*rest), f.buf...)
	}
	f.scanned -= n
	f.offset += int64(n)
}
