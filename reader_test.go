package tailf

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/spf13/afero"
)

// flakyFs injects failures into Open and Stat.
type flakyFs struct {
	afero.Fs

	mu       sync.Mutex
	openErrs []error
	statErr  error
}

func (f *flakyFs) failOpen(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs = append(f.openErrs, errs...)
}

func (f *flakyFs) pendingOpenErrs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.openErrs)
}

func (f *flakyFs) failStat(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statErr = err
}

func (f *flakyFs) Open(name string) (afero.File, error) {
	f.mu.Lock()
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		f.mu.Unlock()
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	f.mu.Unlock()
	return f.Fs.Open(name)
}

func (f *flakyFs) Stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	err := f.statErr
	f.mu.Unlock()
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return f.Fs.Stat(name)
}

func TestReadDelta(t *testing.T) {
	g := NewGomegaWithT(t)
	memfs := afero.NewMemMapFs()
	afero.WriteFile(memfs, "/log", []byte("first\nsecond\n"), 0644)

	data, next, err := readDelta(memfs, "/log", 6)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(data)).To(Equal("second\n"))
	g.Expect(next).To(Equal(int64(13)))

	data, next, err = readDelta(memfs, "/log", next)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(data).To(BeEmpty())
	g.Expect(next).To(Equal(int64(13)))
}

func TestReadDeltaTruncated(t *testing.T) {
	g := NewGomegaWithT(t)
	memfs := afero.NewMemMapFs()
	afero.WriteFile(memfs, "/log", []byte("ab"), 0644)

	// A cursor past the end reads nothing and never moves backwards.
	data, next, err := readDelta(memfs, "/log", 100)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(data).To(BeEmpty())
	g.Expect(next).To(Equal(int64(100)))
}

func TestReadDeltaMissingIsTransient(t *testing.T) {
	g := NewGomegaWithT(t)

	_, next, err := readDelta(afero.NewMemMapFs(), "/gone", 42)
	g.Expect(next).To(Equal(int64(42)))
	g.Expect(errors.Is(err, ErrReadTransient)).To(BeTrue())
	g.Expect(errors.Is(err, ErrReadFatal)).To(BeFalse())
	g.Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())

	var rerr *ReadError
	g.Expect(errors.As(err, &rerr)).To(BeTrue())
	g.Expect(rerr.Path).To(Equal("/gone"))
	g.Expect(rerr.Offset).To(Equal(int64(42)))
}

func TestReadDeltaPermissionIsFatal(t *testing.T) {
	g := NewGomegaWithT(t)
	flaky := &flakyFs{Fs: afero.NewMemMapFs()}
	afero.WriteFile(flaky, "/log", []byte("x"), 0644)
	flaky.failOpen(fs.ErrPermission)

	_, _, err := readDelta(flaky, "/log", 0)
	g.Expect(errors.Is(err, ErrReadFatal)).To(BeTrue())
	g.Expect(errors.Is(err, ErrReadTransient)).To(BeFalse())
	g.Expect(err).To(MatchError(ContainSubstring(`could not read "/log" from offset 0`)))
}

func TestFileSize(t *testing.T) {
	g := NewGomegaWithT(t)
	memfs := afero.NewMemMapFs()
	afero.WriteFile(memfs, "/log", []byte("12345"), 0644)

	g.Expect(fileSize(memfs, "/log")).To(Equal(int64(5)))
	g.Expect(fileSize(memfs, "/missing")).To(Equal(int64(0)))
}
