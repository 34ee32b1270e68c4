package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	. "github.com/onsi/gomega"
)

func TestNotifyMissingPath(t *testing.T) {
	g := NewGomegaWithT(t)

	sub, err := NewNotify().Subscribe(context.Background(), filepath.Join(t.TempDir(), "missing"))
	g.Expect(sub).To(BeNil())
	g.Expect(errors.Is(err, ErrInit)).To(BeTrue())
}

func TestNotifyModifiedThenDeleted(t *testing.T) {
	g := NewGomegaWithT(t)
	name := filepath.Join(t.TempDir(), "app.log")
	g.Expect(os.WriteFile(name, nil, 0644)).To(Succeed())

	sub, err := NewNotify().Subscribe(context.Background(), name)
	g.Expect(err).ToNot(HaveOccurred())
	defer sub.Close()

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0644)
	g.Expect(err).ToNot(HaveOccurred())
	_, err = f.WriteString("line\n")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(f.Close()).To(Succeed())

	g.Eventually(sub.Events(), time.Second).Should(Receive(Equal(Event{Op: Modified})))

	g.Expect(os.Remove(name)).To(Succeed())

	// Drain any trailing Modified events queued before the removal.
	var last Event
	g.Eventually(func() Op {
		select {
		case ev, ok := <-sub.Events():
			if ok {
				last = ev
			}
		default:
		}
		return last.Op
	}, time.Second).Should(Equal(Deleted))
	g.Eventually(sub.Done(), time.Second).Should(BeClosed())
}

func TestNotifyDeletedWhileOpen(t *testing.T) {
	g := NewGomegaWithT(t)
	name := filepath.Join(t.TempDir(), "app.log")
	g.Expect(os.WriteFile(name, nil, 0644)).To(Succeed())

	sub, err := NewNotify().Subscribe(context.Background(), name)
	g.Expect(err).ToNot(HaveOccurred())
	defer sub.Close()

	// A writer keeps its descriptor across the unlink, as a daemon would.
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND, 0644)
	g.Expect(err).ToNot(HaveOccurred())
	defer f.Close()
	_, err = f.WriteString("line\n")
	g.Expect(err).ToNot(HaveOccurred())

	g.Expect(os.Remove(name)).To(Succeed())

	var last Event
	g.Eventually(func() Op {
		select {
		case ev, ok := <-sub.Events():
			if ok {
				last = ev
			}
		default:
		}
		return last.Op
	}, time.Second).Should(Equal(Deleted))
	g.Eventually(sub.Done(), time.Second).Should(BeClosed())
}

func TestNotifyChmodOnExistingFile(t *testing.T) {
	g := NewGomegaWithT(t)
	name := filepath.Join(t.TempDir(), "app.log")
	g.Expect(os.WriteFile(name, nil, 0644)).To(Succeed())

	sub, err := NewNotify().Subscribe(context.Background(), name)
	g.Expect(err).ToNot(HaveOccurred())
	defer sub.Close()

	g.Expect(os.Chmod(name, 0600)).To(Succeed())
	g.Consistently(sub.Events(), 100*time.Millisecond).ShouldNot(Receive())
}

func TestNotifyClose(t *testing.T) {
	g := NewGomegaWithT(t)
	name := filepath.Join(t.TempDir(), "app.log")
	g.Expect(os.WriteFile(name, nil, 0644)).To(Succeed())

	sub, err := NewNotify().Subscribe(context.Background(), name)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(sub.Close()).To(Succeed())
	g.Expect(sub.Events()).To(BeClosed())
}

func TestNormalize(t *testing.T) {
	g := NewGomegaWithT(t)

	for op, want := range map[fsnotify.Op]Op{
		fsnotify.Write:                   Modified,
		fsnotify.Remove:                  Deleted,
		fsnotify.Rename:                  Deleted,
		fsnotify.Write | fsnotify.Remove: Deleted,
	} {
		ev, ok := normalize(fsnotify.Event{Name: "x", Op: op})
		g.Expect(ok).To(BeTrue(), op.String())
		g.Expect(ev.Op).To(Equal(want), op.String())
	}

	for _, op := range []fsnotify.Op{fsnotify.Chmod, fsnotify.Create} {
		_, ok := normalize(fsnotify.Event{Name: "x", Op: op})
		g.Expect(ok).To(BeFalse(), op.String())
	}
}
