package persist

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hearthward/choreflow/internal/model"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes []model.Snapshot
	fail   bool
}

func (w *recordingWriter) write(s model.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("disk full")
	}
	w.writes = append(w.writes, s)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *recordingWriter) setFail(v bool) {
	w.mu.Lock()
	w.fail = v
	w.mu.Unlock()
}

func snapshotOfSize(n int) model.Snapshot {
	chores := make([]model.Chore, n)
	return model.Snapshot{Chores: chores}
}

func TestBurstFlushesOnce(t *testing.T) {
	w := &recordingWriter{}
	c := New(w.write, 20*time.Millisecond, nil)

	for i := 1; i <= 10; i++ {
		if err := c.QueueWrite(snapshotOfSize(i)); err != nil {
			t.Fatalf("queue write: %v", err)
		}
	}

	time.Sleep(80 * time.Millisecond)

	if got := w.count(); got != 1 {
		t.Fatalf("flushed %d times for a 10-write burst, want 1", got)
	}
	// The flush must carry the newest snapshot, not the first.
	w.mu.Lock()
	size := len(w.writes[0].Chores)
	w.mu.Unlock()
	if size != 10 {
		t.Errorf("flushed snapshot has %d chores, want 10 (newest)", size)
	}
}

func TestForceFlushWritesImmediately(t *testing.T) {
	w := &recordingWriter{}
	c := New(w.write, time.Hour, nil)

	c.QueueWrite(snapshotOfSize(3))
	if err := c.ForceFlush(); err != nil {
		t.Fatalf("force flush: %v", err)
	}
	if got := w.count(); got != 1 {
		t.Errorf("force flush wrote %d snapshots, want 1", got)
	}
	if c.Dirty() {
		t.Error("coordinator still dirty after force flush")
	}
}

func TestForceFlushNothingPending(t *testing.T) {
	w := &recordingWriter{}
	c := New(w.write, time.Hour, nil)

	if err := c.ForceFlush(); err != nil {
		t.Fatalf("force flush with nothing pending: %v", err)
	}
	if got := w.count(); got != 0 {
		t.Errorf("wrote %d snapshots, want 0", got)
	}
}

func TestFailedFlushRetriesOnNextTrigger(t *testing.T) {
	w := &recordingWriter{}
	c := New(w.write, 15*time.Millisecond, nil)

	w.setFail(true)
	c.QueueWrite(snapshotOfSize(1))
	time.Sleep(60 * time.Millisecond)

	if got := w.count(); got != 0 {
		t.Fatalf("write succeeded while failing, count %d", got)
	}
	if !c.Dirty() {
		t.Fatal("failed flush dropped the snapshot")
	}

	w.setFail(false)
	c.QueueWrite(snapshotOfSize(2))
	time.Sleep(60 * time.Millisecond)

	if got := w.count(); got != 1 {
		t.Fatalf("retry flushed %d times, want 1", got)
	}
	if c.Dirty() {
		t.Error("coordinator dirty after successful retry")
	}
}

func TestFailedFlushRetriedByForceFlush(t *testing.T) {
	w := &recordingWriter{}
	c := New(w.write, 15*time.Millisecond, nil)

	w.setFail(true)
	c.QueueWrite(snapshotOfSize(1))
	time.Sleep(60 * time.Millisecond)

	w.setFail(false)
	if err := c.ForceFlush(); err != nil {
		t.Fatalf("force flush retry: %v", err)
	}
	if got := w.count(); got != 1 {
		t.Errorf("force flush retry wrote %d snapshots, want 1", got)
	}
}
