// Package persist is the single choke point for durable writes of workflow
// state. Accepted snapshots are coalesced behind a trailing-edge debounce
// (tier 1): a burst of mutations produces one flush after a quiet period.
package persist

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/choreflow/internal/debounce"
	"github.com/hearthward/choreflow/internal/model"
)

// WriteFunc durably stores a snapshot. Implemented by store.ChoreStore.
type WriteFunc func(model.Snapshot) error

// Coordinator coalesces snapshot writes. Only the newest queued snapshot is
// flushed; intermediate snapshots from the same burst are superseded. A
// failed flush keeps the snapshot queued and is retried on the next trigger
// or ForceFlush, never dropped.
type Coordinator struct {
	mu      sync.Mutex
	pending *model.Snapshot
	write   WriteFunc
	timer   *debounce.Timer
	logger  *slog.Logger
}

// New creates a Coordinator flushing after window of quiet.
func New(write WriteFunc, window time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{write: write, logger: logger}
	c.timer = debounce.New(window, c.flush)
	return c
}

// QueueWrite accepts a snapshot for durable storage and reschedules the
// flush timer. It never blocks on I/O; callers may publish events for the
// mutation as soon as it returns.
func (c *Coordinator) QueueWrite(s model.Snapshot) error {
	c.mu.Lock()
	c.pending = &s
	c.mu.Unlock()
	c.timer.Trigger()
	return nil
}

// ForceFlush writes any queued snapshot immediately. Used on shutdown and
// drain paths; returns the flush error so operators see persistence failures.
func (c *Coordinator) ForceFlush() error {
	c.timer.Stop() // no further timer fires; we flush inline from here on

	c.mu.Lock()
	snap := c.pending
	c.mu.Unlock()
	if snap == nil {
		return nil
	}

	if err := c.write(*snap); err != nil {
		return fmt.Errorf("force flush: %w", err)
	}

	c.mu.Lock()
	// Only clear if no newer snapshot was queued while writing.
	if c.pending == snap {
		c.pending = nil
	}
	c.mu.Unlock()
	return nil
}

// Dirty reports whether a snapshot is still waiting to be written.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	snap := c.pending
	c.mu.Unlock()
	if snap == nil {
		return
	}

	if err := c.write(*snap); err != nil {
		// Keep the snapshot queued; the next mutation or ForceFlush retries.
		c.logger.Error("snapshot flush failed, will retry", "error", err)
		return
	}

	c.mu.Lock()
	if c.pending == snap {
		c.pending = nil
	}
	c.mu.Unlock()
	c.logger.Debug("snapshot flushed",
		"chores", len(snap.Chores), "assignments", len(snap.Assignments))
}
