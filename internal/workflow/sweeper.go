package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically runs the lazy period/overdue transition so that
// chores become OVERDUE and re-enter PENDING without any user action.
type Sweeper struct {
	mu       sync.RWMutex
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper over the manager. A zero interval defaults to
// one minute.
func NewSweeper(m *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{manager: m, interval: interval, logger: logger}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.manager.RefreshDueStatuses(); n > 0 {
					s.logger.Debug("due status sweep", "changed", n)
				}
			}
		}
	}()
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
