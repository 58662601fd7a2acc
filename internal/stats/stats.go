// Package stats maintains derived statistics over the workflow state.
//
// Two tiers: persisted daily tallies (approvals and disapprovals per member
// per UTC day) are incremented synchronously per event and never recomputed;
// the ephemeral snapshot (open/overdue/pending counts) is rebuilt from
// scratch behind a trailing-edge debounce, so a burst of workflow events
// costs one recompute.
package stats

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hearthward/choreflow/internal/clock"
	"github.com/hearthward/choreflow/internal/debounce"
	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/model"
	"github.com/hearthward/choreflow/internal/workflow"
)

// WorkflowReader is the read-only slice of the workflow manager the stats
// manager recomputes from.
type WorkflowReader interface {
	Chores() []workflow.ChoreView
	Overdue() []workflow.OverdueItem
	PendingClaims() []workflow.PendingClaim
}

// TallyRecorder persists the per-day counters.
type TallyRecorder interface {
	Increment(memberID int64, day, kind string) error
	Get(memberID int64, day, kind string) (int, error)
}

// MemberStats is the per-member slice of a snapshot.
type MemberStats struct {
	MemberID       int64 `json:"member_id"`
	Assigned       int   `json:"assigned"`
	Overdue        int   `json:"overdue"`
	PendingClaims  int   `json:"pending_claims"`
	ApprovedToday  int   `json:"approved_today"`
	CompletedCount int   `json:"completed_count"`
}

// Snapshot is the ephemeral, fully recomputed statistics view.
type Snapshot struct {
	TotalChores        int           `json:"total_chores"`
	TotalOverdue       int           `json:"total_overdue"`
	TotalPendingClaims int           `json:"total_pending_claims"`
	Members            []MemberStats `json:"members"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// Manager subscribes to workflow events, keeps the tallies current, and
// refreshes the snapshot behind its own debounce window.
type Manager struct {
	mu       sync.RWMutex
	source   WorkflowReader
	tallies  TallyRecorder
	bus      *event.Bus
	clk      clock.Clock
	timer    *debounce.Timer
	logger   *slog.Logger
	snapshot Snapshot
}

// New wires a stats manager onto the bus. window is the tier-2 debounce
// window; a zero window defaults to two seconds.
func New(source WorkflowReader, tallies TallyRecorder, bus *event.Bus, clk clock.Clock, window time.Duration, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		source:  source,
		tallies: tallies,
		bus:     bus,
		clk:     clk,
		logger:  logger,
	}
	m.timer = debounce.New(window, m.refresh)

	for _, t := range []event.Type{
		event.ChoreClaimed, event.ChoreApproved, event.ChoreDisapproved,
		event.ChoreOverdue, event.ChoreCreated, event.ChoreDeleted,
		event.DueDateChanged,
	} {
		bus.Subscribe(t, m.onEvent)
	}
	return m
}

// onEvent runs on the publisher's stack: tally increments are the only
// synchronous work, everything else is deferred behind the debounce.
func (m *Manager) onEvent(e event.Event) {
	switch e.Type {
	case event.ChoreApproved:
		m.record(e.AssigneeID, model.TallyKindApproved)
	case event.ChoreDisapproved:
		m.record(e.AssigneeID, model.TallyKindDisapproved)
	}
	m.timer.Trigger()
}

func (m *Manager) record(memberID int64, kind string) {
	day := m.clk.Now().UTC().Format("2006-01-02")
	if err := m.tallies.Increment(memberID, day, kind); err != nil {
		m.logger.Error("increment tally", "member_id", memberID, "kind", kind, "error", err)
	}
}

// refresh rebuilds the snapshot from the workflow state and publishes
// StatsRefreshed.
func (m *Manager) refresh() {
	now := m.clk.Now().UTC()
	today := now.Format("2006-01-02")

	chores := m.source.Chores()
	overdue := m.source.Overdue()
	pending := m.source.PendingClaims()

	perMember := make(map[int64]*MemberStats)
	member := func(id int64) *MemberStats {
		ms, ok := perMember[id]
		if !ok {
			ms = &MemberStats{MemberID: id}
			perMember[id] = ms
		}
		return ms
	}

	for _, v := range chores {
		for _, a := range v.Assignments {
			ms := member(a.AssigneeID)
			ms.Assigned++
			if a.State == model.StateApproved || a.State == model.StateCompletedByOther {
				ms.CompletedCount++
			}
		}
	}
	for _, o := range overdue {
		member(o.AssigneeID).Overdue++
	}
	for _, p := range pending {
		member(p.AssigneeID).PendingClaims++
	}
	for id, ms := range perMember {
		count, err := m.tallies.Get(id, today, model.TallyKindApproved)
		if err != nil {
			m.logger.Error("read tally", "member_id", id, "error", err)
			continue
		}
		ms.ApprovedToday = count
	}

	snap := Snapshot{
		TotalChores:        len(chores),
		TotalOverdue:       len(overdue),
		TotalPendingClaims: len(pending),
		GeneratedAt:        now,
	}
	for _, ms := range perMember {
		snap.Members = append(snap.Members, *ms)
	}
	sortMembers(snap.Members)

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	m.bus.Publish(event.Event{Type: event.StatsRefreshed, At: now})
}

// Snapshot returns the last computed statistics. It never recomputes; a
// fresh snapshot arrives only via the debounced refresh.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	snap.Members = append([]MemberStats(nil), m.snapshot.Members...)
	return snap
}

// Flush forces any pending refresh to run now. Used in tests and on
// shutdown.
func (m *Manager) Flush() {
	m.timer.Flush()
}

// Stop cancels the debounce timer.
func (m *Manager) Stop() {
	m.timer.Stop()
}

func sortMembers(members []MemberStats) {
	sort.Slice(members, func(i, j int) bool {
		return members[i].MemberID < members[j].MemberID
	})
}
