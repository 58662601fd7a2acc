package workflow

import (
	"sort"
	"time"

	"github.com/hearthward/choreflow/internal/model"
	"github.com/hearthward/choreflow/internal/schedule"
)

// Queries are pure: computed on demand from stored timestamps, never from a
// cached list, so two calls with no intervening mutation always agree.

// ChoreView is a read-only projection of a chore with its assignments and
// the computed chore-level state.
type ChoreView struct {
	Chore       model.Chore        `json:"chore"`
	Assignments []model.Assignment `json:"assignments"`
	State       model.ChoreState   `json:"state"`
}

// OverdueItem identifies one overdue assignment.
type OverdueItem struct {
	ChoreID    int64      `json:"chore_id"`
	ChoreName  string     `json:"chore_name"`
	AssigneeID int64      `json:"assignee_id"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

// PendingClaim identifies one claim awaiting approval.
type PendingClaim struct {
	ChoreID    int64     `json:"chore_id"`
	ChoreName  string    `json:"chore_name"`
	AssigneeID int64     `json:"assignee_id"`
	ClaimedAt  time.Time `json:"claimed_at"`
}

// CanClaim reports whether the assignee could claim the chore right now,
// with a machine-readable reason when not.
func (m *Manager) CanClaim(choreID, assigneeID int64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, a, err := m.lookupLocked(choreID, assigneeID)
	if err != nil {
		return false, string(ErrKind(err))
	}
	if _, kind := m.claimGuardLocked(c, a); kind != "" {
		return false, string(kind)
	}
	return true, ""
}

// CanApprove reports whether the assignee's claim could be approved right
// now.
func (m *Manager) CanApprove(choreID, assigneeID int64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, a, err := m.lookupLocked(choreID, assigneeID)
	if err != nil {
		return false, string(ErrKind(err))
	}
	if c.Criteria == model.CriteriaAlternating {
		return false, string(KindNotImplemented)
	}
	if !a.HasPendingClaim() {
		return false, string(KindNoPendingClaim)
	}
	return true, ""
}

// Overdue computes the currently overdue assignments from due dates and
// timestamps without mutating any state.
func (m *Manager) Overdue() []OverdueItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	var items []OverdueItem
	for choreID, c := range m.chores {
		for _, a := range m.assignments[choreID] {
			due := m.dueForLocked(c, a)
			if schedule.IsOverdue(due, c.Overdue, m.claimCoveredLocked(c, a), now) {
				items = append(items, OverdueItem{
					ChoreID: choreID, ChoreName: c.Name,
					AssigneeID: a.AssigneeID, DueDate: due,
				})
			}
		}
	}
	sortOverdue(items)
	return items
}

// PendingClaims computes the set of claims awaiting approval from the
// timestamp fields alone.
func (m *Manager) PendingClaims() []PendingClaim {
	m.mu.Lock()
	defer m.mu.Unlock()

	var claims []PendingClaim
	for choreID, c := range m.chores {
		for _, a := range m.assignments[choreID] {
			if a.HasPendingClaim() {
				claims = append(claims, PendingClaim{
					ChoreID: choreID, ChoreName: c.Name,
					AssigneeID: a.AssigneeID, ClaimedAt: *a.LastClaimed,
				})
			}
		}
	}
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].ChoreID != claims[j].ChoreID {
			return claims[i].ChoreID < claims[j].ChoreID
		}
		return claims[i].AssigneeID < claims[j].AssigneeID
	})
	return claims
}

// Chore returns a copy of one chore with its assignments.
func (m *Manager) Chore(id int64) (ChoreView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chores[id]
	if !ok {
		return ChoreView{}, newErr(KindNotFound, "chore %d not found", id)
	}
	return m.viewLocked(c), nil
}

// Chores returns copies of all chores, ordered by id.
func (m *Manager) Chores() []ChoreView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]ChoreView, 0, len(m.chores))
	for _, c := range m.chores {
		views = append(views, m.viewLocked(c))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Chore.ID < views[j].Chore.ID })
	return views
}

// Snapshot returns a deep copy of the full canonical state.
func (m *Manager) Snapshot() model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) viewLocked(c *model.Chore) ChoreView {
	v := ChoreView{Chore: *c}
	v.Chore.AssigneeIDs = append([]int64(nil), c.AssigneeIDs...)
	for _, a := range m.assignments[c.ID] {
		v.Assignments = append(v.Assignments, *a)
	}
	sort.Slice(v.Assignments, func(i, j int) bool {
		return v.Assignments[i].AssigneeID < v.Assignments[j].AssigneeID
	})
	v.State = AggregateState(*c, v.Assignments)
	return v
}

// AggregateState derives the chore-level state from per-assignee sub-states.
// For independent chores it reports the "most urgent" assignee state so
// dashboards have a single badge to show.
func AggregateState(c model.Chore, assignments []model.Assignment) model.ChoreState {
	if len(assignments) == 0 {
		return model.StatePending
	}

	var claimed, approved, overdue, done int
	for _, a := range assignments {
		switch a.State {
		case model.StateClaimed:
			claimed++
		case model.StateApproved:
			approved++
		case model.StateOverdue:
			overdue++
		case model.StateCompletedByOther:
			done++
		}
	}
	total := len(assignments)

	switch c.Criteria {
	case model.CriteriaSharedAll:
		switch {
		case approved == total:
			return model.StateApproved
		case approved > 0:
			return model.StateApprovedInPart
		case claimed > 0 && claimed < total:
			return model.StateClaimedInPart
		case claimed == total:
			return model.StateClaimed
		case overdue > 0:
			return model.StateOverdue
		}
		return model.StatePending

	case model.CriteriaSharedFirst:
		switch {
		case approved > 0:
			return model.StateApproved
		case claimed > 0:
			return model.StateClaimed
		case overdue > 0:
			return model.StateOverdue
		}
		return model.StatePending

	default:
		switch {
		case overdue > 0:
			return model.StateOverdue
		case claimed > 0:
			return model.StateClaimed
		case approved == total:
			return model.StateApproved
		}
		return model.StatePending
	}
}

func sortOverdue(items []OverdueItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChoreID != items[j].ChoreID {
			return items[i].ChoreID < items[j].ChoreID
		}
		return items[i].AssigneeID < items[j].AssigneeID
	})
}
