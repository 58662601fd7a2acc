// Package workflow implements the chore completion state machine. The
// Manager is the sole writer of chore and assignment state: every mutation
// is serialized under one lock, handed to the persistence coordinator, and
// only then announced on the event bus.
package workflow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/choreflow/internal/clock"
	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/model"
	"github.com/hearthward/choreflow/internal/schedule"
)

// PointsLedger is the rewards collaborator invoked synchronously inside
// Approve. A failure aborts the approval.
type PointsLedger interface {
	AwardPoints(memberID int64, choreID int64, points int, reason string) error
}

// MutationSink accepts snapshots for durable storage. Implemented by
// persist.Coordinator.
type MutationSink interface {
	QueueWrite(model.Snapshot) error
}

// Manager owns all chore and assignment state.
type Manager struct {
	mu          sync.Mutex
	chores      map[int64]*model.Chore
	assignments map[int64]map[int64]*model.Assignment // choreID -> assigneeID
	nextID      int64

	clk    clock.Clock
	ledger PointsLedger
	sink   MutationSink
	bus    *event.Bus
	logger *slog.Logger
}

// New creates an empty Manager. Call Load to seed it from a stored snapshot.
func New(clk clock.Clock, ledger PointsLedger, sink MutationSink, bus *event.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		chores:      make(map[int64]*model.Chore),
		assignments: make(map[int64]map[int64]*model.Assignment),
		nextID:      1,
		clk:         clk,
		ledger:      ledger,
		sink:        sink,
		bus:         bus,
		logger:      logger,
	}
}

// Load replaces in-memory state with a stored snapshot. Called once at boot,
// before the manager starts accepting commands.
func (m *Manager) Load(snap model.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chores = make(map[int64]*model.Chore, len(snap.Chores))
	m.assignments = make(map[int64]map[int64]*model.Assignment)
	for i := range snap.Chores {
		c := snap.Chores[i]
		m.chores[c.ID] = &c
		m.assignments[c.ID] = make(map[int64]*model.Assignment)
		if c.ID >= m.nextID {
			m.nextID = c.ID + 1
		}
	}
	for i := range snap.Assignments {
		a := snap.Assignments[i]
		if byAssignee, ok := m.assignments[a.ChoreID]; ok {
			byAssignee[a.AssigneeID] = &a
		}
	}
}

// --- Management interface ---

// AddChore registers a new chore and its assignment records. The initial due
// date lands on the authority matching the completion criteria: chore-level
// for shared variants, per-assignee otherwise.
func (m *Manager) AddChore(c model.Chore, initialDue *time.Time) (model.Chore, error) {
	if !c.Criteria.Valid() {
		return model.Chore{}, newErr(KindNotFound, "unknown completion criteria %q", c.Criteria)
	}
	if !c.ResetType.Valid() {
		return model.Chore{}, newErr(KindNotFound, "unknown approval reset type %q", c.ResetType)
	}
	if len(c.AssigneeIDs) == 0 {
		return model.Chore{}, newErr(KindNotFound, "chore needs at least one assignee")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	c.ID = m.nextID
	m.nextID++
	c.CreatedAt = now
	c.UpdatedAt = now
	c.SharedDueDate = nil
	if c.Criteria.Shared() && initialDue != nil {
		d := initialDue.UTC()
		c.SharedDueDate = &d
	}

	m.chores[c.ID] = &c
	byAssignee := make(map[int64]*model.Assignment, len(c.AssigneeIDs))
	for _, aid := range c.AssigneeIDs {
		a := &model.Assignment{
			ChoreID:     c.ID,
			AssigneeID:  aid,
			State:       model.StatePending,
			PeriodStart: now,
		}
		if !c.Criteria.Shared() && initialDue != nil {
			d := initialDue.UTC()
			a.DueDate = &d
		}
		byAssignee[aid] = a
	}
	m.assignments[c.ID] = byAssignee

	if err := m.queueLocked(); err != nil {
		delete(m.chores, c.ID)
		delete(m.assignments, c.ID)
		return model.Chore{}, err
	}
	m.publish(event.Event{Type: event.ChoreCreated, ChoreID: c.ID, ChoreName: c.Name, At: now})
	return c, nil
}

// UpdateChoreMeta changes the descriptive fields of a chore. Scheduling and
// criteria fields are deliberately immutable after creation.
func (m *Manager) UpdateChoreMeta(id int64, name, description string, points int) (model.Chore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chores[id]
	if !ok {
		return model.Chore{}, newErr(KindNotFound, "chore %d not found", id)
	}
	prev := *c
	c.Name = name
	c.Description = description
	c.Points = points
	c.UpdatedAt = m.clk.Now()

	if err := m.queueLocked(); err != nil {
		*c = prev
		return model.Chore{}, err
	}
	return *c, nil
}

// RemoveChore is the delete hook: it drops the chore and all of its
// per-assignee records, then announces the deletion.
func (m *Manager) RemoveChore(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chores[id]
	if !ok {
		// Deleting an already-deleted chore is a no-op, not an error.
		return nil
	}
	name := c.Name
	delete(m.chores, id)
	delete(m.assignments, id)

	if err := m.queueLocked(); err != nil {
		return err
	}
	m.publish(event.Event{Type: event.ChoreDeleted, ChoreID: id, ChoreName: name, At: m.clk.Now()})
	return nil
}

// --- Workflow commands ---

// Claim records that an assignee has done the chore and is waiting for
// approval.
func (m *Manager) Claim(choreID, assigneeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, a, err := m.lookupLocked(choreID, assigneeID)
	if err != nil {
		return err
	}
	if reason, errKind := m.claimGuardLocked(c, a); errKind != "" {
		return newErr(errKind, "%s", reason)
	}

	now := m.clk.Now()
	prev := *a
	a.State = model.StateClaimed
	a.LastClaimed = &now

	if err := m.queueLocked(); err != nil {
		*a = prev
		return err
	}
	m.publish(event.Event{
		Type: event.ChoreClaimed, ChoreID: c.ID, AssigneeID: assigneeID,
		ChoreName: c.Name, At: now,
	})
	return nil
}

// Approve accepts a pending claim: state moves to APPROVED, the due date
// advances on whichever authority matches the criteria, the points ledger is
// credited, the mutation is queued durably, and only then is the event
// published. Any collaborator failure rolls the mutation back.
func (m *Manager) Approve(choreID, assigneeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, a, err := m.lookupLocked(choreID, assigneeID)
	if err != nil {
		return err
	}
	if !a.HasPendingClaim() {
		return newErr(KindNoPendingClaim, "assignee %d has no pending claim on chore %d", assigneeID, choreID)
	}

	now := m.clk.Now()
	rollback := m.snapshotChoreLocked(c.ID)

	a.State = model.StateApproved
	a.LastApproved = &now

	switch c.Criteria {
	case model.CriteriaIndependent:
		if a.DueDate != nil {
			d := m.advancePastNow(*a.DueDate, c.Recurrence, now)
			a.DueDate = &d
		}
		a.PeriodStart = now

	case model.CriteriaSharedAll:
		if m.allApprovedLocked(c.ID) {
			// Last outstanding assignee: the shared period completes.
			if c.SharedDueDate != nil {
				d := m.advancePastNow(*c.SharedDueDate, c.Recurrence, now)
				c.SharedDueDate = &d
			}
			for _, other := range m.assignments[c.ID] {
				other.PeriodStart = now
			}
		}

	case model.CriteriaSharedFirst:
		for _, other := range m.assignments[c.ID] {
			if other.AssigneeID != assigneeID {
				other.State = model.StateCompletedByOther
			}
			other.PeriodStart = now
		}
		if c.SharedDueDate != nil {
			d := m.advancePastNow(*c.SharedDueDate, c.Recurrence, now)
			c.SharedDueDate = &d
		}

	case model.CriteriaAlternating:
		m.restoreChoreLocked(c.ID, rollback)
		return newErr(KindNotImplemented, "alternating rotation is not implemented")
	}

	if c.Points != 0 {
		if err := m.ledger.AwardPoints(assigneeID, c.ID, c.Points, c.Name); err != nil {
			m.restoreChoreLocked(c.ID, rollback)
			return wrapErr(KindLedgerFailure, err, "award points")
		}
	}

	if err := m.queueLocked(); err != nil {
		m.restoreChoreLocked(c.ID, rollback)
		return err
	}
	m.publish(event.Event{
		Type: event.ChoreApproved, ChoreID: c.ID, AssigneeID: assigneeID,
		ChoreName: c.Name, Points: c.Points, At: now,
	})
	return nil
}

// Disapprove rejects a pending claim and returns the assignment to PENDING.
// The due date never moves: disapproval is not a completion signal. For
// shared-first chores the lock clears and every assignee returns to PENDING.
func (m *Manager) Disapprove(choreID, assigneeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, a, err := m.lookupLocked(choreID, assigneeID)
	if err != nil {
		return err
	}
	if !a.HasPendingClaim() {
		return newErr(KindNoPendingClaim, "assignee %d has no pending claim on chore %d", assigneeID, choreID)
	}

	now := m.clk.Now()
	rollback := m.snapshotChoreLocked(c.ID)

	a.State = model.StatePending
	a.LastDisapproved = &now
	if c.Criteria == model.CriteriaSharedFirst {
		// Re-open the race for everyone.
		for _, other := range m.assignments[c.ID] {
			other.State = model.StatePending
		}
	}

	if err := m.queueLocked(); err != nil {
		m.restoreChoreLocked(c.ID, rollback)
		return err
	}
	m.publish(event.Event{
		Type: event.ChoreDisapproved, ChoreID: c.ID, AssigneeID: assigneeID,
		ChoreName: c.Name, At: now,
	})
	return nil
}

// SetDueDate is the administrative override. With an assignee it writes the
// per-assignee date and requires an independent chore; without one it writes
// the chore-level date and requires a shared chore. The two representations
// are never both written.
func (m *Manager) SetDueDate(choreID int64, due *time.Time, assigneeID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chores[choreID]
	if !ok {
		return newErr(KindNotFound, "chore %d not found", choreID)
	}

	var utc *time.Time
	if due != nil {
		d := due.UTC()
		utc = &d
	}

	rollback := m.snapshotChoreLocked(c.ID)
	if assigneeID != nil {
		if c.Criteria.Shared() {
			return newErr(KindInvalidAuthority, "chore %d has a shared due date; per-assignee writes are invalid", choreID)
		}
		a, ok := m.assignments[choreID][*assigneeID]
		if !ok {
			return newErr(KindNotFound, "assignee %d not assigned to chore %d", *assigneeID, choreID)
		}
		a.DueDate = utc
	} else {
		if !c.Criteria.Shared() {
			return newErr(KindInvalidAuthority, "chore %d tracks per-assignee due dates; chore-level writes are invalid", choreID)
		}
		c.SharedDueDate = utc
	}

	if err := m.queueLocked(); err != nil {
		m.restoreChoreLocked(c.ID, rollback)
		return err
	}
	m.publish(event.Event{Type: event.DueDateChanged, ChoreID: choreID, ChoreName: c.Name, At: m.clk.Now()})
	return nil
}

// SkipDueDate advances the due date by exactly one recurrence period without
// a claim/approve cycle ("skip this occurrence") and returns the affected
// records to PENDING. A nil due date is a successful no-op.
func (m *Manager) SkipDueDate(choreID int64, assigneeID *int64) error {
	return m.advanceAdministratively(choreID, assigneeID, false)
}

// ResetOverdue clears OVERDUE status and advances the due date one period,
// scoped to one assignee or the whole chore. Records that are not overdue
// are left untouched, so retries are no-ops.
func (m *Manager) ResetOverdue(choreID int64, assigneeID *int64) error {
	return m.advanceAdministratively(choreID, assigneeID, true)
}

func (m *Manager) advanceAdministratively(choreID int64, assigneeID *int64, overdueOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chores[choreID]
	if !ok {
		return newErr(KindNotFound, "chore %d not found", choreID)
	}
	if assigneeID != nil {
		if _, ok := m.assignments[choreID][*assigneeID]; !ok {
			return newErr(KindNotFound, "assignee %d not assigned to chore %d", *assigneeID, choreID)
		}
		if c.Criteria.Shared() {
			return newErr(KindInvalidAuthority, "chore %d has a shared due date; per-assignee advance is invalid", choreID)
		}
	}

	rollback := m.snapshotChoreLocked(c.ID)
	changed := false

	if c.Criteria.Shared() {
		if overdueOnly && !m.anyOverdueLocked(c.ID) {
			return nil
		}
		if c.SharedDueDate != nil {
			d := schedule.NextDueDate(*c.SharedDueDate, c.Recurrence)
			c.SharedDueDate = &d
			changed = true
		}
		for _, a := range m.assignments[c.ID] {
			if !overdueOnly || a.State == model.StateOverdue {
				if a.State != model.StatePending {
					a.State = model.StatePending
					changed = true
				}
			}
		}
	} else {
		for _, a := range m.assignments[c.ID] {
			if assigneeID != nil && a.AssigneeID != *assigneeID {
				continue
			}
			if overdueOnly && a.State != model.StateOverdue {
				continue
			}
			if a.DueDate != nil {
				d := schedule.NextDueDate(*a.DueDate, c.Recurrence)
				a.DueDate = &d
				changed = true
			}
			if a.State != model.StatePending {
				a.State = model.StatePending
				changed = true
			}
		}
	}

	if !changed {
		// Nothing to do (e.g. nil due date, already pending): idempotent
		// success.
		return nil
	}
	if err := m.queueLocked(); err != nil {
		m.restoreChoreLocked(c.ID, rollback)
		return err
	}
	m.publish(event.Event{Type: event.DueDateChanged, ChoreID: choreID, ChoreName: c.Name, At: m.clk.Now()})
	return nil
}

// RefreshDueStatuses performs the lazy period transition: approved (or
// completed-by-other) records whose eligibility window has re-opened return
// to PENDING, and pending records past their due date become OVERDUE. Run
// periodically by the sweeper loop. Returns how many records changed.
func (m *Manager) RefreshDueStatuses() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	changed := 0
	var overdueEvents []event.Event

	for choreID, c := range m.chores {
		latest := m.latestApprovalLocked(choreID)
		for _, a := range m.assignments[choreID] {
			due := m.dueForLocked(c, a)

			// APPROVED -> PENDING once a new period begins.
			if a.State == model.StateApproved || a.State == model.StateCompletedByOther {
				ref := a.LastApproved
				if a.State == model.StateCompletedByOther {
					ref = latest
				}
				if schedule.EligibleToReclaim(c.ResetType, ref, due, now) {
					a.State = model.StatePending
					a.PeriodStart = now
					changed++
				}
			}

			// PENDING -> OVERDUE once the due date passes.
			if a.State == model.StatePending {
				covered := m.claimCoveredLocked(c, a)
				if schedule.IsOverdue(due, c.Overdue, covered, now) {
					a.State = model.StateOverdue
					changed++
					overdueEvents = append(overdueEvents, event.Event{
						Type: event.ChoreOverdue, ChoreID: choreID,
						AssigneeID: a.AssigneeID, ChoreName: c.Name, At: now,
					})
				}
			}
		}
	}

	if changed == 0 {
		return 0
	}
	if err := m.queueLocked(); err != nil {
		m.logger.Error("queue write after status refresh", "error", err)
		return changed
	}
	for _, e := range overdueEvents {
		m.publish(e)
	}
	return changed
}

// --- internals ---

// claimGuardLocked evaluates all claim preconditions and returns a reason
// plus error kind when the claim must be rejected.
func (m *Manager) claimGuardLocked(c *model.Chore, a *model.Assignment) (string, Kind) {
	if c.Criteria == model.CriteriaAlternating {
		return "alternating rotation is not implemented", KindNotImplemented
	}
	if a.HasPendingClaim() {
		return "claim already pending", KindAlreadyClaimed
	}
	if a.State == model.StateCompletedByOther {
		return "completed by another assignee this period", KindNotEligible
	}
	if c.Criteria == model.CriteriaSharedFirst {
		for _, other := range m.assignments[c.ID] {
			if other.AssigneeID == a.AssigneeID {
				continue
			}
			if other.HasPendingClaim() || other.State == model.StateApproved {
				return "another assignee holds this chore", KindConflict
			}
		}
	}
	due := m.dueForLocked(c, a)
	if !schedule.EligibleToReclaim(c.ResetType, a.LastApproved, due, m.clk.Now()) {
		return "approval reset window has not reopened", KindNotEligible
	}
	return "", ""
}

// dueForLocked resolves the single due-date authority for an assignment.
func (m *Manager) dueForLocked(c *model.Chore, a *model.Assignment) *time.Time {
	if c.Criteria.Shared() {
		return c.SharedDueDate
	}
	return a.DueDate
}

// advancePastNow steps the due date one period at a time until it lands
// strictly after now: a single logical jump with no intermediate periods
// materialized, anchored to the due date rather than the wall clock.
func (m *Manager) advancePastNow(due time.Time, rule model.RecurrenceRule, now time.Time) time.Time {
	if rule.Once() {
		return due
	}
	next := schedule.NextDueDate(due, rule)
	for !next.After(now) {
		next = schedule.NextDueDate(next, rule)
	}
	return next
}

// claimCoveredLocked reports whether claim or approval activity suppresses
// a's overdue transition. Shared-first chores have one chore-level period,
// so any assignee's pending claim or approval covers every assignee; for
// the other criteria only a's own activity counts.
func (m *Manager) claimCoveredLocked(c *model.Chore, a *model.Assignment) bool {
	if a.HasPendingClaim() ||
		a.State == model.StateApproved || a.State == model.StateCompletedByOther {
		return true
	}
	if c.Criteria != model.CriteriaSharedFirst {
		return false
	}
	for _, other := range m.assignments[c.ID] {
		if other.AssigneeID == a.AssigneeID {
			continue
		}
		if other.HasPendingClaim() || other.State == model.StateApproved {
			return true
		}
	}
	return false
}

func (m *Manager) allApprovedLocked(choreID int64) bool {
	for _, a := range m.assignments[choreID] {
		if a.State != model.StateApproved {
			return false
		}
	}
	return true
}

func (m *Manager) anyOverdueLocked(choreID int64) bool {
	for _, a := range m.assignments[choreID] {
		if a.State == model.StateOverdue {
			return true
		}
	}
	return false
}

// latestApprovalLocked returns the most recent approval timestamp across all
// assignees of a chore. Used as the period reference for records completed
// by another assignee.
func (m *Manager) latestApprovalLocked(choreID int64) *time.Time {
	var latest *time.Time
	for _, a := range m.assignments[choreID] {
		if a.LastApproved == nil {
			continue
		}
		if latest == nil || a.LastApproved.After(*latest) {
			latest = a.LastApproved
		}
	}
	return latest
}

func (m *Manager) lookupLocked(choreID, assigneeID int64) (*model.Chore, *model.Assignment, error) {
	c, ok := m.chores[choreID]
	if !ok {
		return nil, nil, newErr(KindNotFound, "chore %d not found", choreID)
	}
	a, ok := m.assignments[choreID][assigneeID]
	if !ok {
		return nil, nil, newErr(KindNotFound, "assignee %d not assigned to chore %d", assigneeID, choreID)
	}
	return c, a, nil
}

// choreRollback captures deep copies of one chore and its assignments so a
// failed collaborator call can undo the in-memory mutation.
type choreRollback struct {
	chore       model.Chore
	assignments []model.Assignment
}

func (m *Manager) snapshotChoreLocked(choreID int64) choreRollback {
	rb := choreRollback{chore: *m.chores[choreID]}
	for _, a := range m.assignments[choreID] {
		rb.assignments = append(rb.assignments, *a)
	}
	return rb
}

func (m *Manager) restoreChoreLocked(choreID int64, rb choreRollback) {
	*m.chores[choreID] = rb.chore
	for i := range rb.assignments {
		a := rb.assignments[i]
		*m.assignments[choreID][a.AssigneeID] = a
	}
}

// queueLocked hands the full canonical state to the persistence coordinator.
// Publishing happens only after this succeeds.
func (m *Manager) queueLocked() error {
	if m.sink == nil {
		return nil
	}
	if err := m.sink.QueueWrite(m.snapshotLocked()); err != nil {
		return wrapErr(KindPersistence, err, "queue durable write")
	}
	return nil
}

func (m *Manager) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{TakenAt: m.clk.Now()}
	for _, c := range m.chores {
		cc := *c
		cc.AssigneeIDs = append([]int64(nil), c.AssigneeIDs...)
		if c.SharedDueDate != nil {
			d := *c.SharedDueDate
			cc.SharedDueDate = &d
		}
		snap.Chores = append(snap.Chores, cc)
	}
	for _, byAssignee := range m.assignments {
		for _, a := range byAssignee {
			snap.Assignments = append(snap.Assignments, *a)
		}
	}
	return snap
}

func (m *Manager) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}
