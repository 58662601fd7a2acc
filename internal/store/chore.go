package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/hearthward/choreflow/internal/model"
)

// ChoreStore persists the canonical workflow state. The whole snapshot is
// rewritten in one transaction so a reader never observes a chore without
// its assignments, and a crashed write leaves the previous snapshot intact.
type ChoreStore struct {
	db *sql.DB
}

func NewChoreStore(db *sql.DB) *ChoreStore {
	return &ChoreStore{db: db}
}

const choreCols = `id, name, description, points, recurrence_interval, recurrence_unit,
	completion_criteria, approval_reset_type, overdue_handling, shared_due_date,
	created_at, updated_at`

const assignmentCols = `chore_id, assignee_id, state, due_date, last_claimed,
	last_approved, last_disapproved, period_start`

// SaveSnapshot replaces the persisted workflow state with snap.
func (s *ChoreStore) SaveSnapshot(snap model.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chore_assignments`); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM chores`); err != nil {
		return fmt.Errorf("clear chores: %w", err)
	}

	for _, c := range snap.Chores {
		_, err := tx.Exec(
			`INSERT INTO chores (`+choreCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Description, c.Points,
			c.Recurrence.Interval, string(c.Recurrence.Unit),
			string(c.Criteria), string(c.ResetType), string(c.Overdue),
			nullTime(c.SharedDueDate), c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chore %d: %w", c.ID, err)
		}
	}

	for _, a := range snap.Assignments {
		_, err := tx.Exec(
			`INSERT INTO chore_assignments (`+assignmentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ChoreID, a.AssigneeID, string(a.State),
			nullTime(a.DueDate), nullTime(a.LastClaimed),
			nullTime(a.LastApproved), nullTime(a.LastDisapproved),
			a.PeriodStart,
		)
		if err != nil {
			return fmt.Errorf("insert assignment %d/%d: %w", a.ChoreID, a.AssigneeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted workflow state. AssigneeIDs are rebuilt
// from the assignment rows, ordered by assignee id.
func (s *ChoreStore) LoadSnapshot() (model.Snapshot, error) {
	var snap model.Snapshot

	rows, err := s.db.Query(`SELECT ` + choreCols + ` FROM chores ORDER BY id ASC`)
	if err != nil {
		return snap, fmt.Errorf("load chores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return snap, fmt.Errorf("scan chore: %w", err)
		}
		snap.Chores = append(snap.Chores, *c)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate chores: %w", err)
	}
	rows.Close()

	arows, err := s.db.Query(`SELECT ` + assignmentCols + ` FROM chore_assignments ORDER BY chore_id ASC, assignee_id ASC`)
	if err != nil {
		return snap, fmt.Errorf("load assignments: %w", err)
	}
	defer arows.Close()

	assignees := make(map[int64][]int64)
	for arows.Next() {
		a, err := scanAssignment(arows)
		if err != nil {
			return snap, fmt.Errorf("scan assignment: %w", err)
		}
		snap.Assignments = append(snap.Assignments, *a)
		assignees[a.ChoreID] = append(assignees[a.ChoreID], a.AssigneeID)
	}
	if err := arows.Err(); err != nil {
		return snap, fmt.Errorf("iterate assignments: %w", err)
	}

	for i := range snap.Chores {
		ids := assignees[snap.Chores[i].ID]
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		snap.Chores[i].AssigneeIDs = ids
	}
	snap.TakenAt = time.Now().UTC()
	return snap, nil
}

func scanChore(scanner interface{ Scan(...any) error }) (*model.Chore, error) {
	var c model.Chore
	var unit, criteria, reset, overdue string
	var sharedDue sql.NullTime

	err := scanner.Scan(
		&c.ID, &c.Name, &c.Description, &c.Points,
		&c.Recurrence.Interval, &unit,
		&criteria, &reset, &overdue, &sharedDue,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Recurrence.Unit = model.RecurrenceUnit(unit)
	c.Criteria = model.CompletionCriteria(criteria)
	c.ResetType = model.ApprovalResetType(reset)
	c.Overdue = model.OverdueHandling(overdue)
	if sharedDue.Valid {
		t := sharedDue.Time.UTC()
		c.SharedDueDate = &t
	}
	return &c, nil
}

func scanAssignment(scanner interface{ Scan(...any) error }) (*model.Assignment, error) {
	var a model.Assignment
	var state string
	var due, claimed, approved, disapproved sql.NullTime

	err := scanner.Scan(
		&a.ChoreID, &a.AssigneeID, &state,
		&due, &claimed, &approved, &disapproved,
		&a.PeriodStart,
	)
	if err != nil {
		return nil, err
	}

	a.State = model.ChoreState(state)
	a.DueDate = timePtr(due)
	a.LastClaimed = timePtr(claimed)
	a.LastApproved = timePtr(approved)
	a.LastDisapproved = timePtr(disapproved)
	return &a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
