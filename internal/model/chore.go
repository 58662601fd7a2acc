package model

import "time"

// CompletionCriteria defines how multiple assignees on one chore interact.
type CompletionCriteria string

const (
	// CriteriaIndependent gives each assignee an isolated record and due date.
	CriteriaIndependent CompletionCriteria = "independent"
	// CriteriaSharedAll requires every assignee to complete the period.
	CriteriaSharedAll CompletionCriteria = "shared_all"
	// CriteriaSharedFirst lets the first claimant complete the chore for everyone.
	CriteriaSharedFirst CompletionCriteria = "shared_first"
	// CriteriaAlternating rotates eligibility between assignees. The rotation
	// rule is not yet settled; claims on alternating chores are rejected.
	CriteriaAlternating CompletionCriteria = "alternating"
)

// Valid reports whether c is one of the known criteria.
func (c CompletionCriteria) Valid() bool {
	switch c {
	case CriteriaIndependent, CriteriaSharedAll, CriteriaSharedFirst, CriteriaAlternating:
		return true
	}
	return false
}

// Shared reports whether the chore uses a single chore-level due date.
func (c CompletionCriteria) Shared() bool {
	return c != CriteriaIndependent
}

// ApprovalResetType governs when an assignee may claim again after approval.
type ApprovalResetType string

const (
	ResetAtMidnightOnce  ApprovalResetType = "at_midnight_once"
	ResetAtMidnightMulti ApprovalResetType = "at_midnight_multi"
	ResetAtDueDateOnce   ApprovalResetType = "at_due_date_once"
	ResetAtDueDateMulti  ApprovalResetType = "at_due_date_multi"
	ResetUponCompletion  ApprovalResetType = "upon_completion"
)

// Valid reports whether r is one of the known reset types.
func (r ApprovalResetType) Valid() bool {
	switch r {
	case ResetAtMidnightOnce, ResetAtMidnightMulti, ResetAtDueDateOnce,
		ResetAtDueDateMulti, ResetUponCompletion:
		return true
	}
	return false
}

// OverdueHandling controls whether a chore can ever become overdue.
type OverdueHandling string

const (
	OverdueAtDueDate OverdueHandling = "at_due_date"
	NeverOverdue     OverdueHandling = "never_overdue"
)

// RecurrenceUnit is the unit of a recurrence interval.
type RecurrenceUnit string

const (
	UnitHours  RecurrenceUnit = "hours"
	UnitDays   RecurrenceUnit = "days"
	UnitWeeks  RecurrenceUnit = "weeks"
	UnitMonths RecurrenceUnit = "months"
)

// RecurrenceRule is a fixed interval recurrence. The zero value means the
// chore is a one-off and its due date never advances.
type RecurrenceRule struct {
	Interval int            `json:"interval"`
	Unit     RecurrenceUnit `json:"unit"`
}

// Once reports whether the rule describes a non-recurring chore.
func (r RecurrenceRule) Once() bool {
	return r.Interval <= 0 || r.Unit == ""
}

// ChoreState is the workflow state of an assignment (or, for shared chores,
// the aggregate chore-level state).
type ChoreState string

const (
	StatePending          ChoreState = "pending"
	StateClaimed          ChoreState = "claimed"
	StateApproved         ChoreState = "approved"
	StateOverdue          ChoreState = "overdue"
	StateClaimedInPart    ChoreState = "claimed_in_part"
	StateApprovedInPart   ChoreState = "approved_in_part"
	StateCompletedByOther ChoreState = "completed_by_other"
)

// Chore is a recurring task template shared by one or more family members.
//
// Exactly one due-date representation is authoritative per chore:
// SharedDueDate for shared criteria, the per-assignee Assignment.DueDate for
// independent chores. The other is always nil.
type Chore struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Points      int                `json:"points"`
	Recurrence  RecurrenceRule     `json:"recurrence"`
	Criteria    CompletionCriteria `json:"completion_criteria"`
	ResetType   ApprovalResetType  `json:"approval_reset_type"`
	Overdue     OverdueHandling    `json:"overdue_handling"`
	AssigneeIDs []int64            `json:"assignee_ids"`
	// SharedDueDate is the chore-level due date, set only when Criteria.Shared().
	SharedDueDate *time.Time `json:"shared_due_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Assignment is the per (chore, assignee) workflow record. All timestamps are
// UTC. LastClaimed, LastApproved and LastDisapproved keep only the most
// recent occurrence; whether a claim is pending is always derived from their
// relative order, never stored.
type Assignment struct {
	ChoreID    int64      `json:"chore_id"`
	AssigneeID int64      `json:"assignee_id"`
	State      ChoreState `json:"state"`
	// DueDate is the per-assignee due date, set only for independent chores.
	// nil means no deadline: the assignment can never be overdue.
	DueDate         *time.Time `json:"due_date,omitempty"`
	LastClaimed     *time.Time `json:"last_claimed,omitempty"`
	LastApproved    *time.Time `json:"last_approved,omitempty"`
	LastDisapproved *time.Time `json:"last_disapproved,omitempty"`
	PeriodStart     time.Time  `json:"approval_period_start"`
}

// HasPendingClaim reports whether the most recent claim is newer than both
// the most recent approval and disapproval. This is the single source of
// truth for "pending"; no pending list is ever persisted.
func (a Assignment) HasPendingClaim() bool {
	if a.LastClaimed == nil {
		return false
	}
	if a.LastApproved != nil && !a.LastClaimed.After(*a.LastApproved) {
		return false
	}
	if a.LastDisapproved != nil && !a.LastClaimed.After(*a.LastDisapproved) {
		return false
	}
	return true
}

// Snapshot is the full canonical workflow state handed to the persistence
// coordinator. It is written as a unit so readers never observe a chore
// without its assignments.
type Snapshot struct {
	Chores      []Chore
	Assignments []Assignment
	TakenAt     time.Time
}
