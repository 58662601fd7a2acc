// Package schedule computes due dates, recurrence advancement and claim
// eligibility from timestamps alone. It performs no I/O and mutates nothing;
// all policy about how many periods to advance lives in the caller.
package schedule

import (
	"time"

	"github.com/hearthward/choreflow/internal/model"
)

// NextDueDate advances a due date by exactly one recurrence period.
//
// Advancement is anchored to the due date itself, never to the wall clock, so
// repeated single steps can never drift. If the rule is a one-off the due
// date is returned unchanged.
func NextDueDate(current time.Time, rule model.RecurrenceRule) time.Time {
	if rule.Once() {
		return current
	}
	current = current.UTC()
	switch rule.Unit {
	case model.UnitHours:
		return current.Add(time.Duration(rule.Interval) * time.Hour)
	case model.UnitDays:
		return current.AddDate(0, 0, rule.Interval)
	case model.UnitWeeks:
		return current.AddDate(0, 0, 7*rule.Interval)
	case model.UnitMonths:
		return current.AddDate(0, rule.Interval, 0)
	}
	return current
}

// IsOverdue reports whether a chore with the given due date should be marked
// overdue at time now. A nil due date means no deadline, NeverOverdue
// disables the check entirely, and a claim pending (or already approved) for
// the current period suppresses it.
func IsOverdue(due *time.Time, handling model.OverdueHandling, hasPendingClaim bool, now time.Time) bool {
	if due == nil || handling == model.NeverOverdue || hasPendingClaim {
		return false
	}
	return now.UTC().After(due.UTC())
}

// EligibleToReclaim implements the five approval reset modes: whether an
// assignee whose last approval was at lastApproved may claim again at now.
//
//   - AtMidnightOnce: one approval per UTC calendar day; eligible again once
//     the day has advanced past the day of the last approval.
//   - AtMidnightMulti: same window, but repeat claims within the day are
//     allowed, so an earlier approval never blocks.
//   - AtDueDateOnce: one approval per recurrence period; eligible again once
//     now has passed the current due date.
//   - AtDueDateMulti: repeat approvals within the period are allowed.
//   - UponCompletion: eligible immediately after approval; the due date still
//     advances but never gates claiming.
func EligibleToReclaim(reset model.ApprovalResetType, lastApproved, due *time.Time, now time.Time) bool {
	if lastApproved == nil {
		return true
	}
	now = now.UTC()

	switch reset {
	case model.ResetAtMidnightOnce:
		return dayOf(now).After(dayOf(*lastApproved))
	case model.ResetAtMidnightMulti:
		return true
	case model.ResetAtDueDateOnce:
		if due == nil {
			return true
		}
		return now.After(due.UTC())
	case model.ResetAtDueDateMulti:
		return true
	case model.ResetUponCompletion:
		return true
	}
	return false
}

// SameUTCDay reports whether a and b fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	return dayOf(a).Equal(dayOf(b))
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
