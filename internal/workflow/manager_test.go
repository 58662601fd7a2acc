package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/hearthward/choreflow/internal/clock"
	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/model"
)

type fakeLedger struct {
	awards []int
	fail   bool
}

func (l *fakeLedger) AwardPoints(memberID, choreID int64, points int, reason string) error {
	if l.fail {
		return errors.New("ledger offline")
	}
	l.awards = append(l.awards, points)
	return nil
}

type fakeSink struct {
	queued []model.Snapshot
	fail   bool
	log    *[]string
}

func (s *fakeSink) QueueWrite(snap model.Snapshot) error {
	if s.fail {
		return errors.New("queue full")
	}
	s.queued = append(s.queued, snap)
	if s.log != nil {
		*s.log = append(*s.log, "queue")
	}
	return nil
}

type fixture struct {
	m      *Manager
	clk    *clock.Fixed
	ledger *fakeLedger
	sink   *fakeSink
	bus    *event.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFixed(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	bus := event.New(nil)
	return &fixture{
		m:      New(clk, ledger, sink, bus, nil),
		clk:    clk,
		ledger: ledger,
		sink:   sink,
		bus:    bus,
	}
}

func (f *fixture) addChore(t *testing.T, c model.Chore, due *time.Time) model.Chore {
	t.Helper()
	created, err := f.m.AddChore(c, due)
	if err != nil {
		t.Fatalf("add chore: %v", err)
	}
	return created
}

func dailyChore(criteria model.CompletionCriteria, reset model.ApprovalResetType, assignees ...int64) model.Chore {
	return model.Chore{
		Name:        "Dishes",
		Points:      5,
		Recurrence:  model.RecurrenceRule{Interval: 1, Unit: model.UnitDays},
		Criteria:    criteria,
		ResetType:   reset,
		Overdue:     model.OverdueAtDueDate,
		AssigneeIDs: assignees,
	}
}

func tp(t time.Time) *time.Time { return &t }

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !IsKind(err, kind) {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

func TestClaimApproveIndependent(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(24 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetAtMidnightOnce, 1), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	view, _ := f.m.Chore(c.ID)
	if view.Assignments[0].State != model.StateClaimed {
		t.Fatalf("state = %s, want claimed", view.Assignments[0].State)
	}
	if view.Assignments[0].LastClaimed == nil {
		t.Fatal("last_claimed not recorded")
	}

	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatalf("approve: %v", err)
	}
	view, _ = f.m.Chore(c.ID)
	a := view.Assignments[0]
	if a.State != model.StateApproved {
		t.Errorf("state = %s, want approved", a.State)
	}
	if a.DueDate == nil || !a.DueDate.After(f.clk.Now()) {
		t.Errorf("due date did not advance past now: %v", a.DueDate)
	}
	if len(f.ledger.awards) != 1 || f.ledger.awards[0] != 5 {
		t.Errorf("awards = %v, want [5]", f.ledger.awards)
	}
	if c.SharedDueDate != nil {
		t.Error("independent chore must not carry a shared due date")
	}
}

func TestClaimRejectedSameDayMidnightOnce(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetAtMidnightOnce, 1), nil)

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// 23:59 the same UTC day: still blocked.
	f.clk.Set(time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC))
	assertKind(t, f.m.Claim(c.ID, 1), KindNotEligible)
	if ok, reason := f.m.CanClaim(c.ID, 1); ok || reason != string(KindNotEligible) {
		t.Errorf("CanClaim = (%v, %s), want (false, not_eligible)", ok, reason)
	}

	// Midnight: open again.
	f.clk.Set(time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC))
	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Errorf("claim after midnight: %v", err)
	}
}

func TestClaimAlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	assertKind(t, f.m.Claim(c.ID, 1), KindAlreadyClaimed)
}

func TestApproveWithoutClaim(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)
	assertKind(t, f.m.Approve(c.ID, 1), KindNoPendingClaim)
}

func TestDisapproveNeverAdvancesDueDate(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(24 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.m.Disapprove(c.ID, 1); err != nil {
		t.Fatalf("disapprove: %v", err)
	}

	view, _ := f.m.Chore(c.ID)
	a := view.Assignments[0]
	if a.State != model.StatePending {
		t.Errorf("state = %s, want pending", a.State)
	}
	if !a.DueDate.Equal(due) {
		t.Errorf("due date moved on disapproval: %v, want %v", a.DueDate, due)
	}
	if a.LastDisapproved == nil {
		t.Error("last_disapproved not recorded")
	}
	if a.HasPendingClaim() {
		t.Error("claim still pending after disapproval")
	}

	assertKind(t, f.m.Disapprove(c.ID, 1), KindNoPendingClaim)
}

func TestSharedFirstLockAndRelease(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(24 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaSharedFirst, model.ResetAtMidnightOnce, 1, 2), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim by 1: %v", err)
	}
	assertKind(t, f.m.Claim(c.ID, 2), KindConflict)

	// Disapproval re-opens the race.
	if err := f.m.Disapprove(c.ID, 1); err != nil {
		t.Fatalf("disapprove: %v", err)
	}
	if err := f.m.Claim(c.ID, 2); err != nil {
		t.Fatalf("claim by 2 after release: %v", err)
	}

	if err := f.m.Approve(c.ID, 2); err != nil {
		t.Fatalf("approve 2: %v", err)
	}
	view, _ := f.m.Chore(c.ID)
	for _, a := range view.Assignments {
		if a.AssigneeID == 1 && a.State != model.StateCompletedByOther {
			t.Errorf("assignee 1 state = %s, want completed_by_other", a.State)
		}
		if a.AssigneeID == 2 && a.State != model.StateApproved {
			t.Errorf("assignee 2 state = %s, want approved", a.State)
		}
	}
	// Shared due date advanced; only one award paid.
	if view.Chore.SharedDueDate == nil || !view.Chore.SharedDueDate.After(f.clk.Now()) {
		t.Errorf("shared due date did not advance: %v", view.Chore.SharedDueDate)
	}
	if len(f.ledger.awards) != 1 {
		t.Errorf("awards = %v, want exactly one", f.ledger.awards)
	}
	// The locked-out assignee never becomes CLAIMED for this period.
	assertKind(t, f.m.Claim(c.ID, 1), KindNotEligible)
}

func TestSharedFirstClaimSuppressesOverdueForAll(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(-48 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaSharedFirst, model.ResetUponCompletion, 1, 2), tp(due))

	var overdueEvents int
	f.bus.Subscribe(event.ChoreOverdue, func(e event.Event) { overdueEvents++ })

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The period is chore-level, so one assignee's pending claim covers
	// every assignee, not just the claimant.
	if items := f.m.Overdue(); len(items) != 0 {
		t.Errorf("Overdue() = %v, want empty while claim pending", items)
	}
	if n := f.m.RefreshDueStatuses(); n != 0 {
		t.Errorf("refresh changed %d records, want 0", n)
	}
	if overdueEvents != 0 {
		t.Errorf("published %d overdue events, want 0", overdueEvents)
	}
	view, _ := f.m.Chore(c.ID)
	for _, a := range view.Assignments {
		if a.State == model.StateOverdue {
			t.Errorf("assignee %d = %s, want not overdue", a.AssigneeID, a.State)
		}
	}

	// Disapproval releases the claim and with it the cover.
	if err := f.m.Disapprove(c.ID, 1); err != nil {
		t.Fatalf("disapprove: %v", err)
	}
	if items := f.m.Overdue(); len(items) != 2 {
		t.Errorf("Overdue() after release = %v, want both assignees", items)
	}
}

func TestSharedAllAggregation(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(24 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaSharedAll, model.ResetUponCompletion, 1, 2), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	view, _ := f.m.Chore(c.ID)
	if view.State != model.StateClaimedInPart {
		t.Errorf("aggregate = %s, want claimed_in_part", view.State)
	}

	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatalf("approve 1: %v", err)
	}
	view, _ = f.m.Chore(c.ID)
	if view.State != model.StateApprovedInPart {
		t.Errorf("aggregate = %s, want approved_in_part", view.State)
	}
	// Shared due date must not advance until the last assignee approves.
	if !view.Chore.SharedDueDate.Equal(due) {
		t.Errorf("shared due advanced early: %v", view.Chore.SharedDueDate)
	}

	if err := f.m.Claim(c.ID, 2); err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	if err := f.m.Approve(c.ID, 2); err != nil {
		t.Fatalf("approve 2: %v", err)
	}
	view, _ = f.m.Chore(c.ID)
	if view.State != model.StateApproved {
		t.Errorf("aggregate = %s, want approved", view.State)
	}
	if !view.Chore.SharedDueDate.After(due) {
		t.Errorf("shared due did not advance after final approval: %v", view.Chore.SharedDueDate)
	}
	if len(f.ledger.awards) != 2 {
		t.Errorf("awards = %v, want one per assignee", f.ledger.awards)
	}
}

func TestAlternatingNotImplemented(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaAlternating, model.ResetUponCompletion, 1, 2), nil)
	assertKind(t, f.m.Claim(c.ID, 1), KindNotImplemented)
	if ok, reason := f.m.CanClaim(c.ID, 1); ok || reason != string(KindNotImplemented) {
		t.Errorf("CanClaim = (%v, %s)", ok, reason)
	}
}

func TestSetDueDateAuthority(t *testing.T) {
	f := newFixture(t)
	ind := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)
	shared := f.addChore(t, dailyChore(model.CriteriaSharedAll, model.ResetUponCompletion, 1, 2), nil)

	due := f.clk.Now().Add(48 * time.Hour)
	one := int64(1)

	// Per-assignee write on a shared chore is invalid, and vice versa.
	assertKind(t, f.m.SetDueDate(shared.ID, tp(due), &one), KindInvalidAuthority)
	assertKind(t, f.m.SetDueDate(ind.ID, tp(due), nil), KindInvalidAuthority)

	if err := f.m.SetDueDate(ind.ID, tp(due), &one); err != nil {
		t.Fatalf("set per-assignee due: %v", err)
	}
	if err := f.m.SetDueDate(shared.ID, tp(due), nil); err != nil {
		t.Fatalf("set shared due: %v", err)
	}

	// Exactly one representation non-nil, matching the criteria.
	iv, _ := f.m.Chore(ind.ID)
	if iv.Chore.SharedDueDate != nil || iv.Assignments[0].DueDate == nil {
		t.Error("independent chore has wrong due-date authority")
	}
	sv, _ := f.m.Chore(shared.ID)
	if sv.Chore.SharedDueDate == nil {
		t.Error("shared chore missing chore-level due date")
	}
	for _, a := range sv.Assignments {
		if a.DueDate != nil {
			t.Error("shared chore assignment carries a per-assignee due date")
		}
	}
}

func TestSkipDueDate(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(24 * time.Hour)
	one := int64(1)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), tp(due))

	if err := f.m.SkipDueDate(c.ID, &one); err != nil {
		t.Fatalf("skip: %v", err)
	}
	view, _ := f.m.Chore(c.ID)
	want := due.AddDate(0, 0, 1)
	if !view.Assignments[0].DueDate.Equal(want) {
		t.Errorf("due after skip = %v, want %v", view.Assignments[0].DueDate, want)
	}
}

func TestSkipDueDateNilIsNoOp(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)

	queuedBefore := len(f.sink.queued)
	if err := f.m.SkipDueDate(c.ID, nil); err != nil {
		t.Fatalf("skip with nil due date must succeed, got %v", err)
	}
	if len(f.sink.queued) != queuedBefore {
		t.Error("no-op skip queued a write")
	}
}

func TestOverdueScenario(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1, 2), nil)

	one, two := int64(1), int64(2)
	if err := f.m.SetDueDate(c.ID, tp(now.Add(-48*time.Hour)), &one); err != nil {
		t.Fatal(err)
	}
	if err := f.m.SetDueDate(c.ID, tp(now.Add(24*time.Hour)), &two); err != nil {
		t.Fatal(err)
	}

	if n := f.m.RefreshDueStatuses(); n != 1 {
		t.Errorf("refresh changed %d records, want 1", n)
	}
	view, _ := f.m.Chore(c.ID)
	for _, a := range view.Assignments {
		if a.AssigneeID == 1 && a.State != model.StateOverdue {
			t.Errorf("assignee 1 = %s, want overdue", a.State)
		}
		if a.AssigneeID == 2 && a.State != model.StatePending {
			t.Errorf("assignee 2 = %s, want pending", a.State)
		}
	}

	items := f.m.Overdue()
	if len(items) != 1 || items[0].AssigneeID != 1 {
		t.Errorf("Overdue() = %v, want assignee 1 only", items)
	}
}

func TestNeverOverdueDisables(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	chore := dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1, 2)
	chore.Overdue = model.NeverOverdue
	f.addChore(t, chore, tp(now.Add(-48*time.Hour)))

	if n := f.m.RefreshDueStatuses(); n != 0 {
		t.Errorf("refresh changed %d records with never_overdue, want 0", n)
	}
	if items := f.m.Overdue(); len(items) != 0 {
		t.Errorf("Overdue() = %v, want empty", items)
	}
}

func TestResetOverdue(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	one := int64(1)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), tp(now.Add(-48*time.Hour)))

	f.m.RefreshDueStatuses()
	if err := f.m.ResetOverdue(c.ID, &one); err != nil {
		t.Fatalf("reset overdue: %v", err)
	}
	view, _ := f.m.Chore(c.ID)
	if view.Assignments[0].State != model.StatePending {
		t.Errorf("state = %s, want pending", view.Assignments[0].State)
	}

	// Re-invoking with nothing overdue is an idempotent no-op.
	queued := len(f.sink.queued)
	if err := f.m.ResetOverdue(c.ID, &one); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if len(f.sink.queued) != queued {
		t.Error("idempotent reset queued a write")
	}
}

func TestPeriodReentryAfterApproval(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(12 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetAtMidnightOnce, 1), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatal(err)
	}

	// Still the same day: refresh leaves the approval in place.
	f.m.RefreshDueStatuses()
	view, _ := f.m.Chore(c.ID)
	if view.Assignments[0].State != model.StateApproved {
		t.Fatalf("state = %s, want approved until the next day", view.Assignments[0].State)
	}

	// Next day: the record re-enters PENDING.
	f.clk.Advance(24 * time.Hour)
	f.m.RefreshDueStatuses()
	view, _ = f.m.Chore(c.ID)
	if view.Assignments[0].State != model.StatePending {
		t.Errorf("state = %s, want pending after period re-entry", view.Assignments[0].State)
	}
}

func TestLedgerFailureAbortsApprove(t *testing.T) {
	f := newFixture(t)
	due := f.clk.Now().Add(24 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatal(err)
	}

	f.ledger.fail = true
	assertKind(t, f.m.Approve(c.ID, 1), KindLedgerFailure)

	// The mutation rolled back: still claimed, due date unmoved.
	view, _ := f.m.Chore(c.ID)
	a := view.Assignments[0]
	if a.State != model.StateClaimed {
		t.Errorf("state = %s, want claimed after aborted approve", a.State)
	}
	if !a.DueDate.Equal(due) {
		t.Errorf("due date moved on aborted approve: %v", a.DueDate)
	}
	if a.LastApproved != nil {
		t.Error("last_approved recorded despite abort")
	}

	// Retry succeeds once the ledger recovers.
	f.ledger.fail = false
	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
}

func TestEventPublishedOnlyAfterQueue(t *testing.T) {
	f := newFixture(t)
	var order []string
	f.sink.log = &order
	f.bus.Subscribe(event.ChoreApproved, func(e event.Event) {
		order = append(order, "publish")
	})

	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)
	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatal(err)
	}
	order = order[:0]
	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatal(err)
	}

	if len(order) != 2 || order[0] != "queue" || order[1] != "publish" {
		t.Errorf("order = %v, want [queue publish]", order)
	}
}

func TestQueueFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)

	published := false
	f.bus.Subscribe(event.ChoreClaimed, func(e event.Event) { published = true })

	f.sink.fail = true
	assertKind(t, f.m.Claim(c.ID, 1), KindPersistence)
	if published {
		t.Error("event published for a mutation that failed to queue")
	}
	view, _ := f.m.Chore(c.ID)
	if view.Assignments[0].State != model.StatePending {
		t.Errorf("state = %s, want rollback to pending", view.Assignments[0].State)
	}
}

func TestQueriesArePure(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetAtMidnightOnce, 1), nil)
	f.m.Claim(c.ID, 1)

	ok1, r1 := f.m.CanApprove(c.ID, 1)
	ok2, r2 := f.m.CanApprove(c.ID, 1)
	if ok1 != ok2 || r1 != r2 {
		t.Errorf("CanApprove not stable: (%v,%s) vs (%v,%s)", ok1, r1, ok2, r2)
	}

	p1 := f.m.PendingClaims()
	p2 := f.m.PendingClaims()
	if len(p1) != 1 || len(p2) != 1 || p1[0] != p2[0] {
		t.Errorf("PendingClaims not stable: %v vs %v", p1, p2)
	}
}

func TestCatchUpAdvanceSkipsMissedPeriods(t *testing.T) {
	f := newFixture(t)
	// Due three days ago; approving now must land the next due date in the
	// future in one jump, anchored to the original due date.
	due := f.clk.Now().Add(-72 * time.Hour)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), tp(due))

	if err := f.m.Claim(c.ID, 1); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Approve(c.ID, 1); err != nil {
		t.Fatal(err)
	}

	view, _ := f.m.Chore(c.ID)
	got := view.Assignments[0].DueDate
	want := due.AddDate(0, 0, 4) // first daily step after "now"
	if !got.Equal(want) {
		t.Errorf("caught-up due = %v, want %v", got, want)
	}
}

func TestRemoveChoreCleansUp(t *testing.T) {
	f := newFixture(t)
	c := f.addChore(t, dailyChore(model.CriteriaIndependent, model.ResetUponCompletion, 1), nil)

	deleted := false
	f.bus.Subscribe(event.ChoreDeleted, func(e event.Event) { deleted = e.ChoreID == c.ID })

	if err := f.m.RemoveChore(c.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !deleted {
		t.Error("delete event not published")
	}
	if _, err := f.m.Chore(c.ID); !IsKind(err, KindNotFound) {
		t.Errorf("chore still readable after delete: %v", err)
	}
	// Deleting again is a no-op.
	if err := f.m.RemoveChore(c.ID); err != nil {
		t.Errorf("second remove: %v", err)
	}
}
