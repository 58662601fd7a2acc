package model

import "time"

// PointEntry is one row in the append-only points ledger. Positive points are
// chore approvals, negative points are reward spends.
type PointEntry struct {
	ID       int64     `json:"id"`
	MemberID int64     `json:"member_id"`
	ChoreID  *int64    `json:"chore_id,omitempty"`
	Points   int       `json:"points"`
	Reason   string    `json:"reason"`
	EarnedAt time.Time `json:"earned_at"`
}

// PointBalance is the derived earned/spent balance for one member.
type PointBalance struct {
	MemberID    int64  `json:"member_id"`
	MemberName  string `json:"member_name"`
	TotalEarned int    `json:"total_earned"`
	TotalSpent  int    `json:"total_spent"`
	Balance     int    `json:"balance"`
}

// Tally is one persisted historical bucket counter, e.g. approvals by a
// member on a given UTC day. Tallies are append-only: rows are only ever
// inserted or incremented, never recomputed.
type Tally struct {
	MemberID int64  `json:"member_id"`
	Day      string `json:"day"` // YYYY-MM-DD, UTC
	Kind     string `json:"kind"`
	Count    int    `json:"count"`
}

const (
	TallyKindApproved    = "approved"
	TallyKindDisapproved = "disapproved"
)
