package gamify

import (
	"fmt"

	"github.com/hearthward/choreflow/internal/model"
)

// EntryAppender is the slice of the ledger store the adapter needs.
type EntryAppender interface {
	Append(memberID int64, choreID *int64, points int, reason string) (*model.PointEntry, error)
}

// Ledger adapts the persisted points ledger to the workflow manager's
// collaborator interface. Awarding happens synchronously inside approve, so
// a failed append aborts (and rolls back) the approval.
type Ledger struct {
	entries EntryAppender
}

func NewLedger(entries EntryAppender) *Ledger {
	return &Ledger{entries: entries}
}

// AwardPoints appends one earn entry. Zero-point chores still get an entry
// so the history shows the approval.
func (l *Ledger) AwardPoints(memberID, choreID int64, points int, reason string) error {
	if points < 0 {
		return fmt.Errorf("award points: negative amount %d", points)
	}
	if _, err := l.entries.Append(memberID, &choreID, points, reason); err != nil {
		return fmt.Errorf("award points: %w", err)
	}
	return nil
}

// Spend appends one negative entry, e.g. a reward redemption.
func (l *Ledger) Spend(memberID int64, points int, reason string) error {
	if points <= 0 {
		return fmt.Errorf("spend points: non-positive amount %d", points)
	}
	if _, err := l.entries.Append(memberID, nil, -points, reason); err != nil {
		return fmt.Errorf("spend points: %w", err)
	}
	return nil
}
