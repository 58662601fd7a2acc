package store

import (
	"database/sql"
	"fmt"

	"github.com/hearthward/choreflow/internal/model"
)

// TallyStore keeps persisted historical counters (approvals and disapprovals
// per member per UTC day). Rows are inserted or incremented, never rebuilt.
type TallyStore struct {
	db *sql.DB
}

func NewTallyStore(db *sql.DB) *TallyStore {
	return &TallyStore{db: db}
}

// Increment bumps the counter for (member, day, kind) by one, creating the
// row if needed.
func (s *TallyStore) Increment(memberID int64, day, kind string) error {
	_, err := s.db.Exec(
		`INSERT INTO tallies (member_id, day, kind, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT (member_id, day, kind) DO UPDATE SET count = count + 1`,
		memberID, day, kind,
	)
	if err != nil {
		return fmt.Errorf("increment tally: %w", err)
	}
	return nil
}

// Get returns the count for one (member, day, kind), zero if absent.
func (s *TallyStore) Get(memberID int64, day, kind string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT count FROM tallies WHERE member_id = ? AND day = ? AND kind = ?`,
		memberID, day, kind,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get tally: %w", err)
	}
	return count, nil
}

// Range returns all tallies of one kind between fromDay and toDay inclusive
// (YYYY-MM-DD strings compare correctly lexicographically).
func (s *TallyStore) Range(kind, fromDay, toDay string) ([]model.Tally, error) {
	rows, err := s.db.Query(
		`SELECT member_id, day, kind, count FROM tallies
		 WHERE kind = ? AND day >= ? AND day <= ?
		 ORDER BY day ASC, member_id ASC`,
		kind, fromDay, toDay,
	)
	if err != nil {
		return nil, fmt.Errorf("range tallies: %w", err)
	}
	defer rows.Close()

	var tallies []model.Tally
	for rows.Next() {
		var t model.Tally
		if err := rows.Scan(&t.MemberID, &t.Day, &t.Kind, &t.Count); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		tallies = append(tallies, t)
	}
	return tallies, rows.Err()
}

// TotalsByMember sums one kind of tally per member across all days.
func (s *TallyStore) TotalsByMember(kind string) (map[int64]int, error) {
	rows, err := s.db.Query(
		`SELECT member_id, COALESCE(SUM(count), 0) FROM tallies WHERE kind = ? GROUP BY member_id`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("total tallies: %w", err)
	}
	defer rows.Close()

	totals := make(map[int64]int)
	for rows.Next() {
		var memberID int64
		var total int
		if err := rows.Scan(&memberID, &total); err != nil {
			return nil, fmt.Errorf("scan tally total: %w", err)
		}
		totals[memberID] = total
	}
	return totals, rows.Err()
}
