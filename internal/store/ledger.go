package store

import (
	"database/sql"
	"fmt"

	"github.com/hearthward/choreflow/internal/model"
)

// LedgerStore is the append-only points ledger. Balances are always derived
// by summing entries; no running total is stored.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const entryCols = `id, member_id, chore_id, points, reason, earned_at`

func scanEntry(scanner interface{ Scan(...any) error }) (*model.PointEntry, error) {
	var e model.PointEntry
	var choreID sql.NullInt64

	err := scanner.Scan(&e.ID, &e.MemberID, &choreID, &e.Points, &e.Reason, &e.EarnedAt)
	if err != nil {
		return nil, err
	}

	if choreID.Valid {
		e.ChoreID = &choreID.Int64
	}
	return &e, nil
}

// Append inserts one ledger entry. Positive points earn, negative spend.
func (s *LedgerStore) Append(memberID int64, choreID *int64, points int, reason string) (*model.PointEntry, error) {
	var cID sql.NullInt64
	if choreID != nil {
		cID = sql.NullInt64{Int64: *choreID, Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO point_ledger (member_id, chore_id, points, reason) VALUES (?, ?, ?, ?)`,
		memberID, cID, points, reason,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	row := s.db.QueryRow(`SELECT `+entryCols+` FROM point_ledger WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

// ListByMember returns a member's ledger entries, newest first.
func (s *LedgerStore) ListByMember(memberID int64, limit int) ([]model.PointEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+entryCols+` FROM point_ledger WHERE member_id = ? ORDER BY earned_at DESC, id DESC LIMIT ?`,
		memberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []model.PointEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetBalance computes earned, spent and net balance for one member.
func (s *LedgerStore) GetBalance(memberID int64) (*model.PointBalance, error) {
	var earned, spent int
	err := s.db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN points > 0 THEN points ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN points < 0 THEN -points ELSE 0 END), 0)
		 FROM point_ledger WHERE member_id = ?`,
		memberID,
	).Scan(&earned, &spent)
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}

	var name string
	err = s.db.QueryRow(`SELECT name FROM family_members WHERE id = ?`, memberID).Scan(&name)
	if err == sql.ErrNoRows {
		name = "Unknown"
	} else if err != nil {
		return nil, fmt.Errorf("get member name: %w", err)
	}

	return &model.PointBalance{
		MemberID:    memberID,
		MemberName:  name,
		TotalEarned: earned,
		TotalSpent:  spent,
		Balance:     earned - spent,
	}, nil
}

// GetAllBalances returns balances for every family member, highest balance
// first. Members with no ledger entries appear with zero balances.
func (s *LedgerStore) GetAllBalances() ([]model.PointBalance, error) {
	rows, err := s.db.Query(
		`SELECT m.id, m.name,
			COALESCE(SUM(CASE WHEN l.points > 0 THEN l.points ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN l.points < 0 THEN -l.points ELSE 0 END), 0)
		 FROM family_members m
		 LEFT JOIN point_ledger l ON l.member_id = m.id
		 GROUP BY m.id, m.name
		 ORDER BY 3 - 4 DESC, m.sort_order ASC, m.name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []model.PointBalance
	for rows.Next() {
		var b model.PointBalance
		if err := rows.Scan(&b.MemberID, &b.MemberName, &b.TotalEarned, &b.TotalSpent); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		b.Balance = b.TotalEarned - b.TotalSpent
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
