// Package gamify derives the fun layer from workflow events: the points
// ledger, the leaderboard, and per-member approval streaks. Like the stats
// manager it recomputes behind its own trailing-edge debounce and publishes
// a refresh event when done.
package gamify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/choreflow/internal/clock"
	"github.com/hearthward/choreflow/internal/debounce"
	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/model"
)

// streakLookback bounds how far back the streak computation reads tallies.
const streakLookback = 60

// BalanceSource is the slice of the ledger store the leaderboard reads.
type BalanceSource interface {
	GetAllBalances() ([]model.PointBalance, error)
}

// TallySource reads the persisted daily approval counters for streaks.
type TallySource interface {
	Range(kind, fromDay, toDay string) ([]model.Tally, error)
}

// Standing is one leaderboard row.
type Standing struct {
	model.PointBalance
	Streak int `json:"streak"`
}

// Leaderboard is the recomputed ranking snapshot.
type Leaderboard struct {
	Standings   []Standing `json:"standings"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Manager keeps the leaderboard current behind a debounce window.
type Manager struct {
	mu       sync.RWMutex
	balances BalanceSource
	tallies  TallySource
	bus      *event.Bus
	clk      clock.Clock
	timer    *debounce.Timer
	logger   *slog.Logger
	board    Leaderboard
}

// New wires a gamify manager onto the bus. Only approvals change standings,
// so only ChoreApproved triggers a recompute.
func New(balances BalanceSource, tallies TallySource, bus *event.Bus, clk clock.Clock, window time.Duration, logger *slog.Logger) *Manager {
	if window <= 0 {
		window = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		balances: balances,
		tallies:  tallies,
		bus:      bus,
		clk:      clk,
		logger:   logger,
	}
	m.timer = debounce.New(window, m.refresh)
	bus.Subscribe(event.ChoreApproved, func(event.Event) { m.timer.Trigger() })
	return m
}

// refresh recomputes the full leaderboard and publishes GamifyRefreshed.
func (m *Manager) refresh() {
	now := m.clk.Now().UTC()

	balances, err := m.balances.GetAllBalances()
	if err != nil {
		m.logger.Error("recompute leaderboard", "error", err)
		return
	}
	streaks, err := m.computeStreaks(now)
	if err != nil {
		m.logger.Error("compute streaks", "error", err)
		streaks = nil
	}

	board := Leaderboard{GeneratedAt: now}
	for _, b := range balances {
		board.Standings = append(board.Standings, Standing{
			PointBalance: b,
			Streak:       streaks[b.MemberID],
		})
	}

	m.mu.Lock()
	m.board = board
	m.mu.Unlock()

	m.bus.Publish(event.Event{Type: event.GamifyRefreshed, At: now})
}

// computeStreaks counts, per member, the run of consecutive days with at
// least one approval, ending today or yesterday (a streak survives until a
// full day is missed).
func (m *Manager) computeStreaks(now time.Time) (map[int64]int, error) {
	from := now.AddDate(0, 0, -streakLookback).Format("2006-01-02")
	to := now.Format("2006-01-02")

	tallies, err := m.tallies.Range(model.TallyKindApproved, from, to)
	if err != nil {
		return nil, err
	}

	active := make(map[int64]map[string]bool)
	for _, t := range tallies {
		if t.Count <= 0 {
			continue
		}
		days, ok := active[t.MemberID]
		if !ok {
			days = make(map[string]bool)
			active[t.MemberID] = days
		}
		days[t.Day] = true
	}

	streaks := make(map[int64]int)
	for memberID, days := range active {
		day := now
		if !days[day.Format("2006-01-02")] {
			// No approval yet today: streak may still be alive from yesterday.
			day = day.AddDate(0, 0, -1)
		}
		n := 0
		for days[day.Format("2006-01-02")] {
			n++
			day = day.AddDate(0, 0, -1)
		}
		streaks[memberID] = n
	}
	return streaks, nil
}

// Leaderboard returns the last computed standings.
func (m *Manager) Leaderboard() Leaderboard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	board := m.board
	board.Standings = append([]Standing(nil), m.board.Standings...)
	return board
}

// Flush forces a pending recompute to run now.
func (m *Manager) Flush() {
	m.timer.Flush()
}

// Stop cancels the debounce timer.
func (m *Manager) Stop() {
	m.timer.Stop()
}
