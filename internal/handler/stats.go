package handler

import (
	"log/slog"
	"net/http"

	"github.com/hearthward/choreflow/internal/gamify"
	"github.com/hearthward/choreflow/internal/model"
	"github.com/hearthward/choreflow/internal/stats"
	"github.com/hearthward/choreflow/internal/store"
)

// StatsHandler serves the derived read models: the statistics snapshot, the
// leaderboard, and per-member point histories. All of these are cached;
// requests never trigger a recompute.
type StatsHandler struct {
	stats   *stats.Manager
	gamify  *gamify.Manager
	ledger  *store.LedgerStore
	tallies *store.TallyStore
	logger  *slog.Logger
}

func NewStatsHandler(sm *stats.Manager, gm *gamify.Manager, ledger *store.LedgerStore, tallies *store.TallyStore, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: sm, gamify: gm, ledger: ledger, tallies: tallies, logger: logger}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

func (h *StatsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.gamify.Leaderboard())
}

func (h *StatsHandler) MemberPoints(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	balance, err := h.ledger.GetBalance(id)
	if err != nil {
		h.logger.Error("get balance", "member_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get balance")
		return
	}

	entries, err := h.ledger.ListByMember(id, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list ledger entries")
		return
	}
	if entries == nil {
		entries = []model.PointEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance": balance,
		"history": entries,
	})
}

// Tallies returns the approval history for a date range, for charting.
func (h *StatsHandler) Tallies(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required (YYYY-MM-DD)")
		return
	}

	tallies, err := h.tallies.Range(model.TallyKindApproved, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query tallies")
		return
	}
	if tallies == nil {
		tallies = []model.Tally{}
	}
	writeJSON(w, http.StatusOK, tallies)
}
