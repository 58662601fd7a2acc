package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hearthward/choreflow/internal/backup"
	"github.com/hearthward/choreflow/internal/gamify"
	"github.com/hearthward/choreflow/internal/handler"
	"github.com/hearthward/choreflow/internal/middleware"
	"github.com/hearthward/choreflow/internal/notify"
	"github.com/hearthward/choreflow/internal/stats"
	"github.com/hearthward/choreflow/internal/store"
	ws "github.com/hearthward/choreflow/internal/websocket"
	"github.com/hearthward/choreflow/internal/workflow"
)

// Deps are the wired components the server exposes over HTTP. Construction
// and lifecycle stay in main; the server only routes.
type Deps struct {
	Manager     *workflow.Manager
	Stats       *stats.Manager
	Gamify      *gamify.Manager
	Hub         *ws.Hub
	Members     *store.FamilyMemberStore
	Ledger      *store.LedgerStore
	Tallies     *store.TallyStore
	Push        *store.PushStore
	PushService *notify.Service
	Backup      *backup.Manager
}

type Server struct {
	deps        Deps
	choreH      *handler.ChoreHandler
	memberH     *handler.FamilyMemberHandler
	statsH      *handler.StatsHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:        deps,
		choreH:      handler.NewChoreHandler(deps.Manager, deps.Members, logger.With("component", "chore")),
		memberH:     handler.NewFamilyMemberHandler(deps.Members, logger.With("component", "family_member")),
		statsH:      handler.NewStatsHandler(deps.Stats, deps.Gamify, deps.Ledger, deps.Tallies, logger.With("component", "stats")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
	if deps.PushService != nil {
		s.pushH = handler.NewPushHandler(deps.Push, deps.PushService, logger.With("component", "push"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Family member management
	mux.HandleFunc("GET /api/family-members", s.memberH.List)
	mux.HandleFunc("POST /api/family-members", s.memberH.Create)
	mux.HandleFunc("PUT /api/family-members/{id}", s.memberH.Update)
	mux.HandleFunc("DELETE /api/family-members/{id}", s.memberH.Delete)
	mux.HandleFunc("POST /api/family-members/{id}/pin", s.memberH.SetPIN)
	mux.HandleFunc("DELETE /api/family-members/{id}/pin", s.memberH.ClearPIN)
	mux.HandleFunc("POST /api/family-members/{id}/pin/verify", s.rateLimited(s.memberH.VerifyPIN))

	// Chore management
	mux.HandleFunc("POST /api/chores", s.choreH.Create)
	mux.HandleFunc("GET /api/chores", s.choreH.List)
	mux.HandleFunc("GET /api/chores/{id}", s.choreH.Get)
	mux.HandleFunc("PUT /api/chores/{id}", s.choreH.Update)
	mux.HandleFunc("DELETE /api/chores/{id}", s.choreH.Delete)

	// Workflow actions
	mux.HandleFunc("POST /api/chores/{id}/claim", s.choreH.Claim)
	mux.HandleFunc("POST /api/chores/{id}/approve", s.rateLimited(s.choreH.Approve))
	mux.HandleFunc("POST /api/chores/{id}/disapprove", s.rateLimited(s.choreH.Disapprove))
	mux.HandleFunc("POST /api/chores/{id}/skip", s.choreH.Skip)
	mux.HandleFunc("POST /api/chores/{id}/reset-overdue", s.choreH.ResetOverdue)
	mux.HandleFunc("PUT /api/chores/{id}/due-date", s.choreH.SetDueDate)

	// Queries
	mux.HandleFunc("GET /api/chores/{id}/can-claim", s.choreH.CanClaim)
	mux.HandleFunc("GET /api/chores/{id}/can-approve", s.choreH.CanApprove)
	mux.HandleFunc("GET /api/overdue", s.choreH.Overdue)
	mux.HandleFunc("GET /api/pending-claims", s.choreH.PendingClaims)
	mux.HandleFunc("GET /api/stats", s.statsH.Stats)
	mux.HandleFunc("GET /api/stats/tallies", s.statsH.Tallies)
	mux.HandleFunc("GET /api/leaderboard", s.statsH.Leaderboard)
	mux.HandleFunc("GET /api/members/{id}/points", s.statsH.MemberPoints)

	// Push subscriptions
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	}

	// Realtime feed
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.deps.Hub, s.logger.With("component", "websocket")))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.deps.Backup != nil && s.deps.Backup.Enabled() {
		resp["backup"] = s.deps.Backup.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// rateLimited guards PIN-verified endpoints against brute forcing.
func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
