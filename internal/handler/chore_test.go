package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hearthward/choreflow/internal/clock"
	"github.com/hearthward/choreflow/internal/database"
	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/gamify"
	"github.com/hearthward/choreflow/internal/model"
	"github.com/hearthward/choreflow/internal/persist"
	"github.com/hearthward/choreflow/internal/store"
	"github.com/hearthward/choreflow/internal/workflow"
)

type testEnv struct {
	handler *ChoreHandler
	members *store.FamilyMemberStore
	manager *workflow.Manager
	mux     *http.ServeMux
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	choreStore := store.NewChoreStore(db)
	memberStore := store.NewFamilyMemberStore(db)
	ledger := gamify.NewLedger(store.NewLedgerStore(db))

	clk := clock.NewFixed(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	bus := event.New(nil)
	coordinator := persist.New(choreStore.SaveSnapshot, time.Hour, slog.Default())
	manager := workflow.New(clk, ledger, coordinator, bus, slog.Default())

	h := NewChoreHandler(manager, memberStore, slog.Default())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chores", h.Create)
	mux.HandleFunc("GET /api/chores", h.List)
	mux.HandleFunc("GET /api/chores/{id}", h.Get)
	mux.HandleFunc("POST /api/chores/{id}/claim", h.Claim)
	mux.HandleFunc("POST /api/chores/{id}/approve", h.Approve)
	mux.HandleFunc("POST /api/chores/{id}/disapprove", h.Disapprove)
	mux.HandleFunc("GET /api/chores/{id}/can-claim", h.CanClaim)
	mux.HandleFunc("GET /api/pending-claims", h.PendingClaims)

	return &testEnv{handler: h, members: memberStore, manager: manager, mux: mux}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createChore(t *testing.T, memberID int64) int64 {
	t.Helper()
	rec := e.do(t, "POST", "/api/chores", map[string]any{
		"name":                "Dishes",
		"points":              5,
		"recurrence":          map[string]any{"interval": 1, "unit": "days"},
		"completion_criteria": "independent",
		"approval_reset_type": "upon_completion",
		"overdue_handling":    "at_due_date",
		"assignee_ids":        []int64{memberID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chore: status %d body %s", rec.Code, rec.Body.String())
	}
	var created model.Chore
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created chore: %v", err)
	}
	return created.ID
}

func TestClaimApproveOverHTTP(t *testing.T) {
	env := setupEnv(t)
	m, err := env.members.Create("Ada", "", "")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	choreID := env.createChore(t, m.ID)

	rec := env.do(t, "POST", fmt.Sprintf("/api/chores/%d/claim", choreID),
		map[string]any{"assignee_id": m.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/api/pending-claims", nil)
	var claims []workflow.PendingClaim
	if err := json.Unmarshal(rec.Body.Bytes(), &claims); err != nil {
		t.Fatalf("decode pending claims: %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("pending claims = %d, want 1", len(claims))
	}

	rec = env.do(t, "POST", fmt.Sprintf("/api/chores/%d/approve", choreID),
		map[string]any{"assignee_id": m.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestDoubleClaimReturnsConflict(t *testing.T) {
	env := setupEnv(t)
	m, _ := env.members.Create("Ada", "", "")
	choreID := env.createChore(t, m.ID)

	body := map[string]any{"assignee_id": m.ID}
	env.do(t, "POST", fmt.Sprintf("/api/chores/%d/claim", choreID), body)
	rec := env.do(t, "POST", fmt.Sprintf("/api/chores/%d/claim", choreID), body)

	if rec.Code != http.StatusConflict {
		t.Fatalf("second claim: status %d, want 409", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != string(workflow.KindAlreadyClaimed) {
		t.Errorf("code = %q, want %q", resp["code"], workflow.KindAlreadyClaimed)
	}
}

func TestApproveWithoutClaimRejected(t *testing.T) {
	env := setupEnv(t)
	m, _ := env.members.Create("Ada", "", "")
	choreID := env.createChore(t, m.ID)

	rec := env.do(t, "POST", fmt.Sprintf("/api/chores/%d/approve", choreID),
		map[string]any{"assignee_id": m.ID})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("approve without claim: status %d, want 422", rec.Code)
	}
}

func TestUnknownChoreReturns404(t *testing.T) {
	env := setupEnv(t)
	rec := env.do(t, "POST", "/api/chores/999/claim", map[string]any{"assignee_id": 1})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("claim unknown chore: status %d, want 404", rec.Code)
	}
}

func TestAlternatingChoreNotImplemented(t *testing.T) {
	env := setupEnv(t)
	a, _ := env.members.Create("Ada", "", "")
	b, _ := env.members.Create("Ben", "", "")

	rec := env.do(t, "POST", "/api/chores", map[string]any{
		"name":                "Laundry",
		"completion_criteria": "alternating",
		"approval_reset_type": "upon_completion",
		"overdue_handling":    "never_overdue",
		"assignee_ids":        []int64{a.ID, b.ID},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create alternating chore: status %d body %s", rec.Code, rec.Body.String())
	}
	var created model.Chore
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = env.do(t, "POST", fmt.Sprintf("/api/chores/%d/claim", created.ID),
		map[string]any{"assignee_id": a.ID})
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("claim alternating: status %d, want 501", rec.Code)
	}
}

func TestApproveRequiresPINWhenSet(t *testing.T) {
	env := setupEnv(t)
	kid, _ := env.members.Create("Kid", "", "")
	parent, _ := env.members.Create("Parent", "", "")

	// Parent sets a PIN through the store the way the PIN endpoint would.
	hash, err := bcrypt.GenerateFromPassword([]byte("4321"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	if err := env.members.SetPIN(parent.ID, string(hash)); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	choreID := env.createChore(t, kid.ID)
	env.do(t, "POST", fmt.Sprintf("/api/chores/%d/claim", choreID),
		map[string]any{"assignee_id": kid.ID})

	rec := env.do(t, "POST", fmt.Sprintf("/api/chores/%d/approve", choreID),
		map[string]any{"assignee_id": kid.ID, "approver_id": parent.ID, "pin": "0000"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("approve with wrong PIN: status %d, want 401", rec.Code)
	}

	rec = env.do(t, "POST", fmt.Sprintf("/api/chores/%d/approve", choreID),
		map[string]any{"assignee_id": kid.ID, "approver_id": parent.ID, "pin": "4321"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve with correct PIN: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCanClaimQuery(t *testing.T) {
	env := setupEnv(t)
	m, _ := env.members.Create("Ada", "", "")
	choreID := env.createChore(t, m.ID)

	rec := env.do(t, "GET", fmt.Sprintf("/api/chores/%d/can-claim?assignee_id=%d", choreID, m.ID), nil)
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["allowed"] != true {
		t.Errorf("can-claim = %v, want allowed", resp)
	}

	env.do(t, "POST", fmt.Sprintf("/api/chores/%d/claim", choreID),
		map[string]any{"assignee_id": m.ID})

	rec = env.do(t, "GET", fmt.Sprintf("/api/chores/%d/can-claim?assignee_id=%d", choreID, m.ID), nil)
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["allowed"] != false {
		t.Errorf("can-claim after claim = %v, want not allowed", resp)
	}
}
