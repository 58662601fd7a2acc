package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hearthward/choreflow/internal/model"
	"github.com/hearthward/choreflow/internal/store"
	"github.com/hearthward/choreflow/internal/workflow"
)

type ChoreHandler struct {
	manager     *workflow.Manager
	memberStore *store.FamilyMemberStore
	logger      *slog.Logger
}

func NewChoreHandler(m *workflow.Manager, ms *store.FamilyMemberStore, logger *slog.Logger) *ChoreHandler {
	return &ChoreHandler{manager: m, memberStore: ms, logger: logger}
}

type choreRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Points      int                  `json:"points"`
	Recurrence  model.RecurrenceRule `json:"recurrence"`
	Criteria    string               `json:"completion_criteria"`
	ResetType   string               `json:"approval_reset_type"`
	Overdue     string               `json:"overdue_handling"`
	AssigneeIDs []int64              `json:"assignee_ids"`
	DueDate     *time.Time           `json:"due_date"`
}

func (h *ChoreHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req choreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	for _, id := range req.AssigneeIDs {
		member, err := h.memberStore.GetByID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to check family member")
			return
		}
		if member == nil {
			writeError(w, http.StatusBadRequest, "family member not found")
			return
		}
	}

	chore := model.Chore{
		Name:        req.Name,
		Description: req.Description,
		Points:      req.Points,
		Recurrence:  req.Recurrence,
		Criteria:    model.CompletionCriteria(req.Criteria),
		ResetType:   model.ApprovalResetType(req.ResetType),
		Overdue:     model.OverdueHandling(req.Overdue),
		AssigneeIDs: req.AssigneeIDs,
	}

	created, err := h.manager.AddChore(chore, req.DueDate)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ChoreHandler) List(w http.ResponseWriter, r *http.Request) {
	views := h.manager.Chores()
	if views == nil {
		views = []workflow.ChoreView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *ChoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	view, err := h.manager.Chore(id)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChoreHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req choreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	updated, err := h.manager.UpdateChoreMeta(id, req.Name, req.Description, req.Points)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ChoreHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.manager.RemoveChore(id); err != nil {
		writeWorkflowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	AssigneeID int64 `json:"assignee_id"`
	// ApproverID and PIN authenticate approvals/disapprovals when the
	// approving member has a PIN configured.
	ApproverID *int64 `json:"approver_id,omitempty"`
	PIN        string `json:"pin,omitempty"`
}

func (h *ChoreHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.action(w, r)
	if !ok {
		return
	}
	if err := h.manager.Claim(id, req.AssigneeID); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

func (h *ChoreHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.action(w, r)
	if !ok {
		return
	}
	if !h.verifyApprover(w, req) {
		return
	}
	if err := h.manager.Approve(id, req.AssigneeID); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *ChoreHandler) Disapprove(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.action(w, r)
	if !ok {
		return
	}
	if !h.verifyApprover(w, req) {
		return
	}
	if err := h.manager.Disapprove(id, req.AssigneeID); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disapproved"})
}

type dueDateRequest struct {
	DueDate    *time.Time `json:"due_date"`
	AssigneeID *int64     `json:"assignee_id,omitempty"`
}

func (h *ChoreHandler) SetDueDate(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req dueDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := h.manager.SetDueDate(id, req.DueDate, req.AssigneeID); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "due date updated"})
}

func (h *ChoreHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.administrative(w, r, h.manager.SkipDueDate, "skipped")
}

func (h *ChoreHandler) ResetOverdue(w http.ResponseWriter, r *http.Request) {
	h.administrative(w, r, h.manager.ResetOverdue, "overdue reset")
}

func (h *ChoreHandler) administrative(w http.ResponseWriter, r *http.Request, op func(int64, *int64) error, status string) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req dueDateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	if err := op(id, req.AssigneeID); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *ChoreHandler) CanClaim(w http.ResponseWriter, r *http.Request) {
	h.eligibility(w, r, h.manager.CanClaim)
}

func (h *ChoreHandler) CanApprove(w http.ResponseWriter, r *http.Request) {
	h.eligibility(w, r, h.manager.CanApprove)
}

func (h *ChoreHandler) eligibility(w http.ResponseWriter, r *http.Request, check func(int64, int64) (bool, string)) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	assigneeID, err := parseInt64Query(r, "assignee_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "assignee_id is required")
		return
	}

	allowed, reason := check(id, assigneeID)
	resp := map[string]any{"allowed": allowed}
	if reason != "" {
		resp["reason"] = reason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ChoreHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	items := h.manager.Overdue()
	if items == nil {
		items = []workflow.OverdueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ChoreHandler) PendingClaims(w http.ResponseWriter, r *http.Request) {
	claims := h.manager.PendingClaims()
	if claims == nil {
		claims = []workflow.PendingClaim{}
	}
	writeJSON(w, http.StatusOK, claims)
}

func (h *ChoreHandler) action(w http.ResponseWriter, r *http.Request) (int64, actionRequest, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, actionRequest{}, false
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return 0, actionRequest{}, false
	}
	return id, req, true
}

// verifyApprover checks the approving member's PIN when one is set. A member
// without a PIN approves freely; a member with one must present it.
func (h *ChoreHandler) verifyApprover(w http.ResponseWriter, req actionRequest) bool {
	if req.ApproverID == nil {
		return true
	}

	hash, err := h.memberStore.GetPINHash(*req.ApproverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check PIN")
		return false
	}
	if hash == "" {
		return true
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.PIN)); err != nil {
		writeError(w, http.StatusUnauthorized, "incorrect PIN")
		return false
	}
	return true
}
