package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hearthward/choreflow/internal/workflow"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func parseInt64Query(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
}

// writeWorkflowError maps workflow error kinds onto HTTP statuses. The
// reason code travels in the body so clients can branch without parsing the
// message.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var we *workflow.Error
	if !errors.As(err, &we) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch we.Kind {
	case workflow.KindNotFound:
		status = http.StatusNotFound
	case workflow.KindConflict, workflow.KindAlreadyClaimed:
		status = http.StatusConflict
	case workflow.KindNotEligible, workflow.KindNoPendingClaim, workflow.KindInvalidAuthority:
		status = http.StatusUnprocessableEntity
	case workflow.KindNotImplemented:
		status = http.StatusNotImplemented
	case workflow.KindLedgerFailure, workflow.KindPersistence:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{
		"error": we.Reason,
		"code":  string(we.Kind),
	})
}
