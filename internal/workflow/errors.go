package workflow

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable reason code carried by every workflow error,
// so the HTTP layer can map failures to precise responses without string
// matching.
type Kind string

const (
	// KindNotEligible means the timing policy forbids the action right now.
	KindNotEligible Kind = "not_eligible"
	// KindConflict means a shared-first lock is held by another assignee.
	KindConflict Kind = "conflict"
	// KindAlreadyClaimed means the same assignee already holds a pending claim.
	KindAlreadyClaimed Kind = "already_claimed"
	// KindNoPendingClaim means approve/disapprove was called without a claim.
	KindNoPendingClaim Kind = "no_pending_claim"
	// KindInvalidAuthority means a per-assignee due-date write on a shared
	// chore, or a chore-level write on an independent one.
	KindInvalidAuthority Kind = "invalid_authority"
	// KindNotImplemented marks the alternating rotation variant.
	KindNotImplemented Kind = "not_implemented"
	// KindNotFound means the chore or assignment does not exist.
	KindNotFound Kind = "not_found"
	// KindLedgerFailure means the points collaborator rejected the award;
	// the approval was rolled back.
	KindLedgerFailure Kind = "ledger_failure"
	// KindPersistence means the mutation could not be queued for durable
	// write; the mutation was rolled back. Fatal, surfaced to the operator.
	KindPersistence Kind = "persistence_failure"
)

// Error is the typed result returned by all workflow operations.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// IsKind reports whether err is a workflow Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var we *Error
	if !errors.As(err, &we) {
		return false
	}
	return we.Kind == kind
}

// ErrKind returns the kind of a workflow error, or "" for other errors.
func ErrKind(err error) Kind {
	var we *Error
	if !errors.As(err, &we) {
		return ""
	}
	return we.Kind
}
