package engine

import (
	"context"

	identitydomain "corp-verifier/bot/internal/identity/domain"
)

// Reason explains a deny decision. Empty on admit.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonOrganizationMismatch Reason = "organization_mismatch"
	ReasonUserTypeNotAllowed   Reason = "user_type_not_allowed"
)

// Message returns the user-facing text for a deny reason.
func (r Reason) Message() string {
	switch r {
	case ReasonOrganizationMismatch:
		return "this server requires that you be in a specific org to receive the verified role"
	case ReasonUserTypeNotAllowed:
		return "your user type is not allowed to verify on this server"
	default:
		return ""
	}
}

// Input carries everything a guild-access decision depends on. Building
// it is the caller's job; evaluation itself does no I/O, so a decision
// is reproducible from equal inputs — the reconciliation sweep relies
// on that.
type Input struct {
	RequiresOrganization bool
	// OrganizationFound is true only when hierarchy resolution returned
	// a match. A skipped check must be passed as false together with
	// RequiresOrganization=false.
	OrganizationFound bool
	UserType          identitydomain.UserType
	AllowedUserTypes  []identitydomain.UserType
}

// Decision is an admit/deny outcome with the deny reason.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Evaluator decides whether a resolved identity qualifies for a guild's
// verified role.
type Evaluator interface {
	EvaluateAccess(ctx context.Context, in Input) (Decision, error)
}
