// Package hierarchy resolves organizational membership by walking a
// corp identity's management chain.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	identitydomain "corp-verifier/bot/internal/identity/domain"
)

// MaxChainDepth caps the management-chain walk. Corp hierarchies are
// nowhere near this deep; hitting the cap means the directory data is
// cyclic or malformed.
const MaxChainDepth = 50

// ErrCycleSuspected is returned when the walk exceeds MaxChainDepth.
var ErrCycleSuspected = errors.New("management chain exceeds depth cap, cycle suspected")

// Status is the outcome of an organization resolution.
type Status string

const (
	// StatusNotRequired means no target org was configured; the
	// membership check was skipped, not satisfied.
	StatusNotRequired Status = "not_required"
	StatusFound       Status = "found"
	StatusNotFound    Status = "not_found"
)

// Result of resolving an identity against a target organization.
type Result struct {
	Status Status
	// ManagerID is the matched manager when Status is StatusFound.
	ManagerID string
}

// Directory is the subset of the directory client the resolver needs.
type Directory interface {
	GetProfile(ctx context.Context, identityID string) (*identitydomain.Profile, error)
	GetManager(ctx context.Context, identityID string) (string, error)
}

// ResolveOrganization walks the management chain upward from identityID
// until it finds a manager whose alias equals targetOrg
// (case-insensitively), or the chain ends. A directory failure surfaces
// as an error; callers must not treat it as StatusNotFound.
func ResolveOrganization(ctx context.Context, dir Directory, identityID, targetOrg string) (Result, error) {
	if strings.TrimSpace(targetOrg) == "" {
		return Result{Status: StatusNotRequired}, nil
	}

	current := identityID
	for i := 0; i < MaxChainDepth; i++ {
		manager, err := dir.GetManager(ctx, current)
		if err != nil {
			return Result{}, fmt.Errorf("resolve organization: %w", err)
		}
		if manager == "" {
			return Result{Status: StatusNotFound}, nil
		}
		profile, err := dir.GetProfile(ctx, manager)
		if err != nil {
			return Result{}, fmt.Errorf("resolve organization: %w", err)
		}
		if profile == nil {
			return Result{}, fmt.Errorf("resolve organization: manager %s has no directory profile", manager)
		}
		if strings.EqualFold(profile.Alias, targetOrg) {
			return Result{Status: StatusFound, ManagerID: manager}, nil
		}
		current = manager
	}
	return Result{}, ErrCycleSuspected
}
