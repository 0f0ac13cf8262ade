package hierarchy

import (
	"context"
	"errors"
	"testing"

	identitydomain "corp-verifier/bot/internal/identity/domain"
)

// chainDirectory serves a synthetic manager chain and counts lookups.
type chainDirectory struct {
	managers       map[string]string
	aliases        map[string]string
	managerLookups int
	profileErr     error
	managerErr     error
}

func (d *chainDirectory) GetManager(ctx context.Context, id string) (string, error) {
	d.managerLookups++
	if d.managerErr != nil {
		return "", d.managerErr
	}
	return d.managers[id], nil
}

func (d *chainDirectory) GetProfile(ctx context.Context, id string) (*identitydomain.Profile, error) {
	if d.profileErr != nil {
		return nil, d.profileErr
	}
	alias, ok := d.aliases[id]
	if !ok {
		return nil, nil
	}
	return &identitydomain.Profile{ID: id, Alias: alias, AccountEnabled: true}, nil
}

func TestResolveOrganization_EmptyTarget(t *testing.T) {
	dir := &chainDirectory{}
	res, err := ResolveOrganization(context.Background(), dir, "u1", "  ")
	if err != nil {
		t.Fatalf("ResolveOrganization: %v", err)
	}
	if res.Status != StatusNotRequired {
		t.Errorf("status = %q, want not_required", res.Status)
	}
	if dir.managerLookups != 0 {
		t.Errorf("empty target must make no directory calls, made %d", dir.managerLookups)
	}
}

func TestResolveOrganization_Found(t *testing.T) {
	dir := &chainDirectory{
		managers: map[string]string{"u1": "m1", "m1": "m2"},
		aliases:  map[string]string{"m1": "mgr1", "m2": "Contoso-Eng"},
	}
	res, err := ResolveOrganization(context.Background(), dir, "u1", "contoso-eng")
	if err != nil {
		t.Fatalf("ResolveOrganization: %v", err)
	}
	if res.Status != StatusFound || res.ManagerID != "m2" {
		t.Errorf("result = %+v, want found m2", res)
	}
}

func TestResolveOrganization_NotFound_TerminatesAfterChain(t *testing.T) {
	// Chain of length 3 with no match: exactly 3 manager lookups.
	dir := &chainDirectory{
		managers: map[string]string{"u1": "m1", "m1": "m2"},
		aliases:  map[string]string{"m1": "mgr1", "m2": "mgr2"},
	}
	res, err := ResolveOrganization(context.Background(), dir, "u1", "contoso-eng")
	if err != nil {
		t.Fatalf("ResolveOrganization: %v", err)
	}
	if res.Status != StatusNotFound {
		t.Errorf("status = %q, want not_found", res.Status)
	}
	if dir.managerLookups != 3 {
		t.Errorf("manager lookups = %d, want 3", dir.managerLookups)
	}
}

func TestResolveOrganization_CyclicChain(t *testing.T) {
	dir := &chainDirectory{
		managers: map[string]string{"u1": "m1", "m1": "u1"},
		aliases:  map[string]string{"u1": "a", "m1": "b"},
	}
	_, err := ResolveOrganization(context.Background(), dir, "u1", "contoso-eng")
	if !errors.Is(err, ErrCycleSuspected) {
		t.Fatalf("err = %v, want ErrCycleSuspected", err)
	}
	if dir.managerLookups > MaxChainDepth {
		t.Errorf("manager lookups = %d, must not exceed cap %d", dir.managerLookups, MaxChainDepth)
	}
}

func TestResolveOrganization_DirectoryFailure(t *testing.T) {
	wantErr := errors.New("directory unavailable")
	dir := &chainDirectory{managerErr: wantErr}
	_, err := ResolveOrganization(context.Background(), dir, "u1", "contoso-eng")
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped directory error", err)
	}
}

func TestResolveOrganization_MissingManagerProfile(t *testing.T) {
	dir := &chainDirectory{
		managers: map[string]string{"u1": "ghost"},
		aliases:  map[string]string{},
	}
	_, err := ResolveOrganization(context.Background(), dir, "u1", "contoso-eng")
	if err == nil {
		t.Fatal("missing manager profile should be a resolution failure, not not_found")
	}
}
