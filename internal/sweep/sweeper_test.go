package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	guildconfigdomain "corp-verifier/bot/internal/guildconfig/domain"
	identitydomain "corp-verifier/bot/internal/identity/domain"
	policyengine "corp-verifier/bot/internal/policy/engine"
	verificationdomain "corp-verifier/bot/internal/verification/domain"
)

type memConfigRepo struct {
	configs []*guildconfigdomain.GuildConfiguration
	err     error
}

func (r *memConfigRepo) List(ctx context.Context) ([]*guildconfigdomain.GuildConfiguration, error) {
	return r.configs, r.err
}

type memVerificationRepo struct {
	mu      sync.Mutex
	byGuild map[string][]*verificationdomain.Record
	listErr map[string]error
	touched []string
}

func (r *memVerificationRepo) ListByGuild(ctx context.Context, guildID string) ([]*verificationdomain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.listErr[guildID]; err != nil {
		return nil, err
	}
	return r.byGuild[guildID], nil
}

func (r *memVerificationRepo) TouchValidated(ctx context.Context, guildID, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, guildID+"/"+userID)
	return nil
}

func (r *memVerificationRepo) touchedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.touched...)
}

// fakeDirectory serves profiles and manager chains, with per-identity
// failure injection.
type fakeDirectory struct {
	mu       sync.Mutex
	profiles map[string]*identitydomain.Profile
	managers map[string]string
	failFor  map[string]error
}

func (d *fakeDirectory) GetProfile(ctx context.Context, id string) (*identitydomain.Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failFor[id]; err != nil {
		return nil, err
	}
	return d.profiles[id], nil
}

func (d *fakeDirectory) GetManager(ctx context.Context, id string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failFor[id]; err != nil {
		return "", err
	}
	return d.managers[id], nil
}

func testEvaluator(t *testing.T) policyengine.Evaluator {
	t.Helper()
	e, err := policyengine.NewOPAEvaluator(context.Background())
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func record(guildID, userID, corpID, alias string) *verificationdomain.Record {
	return &verificationdomain.Record{
		GuildID:        guildID,
		UserID:         userID,
		CorpIdentityID: corpID,
		Alias:          alias,
		ValidatedOn:    time.Now().Add(-24 * time.Hour),
	}
}

func employeesOnly(guildID string) *guildconfigdomain.GuildConfiguration {
	return &guildconfigdomain.GuildConfiguration{
		GuildID:          guildID,
		Prefix:           "!",
		RoleID:           "role-1",
		AllowedUserTypes: []identitydomain.UserType{identitydomain.UserTypeFullTimeEmployee},
	}
}

func TestRun_IdentityGone(t *testing.T) {
	configs := &memConfigRepo{configs: []*guildconfigdomain.GuildConfiguration{employeesOnly("g1")}}
	verifications := &memVerificationRepo{byGuild: map[string][]*verificationdomain.Record{
		"g1": {
			record("g1", "u-disabled", "oid-disabled", "jdoe"),
			record("g1", "u-deleted", "oid-deleted", "mdoe"),
		},
	}}
	dir := &fakeDirectory{profiles: map[string]*identitydomain.Profile{
		"oid-disabled": {ID: "oid-disabled", Alias: "jdoe", AccountEnabled: false},
		// oid-deleted absent entirely
	}}

	report := NewSweeper(configs, verifications, dir, testEvaluator(t)).Run(context.Background())
	revs := report.Revocations()
	if len(revs) != 2 {
		t.Fatalf("revocations = %+v, want 2", revs)
	}
	for _, rev := range revs {
		if rev.Reason != ReasonIdentityGone {
			t.Errorf("reason = %q, want identity_gone", rev.Reason)
		}
	}
	if len(verifications.touchedKeys()) != 0 {
		t.Error("revoked records must not be refreshed")
	}
}

func TestRun_RefreshesQualifying(t *testing.T) {
	cfg := employeesOnly("g1")
	cfg.RequiresOrganization = true
	cfg.Organization = "contoso-eng"
	configs := &memConfigRepo{configs: []*guildconfigdomain.GuildConfiguration{cfg}}
	verifications := &memVerificationRepo{byGuild: map[string][]*verificationdomain.Record{
		"g1": {record("g1", "u1", "oid-1", "jdoe")},
	}}
	dir := &fakeDirectory{
		profiles: map[string]*identitydomain.Profile{
			"oid-1": {ID: "oid-1", Alias: "jdoe", AccountEnabled: true},
			"oid-m": {ID: "oid-m", Alias: "contoso-eng", AccountEnabled: true},
		},
		managers: map[string]string{"oid-1": "oid-m"},
	}

	report := NewSweeper(configs, verifications, dir, testEvaluator(t)).Run(context.Background())
	if n := len(report.Revocations()); n != 0 {
		t.Fatalf("revocations = %d, want 0", n)
	}
	if report.Guilds[0].Refreshed != 1 {
		t.Errorf("refreshed = %d, want 1", report.Guilds[0].Refreshed)
	}
	if got := verifications.touchedKeys(); len(got) != 1 || got[0] != "g1/u1" {
		t.Errorf("touched = %v", got)
	}
}

func TestRun_PolicyDenyRevokes(t *testing.T) {
	cfg := employeesOnly("g1")
	cfg.RequiresOrganization = true
	cfg.Organization = "contoso-eng"
	configs := &memConfigRepo{configs: []*guildconfigdomain.GuildConfiguration{cfg}}
	verifications := &memVerificationRepo{byGuild: map[string][]*verificationdomain.Record{
		"g1": {
			// Became an intern: user type deny.
			record("g1", "u-intern", "oid-intern", "t-jdoe"),
			// Moved orgs: chain no longer reaches contoso-eng.
			record("g1", "u-moved", "oid-moved", "mdoe"),
		},
	}}
	dir := &fakeDirectory{
		profiles: map[string]*identitydomain.Profile{
			"oid-intern": {ID: "oid-intern", Alias: "t-jdoe", AccountEnabled: true},
			"oid-moved":  {ID: "oid-moved", Alias: "mdoe", AccountEnabled: true},
			"oid-m":      {ID: "oid-m", Alias: "contoso-eng", AccountEnabled: true},
			"oid-other":  {ID: "oid-other", Alias: "fabrikam-eng", AccountEnabled: true},
		},
		managers: map[string]string{"oid-intern": "oid-m", "oid-moved": "oid-other"},
	}

	report := NewSweeper(configs, verifications, dir, testEvaluator(t)).Run(context.Background())
	got := map[string]Reason{}
	for _, rev := range report.Revocations() {
		got[rev.UserID] = rev.Reason
	}
	if got["u-intern"] != Reason(policyengine.ReasonUserTypeNotAllowed) {
		t.Errorf("u-intern reason = %q", got["u-intern"])
	}
	if got["u-moved"] != Reason(policyengine.ReasonOrganizationMismatch) {
		t.Errorf("u-moved reason = %q", got["u-moved"])
	}
}

func TestRun_DirectoryFailureFailsOpen(t *testing.T) {
	configs := &memConfigRepo{configs: []*guildconfigdomain.GuildConfiguration{employeesOnly("g1")}}
	verifications := &memVerificationRepo{byGuild: map[string][]*verificationdomain.Record{
		"g1": {record("g1", "u1", "oid-1", "jdoe")},
	}}
	dir := &fakeDirectory{failFor: map[string]error{"oid-1": errors.New("directory unavailable")}}

	report := NewSweeper(configs, verifications, dir, testEvaluator(t)).Run(context.Background())
	if n := len(report.Revocations()); n != 0 {
		t.Fatalf("directory failure must not revoke, got %d revocations", n)
	}
	g := report.Guilds[0]
	if len(g.Errors) != 1 || g.Errors[0].UserID != "u1" {
		t.Fatalf("errors = %+v, want one for u1", g.Errors)
	}
	if len(verifications.touchedKeys()) != 0 {
		t.Error("failed check must leave the record untouched")
	}
}

func TestRun_GuildIsolation(t *testing.T) {
	configs := &memConfigRepo{configs: []*guildconfigdomain.GuildConfiguration{
		employeesOnly("g-broken"),
		employeesOnly("g-ok"),
	}}
	verifications := &memVerificationRepo{byGuild: map[string][]*verificationdomain.Record{
		"g-broken": {record("g-broken", "u1", "oid-broken", "jdoe")},
		"g-ok":     {record("g-ok", "u2", "oid-ok", "jdoe")},
	}}
	dir := &fakeDirectory{
		profiles: map[string]*identitydomain.Profile{
			"oid-ok": {ID: "oid-ok", Alias: "jdoe", AccountEnabled: true},
		},
		failFor: map[string]error{"oid-broken": errors.New("directory unavailable")},
	}

	report := NewSweeper(configs, verifications, dir, testEvaluator(t)).Run(context.Background())
	byGuild := map[string]GuildReport{}
	for _, g := range report.Guilds {
		byGuild[g.GuildID] = g
	}
	if g := byGuild["g-ok"]; g.Checked != 1 || g.Refreshed != 1 || len(g.Errors) != 0 {
		t.Errorf("healthy guild report incomplete: %+v", g)
	}
	if g := byGuild["g-broken"]; len(g.Errors) != 1 {
		t.Errorf("broken guild should report its per-item error: %+v", g)
	}
}

func TestRun_ListFailures(t *testing.T) {
	configs := &memConfigRepo{configs: []*guildconfigdomain.GuildConfiguration{
		employeesOnly("g1"),
		employeesOnly("g2"),
	}}
	verifications := &memVerificationRepo{
		byGuild: map[string][]*verificationdomain.Record{
			"g2": {record("g2", "u1", "oid-1", "jdoe")},
		},
		listErr: map[string]error{"g1": errors.New("store down")},
	}
	dir := &fakeDirectory{profiles: map[string]*identitydomain.Profile{
		"oid-1": {ID: "oid-1", Alias: "jdoe", AccountEnabled: true},
	}}

	report := NewSweeper(configs, verifications, dir, testEvaluator(t)).Run(context.Background())
	byGuild := map[string]GuildReport{}
	for _, g := range report.Guilds {
		byGuild[g.GuildID] = g
	}
	if byGuild["g1"].Err == nil {
		t.Error("g1 should carry its list error")
	}
	if byGuild["g2"].Refreshed != 1 {
		t.Errorf("g2 should still be processed: %+v", byGuild["g2"])
	}
	if report.ErrorCount() != 1 {
		t.Errorf("ErrorCount = %d, want 1", report.ErrorCount())
	}
}

func TestRun_ConfigListFailure(t *testing.T) {
	configs := &memConfigRepo{err: errors.New("store down")}
	report := NewSweeper(configs, &memVerificationRepo{}, &fakeDirectory{}, testEvaluator(t)).Run(context.Background())
	if report.Err == nil {
		t.Fatal("report should carry the load failure")
	}
	if len(report.Guilds) != 0 {
		t.Errorf("guilds = %d, want 0", len(report.Guilds))
	}
}

func TestScheduler_RunsAndStops(t *testing.T) {
	configs := &memConfigRepo{}
	sweeper := NewSweeper(configs, &memVerificationRepo{}, &fakeDirectory{}, testEvaluator(t))

	var runs atomic.Int32
	sc := NewScheduler(sweeper, func(ctx context.Context, report *Report) {
		runs.Add(1)
	}, time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		sc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
	if runs.Load() == 0 {
		t.Error("scheduler never ran a sweep")
	}
}
