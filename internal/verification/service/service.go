// Package service runs interactive verification attempts end to end:
// device code issuance, waiting for sign-in, identity resolution,
// policy evaluation, and the final commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"corp-verifier/bot/internal/directory"
	guildconfigdomain "corp-verifier/bot/internal/guildconfig/domain"
	identitydomain "corp-verifier/bot/internal/identity/domain"
	"corp-verifier/bot/internal/hierarchy"
	policyengine "corp-verifier/bot/internal/policy/engine"
	verificationdomain "corp-verifier/bot/internal/verification/domain"
)

// Sentinel errors callers branch on.
var (
	// ErrDirectMessageFailed means the user could not be reached over
	// DM; the command layer should surface an in-channel hint instead.
	ErrDirectMessageFailed = errors.New("could not deliver direct message")
	// ErrRoleGrantFailed means the record committed but the role grant
	// did not go through.
	ErrRoleGrantFailed = errors.New("verified but granting the role failed")
)

// State of an in-flight verification attempt.
type State string

const (
	StateAwaitingCode  State = "awaiting_code"
	StateCodeIssued    State = "code_issued"
	StateAuthenticated State = "authenticated"
	StateResolved      State = "resolved"
	StateCommitted     State = "committed"
	StateExpired       State = "expired"
	StateDenied        State = "denied"
	StateFailed        State = "failed"
)

// OutcomeStatus is the terminal result of a Verify call.
type OutcomeStatus string

const (
	OutcomeAlreadyVerified OutcomeStatus = "already_verified"
	OutcomeInProgress      OutcomeStatus = "in_progress"
	OutcomeCommitted       OutcomeStatus = "committed"
	OutcomeDenied          OutcomeStatus = "denied"
	OutcomeExpired         OutcomeStatus = "expired"
	OutcomeFailed          OutcomeStatus = "failed"
)

// Outcome describes how a verification attempt ended. Reason is set for
// denials, Record for commits, Err for failures (and for a committed
// attempt whose role grant failed).
type Outcome struct {
	Status  OutcomeStatus
	Reason  policyengine.Reason
	Record  *verificationdomain.Record
	Err     error
	Attempt string
}

// VerificationRepo is the minimal verification repository needed here.
type VerificationRepo interface {
	Get(ctx context.Context, guildID, userID string) (*verificationdomain.Record, error)
	Upsert(ctx context.Context, r *verificationdomain.Record) error
	Delete(ctx context.Context, guildID, userID string) (bool, error)
}

// Notifier delivers direct messages to a user. Best effort.
type Notifier interface {
	SendDirect(ctx context.Context, userID, message string) error
}

// RoleGrantor grants and revokes the verified role.
type RoleGrantor interface {
	Grant(ctx context.Context, guildID, userID, roleID string) error
	Revoke(ctx context.Context, guildID, userID, roleID string) error
}

const (
	privacyNotice = "After you authenticate with your corp account, we will collect and store " +
		"your department, alias, and your corp user id. This data will only be used to validate " +
		"your current status for the purpose of managing the verified role on this server."
	msgExpired   = "Your code has expired."
	msgSaveError = "An error occurred saving your validation. Please try again later."
)

// Service orchestrates verification attempts. Each attempt is a
// self-contained value; many can run concurrently for different users.
type Service struct {
	verifications VerificationRepo
	directory     directory.Client
	evaluator     policyengine.Evaluator
	notifier      Notifier
	roles         RoleGrantor

	inflight *inflightGuard
	tracer   trace.Tracer
	outcomes metric.Int64Counter
	nowF     func() time.Time
}

// NewService returns a verification service with the given dependencies.
func NewService(
	verifications VerificationRepo,
	dir directory.Client,
	evaluator policyengine.Evaluator,
	notifier Notifier,
	roles RoleGrantor,
) *Service {
	meter := otel.Meter("corp-verifier/bot/internal/verification")
	outcomes, _ := meter.Int64Counter("verification.outcomes",
		metric.WithDescription("Terminal verification attempt outcomes by status"))
	return &Service{
		verifications: verifications,
		directory:     dir,
		evaluator:     evaluator,
		notifier:      notifier,
		roles:         roles,
		inflight:      newInflightGuard(),
		tracer:        otel.Tracer("corp-verifier/bot/internal/verification"),
		outcomes:      outcomes,
		nowF:          time.Now().UTC,
	}
}

// attempt is the ephemeral working state of one verification. Created
// per Verify call and discarded at the end regardless of outcome.
type attempt struct {
	id       string
	state    State
	code     *directory.DeviceCode
	identity *directory.Identity
	profile  *identitydomain.Profile
	userType identitydomain.UserType
	orgFound bool
}

func (a *attempt) to(span trace.Span, s State) {
	a.state = s
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", string(s))))
}

// Verify runs one verification attempt for (guildID, userID) under the
// guild's configuration. It blocks until the user completes sign-in,
// the device code expires, or ctx is cancelled. Only the final commit
// writes to the store; abandoning the attempt leaves no partial state.
func (s *Service) Verify(ctx context.Context, guildID, userID string, cfg *guildconfigdomain.GuildConfiguration) Outcome {
	a := &attempt{id: uuid.New().String(), state: StateAwaitingCode}
	ctx, span := s.tracer.Start(ctx, "verification.verify", trace.WithAttributes(
		attribute.String("guild.id", guildID),
		attribute.String("attempt.id", a.id),
	))
	defer span.End()

	if !s.inflight.begin(guildID, userID) {
		return s.finish(ctx, span, a, Outcome{Status: OutcomeInProgress, Attempt: a.id})
	}
	defer s.inflight.end(guildID, userID)

	// Idempotent entry guard: never contact the directory for a user
	// who already holds a record.
	existing, err := s.verifications.Get(ctx, guildID, userID)
	if err != nil {
		return s.fail(ctx, span, a, fmt.Errorf("check existing verification: %w", err))
	}
	if existing != nil {
		return s.finish(ctx, span, a, Outcome{Status: OutcomeAlreadyVerified, Record: existing, Attempt: a.id})
	}

	code, err := s.directory.IssueDeviceCode(ctx)
	if err != nil {
		return s.fail(ctx, span, a, fmt.Errorf("issue device code: %w", err))
	}
	a.code = code
	a.to(span, StateCodeIssued)

	if err := s.notifier.SendDirect(ctx, userID, privacyNotice); err != nil {
		return s.fail(ctx, span, a, fmt.Errorf("%w: %w", ErrDirectMessageFailed, err))
	}
	if err := s.notifier.SendDirect(ctx, userID, code.Message); err != nil {
		return s.fail(ctx, span, a, fmt.Errorf("%w: %w", ErrDirectMessageFailed, err))
	}

	identity, err := s.awaitAuthentication(ctx, code)
	if err != nil {
		if errors.Is(err, directory.ErrCodeExpired) {
			s.notify(ctx, userID, msgExpired)
			a.to(span, StateExpired)
			return s.finish(ctx, span, a, Outcome{Status: OutcomeExpired, Attempt: a.id})
		}
		return s.fail(ctx, span, a, fmt.Errorf("await authentication: %w", err))
	}
	a.identity = identity
	a.to(span, StateAuthenticated)

	profile, err := s.directory.GetProfile(ctx, identity.ID)
	if err != nil {
		return s.fail(ctx, span, a, fmt.Errorf("fetch profile: %w", err))
	}
	if profile == nil {
		return s.fail(ctx, span, a, fmt.Errorf("authenticated identity %s has no directory profile", identity.ID))
	}
	a.profile = profile
	a.userType = identitydomain.Classify(profile.Alias)

	if cfg.RequiresOrganization && cfg.Organization != "" {
		res, err := hierarchy.ResolveOrganization(ctx, s.directory, identity.ID, cfg.Organization)
		if err != nil {
			// Fail closed: the user is actively requesting access, so an
			// unresolvable chain is a deny, not a pass.
			s.notify(ctx, userID, policyengine.ReasonOrganizationMismatch.Message())
			a.to(span, StateDenied)
			return s.finish(ctx, span, a, Outcome{
				Status: OutcomeDenied, Reason: policyengine.ReasonOrganizationMismatch,
				Err: err, Attempt: a.id,
			})
		}
		a.orgFound = res.Status == hierarchy.StatusFound
	}
	a.to(span, StateResolved)

	decision, err := s.evaluator.EvaluateAccess(ctx, policyengine.Input{
		RequiresOrganization: cfg.RequiresOrganization,
		OrganizationFound:    a.orgFound,
		UserType:             a.userType,
		AllowedUserTypes:     cfg.AllowedUserTypes,
	})
	if err != nil {
		return s.fail(ctx, span, a, fmt.Errorf("evaluate policy: %w", err))
	}
	if !decision.Allowed {
		s.notify(ctx, userID, decision.Reason.Message())
		a.to(span, StateDenied)
		return s.finish(ctx, span, a, Outcome{Status: OutcomeDenied, Reason: decision.Reason, Attempt: a.id})
	}

	record := &verificationdomain.Record{
		GuildID:        guildID,
		UserID:         userID,
		CorpIdentityID: profile.ID,
		Alias:          profile.Alias,
		Department:     profile.Department,
		ValidatedOn:    s.nowF(),
	}
	if err := s.verifications.Upsert(ctx, record); err != nil {
		s.notify(ctx, userID, msgSaveError)
		return s.fail(ctx, span, a, fmt.Errorf("store verification: %w", err))
	}
	a.to(span, StateCommitted)

	s.notify(ctx, userID, fmt.Sprintf(
		"Thanks for validating your corp status. You can unlink your accounts at any time with the `%scorp leave` command.",
		cfg.Prefix))

	out := Outcome{Status: OutcomeCommitted, Record: record, Attempt: a.id}
	if cfg.RoleID != "" {
		if err := s.roles.Grant(ctx, guildID, userID, cfg.RoleID); err != nil {
			out.Err = fmt.Errorf("%w: %w", ErrRoleGrantFailed, err)
		}
	}
	return s.finish(ctx, span, a, out)
}

// Leave removes the caller's verification and revokes the role. Returns
// true if a record existed.
func (s *Service) Leave(ctx context.Context, guildID, userID string, cfg *guildconfigdomain.GuildConfiguration) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "verification.leave", trace.WithAttributes(
		attribute.String("guild.id", guildID),
	))
	defer span.End()

	existed, err := s.verifications.Delete(ctx, guildID, userID)
	if err != nil {
		return false, fmt.Errorf("delete verification: %w", err)
	}
	if !existed {
		return false, nil
	}
	if cfg.RoleID != "" {
		if err := s.roles.Revoke(ctx, guildID, userID, cfg.RoleID); err != nil {
			return true, fmt.Errorf("revoke role: %w", err)
		}
	}
	return true, nil
}

// awaitAuthentication polls the directory until the user completes
// sign-in, the code expires, or ctx is cancelled. No lock is held
// across the polls.
func (s *Service) awaitAuthentication(ctx context.Context, code *directory.DeviceCode) (*directory.Identity, error) {
	for {
		if !s.nowF().Before(code.ExpiresAt) {
			return nil, directory.ErrCodeExpired
		}
		identity, err := s.directory.ExchangeCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			return identity, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(code.Interval):
		}
	}
}

// notify sends a best-effort DM; delivery failures after code issuance
// do not change the outcome.
func (s *Service) notify(ctx context.Context, userID, message string) {
	if message == "" {
		return
	}
	_ = s.notifier.SendDirect(ctx, userID, message)
}

func (s *Service) fail(ctx context.Context, span trace.Span, a *attempt, err error) Outcome {
	a.to(span, StateFailed)
	span.RecordError(err)
	return s.finish(ctx, span, a, Outcome{Status: OutcomeFailed, Err: err, Attempt: a.id})
}

func (s *Service) finish(ctx context.Context, span trace.Span, a *attempt, out Outcome) Outcome {
	span.SetAttributes(attribute.String("outcome", string(out.Status)))
	if s.outcomes != nil {
		s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(out.Status))))
	}
	return out
}
