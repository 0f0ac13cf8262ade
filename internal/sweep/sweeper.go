// Package sweep re-validates stored verifications against current
// directory state and reports which ones should be revoked. The sweep
// decides; applying revocations is the caller's job.
package sweep

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	guildconfigdomain "corp-verifier/bot/internal/guildconfig/domain"
	"corp-verifier/bot/internal/hierarchy"
	identitydomain "corp-verifier/bot/internal/identity/domain"
	policyengine "corp-verifier/bot/internal/policy/engine"
	verificationdomain "corp-verifier/bot/internal/verification/domain"
)

// Reason a verification was recommended for revocation. Policy deny
// reasons pass through; ReasonIdentityGone covers identities the
// directory reports as deleted or disabled.
type Reason string

const ReasonIdentityGone Reason = "identity_gone"

// Revocation recommends removing one verification.
type Revocation struct {
	GuildID string
	UserID  string
	Alias   string
	Reason  Reason
}

// ItemError records a per-user check that could not complete. The user
// is left untouched: absence of proof is not proof of absence.
type ItemError struct {
	GuildID string
	UserID  string
	Err     error
}

// GuildReport is the sweep result for one guild.
type GuildReport struct {
	GuildID     string
	Checked     int
	Refreshed   int
	Revocations []Revocation
	Errors      []ItemError
	// Err is set when the guild's records could not be listed at all.
	Err error
}

// Report is the result of one full sweep. The sweep itself never
// fails; Err is set only when the guild list could not be loaded.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Guilds     []GuildReport
	Err        error
}

// Revocations flattens all per-guild revocation recommendations.
func (r *Report) Revocations() []Revocation {
	var out []Revocation
	for _, g := range r.Guilds {
		out = append(out, g.Revocations...)
	}
	return out
}

// ErrorCount counts per-item errors plus failed guilds.
func (r *Report) ErrorCount() int {
	n := 0
	for _, g := range r.Guilds {
		n += len(g.Errors)
		if g.Err != nil {
			n++
		}
	}
	return n
}

// ConfigRepo is the minimal guild configuration repository needed here.
type ConfigRepo interface {
	List(ctx context.Context) ([]*guildconfigdomain.GuildConfiguration, error)
}

// VerificationRepo is the minimal verification repository needed here.
type VerificationRepo interface {
	ListByGuild(ctx context.Context, guildID string) ([]*verificationdomain.Record, error)
	TouchValidated(ctx context.Context, guildID, userID string, at time.Time) error
}

// Directory is the subset of the directory client the sweep needs.
type Directory interface {
	hierarchy.Directory
}

// Sweeper runs reconciliation sweeps.
type Sweeper struct {
	configs       ConfigRepo
	verifications VerificationRepo
	directory     Directory
	evaluator     policyengine.Evaluator

	// ItemTimeout bounds each record's directory checks.
	ItemTimeout time.Duration
	// GuildParallelism bounds how many guilds are swept concurrently.
	GuildParallelism int

	tracer      trace.Tracer
	revocations metric.Int64Counter
	itemErrors  metric.Int64Counter
	nowF        func() time.Time
}

// NewSweeper returns a sweeper with the given dependencies.
func NewSweeper(configs ConfigRepo, verifications VerificationRepo, dir Directory, evaluator policyengine.Evaluator) *Sweeper {
	meter := otel.Meter("corp-verifier/bot/internal/sweep")
	revocations, _ := meter.Int64Counter("sweep.revocations",
		metric.WithDescription("Verifications recommended for revocation"))
	itemErrors, _ := meter.Int64Counter("sweep.item_errors",
		metric.WithDescription("Per-record sweep checks that could not complete"))
	return &Sweeper{
		configs:          configs,
		verifications:    verifications,
		directory:        dir,
		evaluator:        evaluator,
		ItemTimeout:      30 * time.Second,
		GuildParallelism: 4,
		tracer:           otel.Tracer("corp-verifier/bot/internal/sweep"),
		revocations:      revocations,
		itemErrors:       itemErrors,
		nowF:             time.Now().UTC,
	}
}

// Run sweeps every guild and returns the full report. A failure in one
// guild never prevents other guilds from being processed, and a
// directory failure for one record never aborts its guild.
func (s *Sweeper) Run(ctx context.Context) *Report {
	ctx, span := s.tracer.Start(ctx, "sweep.run")
	defer span.End()

	report := &Report{StartedAt: s.nowF()}
	defer func() {
		report.FinishedAt = s.nowF()
		span.SetAttributes(
			attribute.Int("sweep.guilds", len(report.Guilds)),
			attribute.Int("sweep.revocations", len(report.Revocations())),
			attribute.Int("sweep.errors", report.ErrorCount()),
		)
	}()

	configs, err := s.configs.List(ctx)
	if err != nil {
		report.Err = fmt.Errorf("list guild configurations: %w", err)
		span.RecordError(report.Err)
		return report
	}

	report.Guilds = make([]GuildReport, len(configs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.GuildParallelism)
	for i, cfg := range configs {
		g.Go(func() error {
			report.Guilds[i] = s.sweepGuild(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (s *Sweeper) sweepGuild(ctx context.Context, cfg *guildconfigdomain.GuildConfiguration) GuildReport {
	ctx, span := s.tracer.Start(ctx, "sweep.guild", trace.WithAttributes(
		attribute.String("guild.id", cfg.GuildID),
	))
	defer span.End()

	gr := GuildReport{GuildID: cfg.GuildID}
	records, err := s.verifications.ListByGuild(ctx, cfg.GuildID)
	if err != nil {
		gr.Err = fmt.Errorf("list verifications: %w", err)
		span.RecordError(gr.Err)
		return gr
	}

	for _, rec := range records {
		gr.Checked++
		rev, err := s.checkRecord(ctx, cfg, rec)
		switch {
		case err != nil:
			gr.Errors = append(gr.Errors, ItemError{GuildID: cfg.GuildID, UserID: rec.UserID, Err: err})
			if s.itemErrors != nil {
				s.itemErrors.Add(ctx, 1)
			}
		case rev != nil:
			gr.Revocations = append(gr.Revocations, *rev)
			if s.revocations != nil {
				s.revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(rev.Reason))))
			}
		default:
			gr.Refreshed++
		}
	}
	return gr
}

// checkRecord re-validates one record. Returns a revocation only on a
// definitive negative signal; directory failures surface as errors and
// leave the record untouched.
func (s *Sweeper) checkRecord(ctx context.Context, cfg *guildconfigdomain.GuildConfiguration, rec *verificationdomain.Record) (*Revocation, error) {
	if s.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ItemTimeout)
		defer cancel()
	}

	profile, err := s.directory.GetProfile(ctx, rec.CorpIdentityID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	if profile == nil || !profile.AccountEnabled {
		return &Revocation{GuildID: rec.GuildID, UserID: rec.UserID, Alias: rec.Alias, Reason: ReasonIdentityGone}, nil
	}

	orgFound := false
	if cfg.RequiresOrganization && cfg.Organization != "" {
		res, err := hierarchy.ResolveOrganization(ctx, s.directory, rec.CorpIdentityID, cfg.Organization)
		if err != nil {
			// Fail open: revocation needs a definitive negative.
			return nil, err
		}
		orgFound = res.Status == hierarchy.StatusFound
	}

	decision, err := s.evaluator.EvaluateAccess(ctx, policyengine.Input{
		RequiresOrganization: cfg.RequiresOrganization,
		OrganizationFound:    orgFound,
		UserType:             identitydomain.Classify(profile.Alias),
		AllowedUserTypes:     cfg.AllowedUserTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}
	if !decision.Allowed {
		return &Revocation{GuildID: rec.GuildID, UserID: rec.UserID, Alias: rec.Alias, Reason: Reason(decision.Reason)}, nil
	}

	if err := s.verifications.TouchValidated(ctx, rec.GuildID, rec.UserID, s.nowF()); err != nil {
		return nil, fmt.Errorf("refresh validated_on: %w", err)
	}
	return nil, nil
}
