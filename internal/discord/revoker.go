package discord

import (
	"context"
	"log"

	guildconfigrepo "corp-verifier/bot/internal/guildconfig/repository"
	"corp-verifier/bot/internal/sweep"
	verificationrepo "corp-verifier/bot/internal/verification/repository"
)

// Revoker applies sweep revocation recommendations: it removes the
// verified role and deletes the record. Failures on one revocation do
// not stop the rest.
type Revoker struct {
	roles         *Roles
	configs       guildconfigrepo.Repository
	verifications verificationrepo.Repository
}

func NewRevoker(sess Session, configs guildconfigrepo.Repository, verifications verificationrepo.Repository) *Revoker {
	return &Revoker{
		roles:         NewRoles(sess),
		configs:       configs,
		verifications: verifications,
	}
}

// Apply is a sweep.ReportHandler.
func (r *Revoker) Apply(ctx context.Context, report *sweep.Report) {
	for _, rev := range report.Revocations() {
		if err := r.apply(ctx, rev); err != nil {
			log.Printf("sweep: revoke %s in guild %s (%s): %v", rev.UserID, rev.GuildID, rev.Reason, err)
			continue
		}
		log.Printf("sweep: revoked %s in guild %s (%s)", rev.UserID, rev.GuildID, rev.Reason)
	}
}

func (r *Revoker) apply(ctx context.Context, rev sweep.Revocation) error {
	cfg, err := r.configs.Get(ctx, rev.GuildID)
	if err != nil {
		return err
	}
	// The role goes first: if the revoke fails, the record survives and
	// the next sweep retries the whole revocation.
	if cfg != nil && cfg.RoleID != "" {
		if err := r.roles.Revoke(ctx, rev.GuildID, rev.UserID, cfg.RoleID); err != nil {
			return err
		}
	}
	_, err = r.verifications.Delete(ctx, rev.GuildID, rev.UserID)
	return err
}
