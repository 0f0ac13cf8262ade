package domain

import (
	"errors"
	"time"
)

// Record links a guild member to a verified corp identity, keyed by
// (guild_id, user_id). A stored record means the verified role should
// currently be granted; absence means it should not. The reconciliation
// sweep restores that invariant when directory state drifts.
type Record struct {
	GuildID        string
	UserID         string
	CorpIdentityID string
	Alias          string
	Department     string
	ValidatedOn    time.Time
}

// Validate validates the record for persistence.
func (r *Record) Validate() error {
	if r.GuildID == "" {
		return errors.New("guild id is required")
	}
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	if r.CorpIdentityID == "" {
		return errors.New("corp identity id is required")
	}
	return nil
}
