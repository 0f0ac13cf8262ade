package repository

import (
	"context"
	"time"

	"corp-verifier/bot/internal/verification/domain"
)

// Repository defines persistence for verification records. Upsert and
// Delete are atomic per (guild_id, user_id) key; a verify and a
// concurrent sweep racing on the same key resolve last-writer-wins,
// which is safe because both converge on directory truth.
type Repository interface {
	// Get returns the record for (guildID, userID), or nil if none exists.
	Get(ctx context.Context, guildID, userID string) (*domain.Record, error)
	// ListByGuild returns all records for the guild.
	ListByGuild(ctx context.Context, guildID string) ([]*domain.Record, error)
	// Upsert inserts or replaces the record keyed by (guild_id, user_id).
	Upsert(ctx context.Context, r *domain.Record) error
	// Delete removes the record. Returns true if a record existed.
	Delete(ctx context.Context, guildID, userID string) (bool, error)
	// TouchValidated refreshes ValidatedOn after a successful revalidation.
	TouchValidated(ctx context.Context, guildID, userID string, at time.Time) error
}
