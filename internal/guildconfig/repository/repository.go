package repository

import (
	"context"

	"corp-verifier/bot/internal/guildconfig/domain"
)

// Repository defines persistence for guild configurations.
type Repository interface {
	// Get returns the configuration for guildID, or nil if none is stored.
	Get(ctx context.Context, guildID string) (*domain.GuildConfiguration, error)
	// List returns all stored guild configurations.
	List(ctx context.Context) ([]*domain.GuildConfiguration, error)
	// Upsert inserts or replaces the configuration keyed by guild id.
	Upsert(ctx context.Context, c *domain.GuildConfiguration) error
}
