package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"corp-verifier/bot/internal/guildconfig/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a guild configuration repository that
// uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the configuration for guildID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, guildID string) (*domain.GuildConfiguration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT guild_id, prefix, role_id, requires_organization, organization, allowed_user_types, updated_at
		FROM guild_configurations WHERE guild_id = $1`, guildID)
	c, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// List returns all stored guild configurations.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.GuildConfiguration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT guild_id, prefix, role_id, requires_organization, organization, allowed_user_types, updated_at
		FROM guild_configurations ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.GuildConfiguration
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the configuration keyed by guild id.
// Last writer wins on concurrent upserts of the same guild.
func (r *PostgresRepository) Upsert(ctx context.Context, c *domain.GuildConfiguration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO guild_configurations
			(guild_id, prefix, role_id, requires_organization, organization, allowed_user_types, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (guild_id) DO UPDATE SET
			prefix = EXCLUDED.prefix,
			role_id = EXCLUDED.role_id,
			requires_organization = EXCLUDED.requires_organization,
			organization = EXCLUDED.organization,
			allowed_user_types = EXCLUDED.allowed_user_types,
			updated_at = EXCLUDED.updated_at`,
		c.GuildID, c.Prefix, c.RoleID, c.RequiresOrganization, c.Organization,
		domain.EncodeUserTypes(c.AllowedUserTypes), time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*domain.GuildConfiguration, error) {
	var c domain.GuildConfiguration
	var types string
	if err := row.Scan(&c.GuildID, &c.Prefix, &c.RoleID, &c.RequiresOrganization,
		&c.Organization, &types, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.AllowedUserTypes = domain.DecodeUserTypes(types)
	return &c, nil
}
