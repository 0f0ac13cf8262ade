package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"corp-verifier/bot/internal/verification/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a verification repository that uses the
// given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the record for (guildID, userID), or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Get(ctx context.Context, guildID, userID string) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT guild_id, user_id, corp_identity_id, alias, department, validated_on
		FROM verifications WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	var rec domain.Record
	if err := row.Scan(&rec.GuildID, &rec.UserID, &rec.CorpIdentityID,
		&rec.Alias, &rec.Department, &rec.ValidatedOn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByGuild returns all records for the guild.
func (r *PostgresRepository) ListByGuild(ctx context.Context, guildID string) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT guild_id, user_id, corp_identity_id, alias, department, validated_on
		FROM verifications WHERE guild_id = $1 ORDER BY user_id`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(&rec.GuildID, &rec.UserID, &rec.CorpIdentityID,
			&rec.Alias, &rec.Department, &rec.ValidatedOn); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the record keyed by (guild_id, user_id).
func (r *PostgresRepository) Upsert(ctx context.Context, rec *domain.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verifications (guild_id, user_id, corp_identity_id, alias, department, validated_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guild_id, user_id) DO UPDATE SET
			corp_identity_id = EXCLUDED.corp_identity_id,
			alias = EXCLUDED.alias,
			department = EXCLUDED.department,
			validated_on = EXCLUDED.validated_on`,
		rec.GuildID, rec.UserID, rec.CorpIdentityID, rec.Alias, rec.Department, rec.ValidatedOn)
	return err
}

// Delete removes the record. Returns true if a record existed.
func (r *PostgresRepository) Delete(ctx context.Context, guildID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM verifications WHERE guild_id = $1 AND user_id = $2`, guildID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchValidated refreshes ValidatedOn for an existing record. Missing
// records are a no-op (the record may have been deleted by a concurrent
// leave).
func (r *PostgresRepository) TouchValidated(ctx context.Context, guildID, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE verifications SET validated_on = $3 WHERE guild_id = $1 AND user_id = $2`,
		guildID, userID, at)
	return err
}
