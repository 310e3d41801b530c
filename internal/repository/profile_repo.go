package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProfileRepository struct {
	db *pgxpool.Pool
}

func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *ProfileRepository) LoadProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	var (
		p   domain.Profile
		raw []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT player_id, state, version, created_at, updated_at
		 FROM profiles
		 WHERE player_id = $1`,
		playerID,
	).Scan(&p.PlayerID, &raw, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &p.State); err != nil {
		return nil, fmt.Errorf("decode profile state: %w", err)
	}
	return &p, nil
}

// SaveProfile performs the version check and a single conditional update.
func (r *ProfileRepository) SaveProfile(ctx context.Context, playerID string, state domain.PlayerState, expectedVersion int64, now time.Time) (int64, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode profile state: %w", err)
	}
	newVersion := storage.NextVersion(expectedVersion, now)

	if expectedVersion == 0 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO profiles (player_id, state, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)`,
			playerID, payload, newVersion, now,
		)
		if isUniqueViolation(err) {
			return 0, storage.ErrConflict
		}
		if err != nil {
			return 0, err
		}
		return newVersion, nil
	}

	var stored int64
	err = r.db.QueryRow(ctx, `SELECT version FROM profiles WHERE player_id = $1`, playerID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if err := storage.CheckVersion(expectedVersion, stored, now); err != nil {
		return 0, err
	}

	result, err := r.db.Exec(ctx,
		`UPDATE profiles
		 SET state = $1, version = $2, updated_at = $3
		 WHERE player_id = $4 AND version = $5`,
		payload, newVersion, now, playerID, expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected() == 0 {
		return 0, storage.ErrConflict
	}
	return newVersion, nil
}
