package repository

import (
	"context"
	"errors"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorldBossRepository struct {
	db *pgxpool.Pool
}

func NewWorldBossRepository(db *pgxpool.Pool) *WorldBossRepository {
	return &WorldBossRepository{db: db}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *WorldBossRepository) LoadCycle(ctx context.Context) (*domain.WorldBossCycle, error) {
	var (
		c                  domain.WorldBossCycle
		lastStart, lastEnd *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT cycle_start, cycle_end, prize_pool, last_cycle_start, last_cycle_end, last_prize_pool
		 FROM worldboss_cycle WHERE id = 1`,
	).Scan(&c.CycleStart, &c.CycleEnd, &c.PrizePool, &lastStart, &lastEnd, &c.LastPrizePool)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.CycleStart = c.CycleStart.UTC()
	c.CycleEnd = c.CycleEnd.UTC()
	if lastStart != nil {
		c.LastCycleStart = lastStart.UTC()
	}
	if lastEnd != nil {
		c.LastCycleEnd = lastEnd.UTC()
	}
	return &c, nil
}

func (r *WorldBossRepository) SaveCycle(ctx context.Context, c domain.WorldBossCycle, expectedStart time.Time) error {
	if expectedStart.IsZero() {
		_, err := r.db.Exec(ctx,
			`INSERT INTO worldboss_cycle (id, cycle_start, cycle_end, prize_pool, last_cycle_start, last_cycle_end, last_prize_pool)
			 VALUES (1, $1, $2, $3, $4, $5, $6)`,
			c.CycleStart, c.CycleEnd, c.PrizePool, nullableTime(c.LastCycleStart), nullableTime(c.LastCycleEnd), c.LastPrizePool,
		)
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return err
	}

	result, err := r.db.Exec(ctx,
		`UPDATE worldboss_cycle
		 SET cycle_start = $1, cycle_end = $2, prize_pool = $3, last_cycle_start = $4, last_cycle_end = $5, last_prize_pool = $6
		 WHERE id = 1 AND cycle_start = $7`,
		c.CycleStart, c.CycleEnd, c.PrizePool, nullableTime(c.LastCycleStart), nullableTime(c.LastCycleEnd), c.LastPrizePool, expectedStart,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return storage.ErrConflict
	}
	return nil
}

const participantColumns = `player_id, cycle_start, player_name, damage, joined, reward_claimed, last_sync_at, version`

func scanParticipant(row pgx.Row) (*domain.WorldBossParticipant, error) {
	var p domain.WorldBossParticipant
	if err := row.Scan(&p.PlayerID, &p.CycleStart, &p.PlayerName, &p.Damage, &p.Joined, &p.RewardClaimed, &p.LastSyncAt, &p.Version); err != nil {
		return nil, err
	}
	p.CycleStart = p.CycleStart.UTC()
	p.LastSyncAt = p.LastSyncAt.UTC()
	return &p, nil
}

func (r *WorldBossRepository) LoadParticipant(ctx context.Context, playerID string, cycleStart time.Time) (*domain.WorldBossParticipant, error) {
	p, err := scanParticipant(r.db.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM worldboss_participants
		 WHERE player_id = $1 AND cycle_start = $2`,
		playerID, cycleStart,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return p, err
}

func (r *WorldBossRepository) SaveParticipant(ctx context.Context, p domain.WorldBossParticipant, expectedVersion int64, now time.Time) (int64, error) {
	newVersion := storage.NextVersion(expectedVersion, now)
	if expectedVersion == 0 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO worldboss_participants (`+participantColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			p.PlayerID, p.CycleStart, p.PlayerName, p.Damage, p.Joined, p.RewardClaimed, p.LastSyncAt, newVersion,
		)
		if isUniqueViolation(err) {
			return 0, storage.ErrConflict
		}
		if err != nil {
			return 0, err
		}
		return newVersion, nil
	}

	result, err := r.db.Exec(ctx,
		`UPDATE worldboss_participants
		 SET player_name = $1, damage = $2, joined = $3, reward_claimed = $4, last_sync_at = $5, version = $6
		 WHERE player_id = $7 AND cycle_start = $8 AND version = $9`,
		p.PlayerName, p.Damage, p.Joined, p.RewardClaimed, p.LastSyncAt, newVersion, p.PlayerID, p.CycleStart, expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected() == 0 {
		return 0, storage.ErrConflict
	}
	return newVersion, nil
}

func (r *WorldBossRepository) TotalJoinedDamage(ctx context.Context, cycleStart time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(damage), 0)::BIGINT FROM worldboss_participants
		 WHERE cycle_start = $1 AND joined`,
		cycleStart,
	).Scan(&total)
	return total, err
}

func (r *WorldBossRepository) TopParticipants(ctx context.Context, cycleStart time.Time, limit int) ([]domain.WorldBossParticipant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+participantColumns+` FROM worldboss_participants
		 WHERE cycle_start = $1 AND joined
		 ORDER BY damage DESC, player_id
		 LIMIT $2`,
		cycleStart, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorldBossParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
