package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"
)

// LoadCycle returns the world boss singleton or storage.ErrNotFound.
func (s *Store) LoadCycle(ctx context.Context) (*domain.WorldBossCycle, error) {
	var start, end, lastStart, lastEnd int64
	var c domain.WorldBossCycle
	err := s.db.QueryRowContext(ctx, `
		SELECT cycle_start, cycle_end, prize_pool, last_cycle_start, last_cycle_end, last_prize_pool
		FROM worldboss_cycle WHERE id = 1
	`).Scan(&start, &end, &c.PrizePool, &lastStart, &lastEnd, &c.LastPrizePool)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load cycle: %w", err)
	}
	c.CycleStart = fromMillis(start)
	c.CycleEnd = fromMillis(end)
	c.LastCycleStart = fromMillis(lastStart)
	c.LastCycleEnd = fromMillis(lastEnd)
	return &c, nil
}

// SaveCycle replaces the singleton if its cycle_start still equals expectedStart.
func (s *Store) SaveCycle(ctx context.Context, c domain.WorldBossCycle, expectedStart time.Time) error {
	if expectedStart.IsZero() {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO worldboss_cycle (id, cycle_start, cycle_end, prize_pool, last_cycle_start, last_cycle_end, last_prize_pool)
			VALUES (1, ?, ?, ?, ?, ?, ?)
		`, toMillis(c.CycleStart), toMillis(c.CycleEnd), c.PrizePool, toMillis(c.LastCycleStart), toMillis(c.LastCycleEnd), c.LastPrizePool)
		if err != nil {
			if isUniqueViolation(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert cycle: %w", err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE worldboss_cycle
		SET cycle_start = ?, cycle_end = ?, prize_pool = ?, last_cycle_start = ?, last_cycle_end = ?, last_prize_pool = ?
		WHERE id = 1 AND cycle_start = ?
	`, toMillis(c.CycleStart), toMillis(c.CycleEnd), c.PrizePool, toMillis(c.LastCycleStart), toMillis(c.LastCycleEnd), c.LastPrizePool, toMillis(expectedStart))
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	return requireOneRow(result)
}

const participantColumns = `player_id, cycle_start, player_name, damage, joined, reward_claimed, last_sync_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*domain.WorldBossParticipant, error) {
	var (
		p               domain.WorldBossParticipant
		start, lastSync int64
		joined, claimed int
	)
	if err := row.Scan(&p.PlayerID, &start, &p.PlayerName, &p.Damage, &joined, &claimed, &lastSync, &p.Version); err != nil {
		return nil, err
	}
	p.CycleStart = fromMillis(start)
	p.LastSyncAt = fromMillis(lastSync)
	p.Joined = joined != 0
	p.RewardClaimed = claimed != 0
	return &p, nil
}

// LoadParticipant returns one participant row or storage.ErrNotFound.
func (s *Store) LoadParticipant(ctx context.Context, playerID string, cycleStart time.Time) (*domain.WorldBossParticipant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+participantColumns+`
		FROM worldboss_participants WHERE player_id = ? AND cycle_start = ?`, playerID, toMillis(cycleStart))
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	return p, nil
}

// SaveParticipant writes p if the stored version equals expectedVersion; 0 inserts.
func (s *Store) SaveParticipant(ctx context.Context, p domain.WorldBossParticipant, expectedVersion int64, now time.Time) (int64, error) {
	newVersion := storage.NextVersion(expectedVersion, now)
	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO worldboss_participants (`+participantColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.PlayerID, toMillis(p.CycleStart), p.PlayerName, p.Damage, boolInt(p.Joined), boolInt(p.RewardClaimed), toMillis(p.LastSyncAt), newVersion)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, storage.ErrConflict
			}
			return 0, fmt.Errorf("insert participant: %w", err)
		}
		return newVersion, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE worldboss_participants
		SET player_name = ?, damage = ?, joined = ?, reward_claimed = ?, last_sync_at = ?, version = ?
		WHERE player_id = ? AND cycle_start = ? AND version = ?
	`, p.PlayerName, p.Damage, boolInt(p.Joined), boolInt(p.RewardClaimed), toMillis(p.LastSyncAt), newVersion,
		p.PlayerID, toMillis(p.CycleStart), expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update participant: %w", err)
	}
	return newVersion, requireOneRow(result)
}

// TotalJoinedDamage sums damage of joined participants in a cycle.
func (s *Store) TotalJoinedDamage(ctx context.Context, cycleStart time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(damage), 0) FROM worldboss_participants
		WHERE cycle_start = ? AND joined = 1
	`, toMillis(cycleStart)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum damage: %w", err)
	}
	return total, nil
}

// TopParticipants lists joined participants of a cycle by damage.
func (s *Store) TopParticipants(ctx context.Context, cycleStart time.Time, limit int) ([]domain.WorldBossParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+participantColumns+`
		FROM worldboss_participants
		WHERE cycle_start = ? AND joined = 1
		ORDER BY damage DESC, player_id
		LIMIT ?`, toMillis(cycleStart), limit)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.WorldBossParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
