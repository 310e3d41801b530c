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
	"github.com/jackc/pgx/v5/pgxpool"
)

type CounterRepository struct {
	db *pgxpool.Pool
}

func NewCounterRepository(db *pgxpool.Pool) *CounterRepository {
	return &CounterRepository{db: db}
}

func (r *CounterRepository) LoadCounter(ctx context.Context, playerID string, pool domain.Pool) (*domain.TicketCounter, error) {
	var (
		c   domain.TicketCounter
		ops []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT player_id, pool, count, reset_day_key, shop_buy_count, shop_day_key, recent_ops, version
		 FROM ticket_counters
		 WHERE player_id = $1 AND pool = $2`,
		playerID, string(pool),
	).Scan(&c.PlayerID, &c.Pool, &c.Count, &c.ResetDayKey, &c.ShopBuyCount, &c.ShopDayKey, &ops, &c.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.RecentOps, err = decodeOps(ops); err != nil {
		return nil, err
	}
	return &c, nil
}

// decodeOps reads the recent_ops column. Dropping a bad value would lose the
// idempotency markers compensation relies on, so it is an error instead.
func decodeOps(raw []byte) ([]string, error) {
	var ops []string
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("decode counter ops: %w", err)
	}
	return ops, nil
}

func (r *CounterRepository) SaveCounter(ctx context.Context, c domain.TicketCounter, expectedVersion int64, now time.Time) (int64, error) {
	ops, err := json.Marshal(c.RecentOps)
	if err != nil || c.RecentOps == nil {
		ops = []byte("[]")
	}
	newVersion := storage.NextVersion(expectedVersion, now)

	if expectedVersion == 0 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO ticket_counters (player_id, pool, count, reset_day_key, shop_buy_count, shop_day_key, recent_ops, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.PlayerID, string(c.Pool), c.Count, c.ResetDayKey, c.ShopBuyCount, c.ShopDayKey, ops, newVersion,
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
		`UPDATE ticket_counters
		 SET count = $1, reset_day_key = $2, shop_buy_count = $3, shop_day_key = $4, recent_ops = $5, version = $6
		 WHERE player_id = $7 AND pool = $8 AND version = $9`,
		c.Count, c.ResetDayKey, c.ShopBuyCount, c.ShopDayKey, ops, newVersion, c.PlayerID, string(c.Pool), expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected() == 0 {
		return 0, storage.ErrConflict
	}
	return newVersion, nil
}
