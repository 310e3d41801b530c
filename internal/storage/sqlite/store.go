// Package sqlite provides a pure-Go SQLite implementation of storage.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"
	"village_backend/internal/storage/sqlite/migrations"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists game state in SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; CAS still decides who wins
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// LoadProfile returns the stored profile or storage.ErrNotFound.
func (s *Store) LoadProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	var (
		p         domain.Profile
		raw       string
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT player_id, state, version, created_at, updated_at
		FROM profiles WHERE player_id = ?
	`, playerID).Scan(&p.PlayerID, &raw, &p.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &p.State); err != nil {
		return nil, fmt.Errorf("decode profile state: %w", err)
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

// SaveProfile commits state if the stored version still equals expectedVersion.
func (s *Store) SaveProfile(ctx context.Context, playerID string, state domain.PlayerState, expectedVersion int64, now time.Time) (int64, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("encode profile state: %w", err)
	}
	newVersion := storage.NextVersion(expectedVersion, now)

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO profiles (player_id, state, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, playerID, string(payload), newVersion, toMillis(now), toMillis(now))
		if err != nil {
			if isUniqueViolation(err) {
				return 0, storage.ErrConflict
			}
			return 0, fmt.Errorf("insert profile: %w", err)
		}
		return newVersion, nil
	}

	var stored int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM profiles WHERE player_id = ?`, playerID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read profile version: %w", err)
	}
	if err := storage.CheckVersion(expectedVersion, stored, now); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET state = ?, version = ?, updated_at = ?
		WHERE player_id = ? AND version = ?
	`, string(payload), newVersion, toMillis(now), playerID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update profile: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return 0, fmt.Errorf("update profile: %w", err)
	} else if n == 0 {
		return 0, storage.ErrConflict
	}
	return newVersion, nil
}

// LoadCounter returns the counter row or storage.ErrNotFound.
func (s *Store) LoadCounter(ctx context.Context, playerID string, pool domain.Pool) (*domain.TicketCounter, error) {
	var (
		c   domain.TicketCounter
		ops string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT player_id, pool, count, reset_day_key, shop_buy_count, shop_day_key, recent_ops, version
		FROM ticket_counters WHERE player_id = ? AND pool = ?
	`, playerID, string(pool)).Scan(&c.PlayerID, &c.Pool, &c.Count, &c.ResetDayKey, &c.ShopBuyCount, &c.ShopDayKey, &ops, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load counter: %w", err)
	}
	if err := json.Unmarshal([]byte(ops), &c.RecentOps); err != nil {
		return nil, fmt.Errorf("decode counter ops: %w", err)
	}
	return &c, nil
}

// SaveCounter writes c if the stored version equals expectedVersion; 0 inserts.
func (s *Store) SaveCounter(ctx context.Context, c domain.TicketCounter, expectedVersion int64, now time.Time) (int64, error) {
	ops, err := json.Marshal(nonNil(c.RecentOps))
	if err != nil {
		return 0, fmt.Errorf("encode counter ops: %w", err)
	}
	newVersion := storage.NextVersion(expectedVersion, now)

	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO ticket_counters (player_id, pool, count, reset_day_key, shop_buy_count, shop_day_key, recent_ops, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.PlayerID, string(c.Pool), c.Count, c.ResetDayKey, c.ShopBuyCount, c.ShopDayKey, string(ops), newVersion)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, storage.ErrConflict
			}
			return 0, fmt.Errorf("insert counter: %w", err)
		}
		return newVersion, nil
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ticket_counters
		SET count = ?, reset_day_key = ?, shop_buy_count = ?, shop_day_key = ?, recent_ops = ?, version = ?
		WHERE player_id = ? AND pool = ? AND version = ?
	`, c.Count, c.ResetDayKey, c.ShopBuyCount, c.ShopDayKey, string(ops), newVersion, c.PlayerID, string(c.Pool), expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update counter: %w", err)
	}
	return newVersion, requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrConflict
	}
	return nil
}

func nonNil(ops []string) []string {
	if ops == nil {
		return []string{}
	}
	return ops
}
