package domain

import (
	"slices"
	"time"
)

// Pool names a ticket counter
type Pool string

const (
	PoolDungeon   Pool = "dungeon"
	PoolWorldBoss Pool = "worldboss"
)

// TicketCounter is a per-player, per-pool daily-reset counter
type TicketCounter struct {
	PlayerID     string   `json:"player_id"`
	Pool         Pool     `json:"pool"`
	Count        int64    `json:"count"`
	ResetDayKey  string   `json:"reset_day_key"`
	ShopBuyCount int64    `json:"shop_buy_count"`
	ShopDayKey   string   `json:"shop_day_key"`
	Version      int64    `json:"version"`
	RecentOps    []string `json:"recent_ops,omitempty"`
}

// DayKey returns the UTC calendar day of t, e.g. "2026-10-16"
func DayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// HasOp reports whether opID was already applied to this counter
func (c TicketCounter) HasOp(opID string) bool {
	return slices.Contains(c.RecentOps, opID)
}
