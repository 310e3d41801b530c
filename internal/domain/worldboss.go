package domain

import "time"

// WorldBossCycle is the singleton describing the running and the last closed cycle
type WorldBossCycle struct {
	CycleStart     time.Time `json:"cycle_start"`
	CycleEnd       time.Time `json:"cycle_end"`
	PrizePool      int64     `json:"prize_pool"`
	LastCycleStart time.Time `json:"last_cycle_start"`
	LastCycleEnd   time.Time `json:"last_cycle_end"`
	LastPrizePool  int64     `json:"last_prize_pool"`
}

// HasClosedCycle reports whether a previous cycle is available for settlement
func (c WorldBossCycle) HasClosedCycle() bool {
	return !c.LastCycleStart.IsZero()
}

// WorldBossParticipant is one player's row within one cycle
type WorldBossParticipant struct {
	PlayerID      string    `json:"player_id"`
	CycleStart    time.Time `json:"cycle_start"`
	PlayerName    string    `json:"player_name"`
	Damage        int64     `json:"damage"`
	Joined        bool      `json:"joined"`
	RewardClaimed bool      `json:"reward_claimed"`
	LastSyncAt    time.Time `json:"last_sync_at"`
	Version       int64     `json:"version"`
}
