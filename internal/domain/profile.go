package domain

import (
	"slices"
	"time"
)

// Level bounds for a player profile
const (
	MinLevel = 1
	MaxLevel = 255
)

// RecentOpsLimit bounds the applied-operation ring kept on each row
const RecentOpsLimit = 64

// Metrics holds the player's progression and balances
type Metrics struct {
	Level          int   `json:"level"`
	XP             int64 `json:"xp"`
	Gold           int64 `json:"gold"`
	Crystals       int64 `json:"crystals"`
	CrystalsEarned int64 `json:"crystals_earned"`
	MonsterKills   int64 `json:"monster_kills"`
	DungeonRuns    int64 `json:"dungeon_runs"`
}

// Energy regenerates over time and is spent client-side
type Energy struct {
	Current   int64     `json:"current"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StakeEntry is a locked crystal deposit that pays a bonus once matured
type StakeEntry struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
}

// PlayerState is the versioned document stored per player
type PlayerState struct {
	Metrics       Metrics          `json:"metrics"`
	PremiumEndsAt time.Time        `json:"premium_ends_at"`
	Stakes        []StakeEntry     `json:"stakes"`
	Village       *VillageState    `json:"village,omitempty"`
	Items         map[string]int64 `json:"items,omitempty"`
	Energy        Energy           `json:"energy"`
	RecentOps     []string         `json:"recent_ops,omitempty"`

	// MetricsReportedAt is when the client last saved; plausibility windows start here
	MetricsReportedAt time.Time `json:"metrics_reported_at"`
}

// Profile is a committed PlayerState together with its version token
type Profile struct {
	PlayerID  string      `json:"player_id"`
	State     PlayerState `json:"state"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewPlayerState returns the state a brand new player starts from
func NewPlayerState(now time.Time, startEnergy int64) PlayerState {
	return PlayerState{
		Metrics: Metrics{Level: MinLevel},
		Items:   map[string]int64{},
		Energy:  Energy{Current: startEnergy, UpdatedAt: now},
	}
}

// PremiumActive reports whether premium is in effect at now
func (s PlayerState) PremiumActive(now time.Time) bool {
	return s.PremiumEndsAt.After(now)
}

// Stake looks up a stake entry by id
func (s PlayerState) Stake(id string) (StakeEntry, bool) {
	for _, st := range s.Stakes {
		if st.ID == id {
			return st, true
		}
	}
	return StakeEntry{}, false
}

// HasOp reports whether opID was already applied to this state
func (s PlayerState) HasOp(opID string) bool {
	return slices.Contains(s.RecentOps, opID)
}

// RecordOp appends opID to the applied-operation ring
func (s *PlayerState) RecordOp(opID string) {
	s.RecentOps = AppendOp(s.RecentOps, opID)
}

// Clone returns a deep copy so callers can mutate without aliasing the stored value
func (s PlayerState) Clone() PlayerState {
	out := s
	out.Stakes = slices.Clone(s.Stakes)
	out.RecentOps = slices.Clone(s.RecentOps)
	if s.Items != nil {
		out.Items = make(map[string]int64, len(s.Items))
		for k, v := range s.Items {
			out.Items[k] = v
		}
	}
	if s.Village != nil {
		v := s.Village.Clone()
		out.Village = &v
	}
	return out
}

// AppendOp appends opID to ops, dropping the oldest entries beyond RecentOpsLimit
func AppendOp(ops []string, opID string) []string {
	if opID == "" || slices.Contains(ops, opID) {
		return ops
	}
	ops = append(ops, opID)
	if len(ops) > RecentOpsLimit {
		ops = slices.Clone(ops[len(ops)-RecentOpsLimit:])
	}
	return ops
}
