// Package validation decides whether a client-proposed profile state is a plausible
// successor of the stored one. It performs no I/O.
package validation

import (
	"fmt"
	"math"
	"slices"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
)

// Reason codes, stable across releases
const (
	ReasonInvalidShape       = "invalid_shape"
	ReasonRollbackPrefix     = "rollback_"
	ReasonStakeRemovedEarly  = "stake_removed_early"
	ReasonStakeMinted        = "stake_minted"
	ReasonLevelDelta         = "level_delta"
	ReasonKillsDelta         = "kills_delta"
	ReasonDungeonDelta       = "dungeon_delta"
	ReasonCrystalGain        = "crystal_gain"
	ReasonServerOnlyIncrease = "server_only_increase"
	ReasonGoldGain           = "gold_gain"
	ReasonBootstrapCeiling   = "bootstrap_ceiling"
)

// Rejection names the first rule a proposed state violated
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "validation rejected: " + r.Reason
	}
	return fmt.Sprintf("validation rejected: %s (%s)", r.Reason, r.Detail)
}

func reject(reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Bounds are the plausibility limits applied per elapsed second
type Bounds struct {
	LevelSecondsPerStep   float64
	LevelSlack            int64
	KillsPerSecond        float64
	KillsSlack            int64
	DungeonSecondsPerRun  float64
	DungeonSlack          int64
	CrystalsPerDungeonRun int64
	StakeBonusRate        float64
	GoldPerSecond         float64
	GoldPerKill           int64
	GoldPerDungeonRun     int64
	GoldSlack             int64
	ServerOnlyItems       []string
	Bootstrap             BootstrapCeilings
}

// BootstrapCeilings cap what a brand new profile may claim to start with
type BootstrapCeilings struct {
	Level    int
	XP       int64
	Gold     int64
	Crystals int64
	Kills    int64
	Runs     int64
}

// DefaultBounds returns the stock limits
func DefaultBounds() Bounds {
	return Bounds{
		LevelSecondsPerStep:   20,
		LevelSlack:            2,
		KillsPerSecond:        8,
		KillsSlack:            60,
		DungeonSecondsPerRun:  5,
		DungeonSlack:          2,
		CrystalsPerDungeonRun: 50,
		StakeBonusRate:        0.1,
		GoldPerSecond:         5,
		GoldPerKill:           25,
		GoldPerDungeonRun:     500,
		GoldSlack:             1000,
		ServerOnlyItems:       []string{"dungeon_key"},
		Bootstrap: BootstrapCeilings{
			Level: 5, XP: 5000, Gold: 5000, Crystals: 100, Kills: 200, Runs: 5,
		},
	}
}

// BoundsFromConfig builds Bounds from env-driven configuration
func BoundsFromConfig(c config.ValidatorConfig, stakeBonusRate float64) Bounds {
	return Bounds{
		LevelSecondsPerStep:   c.LevelSecondsPerStep,
		LevelSlack:            c.LevelSlack,
		KillsPerSecond:        c.KillsPerSecond,
		KillsSlack:            c.KillsSlack,
		DungeonSecondsPerRun:  c.DungeonSecondsPerRun,
		DungeonSlack:          c.DungeonSlack,
		CrystalsPerDungeonRun: c.CrystalsPerDungeonRun,
		StakeBonusRate:        stakeBonusRate,
		GoldPerSecond:         c.GoldPerSecond,
		GoldPerKill:           c.GoldPerKill,
		GoldPerDungeonRun:     c.GoldPerDungeonRun,
		GoldSlack:             c.GoldSlack,
		ServerOnlyItems:       slices.Clone(c.ServerOnlyItems),
		Bootstrap: BootstrapCeilings{
			Level:    c.BootstrapMaxLevel,
			XP:       c.BootstrapMaxXP,
			Gold:     c.BootstrapMaxGold,
			Crystals: c.BootstrapMaxCrystals,
			Kills:    c.BootstrapMaxKills,
			Runs:     c.BootstrapMaxRuns,
		},
	}
}

// Validator applies Bounds to proposed transitions
type Validator struct {
	Bounds Bounds
}

func New(b Bounds) *Validator {
	return &Validator{Bounds: b}
}

// Validate returns nil when next is an acceptable successor of prev after
// elapsedSeconds, or the first rule violated. prev is nil for a new profile.
func (v *Validator) Validate(prev *domain.PlayerState, next domain.PlayerState, elapsedSeconds float64, now time.Time) *Rejection {
	if r := checkShape(next); r != nil {
		return r
	}
	if prev == nil {
		return v.checkBootstrap(next)
	}

	e := math.Max(0, elapsedSeconds)
	pm, nm := prev.Metrics, next.Metrics

	switch {
	case nm.Level < pm.Level:
		return reject(ReasonRollbackPrefix+"level", "%d -> %d", pm.Level, nm.Level)
	case nm.MonsterKills < pm.MonsterKills:
		return reject(ReasonRollbackPrefix+"monster_kills", "%d -> %d", pm.MonsterKills, nm.MonsterKills)
	case nm.DungeonRuns < pm.DungeonRuns:
		return reject(ReasonRollbackPrefix+"dungeon_runs", "%d -> %d", pm.DungeonRuns, nm.DungeonRuns)
	case nm.CrystalsEarned < pm.CrystalsEarned:
		return reject(ReasonRollbackPrefix+"crystals_earned", "%d -> %d", pm.CrystalsEarned, nm.CrystalsEarned)
	case next.PremiumEndsAt.Before(prev.PremiumEndsAt):
		return reject(ReasonRollbackPrefix+"premium_ends_at", "%s -> %s", prev.PremiumEndsAt.Format(time.RFC3339), next.PremiumEndsAt.Format(time.RFC3339))
	}

	stakeDecrease, r := checkStakes(prev.Stakes, next.Stakes, now)
	if r != nil {
		return r
	}

	b := v.Bounds
	levelDelta := int64(nm.Level - pm.Level)
	if limit := int64(math.Floor(e/b.LevelSecondsPerStep)) + b.LevelSlack; levelDelta > limit {
		return reject(ReasonLevelDelta, "delta %d exceeds %d", levelDelta, limit)
	}

	killsDelta := nm.MonsterKills - pm.MonsterKills
	if limit := e*b.KillsPerSecond + float64(b.KillsSlack); float64(killsDelta) > limit {
		return reject(ReasonKillsDelta, "delta %d exceeds %.0f", killsDelta, limit)
	}

	runsDelta := nm.DungeonRuns - pm.DungeonRuns
	if limit := int64(math.Floor(e/b.DungeonSecondsPerRun)) + b.DungeonSlack; runsDelta > limit {
		return reject(ReasonDungeonDelta, "delta %d exceeds %d", runsDelta, limit)
	}

	crystalGain := nm.Crystals - pm.Crystals
	crystalLimit := runsDelta*b.CrystalsPerDungeonRun + int64(math.Floor(float64(stakeDecrease)*(1+b.StakeBonusRate)))
	if crystalGain > crystalLimit {
		return reject(ReasonCrystalGain, "delta %d exceeds %d", crystalGain, crystalLimit)
	}

	for _, item := range b.ServerOnlyItems {
		if next.Items[item] > prev.Items[item] {
			return reject(ReasonServerOnlyIncrease, "item %s %d -> %d", item, prev.Items[item], next.Items[item])
		}
	}
	if next.Energy.Current > prev.Energy.Current {
		return reject(ReasonServerOnlyIncrease, "energy %d -> %d", prev.Energy.Current, next.Energy.Current)
	}
	if next.PremiumEndsAt.After(prev.PremiumEndsAt) {
		return reject(ReasonServerOnlyIncrease, "premium_ends_at extended")
	}

	goldGain := nm.Gold - pm.Gold
	goldLimit := e*b.GoldPerSecond + float64(killsDelta*b.GoldPerKill+runsDelta*b.GoldPerDungeonRun+b.GoldSlack)
	if float64(goldGain) > goldLimit {
		return reject(ReasonGoldGain, "delta %d exceeds %.0f", goldGain, goldLimit)
	}

	return nil
}

func checkShape(s domain.PlayerState) *Rejection {
	m := s.Metrics
	if m.Level < domain.MinLevel || m.Level > domain.MaxLevel {
		return reject(ReasonInvalidShape, "level %d out of range", m.Level)
	}
	if m.XP < 0 || m.Gold < 0 || m.Crystals < 0 || m.CrystalsEarned < 0 || m.MonsterKills < 0 || m.DungeonRuns < 0 {
		return reject(ReasonInvalidShape, "negative metric")
	}
	for item, n := range s.Items {
		if n < 0 {
			return reject(ReasonInvalidShape, "negative item %s", item)
		}
	}
	if s.Energy.Current < 0 {
		return reject(ReasonInvalidShape, "negative energy")
	}
	for _, st := range s.Stakes {
		if st.ID == "" || st.Amount <= 0 {
			return reject(ReasonInvalidShape, "malformed stake")
		}
	}
	return nil
}

// checkStakes returns the crystals released by matured stakes that next dropped.
func checkStakes(prev, next []domain.StakeEntry, now time.Time) (int64, *Rejection) {
	nextByID := make(map[string]domain.StakeEntry, len(next))
	for _, st := range next {
		nextByID[st.ID] = st
	}

	var released int64
	prevIDs := make(map[string]struct{}, len(prev))
	for _, st := range prev {
		prevIDs[st.ID] = struct{}{}
		kept, ok := nextByID[st.ID]
		if !ok {
			if st.EndsAt.After(now) {
				return 0, reject(ReasonStakeRemovedEarly, "stake %s ends %s", st.ID, st.EndsAt.Format(time.RFC3339))
			}
			released += st.Amount
			continue
		}
		if kept.Amount != st.Amount || !kept.EndsAt.Equal(st.EndsAt) || !kept.StartedAt.Equal(st.StartedAt) {
			return 0, reject(ReasonStakeMinted, "stake %s modified", st.ID)
		}
	}
	for _, st := range next {
		if _, ok := prevIDs[st.ID]; !ok {
			return 0, reject(ReasonStakeMinted, "stake %s unknown", st.ID)
		}
	}
	return released, nil
}

func (v *Validator) checkBootstrap(s domain.PlayerState) *Rejection {
	c, m := v.Bounds.Bootstrap, s.Metrics
	switch {
	case m.Level > c.Level:
		return reject(ReasonBootstrapCeiling, "level %d", m.Level)
	case m.XP > c.XP:
		return reject(ReasonBootstrapCeiling, "xp %d", m.XP)
	case m.Gold > c.Gold:
		return reject(ReasonBootstrapCeiling, "gold %d", m.Gold)
	case m.Crystals > c.Crystals || m.CrystalsEarned > c.Crystals:
		return reject(ReasonBootstrapCeiling, "crystals %d", m.Crystals)
	case m.MonsterKills > c.Kills:
		return reject(ReasonBootstrapCeiling, "kills %d", m.MonsterKills)
	case m.DungeonRuns > c.Runs:
		return reject(ReasonBootstrapCeiling, "dungeon runs %d", m.DungeonRuns)
	case len(s.Stakes) > 0:
		return reject(ReasonBootstrapCeiling, "stakes present")
	case !s.PremiumEndsAt.IsZero():
		return reject(ReasonBootstrapCeiling, "premium present")
	}
	for _, item := range v.Bounds.ServerOnlyItems {
		if s.Items[item] > 0 {
			return reject(ReasonBootstrapCeiling, "item %s present", item)
		}
	}
	return nil
}
