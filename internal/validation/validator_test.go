package validation

import (
	"testing"
	"time"

	"village_backend/internal/domain"
)

var now = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

func baseState() domain.PlayerState {
	return domain.PlayerState{
		Metrics: domain.Metrics{Level: 10, XP: 1000, Gold: 5000, Crystals: 100, CrystalsEarned: 300, MonsterKills: 400, DungeonRuns: 5},
		Items:   map[string]int64{"dungeon_key": 2, "potion": 3},
		Energy:  domain.Energy{Current: 50, UpdatedAt: now},
	}
}

func reason(r *Rejection) string {
	if r == nil {
		return ""
	}
	return r.Reason
}

func TestValidateCrystalGainWithoutDungeonRuns(t *testing.T) {
	v := New(DefaultBounds())
	prev := baseState()
	next := prev.Clone()
	next.Metrics.Crystals = 600

	got := v.Validate(&prev, next, 10, now)
	if reason(got) != ReasonCrystalGain {
		t.Fatalf("reason = %q, want %q", reason(got), ReasonCrystalGain)
	}
}

func TestValidateRules(t *testing.T) {
	v := New(DefaultBounds())

	tests := []struct {
		name    string
		elapsed float64
		mutate  func(prev, next *domain.PlayerState)
		want    string
	}{
		{"unchanged", 10, func(_, _ *domain.PlayerState) {}, ""},
		{"level too high", 10, func(_, n *domain.PlayerState) { n.Metrics.Level = 256 }, ReasonInvalidShape},
		{"negative gold", 10, func(_, n *domain.PlayerState) { n.Metrics.Gold = -1 }, ReasonInvalidShape},
		{"level rollback", 10, func(_, n *domain.PlayerState) { n.Metrics.Level = 9 }, "rollback_level"},
		{"kills rollback", 10, func(_, n *domain.PlayerState) { n.Metrics.MonsterKills-- }, "rollback_monster_kills"},
		{"runs rollback", 10, func(_, n *domain.PlayerState) { n.Metrics.DungeonRuns-- }, "rollback_dungeon_runs"},
		{"earned rollback", 10, func(_, n *domain.PlayerState) { n.Metrics.CrystalsEarned-- }, "rollback_crystals_earned"},
		{"premium rollback", 10, func(p, n *domain.PlayerState) {
			p.PremiumEndsAt = now.Add(time.Hour)
			n.PremiumEndsAt = now
		}, "rollback_premium_ends_at"},
		{"stake removed early", 10, func(p, n *domain.PlayerState) {
			p.Stakes = []domain.StakeEntry{{ID: "s1", Amount: 50, StartedAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)}}
			n.Stakes = nil
		}, ReasonStakeRemovedEarly},
		{"stake minted", 10, func(_, n *domain.PlayerState) {
			n.Stakes = []domain.StakeEntry{{ID: "fake", Amount: 50, StartedAt: now, EndsAt: now.Add(time.Hour)}}
		}, ReasonStakeMinted},
		{"stake amount edited", 10, func(p, n *domain.PlayerState) {
			p.Stakes = []domain.StakeEntry{{ID: "s1", Amount: 50, StartedAt: now, EndsAt: now.Add(time.Hour)}}
			n.Stakes = []domain.StakeEntry{{ID: "s1", Amount: 5000, StartedAt: now, EndsAt: now.Add(time.Hour)}}
		}, ReasonStakeMinted},
		{"level delta at limit", 40, func(_, n *domain.PlayerState) { n.Metrics.Level += 4 }, ""},
		{"level delta over limit", 40, func(_, n *domain.PlayerState) { n.Metrics.Level += 5 }, ReasonLevelDelta},
		{"kills at limit", 10, func(_, n *domain.PlayerState) { n.Metrics.MonsterKills += 140 }, ""},
		{"kills over limit", 10, func(_, n *domain.PlayerState) { n.Metrics.MonsterKills += 141 }, ReasonKillsDelta},
		{"runs over limit", 10, func(_, n *domain.PlayerState) { n.Metrics.DungeonRuns += 5 }, ReasonDungeonDelta},
		{"crystals from runs", 10, func(_, n *domain.PlayerState) {
			n.Metrics.DungeonRuns += 4
			n.Metrics.Crystals += 200
			n.Metrics.CrystalsEarned += 200
		}, ""},
		{"crystals from matured stake", 10, func(p, n *domain.PlayerState) {
			p.Stakes = []domain.StakeEntry{{ID: "s1", Amount: 100, StartedAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour)}}
			n.Stakes = nil
			n.Metrics.Crystals += 110
		}, ""},
		{"crystals beyond stake bonus", 10, func(p, n *domain.PlayerState) {
			p.Stakes = []domain.StakeEntry{{ID: "s1", Amount: 100, StartedAt: now.Add(-2 * time.Hour), EndsAt: now.Add(-time.Hour)}}
			n.Stakes = nil
			n.Metrics.Crystals += 111
		}, ReasonCrystalGain},
		{"dungeon key minted", 10, func(_, n *domain.PlayerState) { n.Items["dungeon_key"]++ }, ReasonServerOnlyIncrease},
		{"dungeon key spent", 10, func(_, n *domain.PlayerState) { n.Items["dungeon_key"]-- }, ""},
		{"potion gained", 10, func(_, n *domain.PlayerState) { n.Items["potion"] += 5 }, ""},
		{"energy raised", 10, func(_, n *domain.PlayerState) { n.Energy.Current++ }, ReasonServerOnlyIncrease},
		{"premium extended", 10, func(_, n *domain.PlayerState) { n.PremiumEndsAt = now.Add(time.Hour) }, ReasonServerOnlyIncrease},
		{"gold at limit", 10, func(_, n *domain.PlayerState) { n.Metrics.Gold += 1050 }, ""},
		{"gold over limit", 10, func(_, n *domain.PlayerState) { n.Metrics.Gold += 1051 }, ReasonGoldGain},
		{"gold from kills", 10, func(_, n *domain.PlayerState) {
			n.Metrics.MonsterKills += 100
			n.Metrics.Gold += 1050 + 2500
		}, ""},
		{"first violation wins", 10, func(_, n *domain.PlayerState) {
			n.Metrics.Level = 9
			n.Metrics.Gold += 1_000_000
		}, "rollback_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := baseState()
			next := prev.Clone()
			tt.mutate(&prev, &next)
			if got := v.Validate(&prev, next, tt.elapsed, now); reason(got) != tt.want {
				t.Fatalf("reason = %q, want %q (%v)", reason(got), tt.want, got)
			}
		})
	}
}

func TestValidateBootstrap(t *testing.T) {
	v := New(DefaultBounds())

	fresh := domain.NewPlayerState(now, 100)
	if got := v.Validate(nil, fresh, 0, now); got != nil {
		t.Fatalf("fresh profile rejected: %v", got)
	}

	rich := fresh.Clone()
	rich.Metrics.Gold = 1_000_000
	if got := v.Validate(nil, rich, 0, now); reason(got) != ReasonBootstrapCeiling {
		t.Fatalf("reason = %q, want %q", reason(got), ReasonBootstrapCeiling)
	}

	keyed := fresh.Clone()
	keyed.Items["dungeon_key"] = 1
	if got := v.Validate(nil, keyed, 0, now); reason(got) != ReasonBootstrapCeiling {
		t.Fatalf("reason = %q, want %q", reason(got), ReasonBootstrapCeiling)
	}

	staked := fresh.Clone()
	staked.Stakes = []domain.StakeEntry{{ID: "s", Amount: 1, EndsAt: now}}
	if got := v.Validate(nil, staked, 0, now); reason(got) != ReasonBootstrapCeiling {
		t.Fatalf("reason = %q, want %q", reason(got), ReasonBootstrapCeiling)
	}
}

func TestAcceptedTransitionsAreMonotonic(t *testing.T) {
	v := New(DefaultBounds())
	prev := baseState()

	// walk a sequence of small plausible steps; every accepted step keeps monotonic fields
	for step := 0; step < 50; step++ {
		next := prev.Clone()
		next.Metrics.MonsterKills += int64(step % 7)
		next.Metrics.Gold += int64(step * 10)
		if step%5 == 0 {
			next.Metrics.Level++
			next.Metrics.DungeonRuns++
			next.Metrics.Crystals += 50
			next.Metrics.CrystalsEarned += 50
		}
		if r := v.Validate(&prev, next, 30, now); r != nil {
			t.Fatalf("step %d rejected: %v", step, r)
		}
		if next.Metrics.Level < prev.Metrics.Level || next.Metrics.MonsterKills < prev.Metrics.MonsterKills ||
			next.Metrics.DungeonRuns < prev.Metrics.DungeonRuns || next.Metrics.CrystalsEarned < prev.Metrics.CrystalsEarned {
			t.Fatalf("step %d broke monotonicity", step)
		}
		prev = next
	}
}

func TestRejectionError(t *testing.T) {
	r := &Rejection{Reason: ReasonGoldGain, Detail: "delta 5 exceeds 1"}
	if r.Error() != "validation rejected: gold_gain (delta 5 exceeds 1)" {
		t.Fatalf("error = %q", r.Error())
	}
}
