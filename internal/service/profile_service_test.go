package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/storage"
	"village_backend/internal/validation"
)

func TestSaveBootstrapsThenAdvances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.profiles.Load(ctx, "p1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("load err = %v, want ErrNotFound", err)
	}

	fresh := domain.NewPlayerState(t0, 0)
	fresh.Metrics.Gold = 100
	p, err := env.profiles.Save(ctx, "p1", fresh, 0)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if p.State.Energy.Current != 100 {
		t.Fatalf("bootstrap energy = %d, want server max", p.State.Energy.Current)
	}

	env.clock.Advance(30 * time.Second)
	next := p.State.Clone()
	next.Metrics.MonsterKills += 20
	next.Metrics.Gold += 400
	saved, err := env.profiles.Save(ctx, "p1", next, p.Version)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version <= p.Version {
		t.Fatalf("version %d did not advance past %d", saved.Version, p.Version)
	}

	if _, err := env.profiles.Save(ctx, "p1", next, p.Version); !errors.Is(err, storage.ErrStaleVersion) {
		t.Fatalf("replayed version err = %v, want ErrStaleVersion", err)
	}
	if _, err := env.profiles.Save(ctx, "p1", next, 0); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("second bootstrap err = %v, want ErrConflict", err)
	}
	if _, err := env.profiles.Save(ctx, "p1", next, saved.Version+1); !errors.Is(err, storage.ErrInvalidVersion) {
		t.Fatalf("unissued version err = %v, want ErrInvalidVersion", err)
	}
}

func TestSaveRejectionIsAuditedAndNotWritten(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.profiles.Save(ctx, "p1", domain.NewPlayerState(t0, 0), 0)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	env.clock.Advance(10 * time.Second)
	cheat := p.State.Clone()
	cheat.Metrics.Crystals += 500

	_, err = env.profiles.Save(ctx, "p1", cheat, p.Version)
	var r *validation.Rejection
	if !errors.As(err, &r) || r.Reason != validation.ReasonCrystalGain {
		t.Fatalf("err = %v, want crystal_gain rejection", err)
	}
	if n := env.auditCount(t, "p1", domain.AuditActionValidationRejected); n != 1 {
		t.Fatalf("rejection audits = %d, want 1", n)
	}

	stored, _ := env.profiles.Load(ctx, "p1")
	if stored.Version != p.Version || stored.State.Metrics.Crystals != 0 {
		t.Fatalf("rejected state was written: %+v", stored)
	}
}

func TestSaveKeepsServerOwnedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.villages.Init(ctx, "p1", "Oakridge"); err != nil {
		t.Fatalf("init village: %v", err)
	}
	p, _ := env.profiles.Load(ctx, "p1")

	env.clock.Advance(time.Minute)
	proposed := p.State.Clone()
	proposed.Village = nil
	proposed.RecentOps = []string{"forged"}
	saved, err := env.profiles.Save(ctx, "p1", proposed, p.Version)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.State.Village == nil || saved.State.Village.SettlementName != "Oakridge" {
		t.Fatalf("village dropped by client save: %+v", saved.State.Village)
	}
	if saved.State.HasOp("forged") {
		t.Fatal("client wrote recent ops")
	}
}

func TestConcurrentClientSavesOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.profiles.Save(ctx, "p1", domain.NewPlayerState(t0, 0), 0)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.clock.Advance(time.Minute)

	const writers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := p.State.Clone()
			next.Metrics.MonsterKills += int64(i + 1)
			_, err := env.profiles.Save(ctx, "p1", next, p.Version)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, storage.ErrConflict) {
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestMutateIsIdempotentPerOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Gold: 10})

	credit := func(st *domain.PlayerState, _ time.Time) error {
		st.Metrics.Gold += 5
		return nil
	}
	for i := 0; i < 3; i++ {
		if _, err := env.profiles.Mutate(ctx, "test_credit", "p1", "op-1", credit); err != nil {
			t.Fatalf("mutate %d: %v", i, err)
		}
	}
	p, _ := env.profiles.Load(ctx, "p1")
	if p.State.Metrics.Gold != 15 {
		t.Fatalf("gold = %d, want 15", p.State.Metrics.Gold)
	}
}

func TestRegenEnergy(t *testing.T) {
	cfg := config.EnergyConfig{Max: 10, RegenInterval: time.Minute}
	start := t0

	tests := []struct {
		name        string
		current     int64
		premium     bool
		elapsed     time.Duration
		wantCurrent int64
		wantGained  int64
		wantAt      time.Time
	}{
		{"too early", 3, false, 59 * time.Second, 3, 0, start},
		{"partial interval kept", 3, false, 150 * time.Second, 5, 2, start.Add(2 * time.Minute)},
		{"premium doubles", 3, true, 150 * time.Second, 8, 5, start.Add(150 * time.Second)},
		{"capped at max", 8, false, time.Hour, 10, 2, start.Add(time.Hour)},
		{"full moves clock", 10, false, 5 * time.Minute, 10, 0, start.Add(5 * time.Minute)},
		{"clock behind", 3, false, -time.Minute, 3, 0, start},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, gained := RegenEnergy(domain.Energy{Current: tt.current, UpdatedAt: start}, tt.premium, cfg, start.Add(tt.elapsed))
			if e.Current != tt.wantCurrent || gained != tt.wantGained || !e.UpdatedAt.Equal(tt.wantAt) {
				t.Fatalf("got %+v gained %d, want %d gained %d at %v", e, gained, tt.wantCurrent, tt.wantGained, tt.wantAt)
			}
		})
	}
}

func TestRefreshEnergyAfterSpending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.profiles.Save(ctx, "p1", domain.NewPlayerState(t0, 0), 0)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// sits full for an hour, then spends 30
	env.clock.Advance(time.Hour)
	spent := p.State.Clone()
	spent.Energy.Current -= 30
	p, err = env.profiles.Save(ctx, "p1", spent, p.Version)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}

	env.clock.Advance(11 * time.Minute)
	p, gained, err := env.profiles.RefreshEnergy(ctx, "p1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if gained != 2 || p.State.Energy.Current != 72 {
		t.Fatalf("gained %d current %d, want 2 and 72", gained, p.State.Energy.Current)
	}
}

func TestServerWritesDoNotShrinkClientWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.profiles.Save(ctx, "p1", domain.NewPlayerState(t0, 0), 0); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := env.villages.Init(ctx, "p1", "Oakridge"); err != nil {
		t.Fatalf("village init: %v", err)
	}
	env.clock.Advance(59 * time.Second)
	if _, _, err := env.villages.Claim(ctx, "p1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	env.clock.Advance(time.Second)

	cur, err := env.profiles.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	next := cur.State.Clone()
	// 60s since the last client save allows 60*8+60 kills
	next.Metrics.MonsterKills += 400
	saved, err := env.profiles.Save(ctx, "p1", next, cur.Version)
	if err != nil {
		t.Fatalf("save after server writes: %v", err)
	}
	if !saved.State.MetricsReportedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("reported at = %v", saved.State.MetricsReportedAt)
	}

	// the client cannot move its own window back
	env.clock.Advance(time.Second)
	forged := saved.State.Clone()
	forged.MetricsReportedAt = t0.Add(-24 * time.Hour)
	forged.Metrics.MonsterKills += 400
	_, err = env.profiles.Save(ctx, "p1", forged, saved.Version)
	var r *validation.Rejection
	if !errors.As(err, &r) || r.Reason != validation.ReasonKillsDelta {
		t.Fatalf("err = %v, want kills_delta rejection", err)
	}
}
