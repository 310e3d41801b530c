package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/storage/sqlite"
	"village_backend/internal/validation"
	"village_backend/internal/village"
)

var t0 = time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testEnv wires every service over a throwaway SQLite database and a shared fake clock
type testEnv struct {
	store     *sqlite.Store
	clock     *testClock
	audit     *AuditService
	profiles  *ProfileService
	counters  *CounterService
	sagas     *SagaService
	economy   *EconomyService
	villages  *VillageService
	worldboss *WorldBossService
}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 64, BaseDelay: time.Millisecond, MaxJitter: 2 * time.Millisecond}
}

func testEconomy() config.EconomyConfig {
	return config.EconomyConfig{
		DungeonKeyPriceGold:     1000,
		BossTicketPriceCrystals: 50,
		GoldPerCrystal:          100,
		StakeMin:                10,
		StakeDuration:           72 * time.Hour,
		StakeBonusRate:          0.1,
		MaxActiveStakes:         5,
	}
}

func testWorldBoss() config.WorldBossConfig {
	return config.WorldBossConfig{
		CycleDuration:  6 * time.Hour,
		PrizePool:      10000,
		AttackBase:     10,
		AttackPerLevel: 2,
		PerSecondCap:   600,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "village.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := &testClock{t: t0}
	retry := testRetry()
	audit := NewAuditService(store)

	profiles := NewProfileService(store, validation.New(validation.DefaultBounds()), audit, retry,
		config.EnergyConfig{Max: 100, RegenInterval: 5 * time.Minute})
	profiles.now = clock.Now

	counters := NewCounterService(store, map[domain.Pool]PoolPolicy{
		domain.PoolDungeon:   {DailyAllotment: 5, Cap: 20, ShopDailyLimit: 5},
		domain.PoolWorldBoss: {DailyAllotment: 1, Cap: 5, ShopDailyLimit: 3},
	}, audit, retry)
	counters.now = clock.Now

	sagas := NewSagaService(store, audit)
	sagas.now = clock.Now

	wb := NewWorldBossService(store, profiles, counters, sagas, audit, retry, testWorldBoss())
	wb.now = clock.Now

	return &testEnv{
		store:     store,
		clock:     clock,
		audit:     audit,
		profiles:  profiles,
		counters:  counters,
		sagas:     sagas,
		economy:   NewEconomyService(profiles, counters, sagas, audit, testEconomy()),
		villages:  NewVillageService(profiles, village.NewEngine(nil), audit),
		worldboss: wb,
	}
}

// seedProfile stores a profile with the given metrics through the server path
func (e *testEnv) seedProfile(t *testing.T, playerID string, m domain.Metrics) *domain.Profile {
	t.Helper()
	p, err := e.profiles.Mutate(context.Background(), "seed", playerID, "", func(st *domain.PlayerState, _ time.Time) error {
		st.Metrics = m
		return nil
	})
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return p
}

func (e *testEnv) auditCount(t *testing.T, playerID, action string) int {
	t.Helper()
	events, err := e.audit.PlayerEvents(context.Background(), playerID, 1000)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	n := 0
	for _, ev := range events {
		if ev.Action == action {
			n++
		}
	}
	return n
}
