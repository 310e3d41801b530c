package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"village_backend/internal/domain"
)

func TestShopBuyDungeonKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Gold: 2500})

	res, err := env.economy.ShopBuyDungeonKey(ctx, "p1")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Profile.State.Metrics.Gold != 1500 || res.Counter.Count != 6 || res.Counter.ShopBuyCount != 1 {
		t.Fatalf("after buy: gold %d counter %+v", res.Profile.State.Metrics.Gold, res.Counter)
	}

	env.clock.Advance(time.Hour)
	pending, err := env.store.ListPendingSagas(ctx, env.clock.Now(), 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending sagas = %v, %v", pending, err)
	}
}

func TestShopBuyInsufficientFundsTouchesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Gold: 999})

	if _, err := env.economy.ShopBuyDungeonKey(ctx, "p1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	c, _ := env.counters.Ensure(ctx, "p1", domain.PoolDungeon)
	if c.Count != 5 || c.ShopBuyCount != 0 {
		t.Fatalf("counter changed: %+v", c)
	}
}

func TestShopBuyCompensatesWhenCounterRefuses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Gold: 10000})

	for i := 0; i < 5; i++ {
		if _, err := env.economy.ShopBuyDungeonKey(ctx, "p1"); err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
	}
	if _, err := env.economy.ShopBuyDungeonKey(ctx, "p1"); !errors.Is(err, ErrShopLimit) {
		t.Fatalf("sixth buy err = %v, want ErrShopLimit", err)
	}

	p, _ := env.profiles.Load(ctx, "p1")
	if p.State.Metrics.Gold != 5000 {
		t.Fatalf("gold = %d, want 5000 after refund", p.State.Metrics.Gold)
	}
	if n := env.auditCount(t, "p1", domain.AuditActionSagaCompensated); n != 1 {
		t.Fatalf("compensation audits = %d, want 1", n)
	}
}

func TestBuyWorldBossTicketPaysCrystals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Crystals: 120})

	res, err := env.economy.BuyWorldBossTicket(ctx, "p1")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Profile.State.Metrics.Crystals != 70 || res.Counter.Count != 2 {
		t.Fatalf("crystals %d tickets %d", res.Profile.State.Metrics.Crystals, res.Counter.Count)
	}
}

func TestSwapCrystalsToGold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Crystals: 10, Gold: 5})

	p, err := env.economy.SwapCrystalsToGold(ctx, "p1", 4)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if p.State.Metrics.Crystals != 6 || p.State.Metrics.Gold != 405 {
		t.Fatalf("metrics = %+v", p.State.Metrics)
	}
	if _, err := env.economy.SwapCrystalsToGold(ctx, "p1", 7); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw err = %v", err)
	}
	if _, err := env.economy.SwapCrystalsToGold(ctx, "p1", 0); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("zero swap err = %v", err)
	}
}

func TestStakeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedProfile(t, "p1", domain.Metrics{Level: 1, Crystals: 200, CrystalsEarned: 200})

	if _, _, err := env.economy.StakeStart(ctx, "p1", 5); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("below minimum err = %v", err)
	}
	p, stake, err := env.economy.StakeStart(ctx, "p1", 105)
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	if p.State.Metrics.Crystals != 95 || len(p.State.Stakes) != 1 {
		t.Fatalf("after stake: %+v", p.State)
	}

	if _, _, err := env.economy.StakeClaim(ctx, "p1", stake.ID); !errors.Is(err, ErrStakeNotMatured) {
		t.Fatalf("early claim err = %v", err)
	}
	if _, _, err := env.economy.StakeClaim(ctx, "p1", "missing"); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("unknown claim err = %v", err)
	}

	env.clock.Advance(72 * time.Hour)
	p, payout, err := env.economy.StakeClaim(ctx, "p1", stake.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if payout != 115 || p.State.Metrics.Crystals != 210 || p.State.Metrics.CrystalsEarned != 210 || len(p.State.Stakes) != 0 {
		t.Fatalf("after claim: payout %d state %+v", payout, p.State.Metrics)
	}
}

func TestStakePayout(t *testing.T) {
	total, bonus := StakePayout(105, 0.1)
	if total != 115 || bonus != 10 {
		t.Fatalf("payout = %d bonus %d", total, bonus)
	}
}
