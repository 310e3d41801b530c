package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/storage"
)

// PoolPolicy is the daily allotment, hard cap and shop limit of one pool
type PoolPolicy struct {
	DailyAllotment int64
	Cap            int64
	ShopDailyLimit int64
}

// PoolsFromConfig maps configured pools to their policies
func PoolsFromConfig(cfg *config.Config) map[domain.Pool]PoolPolicy {
	return map[domain.Pool]PoolPolicy{
		domain.PoolDungeon:   PoolPolicy(cfg.Dungeon),
		domain.PoolWorldBoss: PoolPolicy(cfg.BossPool),
	}
}

// UndoOpID names the compensating operation of opID
func UndoOpID(opID string) string {
	return opID + ":undo"
}

// CounterService manages the daily-reset ticket counters
type CounterService struct {
	store storage.CounterStore
	pools map[domain.Pool]PoolPolicy
	audit *AuditService
	retry RetryPolicy
	now   func() time.Time
}

func NewCounterService(store storage.CounterStore, pools map[domain.Pool]PoolPolicy, audit *AuditService, retry RetryPolicy) *CounterService {
	return &CounterService{store: store, pools: pools, audit: audit, retry: retry, now: time.Now}
}

func (s *CounterService) policy(pool domain.Pool) (PoolPolicy, error) {
	p, ok := s.pools[pool]
	if !ok {
		return PoolPolicy{}, fmt.Errorf("unknown pool %q: %w", pool, ErrInvalidRequest)
	}
	return p, nil
}

// current loads the stored counter, or a fresh unsaved one (Version 0) when missing
func (s *CounterService) current(ctx context.Context, playerID string, pool domain.Pool, p PoolPolicy, now time.Time) (*domain.TicketCounter, error) {
	c, err := s.store.LoadCounter(ctx, playerID, pool)
	if errors.Is(err, storage.ErrNotFound) {
		today := domain.DayKey(now)
		return &domain.TicketCounter{
			PlayerID:    playerID,
			Pool:        pool,
			Count:       p.DailyAllotment,
			ResetDayKey: today,
			ShopDayKey:  today,
		}, nil
	}
	return c, err
}

// normalize applies the daily resets due at today
func normalize(c domain.TicketCounter, p PoolPolicy, today string) domain.TicketCounter {
	if c.ResetDayKey != today {
		c.Count = p.DailyAllotment
		c.ResetDayKey = today
	}
	if c.ShopDayKey != today {
		c.ShopBuyCount = 0
		c.ShopDayKey = today
	}
	return c
}

// Ensure creates the counter on first touch and applies the daily reset exactly once per day
func (s *CounterService) Ensure(ctx context.Context, playerID string, pool domain.Pool) (*domain.TicketCounter, error) {
	p, err := s.policy(pool)
	if err != nil {
		return nil, err
	}
	return WithOptimisticRetry(ctx, s.retry, "counter_ensure", func(ctx context.Context, _ int) (*domain.TicketCounter, error) {
		now := s.now()
		today := domain.DayKey(now)
		c, err := s.current(ctx, playerID, pool, p, now)
		if err != nil {
			return nil, err
		}
		if c.Version != 0 && c.ResetDayKey == today && c.ShopDayKey == today {
			return c, nil
		}

		next := normalize(*c, p, today)
		version, err := s.store.SaveCounter(ctx, next, c.Version, now)
		if err != nil {
			return nil, err
		}
		next.Version = version

		if c.Version != 0 {
			s.audit.Log(ctx, playerID, domain.AuditActionCounterReset, domain.AuditCategoryEconomy, map[string]interface{}{
				"pool":  string(pool),
				"day":   today,
				"count": next.Count,
			})
		}
		return &next, nil
	})
}

// Adjust adds delta to the counter. The result must stay within [0, Cap].
func (s *CounterService) Adjust(ctx context.Context, playerID string, pool domain.Pool, delta int64, opID string) (*domain.TicketCounter, error) {
	p, err := s.policy(pool)
	if err != nil {
		return nil, err
	}
	return WithOptimisticRetry(ctx, s.retry, "counter_adjust", func(ctx context.Context, _ int) (*domain.TicketCounter, error) {
		now := s.now()
		c, err := s.current(ctx, playerID, pool, p, now)
		if err != nil {
			return nil, err
		}
		if opID != "" && c.HasOp(opID) {
			return c, nil
		}

		next := normalize(*c, p, domain.DayKey(now))
		next.Count += delta
		if next.Count < 0 || next.Count > p.Cap {
			return nil, fmt.Errorf("%s pool at %d: %w", pool, c.Count, ErrResourceExhausted)
		}
		next.RecentOps = domain.AppendOp(next.RecentOps, opID)

		version, err := s.store.SaveCounter(ctx, next, c.Version, now)
		if err != nil {
			return nil, err
		}
		next.Version = version
		return &next, nil
	})
}

// Purchase adds qty bought in the shop, enforcing the daily shop limit and the cap
func (s *CounterService) Purchase(ctx context.Context, playerID string, pool domain.Pool, qty int64, opID string) (*domain.TicketCounter, error) {
	p, err := s.policy(pool)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("quantity %d: %w", qty, ErrInvalidRequest)
	}
	return WithOptimisticRetry(ctx, s.retry, "counter_purchase", func(ctx context.Context, _ int) (*domain.TicketCounter, error) {
		now := s.now()
		c, err := s.current(ctx, playerID, pool, p, now)
		if err != nil {
			return nil, err
		}
		if opID != "" && c.HasOp(opID) {
			return c, nil
		}

		next := normalize(*c, p, domain.DayKey(now))
		if next.ShopBuyCount+qty > p.ShopDailyLimit {
			return nil, ErrShopLimit
		}
		if next.Count+qty > p.Cap {
			return nil, fmt.Errorf("%s pool at cap %d: %w", pool, p.Cap, ErrResourceExhausted)
		}
		next.Count += qty
		next.ShopBuyCount += qty
		next.RecentOps = domain.AppendOp(next.RecentOps, opID)

		version, err := s.store.SaveCounter(ctx, next, c.Version, now)
		if err != nil {
			return nil, err
		}
		next.Version = version
		return &next, nil
	})
}

// ReversePurchase undoes a purchase recorded under opID. It is a no-op when the
// purchase never landed or was already reversed.
func (s *CounterService) ReversePurchase(ctx context.Context, playerID string, pool domain.Pool, qty int64, opID string) error {
	return s.reverse(ctx, playerID, pool, opID, -qty, qty)
}

// ReverseAdjust undoes an Adjust recorded under opID
func (s *CounterService) ReverseAdjust(ctx context.Context, playerID string, pool domain.Pool, delta int64, opID string) error {
	return s.reverse(ctx, playerID, pool, opID, -delta, 0)
}

func (s *CounterService) reverse(ctx context.Context, playerID string, pool domain.Pool, opID string, countDelta, shopRefund int64) error {
	p, err := s.policy(pool)
	if err != nil {
		return err
	}
	undo := UndoOpID(opID)
	_, err = WithOptimisticRetry(ctx, s.retry, "counter_reverse", func(ctx context.Context, _ int) (struct{}, error) {
		now := s.now()
		c, err := s.store.LoadCounter(ctx, playerID, pool)
		if errors.Is(err, storage.ErrNotFound) {
			return struct{}{}, nil
		}
		if err != nil {
			return struct{}{}, err
		}
		if !c.HasOp(opID) || c.HasOp(undo) {
			return struct{}{}, nil
		}

		next := *c
		next.Count = min(p.Cap, max(0, next.Count+countDelta))
		if shopRefund > 0 && next.ShopDayKey == domain.DayKey(now) {
			next.ShopBuyCount = max(0, next.ShopBuyCount-shopRefund)
		}
		next.RecentOps = domain.AppendOp(next.RecentOps, undo)

		_, err = s.store.SaveCounter(ctx, next, c.Version, now)
		return struct{}{}, err
	})
	return err
}

// HasOp reports whether opID is recorded on the player's counter
func (s *CounterService) HasOp(ctx context.Context, playerID string, pool domain.Pool, opID string) (bool, error) {
	c, err := s.store.LoadCounter(ctx, playerID, pool)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.HasOp(opID), nil
}

// Status ensures and returns every configured pool for a player
func (s *CounterService) Status(ctx context.Context, playerID string) (map[domain.Pool]*domain.TicketCounter, error) {
	out := make(map[domain.Pool]*domain.TicketCounter, len(s.pools))
	for pool := range s.pools {
		c, err := s.Ensure(ctx, playerID, pool)
		if err != nil {
			return nil, err
		}
		out[pool] = c
	}
	return out, nil
}
