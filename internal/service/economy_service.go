package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"

	"github.com/google/uuid"
)

// EconomyService runs the server-authoritative shop, swap and stake actions
type EconomyService struct {
	profiles *ProfileService
	counters *CounterService
	sagas    *SagaService
	audit    *AuditService
	cfg      config.EconomyConfig
}

func NewEconomyService(profiles *ProfileService, counters *CounterService, sagas *SagaService, audit *AuditService, cfg config.EconomyConfig) *EconomyService {
	s := &EconomyService{profiles: profiles, counters: counters, sagas: sagas, audit: audit, cfg: cfg}
	sagas.Register(domain.SagaShopDungeonKey, s.shopHandler(domain.PoolDungeon, "gold"))
	sagas.Register(domain.SagaShopWorldBossTicket, s.shopHandler(domain.PoolWorldBoss, "crystals"))
	return s
}

// ShopResult is what a shop purchase leaves behind
type ShopResult struct {
	Profile *domain.Profile       `json:"profile"`
	Counter *domain.TicketCounter `json:"counter"`
}

type shopPayload struct {
	Pool     domain.Pool `json:"pool"`
	Currency string      `json:"currency"`
	Price    int64       `json:"price"`
}

// ShopBuyDungeonKey debits gold and adds one dungeon key
func (s *EconomyService) ShopBuyDungeonKey(ctx context.Context, playerID string) (*ShopResult, error) {
	res, err := s.shopBuy(ctx, domain.SagaShopDungeonKey, playerID, shopPayload{
		Pool: domain.PoolDungeon, Currency: "gold", Price: s.cfg.DungeonKeyPriceGold,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, playerID, domain.AuditActionShopDungeonKey, domain.AuditCategoryEconomy, map[string]interface{}{
		"price_gold": s.cfg.DungeonKeyPriceGold,
		"keys":       res.Counter.Count,
	})
	return res, nil
}

// BuyWorldBossTicket debits crystals and adds one world boss ticket
func (s *EconomyService) BuyWorldBossTicket(ctx context.Context, playerID string) (*ShopResult, error) {
	res, err := s.shopBuy(ctx, domain.SagaShopWorldBossTicket, playerID, shopPayload{
		Pool: domain.PoolWorldBoss, Currency: "crystals", Price: s.cfg.BossTicketPriceCrystals,
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, playerID, domain.AuditActionShopBossTicket, domain.AuditCategoryEconomy, map[string]interface{}{
		"price_crystals": s.cfg.BossTicketPriceCrystals,
		"tickets":        res.Counter.Count,
	})
	return res, nil
}

func (s *EconomyService) shopBuy(ctx context.Context, kind, playerID string, p shopPayload) (*ShopResult, error) {
	var res ShopResult
	_, err := s.sagas.Run(ctx, SagaSpec{
		Kind:     kind,
		PlayerID: playerID,
		Payload:  p,
		Step: func(ctx context.Context, sagaID string) error {
			prof, err := s.profiles.Mutate(ctx, kind+"_debit", playerID, sagaID, func(st *domain.PlayerState, _ time.Time) error {
				return debit(st, p.Currency, p.Price)
			})
			res.Profile = prof
			return err
		},
		Confirm: func(ctx context.Context, sagaID string) error {
			c, err := s.counters.Purchase(ctx, playerID, p.Pool, 1, sagaID)
			res.Counter = c
			return err
		},
		Compensate: func(ctx context.Context, sagaID string) error {
			prof, err := s.refund(ctx, kind, playerID, sagaID, p)
			if err == nil {
				res.Profile = prof
			}
			return err
		},
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *EconomyService) refund(ctx context.Context, kind, playerID, sagaID string, p shopPayload) (*domain.Profile, error) {
	return s.profiles.Mutate(ctx, kind+"_refund", playerID, UndoOpID(sagaID), func(st *domain.PlayerState, _ time.Time) error {
		if !st.HasOp(sagaID) {
			return errNoChange
		}
		credit(st, p.Currency, p.Price)
		return nil
	})
}

func (s *EconomyService) shopHandler(pool domain.Pool, currency string) SagaHandler {
	return SagaHandler{
		FirstApplied: func(ctx context.Context, rec domain.SagaRecord) (bool, error) {
			return s.profiles.HasOp(ctx, rec.PlayerID, rec.ID)
		},
		SecondApplied: func(ctx context.Context, rec domain.SagaRecord) (bool, error) {
			return s.counters.HasOp(ctx, rec.PlayerID, pool, rec.ID)
		},
		Compensate: func(ctx context.Context, rec domain.SagaRecord) error {
			p, err := decodePayload[shopPayload](rec)
			if err != nil {
				return err
			}
			if p.Currency == "" {
				p.Currency = currency
			}
			_, err = s.refund(ctx, rec.Kind, rec.PlayerID, rec.ID, p)
			return err
		},
	}
}

func debit(st *domain.PlayerState, currency string, amount int64) error {
	switch currency {
	case "gold":
		if st.Metrics.Gold < amount {
			return ErrInsufficientFunds
		}
		st.Metrics.Gold -= amount
	case "crystals":
		if st.Metrics.Crystals < amount {
			return ErrInsufficientFunds
		}
		st.Metrics.Crystals -= amount
	default:
		return fmt.Errorf("unknown currency %q: %w", currency, ErrInvalidRequest)
	}
	return nil
}

func credit(st *domain.PlayerState, currency string, amount int64) {
	switch currency {
	case "gold":
		st.Metrics.Gold += amount
	case "crystals":
		st.Metrics.Crystals += amount
	}
}

// SwapCrystalsToGold converts crystals at the configured rate
func (s *EconomyService) SwapCrystalsToGold(ctx context.Context, playerID string, amount int64) (*domain.Profile, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount %d: %w", amount, ErrInvalidRequest)
	}
	gold := amount * s.cfg.GoldPerCrystal
	p, err := s.profiles.Mutate(ctx, "swap_crystals_to_gold", playerID, "", func(st *domain.PlayerState, _ time.Time) error {
		if err := debit(st, "crystals", amount); err != nil {
			return err
		}
		st.Metrics.Gold += gold
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, playerID, domain.AuditActionSwapCrystals, domain.AuditCategoryEconomy, map[string]interface{}{
		"crystals": amount,
		"gold":     gold,
	})
	return p, nil
}

// StakeStart locks crystals for the configured duration
func (s *EconomyService) StakeStart(ctx context.Context, playerID string, amount int64) (*domain.Profile, *domain.StakeEntry, error) {
	if amount < s.cfg.StakeMin {
		return nil, nil, fmt.Errorf("stake below minimum %d: %w", s.cfg.StakeMin, ErrInvalidRequest)
	}
	var entry domain.StakeEntry
	p, err := s.profiles.Mutate(ctx, "stake_start", playerID, "", func(st *domain.PlayerState, now time.Time) error {
		if s.cfg.MaxActiveStakes > 0 && len(st.Stakes) >= s.cfg.MaxActiveStakes {
			return ErrTooManyStakes
		}
		if err := debit(st, "crystals", amount); err != nil {
			return err
		}
		entry = domain.StakeEntry{
			ID:        uuid.NewString(),
			Amount:    amount,
			StartedAt: now,
			EndsAt:    now.Add(s.cfg.StakeDuration),
		}
		st.Stakes = append(st.Stakes, entry)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.audit.Log(ctx, playerID, domain.AuditActionStakeStart, domain.AuditCategoryEconomy, map[string]interface{}{
		"stake_id": entry.ID,
		"amount":   amount,
		"ends_at":  entry.EndsAt,
	})
	return p, &entry, nil
}

// StakePayout is the crystals a matured stake returns
func StakePayout(amount int64, bonusRate float64) (total, bonus int64) {
	bonus = int64(math.Floor(float64(amount) * bonusRate))
	return amount + bonus, bonus
}

// StakeClaim releases a matured stake with its bonus
func (s *EconomyService) StakeClaim(ctx context.Context, playerID, stakeID string) (*domain.Profile, int64, error) {
	var payout int64
	p, err := s.profiles.Mutate(ctx, "stake_claim", playerID, "", func(st *domain.PlayerState, now time.Time) error {
		entry, ok := st.Stake(stakeID)
		if !ok {
			return ErrStakeNotFound
		}
		if entry.EndsAt.After(now) {
			return ErrStakeNotMatured
		}
		total, bonus := StakePayout(entry.Amount, s.cfg.StakeBonusRate)
		st.Stakes = slices.DeleteFunc(st.Stakes, func(e domain.StakeEntry) bool { return e.ID == stakeID })
		st.Metrics.Crystals += total
		st.Metrics.CrystalsEarned += bonus
		payout = total
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	s.audit.Log(ctx, playerID, domain.AuditActionStakeClaim, domain.AuditCategoryEconomy, map[string]interface{}{
		"stake_id": stakeID,
		"payout":   payout,
	})
	return p, payout, nil
}
