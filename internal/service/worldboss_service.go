package service

import (
	"context"
	"errors"
	"math"
	"math/bits"
	"strconv"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/logger"
	"village_backend/internal/storage"
)

const topParticipantsLimit = 10

var (
	errAlreadySettled = errors.New("reward already settled")
	errAlreadyJoined  = errors.New("already joined")
)

// WorldBossService runs the shared boss cycle and its per-player ledger
type WorldBossService struct {
	store    storage.WorldBossStore
	profiles *ProfileService
	counters *CounterService
	sagas    *SagaService
	audit    *AuditService
	retry    RetryPolicy
	cfg      config.WorldBossConfig
	now      func() time.Time
}

func NewWorldBossService(store storage.WorldBossStore, profiles *ProfileService, counters *CounterService, sagas *SagaService, audit *AuditService, retry RetryPolicy, cfg config.WorldBossConfig) *WorldBossService {
	s := &WorldBossService{
		store:    store,
		profiles: profiles,
		counters: counters,
		sagas:    sagas,
		audit:    audit,
		retry:    retry,
		cfg:      cfg,
		now:      time.Now,
	}
	sagas.Register(domain.SagaWorldBossSettle, s.settleHandler())
	sagas.Register(domain.SagaWorldBossJoin, s.joinHandler())
	return s
}

// SyncInput is one client heartbeat
type SyncInput struct {
	PlayerID         string
	PlayerName       string
	Joined           bool
	ClientCycleStart time.Time
	PendingDamage    int64
}

// SyncResult is the authoritative view returned to the client
type SyncResult struct {
	Cycle               domain.WorldBossCycle       `json:"cycle"`
	Participant         domain.WorldBossParticipant `json:"participant"`
	DamageAdded         int64                       `json:"damage_added"`
	Reward              int64                       `json:"reward"`
	CycleChanged        bool                        `json:"cycle_changed"`
	ClientPendingDamage int64                       `json:"client_pending_damage"`
}

// Snapshot is the read-only feed payload
type Snapshot struct {
	Cycle       domain.WorldBossCycle         `json:"cycle"`
	Participant *domain.WorldBossParticipant  `json:"participant,omitempty"`
	TotalDamage int64                         `json:"total_damage"`
	Top         []domain.WorldBossParticipant `json:"top"`
}

// EnsureCycle returns the running cycle, creating or advancing it as needed
func (s *WorldBossService) EnsureCycle(ctx context.Context) (*domain.WorldBossCycle, error) {
	c, _, err := s.Rotate(ctx)
	return c, err
}

// Rotate advances an expired cycle. Exactly one concurrent caller reports rotated.
func (s *WorldBossService) Rotate(ctx context.Context) (*domain.WorldBossCycle, bool, error) {
	dur := s.cfg.CycleDuration
	var rotated bool
	c, err := WithOptimisticRetry(ctx, s.retry, "worldboss_rotate", func(ctx context.Context, _ int) (*domain.WorldBossCycle, error) {
		rotated = false
		now := s.now()
		cur, err := s.store.LoadCycle(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			start := now.Truncate(dur)
			first := domain.WorldBossCycle{CycleStart: start, CycleEnd: start.Add(dur), PrizePool: s.cfg.PrizePool}
			if err := s.store.SaveCycle(ctx, first, time.Time{}); err != nil {
				return nil, err
			}
			return &first, nil
		}
		if err != nil {
			return nil, err
		}
		if cur.CycleEnd.After(now) {
			return cur, nil
		}

		missed := now.Sub(cur.CycleEnd) / dur
		start := cur.CycleEnd.Add(missed * dur)
		next := domain.WorldBossCycle{
			CycleStart:     start,
			CycleEnd:       start.Add(dur),
			PrizePool:      s.cfg.PrizePool,
			LastCycleStart: cur.CycleStart,
			LastCycleEnd:   cur.CycleEnd,
			LastPrizePool:  cur.PrizePool,
		}
		if err := s.store.SaveCycle(ctx, next, cur.CycleStart); err != nil {
			return nil, err
		}
		rotated = true
		return &next, nil
	})
	if err != nil {
		return nil, false, err
	}
	if rotated {
		WorldBossRotations.Inc()
		logger.Info("world boss cycle rotated", "cycle_start", c.CycleStart, "closed_cycle", c.LastCycleStart)
		s.audit.Log(ctx, "", domain.AuditActionBossRotate, domain.AuditCategoryWorldBoss, map[string]interface{}{
			"cycle_start":      c.CycleStart,
			"last_cycle_start": c.LastCycleStart,
			"last_prize_pool":  c.LastPrizePool,
		})
	}
	return c, rotated, nil
}

// Sync settles the closed cycle, joins the current one when asked and applies
// passive damage since the last sync.
func (s *WorldBossService) Sync(ctx context.Context, in SyncInput) (*SyncResult, error) {
	cycle, err := s.EnsureCycle(ctx)
	if err != nil {
		return nil, err
	}

	res := &SyncResult{
		Cycle:               *cycle,
		ClientPendingDamage: in.PendingDamage,
		CycleChanged:        !in.ClientCycleStart.IsZero() && !in.ClientCycleStart.Equal(cycle.CycleStart),
	}
	if in.PendingDamage > 0 {
		logger.Debug("client reported pending damage", "player_id", in.PlayerID, "pending_damage", in.PendingDamage)
	}

	reward, err := s.settle(ctx, *cycle, in.PlayerID)
	if err != nil {
		return nil, err
	}
	res.Reward = reward

	p, err := s.participant(ctx, in, cycle.CycleStart)
	if err != nil {
		return nil, err
	}

	if in.Joined && !p.Joined {
		p, err = s.join(ctx, in, *cycle)
		if err != nil {
			return nil, err
		}
	} else if p.Joined {
		var added int64
		p, added, err = s.applyPassiveDamage(ctx, in.PlayerID, *cycle)
		if err != nil {
			return nil, err
		}
		res.DamageAdded = added
	}

	res.Participant = *p
	return res, nil
}

func (s *WorldBossService) participant(ctx context.Context, in SyncInput, cycleStart time.Time) (*domain.WorldBossParticipant, error) {
	return WithOptimisticRetry(ctx, s.retry, "worldboss_participant", func(ctx context.Context, _ int) (*domain.WorldBossParticipant, error) {
		now := s.now()
		p, err := s.store.LoadParticipant(ctx, in.PlayerID, cycleStart)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			fresh := domain.WorldBossParticipant{
				PlayerID:   in.PlayerID,
				CycleStart: cycleStart,
				PlayerName: in.PlayerName,
				LastSyncAt: now,
			}
			v, err := s.store.SaveParticipant(ctx, fresh, 0, now)
			if err != nil {
				return nil, err
			}
			fresh.Version = v
			return &fresh, nil
		case err != nil:
			return nil, err
		}

		if in.PlayerName == "" || in.PlayerName == p.PlayerName {
			return p, nil
		}
		next := *p
		next.PlayerName = in.PlayerName
		v, err := s.store.SaveParticipant(ctx, next, p.Version, now)
		if err != nil {
			return nil, err
		}
		next.Version = v
		return &next, nil
	})
}

// PassiveDamage is the damage dealt over elapsed seconds at attack, capped per second
func PassiveDamage(elapsedSec, attack float64, perSecondCap int64) int64 {
	if elapsedSec <= 0 || attack <= 0 {
		return 0
	}
	dmg := math.Floor(elapsedSec * attack)
	capped := math.Floor(elapsedSec * float64(perSecondCap))
	return int64(math.Min(dmg, capped))
}

func (s *WorldBossService) attack(ctx context.Context, playerID string) (float64, error) {
	level := domain.MinLevel
	p, err := s.profiles.Load(ctx, playerID)
	switch {
	case err == nil:
		level = p.State.Metrics.Level
	case !errors.Is(err, storage.ErrNotFound):
		return 0, err
	}
	return s.cfg.AttackBase + float64(level)*s.cfg.AttackPerLevel, nil
}

func (s *WorldBossService) applyPassiveDamage(ctx context.Context, playerID string, cycle domain.WorldBossCycle) (*domain.WorldBossParticipant, int64, error) {
	attack, err := s.attack(ctx, playerID)
	if err != nil {
		return nil, 0, err
	}

	var added int64
	p, err := WithOptimisticRetry(ctx, s.retry, "worldboss_damage", func(ctx context.Context, _ int) (*domain.WorldBossParticipant, error) {
		added = 0
		now := s.now()
		cur, err := s.store.LoadParticipant(ctx, playerID, cycle.CycleStart)
		if err != nil {
			return nil, err
		}
		// a cycle that ended after EnsureCycle may already be settling; its damage is frozen
		if !now.Before(cycle.CycleEnd) {
			return cur, nil
		}
		if !now.After(cur.LastSyncAt) {
			return cur, nil
		}

		next := *cur
		added = PassiveDamage(now.Sub(cur.LastSyncAt).Seconds(), attack, s.cfg.PerSecondCap)
		next.Damage += added
		next.LastSyncAt = now
		v, err := s.store.SaveParticipant(ctx, next, cur.Version, now)
		if err != nil {
			return nil, err
		}
		next.Version = v
		return &next, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return p, added, nil
}

type joinPayload struct {
	CycleStart time.Time `json:"cycle_start"`
}

func (s *WorldBossService) join(ctx context.Context, in SyncInput, cycle domain.WorldBossCycle) (*domain.WorldBossParticipant, error) {
	var joined *domain.WorldBossParticipant
	_, err := s.sagas.Run(ctx, SagaSpec{
		Kind:     domain.SagaWorldBossJoin,
		PlayerID: in.PlayerID,
		Payload:  joinPayload{CycleStart: cycle.CycleStart},
		Step: func(ctx context.Context, sagaID string) error {
			_, err := s.counters.Adjust(ctx, in.PlayerID, domain.PoolWorldBoss, -1, sagaID)
			return err
		},
		Confirm: func(ctx context.Context, sagaID string) error {
			p, err := s.markJoined(ctx, in.PlayerID, in.PlayerName, cycle.CycleStart)
			joined = p
			return err
		},
		Compensate: func(ctx context.Context, sagaID string) error {
			return s.counters.ReverseAdjust(ctx, in.PlayerID, domain.PoolWorldBoss, -1, sagaID)
		},
	})
	if errors.Is(err, errAlreadyJoined) {
		// a concurrent sync joined first and our ticket was refunded
		return s.store.LoadParticipant(ctx, in.PlayerID, cycle.CycleStart)
	}
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, in.PlayerID, domain.AuditActionBossJoin, domain.AuditCategoryWorldBoss, map[string]interface{}{
		"cycle_start": cycle.CycleStart,
	})
	return joined, nil
}

func (s *WorldBossService) markJoined(ctx context.Context, playerID, name string, cycleStart time.Time) (*domain.WorldBossParticipant, error) {
	return WithOptimisticRetry(ctx, s.retry, "worldboss_join", func(ctx context.Context, _ int) (*domain.WorldBossParticipant, error) {
		now := s.now()
		cur, err := s.store.LoadParticipant(ctx, playerID, cycleStart)
		if err != nil {
			return nil, err
		}
		if cur.Joined {
			return nil, errAlreadyJoined
		}
		next := *cur
		next.Joined = true
		next.LastSyncAt = now
		if name != "" {
			next.PlayerName = name
		}
		v, err := s.store.SaveParticipant(ctx, next, cur.Version, now)
		if err != nil {
			return nil, err
		}
		next.Version = v
		return &next, nil
	})
}

func (s *WorldBossService) joinHandler() SagaHandler {
	return SagaHandler{
		FirstApplied: func(ctx context.Context, rec domain.SagaRecord) (bool, error) {
			return s.counters.HasOp(ctx, rec.PlayerID, domain.PoolWorldBoss, rec.ID)
		},
		SecondApplied: func(ctx context.Context, rec domain.SagaRecord) (bool, error) {
			pl, err := decodePayload[joinPayload](rec)
			if err != nil {
				return false, err
			}
			p, err := s.store.LoadParticipant(ctx, rec.PlayerID, pl.CycleStart)
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return p.Joined, nil
		},
		Compensate: func(ctx context.Context, rec domain.SagaRecord) error {
			return s.counters.ReverseAdjust(ctx, rec.PlayerID, domain.PoolWorldBoss, -1, rec.ID)
		},
	}
}

type settlePayload struct {
	CycleStart time.Time `json:"cycle_start"`
	Share      int64     `json:"share"`
}

// SettleOpID is the profile op id of a cycle payout
func SettleOpID(cycleStart time.Time) string {
	return "wb:" + strconv.FormatInt(cycleStart.UnixMilli(), 10)
}

// RewardShare is floor(pool*damage/total) without intermediate overflow
func RewardShare(pool, damage, total int64) int64 {
	if pool <= 0 || damage <= 0 || total <= 0 {
		return 0
	}
	damage = min(damage, total)
	hi, lo := bits.Mul64(uint64(pool), uint64(damage))
	q, _ := bits.Div64(hi, lo, uint64(total))
	return int64(q)
}

// settle pays the player's share of the last closed cycle, at most once
func (s *WorldBossService) settle(ctx context.Context, cycle domain.WorldBossCycle, playerID string) (int64, error) {
	if !cycle.HasClosedCycle() {
		return 0, nil
	}
	p, err := s.store.LoadParticipant(ctx, playerID, cycle.LastCycleStart)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !p.Joined || p.RewardClaimed || p.Damage <= 0 {
		return 0, nil
	}

	total, err := s.store.TotalJoinedDamage(ctx, cycle.LastCycleStart)
	if err != nil {
		return 0, err
	}
	share := RewardShare(cycle.LastPrizePool, p.Damage, total)
	payload := settlePayload{CycleStart: cycle.LastCycleStart, Share: share}

	_, err = s.sagas.Run(ctx, SagaSpec{
		Kind:     domain.SagaWorldBossSettle,
		PlayerID: playerID,
		Payload:  payload,
		Step: func(ctx context.Context, _ string) error {
			return s.setRewardClaimed(ctx, playerID, cycle.LastCycleStart, true)
		},
		Confirm: func(ctx context.Context, _ string) error {
			return s.creditReward(ctx, playerID, payload)
		},
		Compensate: func(ctx context.Context, _ string) error {
			return s.setRewardClaimed(ctx, playerID, cycle.LastCycleStart, false)
		},
	})
	if errors.Is(err, errAlreadySettled) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	s.audit.Log(ctx, playerID, domain.AuditActionBossSettle, domain.AuditCategoryWorldBoss, map[string]interface{}{
		"cycle_start":  cycle.LastCycleStart,
		"damage":       p.Damage,
		"total_damage": total,
		"reward":       share,
	})
	return share, nil
}

func (s *WorldBossService) setRewardClaimed(ctx context.Context, playerID string, cycleStart time.Time, claimed bool) error {
	_, err := WithOptimisticRetry(ctx, s.retry, "worldboss_settle_flag", func(ctx context.Context, _ int) (struct{}, error) {
		now := s.now()
		cur, err := s.store.LoadParticipant(ctx, playerID, cycleStart)
		if err != nil {
			return struct{}{}, err
		}
		if cur.RewardClaimed == claimed {
			if claimed {
				return struct{}{}, errAlreadySettled
			}
			return struct{}{}, nil
		}
		next := *cur
		next.RewardClaimed = claimed
		_, err = s.store.SaveParticipant(ctx, next, cur.Version, now)
		return struct{}{}, err
	})
	return err
}

func (s *WorldBossService) creditReward(ctx context.Context, playerID string, p settlePayload) error {
	_, err := s.profiles.Mutate(ctx, "worldboss_settle_credit", playerID, SettleOpID(p.CycleStart), func(st *domain.PlayerState, _ time.Time) error {
		st.Metrics.Crystals += p.Share
		st.Metrics.CrystalsEarned += p.Share
		return nil
	})
	return err
}

func (s *WorldBossService) settleHandler() SagaHandler {
	return SagaHandler{
		FirstApplied: func(ctx context.Context, rec domain.SagaRecord) (bool, error) {
			pl, err := decodePayload[settlePayload](rec)
			if err != nil {
				return false, err
			}
			p, err := s.store.LoadParticipant(ctx, rec.PlayerID, pl.CycleStart)
			if errors.Is(err, storage.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			return p.RewardClaimed, nil
		},
		SecondApplied: func(ctx context.Context, rec domain.SagaRecord) (bool, error) {
			pl, err := decodePayload[settlePayload](rec)
			if err != nil {
				return false, err
			}
			return s.profiles.HasOp(ctx, rec.PlayerID, SettleOpID(pl.CycleStart))
		},
		Compensate: func(ctx context.Context, rec domain.SagaRecord) error {
			pl, err := decodePayload[settlePayload](rec)
			if err != nil {
				return err
			}
			return s.setRewardClaimed(ctx, rec.PlayerID, pl.CycleStart, false)
		},
	}
}

// Snapshot returns the cycle, the player's row and the leaderboard
func (s *WorldBossService) Snapshot(ctx context.Context, playerID string) (*Snapshot, error) {
	cycle, err := s.EnsureCycle(ctx)
	if err != nil {
		return nil, err
	}
	out := &Snapshot{Cycle: *cycle}

	p, err := s.store.LoadParticipant(ctx, playerID, cycle.CycleStart)
	switch {
	case err == nil:
		out.Participant = p
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	if out.TotalDamage, err = s.store.TotalJoinedDamage(ctx, cycle.CycleStart); err != nil {
		return nil, err
	}
	if out.Top, err = s.store.TopParticipants(ctx, cycle.CycleStart, topParticipantsLimit); err != nil {
		return nil, err
	}
	return out, nil
}
