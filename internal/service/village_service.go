package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"village_backend/internal/domain"
	"village_backend/internal/village"
)

const maxSettlementName = 32

// VillageService drives the idle village stored inside the profile
type VillageService struct {
	profiles *ProfileService
	engine   *village.Engine
	audit    *AuditService
}

func NewVillageService(profiles *ProfileService, engine *village.Engine, audit *AuditService) *VillageService {
	return &VillageService{profiles: profiles, engine: engine, audit: audit}
}

// VillageStatus is the stored village plus its projection at now
type VillageStatus struct {
	Village    domain.VillageState `json:"village"`
	Projection village.Projection  `json:"projection"`
	At         time.Time           `json:"at"`
}

// Init founds the settlement. The name can never change afterwards.
func (s *VillageService) Init(ctx context.Context, playerID, name string) (*domain.Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxSettlementName {
		return nil, fmt.Errorf("settlement name must be 1-%d characters: %w", maxSettlementName, ErrInvalidRequest)
	}
	p, err := s.profiles.Mutate(ctx, "village_init", playerID, "", func(st *domain.PlayerState, now time.Time) error {
		if st.Village != nil {
			return ErrVillageExists
		}
		v := domain.NewVillage(name, now)
		st.Village = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, playerID, domain.AuditActionVillageInit, domain.AuditCategoryVillage, map[string]interface{}{
		"name": name,
	})
	return p, nil
}

// Status projects production without writing anything
func (s *VillageService) Status(ctx context.Context, playerID string) (*VillageStatus, error) {
	p, err := s.profiles.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p.State.Village == nil {
		return nil, ErrVillageMissing
	}
	now := s.profiles.now()
	return &VillageStatus{
		Village:    *p.State.Village,
		Projection: s.engine.Project(*p.State.Village, now),
		At:         now,
	}, nil
}

// Claim commits whole units produced since the last claim
func (s *VillageService) Claim(ctx context.Context, playerID string) (*domain.Profile, village.ClaimResult, error) {
	var res village.ClaimResult
	p, err := s.profiles.Mutate(ctx, "village_claim", playerID, "", func(st *domain.PlayerState, now time.Time) error {
		if st.Village == nil {
			return ErrVillageMissing
		}
		v, r := s.engine.Claim(*st.Village, now)
		st.Village = &v
		st.Metrics.Gold += r.Gold
		st.Metrics.Crystals += r.Crystals
		st.Metrics.CrystalsEarned += r.Crystals
		res = r
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	if res.Gold > 0 || res.Crystals > 0 {
		s.audit.Log(ctx, playerID, domain.AuditActionVillageClaim, domain.AuditCategoryVillage, map[string]interface{}{
			"gold":     res.Gold,
			"crystals": res.Crystals,
		})
	}
	return p, res, nil
}

// UpgradeStart settles production so far, then starts the upgrade and pays for it
func (s *VillageService) UpgradeStart(ctx context.Context, playerID string, building domain.BuildingID) (*domain.Profile, int64, error) {
	if !building.Valid() {
		return nil, 0, fmt.Errorf("%w: %w: %q", ErrInvalidRequest, village.ErrUnknownBuilding, building)
	}
	var (
		cost    int64
		claimed village.ClaimResult
	)
	p, err := s.profiles.Mutate(ctx, "village_upgrade_start", playerID, "", func(st *domain.PlayerState, now time.Time) error {
		if st.Village == nil {
			return ErrVillageMissing
		}
		v, r := s.engine.Claim(*st.Village, now)
		st.Metrics.Gold += r.Gold
		st.Metrics.Crystals += r.Crystals
		st.Metrics.CrystalsEarned += r.Crystals

		up, c, err := s.engine.StartUpgrade(v, building, now)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		if st.Metrics.Gold < c {
			return ErrInsufficientFunds
		}
		st.Metrics.Gold -= c
		st.Village = &up
		cost, claimed = c, r
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	b := p.State.Village.Buildings[building]
	s.audit.Log(ctx, playerID, domain.AuditActionVillageUpgrade, domain.AuditCategoryVillage, map[string]interface{}{
		"building":         string(building),
		"target_level":     b.UpgradingTo,
		"cost":             cost,
		"ends_at":          b.UpgradeEndsAt,
		"claimed_gold":     claimed.Gold,
		"claimed_crystals": claimed.Crystals,
	})
	return p, cost, nil
}
