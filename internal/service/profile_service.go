package service

import (
	"context"
	"errors"
	"time"

	"village_backend/internal/config"
	"village_backend/internal/domain"
	"village_backend/internal/logger"
	"village_backend/internal/storage"
	"village_backend/internal/validation"
)

// ProfileService owns every write to the per-player profile row
type ProfileService struct {
	store     storage.ProfileStore
	validator *validation.Validator
	audit     *AuditService
	retry     RetryPolicy
	energy    config.EnergyConfig
	now       func() time.Time
}

func NewProfileService(store storage.ProfileStore, validator *validation.Validator, audit *AuditService, retry RetryPolicy, energy config.EnergyConfig) *ProfileService {
	return &ProfileService{
		store:     store,
		validator: validator,
		audit:     audit,
		retry:     retry,
		energy:    energy,
		now:       time.Now,
	}
}

// Load returns the stored profile or storage.ErrNotFound
func (s *ProfileService) Load(ctx context.Context, playerID string) (*domain.Profile, error) {
	return s.store.LoadProfile(ctx, playerID)
}

// MutateFunc edits a private copy of the state. Returning errNoChange skips the write.
type MutateFunc func(st *domain.PlayerState, now time.Time) error

// Mutate applies a server-side change with optimistic retry. A missing profile
// starts from the fresh player state. When opID is already recorded on the row
// the stored profile is returned untouched, which makes replays harmless.
func (s *ProfileService) Mutate(ctx context.Context, op, playerID, opID string, fn MutateFunc) (*domain.Profile, error) {
	return WithOptimisticRetry(ctx, s.retry, op, func(ctx context.Context, _ int) (*domain.Profile, error) {
		now := s.now()
		cur, err := s.store.LoadProfile(ctx, playerID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			cur = &domain.Profile{PlayerID: playerID, State: domain.NewPlayerState(now, s.energy.Max)}
		case err != nil:
			return nil, err
		}

		if opID != "" && cur.State.HasOp(opID) {
			return cur, nil
		}

		next := cur.State.Clone()
		if err := fn(&next, now); err != nil {
			if errors.Is(err, errNoChange) {
				return cur, nil
			}
			return nil, err
		}
		next.RecordOp(opID)

		version, err := s.store.SaveProfile(ctx, playerID, next, cur.Version, now)
		if err != nil {
			return nil, err
		}
		created := cur.CreatedAt
		if cur.Version == 0 {
			created = now
		}
		return &domain.Profile{PlayerID: playerID, State: next, Version: version, CreatedAt: created, UpdatedAt: now}, nil
	})
}

// Save commits a client-proposed state. The client's version is the CAS token, so
// a conflict is reported rather than retried: the client has to reload first.
func (s *ProfileService) Save(ctx context.Context, playerID string, proposed domain.PlayerState, clientVersion int64) (*domain.Profile, error) {
	now := s.now()

	var (
		prev    *domain.PlayerState
		elapsed float64
		next    = proposed.Clone()
	)

	cur, err := s.store.LoadProfile(ctx, playerID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if clientVersion != 0 {
			return nil, storage.ErrNotFound
		}
		next.Village = nil
		next.RecentOps = nil
		next.MetricsReportedAt = now
		next.Energy = domain.Energy{Current: s.energy.Max, UpdatedAt: now}
	case err != nil:
		return nil, err
	default:
		if clientVersion == 0 {
			return nil, storage.ErrConflict
		}
		if err := storage.CheckVersion(clientVersion, cur.Version, now); err != nil {
			return nil, err
		}
		prev = &cur.State
		// server writes move UpdatedAt; the client's window runs from its own last save
		reportedAt := cur.State.MetricsReportedAt
		if reportedAt.IsZero() {
			reportedAt = cur.CreatedAt
		}
		elapsed = now.Sub(reportedAt).Seconds()

		// server-owned parts of the document are never taken from the client
		server := cur.State.Clone()
		next.Village = server.Village
		next.RecentOps = server.RecentOps
		next.MetricsReportedAt = now
		next.Energy.UpdatedAt = server.Energy.UpdatedAt
		if server.Energy.Current >= s.energy.Max && next.Energy.Current < server.Energy.Current {
			// regeneration restarts from the moment a full bar is first spent
			next.Energy.UpdatedAt = now
		}
	}

	if r := s.validator.Validate(prev, next, elapsed, now); r != nil {
		ValidationRejections.WithLabelValues(r.Reason).Inc()
		s.audit.LogRejection(ctx, playerID, r.Reason, r.Detail)
		logger.Warn("profile save rejected", "player_id", playerID, "reason", r.Reason, "detail", r.Detail)
		return nil, r
	}

	version, err := s.store.SaveProfile(ctx, playerID, next, clientVersion, now)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, playerID, domain.AuditActionProfileSave, domain.AuditCategoryProfile, map[string]interface{}{
		"version":      version,
		"bootstrap":    prev == nil,
		"level":        next.Metrics.Level,
		"gold":         next.Metrics.Gold,
		"crystals":     next.Metrics.Crystals,
		"dungeon_runs": next.Metrics.DungeonRuns,
	})

	out := &domain.Profile{PlayerID: playerID, State: next, Version: version, CreatedAt: now, UpdatedAt: now}
	if cur != nil {
		out.CreatedAt = cur.CreatedAt
	}
	return out, nil
}

// RefreshEnergy credits whole regeneration intervals elapsed since the last refresh
func (s *ProfileService) RefreshEnergy(ctx context.Context, playerID string) (*domain.Profile, int64, error) {
	var gained int64
	p, err := s.Mutate(ctx, "profile_refresh_energy", playerID, "", func(st *domain.PlayerState, now time.Time) error {
		e, n := RegenEnergy(st.Energy, st.PremiumActive(now), s.energy, now)
		if n == 0 && e.UpdatedAt.Equal(st.Energy.UpdatedAt) {
			return errNoChange
		}
		st.Energy, gained = e, n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if gained > 0 {
		s.audit.Log(ctx, playerID, domain.AuditActionEnergyRefresh, domain.AuditCategoryProfile, map[string]interface{}{
			"gained":  gained,
			"current": p.State.Energy.Current,
		})
	}
	return p, gained, nil
}

// RegenEnergy returns e advanced to now and the energy gained. The interval is
// halved while premium is active.
func RegenEnergy(e domain.Energy, premium bool, cfg config.EnergyConfig, now time.Time) (domain.Energy, int64) {
	interval := cfg.RegenInterval
	if premium {
		interval /= 2
	}
	if interval <= 0 || !now.After(e.UpdatedAt) {
		return e, 0
	}

	steps := int64(now.Sub(e.UpdatedAt) / interval)
	if steps == 0 {
		return e, 0
	}

	if e.Current >= cfg.Max {
		// already full: just move the clock so time spent full does not bank
		return domain.Energy{Current: e.Current, UpdatedAt: now}, 0
	}

	gained := min(steps, cfg.Max-e.Current)
	out := domain.Energy{Current: e.Current + gained}
	if out.Current >= cfg.Max {
		out.UpdatedAt = now
	} else {
		out.UpdatedAt = e.UpdatedAt.Add(time.Duration(steps) * interval)
	}
	return out, gained
}

// HasOp reports whether opID is recorded on the player's profile
func (s *ProfileService) HasOp(ctx context.Context, playerID, opID string) (bool, error) {
	p, err := s.store.LoadProfile(ctx, playerID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.State.HasOp(opID), nil
}
