// Package village replays idle building production between two snapshots.
//
// Production is piecewise constant: a building's output changes only at the
// instant its upgrade completes. Project walks [LastClaimAt, now) segment by
// segment, accruing each at the rates in force and applying completions at
// their boundaries, so the result does not depend on when the player looks.
package village

import (
	"errors"
	"math"
	"time"

	"village_backend/internal/domain"
)

// MaxReplaySteps bounds the number of completion boundaries replayed per projection
const MaxReplaySteps = 16

const floorEpsilon = 1e-9

var (
	ErrUnknownBuilding   = errors.New("unknown building")
	ErrUpgradeInProgress = errors.New("another upgrade is in progress")
	ErrMaxLevel          = errors.New("building is at max level")
	ErrCastleGate        = errors.New("castle level too low")
)

// Projection is the replayed state of a village at some instant
type Projection struct {
	ElapsedSec   float64                                    `json:"elapsed_sec"`
	EffectiveSec float64                                    `json:"effective_sec"`
	Gold         float64                                    `json:"gold"`
	Crystals     float64                                    `json:"crystals"`
	Buildings    map[domain.BuildingID]domain.BuildingState `json:"buildings"`
}

// ClaimResult carries the whole units committed by a claim
type ClaimResult struct {
	Gold       int64      `json:"gold"`
	Crystals   int64      `json:"crystals"`
	Projection Projection `json:"projection"`
}

// Engine projects and claims village production
type Engine struct {
	Catalog Catalog
}

func NewEngine(c Catalog) *Engine {
	if c == nil {
		c = StandardCatalog{}
	}
	return &Engine{Catalog: c}
}

// Project replays [v.LastClaimAt, now) and returns accumulated totals including carry.
func (e *Engine) Project(v domain.VillageState, now time.Time) Projection {
	buildings := make(map[domain.BuildingID]domain.BuildingState, len(v.Buildings))
	for id, b := range v.Buildings {
		buildings[id] = b
	}

	cursor := v.LastClaimAt
	if now.Before(cursor) {
		now = cursor
	}

	p := Projection{
		ElapsedSec: now.Sub(cursor).Seconds(),
		Gold:       v.CarryGold,
		Crystals:   v.CarryCrystals,
		Buildings:  buildings,
	}

	completeDue(buildings, cursor)
	for step := 0; step < MaxReplaySteps; step++ {
		t, ok := nextCompletion(buildings, cursor, now)
		if !ok {
			break
		}
		e.accrue(&p, t.Sub(cursor))
		completeDue(buildings, t)
		cursor = t
	}
	e.accrue(&p, now.Sub(cursor))
	completeDue(buildings, now)

	return p
}

// accrue adds one constant-rate segment, clipped to the storage horizon left.
func (e *Engine) accrue(p *Projection, d time.Duration) {
	if d <= 0 {
		return
	}
	horizon := e.Catalog.StorageHours(p.Buildings[domain.BuildingStorage].Level) * 3600
	seconds := math.Min(d.Seconds(), math.Max(0, horizon-p.EffectiveSec))
	if seconds <= 0 {
		return
	}
	p.Gold += e.Catalog.GoldPerHour(p.Buildings[domain.BuildingMine].Level) * seconds / 3600
	p.Crystals += e.Catalog.CrystalsPerHour(p.Buildings[domain.BuildingLab].Level) * seconds / 3600
	p.EffectiveSec += seconds
}

func completeDue(buildings map[domain.BuildingID]domain.BuildingState, t time.Time) {
	for id, b := range buildings {
		if b.DueAt(t) {
			buildings[id] = b.Complete()
		}
	}
}

// nextCompletion finds the earliest upgrade end strictly inside (after, before).
func nextCompletion(buildings map[domain.BuildingID]domain.BuildingState, after, before time.Time) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, b := range buildings {
		if !b.Upgrading() {
			continue
		}
		t := b.UpgradeEndsAt
		if !t.After(after) || !t.Before(before) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	return best, found
}

// Claim commits whole units of the projection, keeping fractions as carry.
func (e *Engine) Claim(v domain.VillageState, now time.Time) (domain.VillageState, ClaimResult) {
	p := e.Project(v, now)

	gold, goldCarry := split(p.Gold)
	crystals, crystalCarry := split(p.Crystals)

	out := v.Clone()
	out.Buildings = p.Buildings
	if now.After(v.LastClaimAt) {
		out.LastClaimAt = now
	}
	out.CarryGold = goldCarry
	out.CarryCrystals = crystalCarry

	return out, ClaimResult{Gold: gold, Crystals: crystals, Projection: p}
}

func split(total float64) (int64, float64) {
	whole := math.Floor(total + floorEpsilon)
	carry := total - whole
	if carry < 0 {
		carry = 0
	}
	return int64(whole), carry
}

// StartUpgrade begins upgrading one building. v must already be claimed up to now
// so that production before the upgrade is settled at the old rates.
func (e *Engine) StartUpgrade(v domain.VillageState, id domain.BuildingID, now time.Time) (domain.VillageState, int64, error) {
	if !id.Valid() {
		return v, 0, ErrUnknownBuilding
	}
	if _, busy := v.UpgradeInFlight(); busy {
		return v, 0, ErrUpgradeInProgress
	}
	current := v.Buildings[id]
	target := current.Level + 1
	if target > MaxBuildingLevel {
		return v, 0, ErrMaxLevel
	}
	if id != domain.BuildingCastle && target > v.Level(domain.BuildingCastle) {
		return v, 0, ErrCastleGate
	}

	out := v.Clone()
	out.Buildings[id] = domain.BuildingState{
		Level:         current.Level,
		UpgradingTo:   target,
		UpgradeEndsAt: now.Add(e.Catalog.UpgradeDuration(id, target)),
	}
	return out, e.Catalog.UpgradeCost(id, target), nil
}
