package domain

import "time"

// BuildingID identifies one of the village buildings
type BuildingID string

const (
	BuildingCastle  BuildingID = "castle"
	BuildingMine    BuildingID = "mine"
	BuildingLab     BuildingID = "lab"
	BuildingStorage BuildingID = "storage"
)

// AllBuildings lists buildings in a stable order
var AllBuildings = []BuildingID{BuildingCastle, BuildingMine, BuildingLab, BuildingStorage}

// Valid reports whether b names a known building
func (b BuildingID) Valid() bool {
	switch b {
	case BuildingCastle, BuildingMine, BuildingLab, BuildingStorage:
		return true
	}
	return false
}

// BuildingState tracks a building's level and an in-flight upgrade.
// UpgradingTo == 0 means idle.
type BuildingState struct {
	Level         int       `json:"level"`
	UpgradingTo   int       `json:"upgrading_to"`
	UpgradeEndsAt time.Time `json:"upgrade_ends_at"`
}

// Upgrading reports whether an upgrade is in flight
func (b BuildingState) Upgrading() bool {
	return b.UpgradingTo > 0
}

// DueAt reports whether the in-flight upgrade has completed by t
func (b BuildingState) DueAt(t time.Time) bool {
	return b.Upgrading() && !b.UpgradeEndsAt.After(t)
}

// Complete applies a finished upgrade
func (b BuildingState) Complete() BuildingState {
	if !b.Upgrading() {
		return b
	}
	return BuildingState{Level: b.UpgradingTo}
}

// VillageState is the idle-production part of a player profile
type VillageState struct {
	SettlementName string                       `json:"settlement_name"`
	LastClaimAt    time.Time                    `json:"last_claim_at"`
	CarryGold      float64                      `json:"carry_gold"`
	CarryCrystals  float64                      `json:"carry_crystals"`
	Buildings      map[BuildingID]BuildingState `json:"buildings"`
}

// NewVillage creates a freshly founded settlement
func NewVillage(name string, now time.Time) VillageState {
	buildings := make(map[BuildingID]BuildingState, len(AllBuildings))
	for _, id := range AllBuildings {
		buildings[id] = BuildingState{Level: 1}
	}
	return VillageState{
		SettlementName: name,
		LastClaimAt:    now,
		Buildings:      buildings,
	}
}

// Clone returns a deep copy
func (v VillageState) Clone() VillageState {
	out := v
	out.Buildings = make(map[BuildingID]BuildingState, len(v.Buildings))
	for k, b := range v.Buildings {
		out.Buildings[k] = b
	}
	return out
}

// Level returns the current level of a building (0 if absent)
func (v VillageState) Level(id BuildingID) int {
	return v.Buildings[id].Level
}

// UpgradeInFlight returns the building currently upgrading, if any
func (v VillageState) UpgradeInFlight() (BuildingID, bool) {
	for _, id := range AllBuildings {
		if v.Buildings[id].Upgrading() {
			return id, true
		}
	}
	return "", false
}
