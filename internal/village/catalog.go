package village

import (
	"time"

	"village_backend/internal/domain"
)

// MaxBuildingLevel is the highest level any building can reach
const MaxBuildingLevel = 10

// Catalog supplies per-level production rates and upgrade prices
type Catalog interface {
	GoldPerHour(mineLevel int) float64
	CrystalsPerHour(labLevel int) float64
	StorageHours(storageLevel int) float64
	UpgradeCost(b domain.BuildingID, targetLevel int) int64
	UpgradeDuration(b domain.BuildingID, targetLevel int) time.Duration
}

// StandardCatalog is the production rate and price table shipped with the game
type StandardCatalog struct{}

func (StandardCatalog) GoldPerHour(mineLevel int) float64 {
	return 60 * float64(max(mineLevel, 0))
}

func (StandardCatalog) CrystalsPerHour(labLevel int) float64 {
	return 0.5 * float64(max(labLevel, 0))
}

func (StandardCatalog) StorageHours(storageLevel int) float64 {
	return 2 + 2*float64(max(storageLevel, 0))
}

var upgradeBase = map[domain.BuildingID]struct {
	cost     int64
	duration time.Duration
}{
	domain.BuildingCastle:  {cost: 500, duration: 30 * time.Minute},
	domain.BuildingMine:    {cost: 200, duration: 10 * time.Minute},
	domain.BuildingLab:     {cost: 300, duration: 15 * time.Minute},
	domain.BuildingStorage: {cost: 250, duration: 10 * time.Minute},
}

// UpgradeCost grows with the square of the target level
func (StandardCatalog) UpgradeCost(b domain.BuildingID, targetLevel int) int64 {
	t := int64(targetLevel)
	return upgradeBase[b].cost * t * t
}

func (StandardCatalog) UpgradeDuration(b domain.BuildingID, targetLevel int) time.Duration {
	return upgradeBase[b].duration * time.Duration(targetLevel)
}
