package domain

import "time"

// AuditEvent is an append-only record of a validation rejection or an economic mutation
type AuditEvent struct {
	ID        int64                  `db:"id" json:"id"`
	PlayerID  string                 `db:"player_id" json:"player_id"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// Audit categories
const (
	AuditCategoryAuth      = "auth"
	AuditCategoryProfile   = "profile"
	AuditCategoryEconomy   = "economy"
	AuditCategoryVillage   = "village"
	AuditCategoryWorldBoss = "worldboss"
	AuditCategoryPayment   = "payment"
	AuditCategorySaga      = "saga"
)

// Audit actions
const (
	AuditActionLogin = "login"

	AuditActionProfileSave        = "profile_save"
	AuditActionValidationRejected = "validation_rejected"
	AuditActionEnergyRefresh      = "energy_refresh"

	AuditActionShopDungeonKey = "shop_buy_dungeon_key"
	AuditActionShopBossTicket = "worldboss_ticket_buy"
	AuditActionSwapCrystals   = "swap_crystals_to_gold"
	AuditActionStakeStart     = "stake_start"
	AuditActionStakeClaim     = "stake_claim"
	AuditActionCounterReset   = "counter_reset"

	AuditActionVillageInit    = "village_init"
	AuditActionVillageUpgrade = "village_upgrade_start"
	AuditActionVillageClaim   = "village_claim"

	AuditActionBossJoin   = "worldboss_join"
	AuditActionBossSettle = "worldboss_settle"
	AuditActionBossRotate = "worldboss_rotate"

	AuditActionPremiumPurchase = "premium_purchase"

	AuditActionSagaCompensated = "saga_compensated"
	AuditActionSagaSwept       = "saga_swept"
)
