package domain

import (
	"encoding/json"
	"time"
)

// SagaStatus tracks a two-row operation through its lifecycle
type SagaStatus string

const (
	SagaPending     SagaStatus = "pending"
	SagaCompleted   SagaStatus = "completed"
	SagaCompensated SagaStatus = "compensated"
	SagaAborted     SagaStatus = "aborted"
)

// Saga kinds
const (
	SagaShopDungeonKey      = "shop_dungeon_key"
	SagaShopWorldBossTicket = "shop_worldboss_ticket"
	SagaWorldBossSettle     = "worldboss_settle"
	SagaWorldBossJoin       = "worldboss_join"
)

// SagaRecord journals a cross-row action so an interrupted compensation can be finished later
type SagaRecord struct {
	ID        string          `json:"id"`
	PlayerID  string          `json:"player_id"`
	Kind      string          `json:"kind"`
	Status    SagaStatus      `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PaymentStatus tracks whether a verified payment was credited
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentApplied PaymentStatus = "applied"
)

// Payment is a verified on-chain transfer bought for premium time
type Payment struct {
	TxHash     string        `json:"tx_hash"`
	PlayerID   string        `json:"player_id"`
	AmountNano int64         `json:"amount_nano"`
	Status     PaymentStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	AppliedAt  *time.Time    `json:"applied_at,omitempty"`
}
