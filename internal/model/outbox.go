package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OutboxRecord 与触发它的状态变更在同一事务内写入，由 Dispatcher 异步投递给物流。
type OutboxRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	EventType       OutboxEventType `gorm:"size:32;not null" json:"event_type"`
	Payload         datatypes.JSON  `gorm:"not null" json:"payload"`
	Status          OutboxStatus    `gorm:"size:16;not null;index" json:"status"`
	FailureReason   string          `gorm:"size:500" json:"failure_reason,omitempty"`
	StatusUpdatedAt *time.Time      `json:"status_updated_at"`
}

func (OutboxRecord) TableName() string { return "outbox" }

func (r *OutboxRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// DispatchPayload 物流下单所需的最小信息；物流 API 按 DeliveryTrackingID 幂等。
type DispatchPayload struct {
	DeliveryTrackingID string       `json:"delivery_tracking_id"`
	OrderID            string       `json:"order_id"`
	DeliveryType       DeliveryType `json:"delivery_type"`
	PickupAddress      string       `json:"pickup_address"`
	DropAddress        string       `json:"drop_address"`
}
