package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryTracking 一条物流腿。每个子状态的时间槽只写一次，第二次同样的 webhook 视为重复。
type DeliveryTracking struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID      string       `gorm:"size:36;not null;index" json:"order_id"`
	DeliveryType DeliveryType `gorm:"size:16;not null" json:"delivery_type"`
	FromType     PartyType    `gorm:"size:16;not null" json:"from_type"`
	FromID       string       `gorm:"size:36;not null" json:"from_id"`
	ToType       PartyType    `gorm:"size:16;not null" json:"to_type"`
	ToID         string       `gorm:"size:36;not null" json:"to_id"`

	Status     DeliverySubStatus `gorm:"size:32;not null" json:"status"`
	Timestamps LegTimestamps     `gorm:"embedded;embeddedPrefix:ts_" json:"status_update_timestamp"`
}

func (DeliveryTracking) TableName() string { return "delivery_tracking" }

func (d *DeliveryTracking) BeforeCreate(*gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// LegTimestamps 取件/派送两段各自的 assigned / in-transit / complete 时间槽。
type LegTimestamps struct {
	PickupAssigned    *time.Time `json:"PICKUP_ASSIGNED,omitempty"`
	PickupInTransit   *time.Time `json:"PICKUP_IN_TRANSIT,omitempty"`
	PickupComplete    *time.Time `json:"PICKUP_COMPLETE,omitempty"`
	DeliveryAssigned  *time.Time `json:"DELIVERY_ASSIGNED,omitempty"`
	DeliveryInTransit *time.Time `json:"DELIVERY_IN_TRANSIT,omitempty"`
	DeliveryComplete  *time.Time `json:"DELIVERY_COMPLETE,omitempty"`
}

func (t *LegTimestamps) slot(s DeliverySubStatus) **time.Time {
	switch s {
	case SubPickupAssigned:
		return &t.PickupAssigned
	case SubPickupInTransit:
		return &t.PickupInTransit
	case SubPickupComplete:
		return &t.PickupComplete
	case SubDeliveryAssigned:
		return &t.DeliveryAssigned
	case SubDeliveryInTransit:
		return &t.DeliveryInTransit
	case SubDeliveryComplete:
		return &t.DeliveryComplete
	}
	return nil
}

// Stamped 该子状态是否已经记录过。
func (t LegTimestamps) Stamped(s DeliverySubStatus) bool {
	p := t.slot(s)
	return p != nil && *p != nil
}

// Stamp 写入时间槽；已写过或未知子状态返回 false。
func (t *LegTimestamps) Stamp(s DeliverySubStatus, at time.Time) bool {
	p := t.slot(s)
	if p == nil || *p != nil {
		return false
	}
	at = at.UTC()
	*p = &at
	return true
}
