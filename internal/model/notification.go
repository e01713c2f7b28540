package model

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationHistory 通知任务的落库记录，JobID 唯一保证重复消息只落一次。
type NotificationHistory struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	JobID         string            `gorm:"size:64;not null;uniqueIndex" json:"job_id"`
	RecipientID   string            `gorm:"size:36;not null;index" json:"recipient_id"`
	RecipientRole ActorRole         `gorm:"size:32;not null" json:"recipient_role"`
	Kind          string            `gorm:"size:64;not null" json:"kind"`
	OrderID       string            `gorm:"size:36;index" json:"order_id"`
	Data          datatypes.JSONMap `json:"data"`
}

func (NotificationHistory) TableName() string { return "notification_histories" }

// All 返回需要自动建表的全部模型。
func All() []any {
	return []any{
		&Customer{}, &Vendor{}, &VendorStats{}, &PlatformSetting{},
		&Order{}, &TimelineEntry{},
		&Assignment{}, &Quote{},
		&Payment{}, &PaymentFailure{}, &Refund{}, &Payout{},
		&OutboxRecord{}, &DeliveryTracking{},
		&NotificationHistory{},
	}
}
