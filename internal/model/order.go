package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order 客户的一次下单意图。selected/final/payment 三个字段在定稿前为空，写入后不可变。
type Order struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CustomerID    string    `gorm:"size:36;not null;index" json:"customer_id"`
	ServiceType   string    `gorm:"size:64;not null" json:"service_type"`
	RequiredBy    time.Time `gorm:"not null" json:"required_by"`
	ClothProvided bool      `gorm:"not null;default:false" json:"cloth_provided"`
	PickupAddress string    `gorm:"size:255" json:"pickup_address"`

	OrderStatus OrderStatus `gorm:"size:32;not null;index" json:"order_status"`
	// Stage 最近一条时间线的状态，用于前驱校验；审计以时间线为准。
	Stage            OrderStatus      `gorm:"size:32;not null" json:"stage"`
	StatusTimestamps StatusTimestamps `gorm:"embedded;embeddedPrefix:ts_" json:"order_status_timestamp"`

	SelectedVendorID *string `gorm:"size:36" json:"selected_vendor_id"`
	FinalQuoteID     *string `gorm:"size:36" json:"final_quote_id"`
	PaymentID        *string `gorm:"size:64" json:"payment_id"`
	IsPaid           bool    `gorm:"not null;default:false" json:"is_paid"`
	IsRefunded       bool    `gorm:"not null;default:false" json:"is_refunded"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// StatusTimestamps 每个状态“首次到达”的时间缓存，非权威。
type StatusTimestamps struct {
	Pending                 *time.Time `json:"PENDING,omitempty"`
	InProgress              *time.Time `json:"IN_PROGRESS,omitempty"`
	ItemPickupScheduled     *time.Time `json:"ITEM_PICKUP_SCHEDULED,omitempty"`
	ItemDeliveredToVendor   *time.Time `json:"ITEM_DELIVERED_TO_VENDOR,omitempty"`
	WorkStarted             *time.Time `json:"WORK_STARTED,omitempty"`
	ItemReadyForPickup      *time.Time `json:"ITEM_READY_FOR_PICKUP,omitempty"`
	ItemPickedUpFromVendor  *time.Time `json:"ITEM_PICKED_UP_FROM_VENDOR,omitempty"`
	ItemDeliveredToCustomer *time.Time `json:"ITEM_DELIVERED_TO_CUSTOMER,omitempty"`
	Completed               *time.Time `json:"COMPLETED,omitempty"`
	Cancelled               *time.Time `json:"CANCELLED,omitempty"`
	Refunded                *time.Time `json:"REFUNDED,omitempty"`
}

// slot 返回状态对应的时间槽。
func (t *StatusTimestamps) slot(s OrderStatus) **time.Time {
	switch s {
	case OrderPending:
		return &t.Pending
	case OrderInProgress:
		return &t.InProgress
	case OrderItemPickupScheduled:
		return &t.ItemPickupScheduled
	case OrderItemDeliveredToVendor:
		return &t.ItemDeliveredToVendor
	case OrderWorkStarted:
		return &t.WorkStarted
	case OrderItemReadyForPickup:
		return &t.ItemReadyForPickup
	case OrderItemPickedUpFromVendor:
		return &t.ItemPickedUpFromVendor
	case OrderItemDeliveredToCustomer:
		return &t.ItemDeliveredToCustomer
	case OrderCompleted:
		return &t.Completed
	case OrderCancelled:
		return &t.Cancelled
	case OrderRefunded:
		return &t.Refunded
	}
	return nil
}

// Reached 读取某状态首次到达时间。
func (t StatusTimestamps) Reached(s OrderStatus) *time.Time {
	if p := t.slot(s); p != nil {
		return *p
	}
	return nil
}

// MarkFirst 仅在未记录过时写入，返回是否写入。
func (t *StatusTimestamps) MarkFirst(s OrderStatus, at time.Time) bool {
	p := t.slot(s)
	if p == nil || *p != nil {
		return false
	}
	at = at.UTC()
	*p = &at
	return true
}

// TimelineEntry 不可变的状态迁移审计记录。
type TimelineEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID        string      `gorm:"size:36;not null;index" json:"order_id"`
	PreviousStatus OrderStatus `gorm:"size:32" json:"previous_status"`
	NewStatus      OrderStatus `gorm:"size:32;not null" json:"new_status"`
	ActorID        string      `gorm:"size:64;not null" json:"actor_id"`
	ActorRole      ActorRole   `gorm:"size:32;not null" json:"actor_role"`
	Note           string      `gorm:"size:500" json:"note,omitempty"`
}

func (TimelineEntry) TableName() string { return "order_timeline" }
