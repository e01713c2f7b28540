package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Assignment 一个订单向一个供应商的邀请及其响应生命周期。
// (order_id, vendor_id) 唯一：同一供应商不会被重复邀请。
type Assignment struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID  string           `gorm:"size:36;not null;uniqueIndex:ux_assignment_order_vendor,priority:1" json:"order_id"`
	VendorID string           `gorm:"size:36;not null;uniqueIndex:ux_assignment_order_vendor,priority:2;index" json:"vendor_id"`
	Status   AssignmentStatus `gorm:"size:16;not null;index" json:"status"`
	Note     string           `gorm:"size:500" json:"note,omitempty"`
}

func (Assignment) TableName() string { return "order_vendor_assignments" }

func (a *Assignment) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Quote 供应商接单时的报价与派生费用拆分，与 ACCEPTED 指派一一对应。
// 派生字段在接单时计算一次，之后不随费率变化。
type Quote struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	AssignmentID string `gorm:"size:36;not null;uniqueIndex" json:"assignment_id"`
	OrderID      string `gorm:"size:36;not null;index" json:"order_id"`
	VendorID     string `gorm:"size:36;not null" json:"vendor_id"`

	QuotedPrice int64 `gorm:"not null" json:"quoted_price"` // 单位：分
	QuotedDays  int   `gorm:"not null" json:"quoted_days"`

	VendorPayout          int64 `gorm:"not null" json:"vendor_payout"`
	PriceAfterPlatformFee int64 `gorm:"not null" json:"price_after_platform_fee"`
	DeliveryCharge        int64 `gorm:"not null" json:"delivery_charge"`
	FinalPrice            int64 `gorm:"not null" json:"final_price"`

	IsProcessed bool   `gorm:"not null;default:false;index" json:"is_processed"`
	Notes       string `gorm:"size:500" json:"notes,omitempty"`
}

func (Quote) TableName() string { return "quotes" }

func (q *Quote) BeforeCreate(*gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}
