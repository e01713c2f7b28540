package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Customer 下单方。注册与鉴权在外部完成，这里只保留查找与地址所需字段。
type Customer struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Email     string    `gorm:"size:191" json:"email"`
	Address   string    `gorm:"size:255" json:"address"`
}

func (Customer) TableName() string { return "customers" }

func (c *Customer) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Vendor 服务商。只有 IsVerified 且 ACTIVE 的供应商可以被邀请报价。
type Vendor struct {
	ID         string       `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	Name       string       `gorm:"size:128;not null" json:"name"`
	Address    string       `gorm:"size:255" json:"address"`
	IsVerified bool         `gorm:"not null;default:false" json:"is_verified"`
	Status     VendorStatus `gorm:"size:16;not null;default:'ACTIVE'" json:"status"`
	// FundAccountID 结算账户，定稿时必须存在。
	FundAccountID *string `gorm:"size:64" json:"fund_account_id"`
}

func (Vendor) TableName() string { return "vendors" }

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// Solicitable 可被邀请报价。
func (v Vendor) Solicitable() bool {
	return v.IsVerified && v.Status == VendorActive
}

// VendorStats 供应商计数器，金额单位为最小货币单位。
type VendorStats struct {
	VendorID         string    `gorm:"primaryKey;size:36" json:"vendor_id"`
	UpdatedAt        time.Time `json:"updated_at"`
	InProgressOrders int       `gorm:"not null;default:0" json:"in_progress_orders"`
	CompletedOrders  int       `gorm:"not null;default:0" json:"completed_orders"`
	TotalEarnings    int64     `gorm:"not null;default:0" json:"total_earnings"`
}

func (VendorStats) TableName() string { return "vendor_stats" }

// PlatformSetting 平台费率配置，取最新一行；接单时读取一次后固化到报价。
type PlatformSetting struct {
	ID                 uint      `gorm:"primarykey" json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	CommissionPercent  string    `gorm:"size:16;not null" json:"commission_percent"`
	PlatformFeePercent string    `gorm:"size:16;not null" json:"platform_fee_percent"`
	DeliveryCharge     int64     `gorm:"not null" json:"delivery_charge"`
}

func (PlatformSetting) TableName() string { return "platform_settings" }
