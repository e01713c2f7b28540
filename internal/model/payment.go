package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment 按网关支付号唯一；该行存在即是重复 captured webhook 的幂等守卫。
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	GatewayPaymentID string `gorm:"size:64;not null;uniqueIndex" json:"gateway_payment_id"`
	OrderID          string `gorm:"size:36;not null;index" json:"order_id"`
	QuoteID          string `gorm:"size:36;not null" json:"quote_id"`
	VendorID         string `gorm:"size:36;not null" json:"vendor_id"`
	CustomerID       string `gorm:"size:36;not null" json:"customer_id"`
	Amount           int64  `gorm:"not null" json:"amount"` // 单位：分
	Currency         string `gorm:"size:8;not null" json:"currency"`
	Method           string `gorm:"size:32" json:"method"`
	Status           string `gorm:"size:16;not null" json:"status"`
}

func (Payment) TableName() string { return "payments" }

// PaymentFailure payment.failed 审计行，不改变订单状态。
type PaymentFailure struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	GatewayPaymentID string `gorm:"size:64;not null;index" json:"gateway_payment_id"`
	OrderID          string `gorm:"size:36;index" json:"order_id"`
	QuoteID          string `gorm:"size:36" json:"quote_id"`
	CustomerID       string `gorm:"size:36" json:"customer_id"`
	Amount           int64  `gorm:"not null" json:"amount"`
	Reason           string `gorm:"size:500" json:"reason"`
}

func (PaymentFailure) TableName() string { return "payment_failures" }

// Refund 退款审计，每个网关支付号至多一行。
// RequiresManualAction 的行需要人工跟进，不会自动重试。
type Refund struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	GatewayPaymentID     string       `gorm:"size:64;not null;uniqueIndex" json:"gateway_payment_id"`
	GatewayRefundID      string       `gorm:"size:64" json:"gateway_refund_id,omitempty"`
	OrderID              string       `gorm:"size:36;index" json:"order_id"`
	Amount               int64        `gorm:"not null" json:"amount"`
	Status               RefundStatus `gorm:"size:16;not null" json:"status"`
	Reason               string       `gorm:"size:500" json:"reason"`
	ErrorDetail          string       `gorm:"size:1000" json:"error_detail,omitempty"`
	RequiresManualAction bool         `gorm:"not null;default:false;index" json:"requires_manual_action"`
}

func (Refund) TableName() string { return "refunds" }

// Payout 订单完成后为供应商生成的待结算记录，由管理员手动触发打款。
type Payout struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	OrderID  string       `gorm:"size:36;not null;uniqueIndex" json:"order_id"`
	VendorID string       `gorm:"size:36;not null;index" json:"vendor_id"`
	QuoteID  string       `gorm:"size:36;not null" json:"quote_id"`
	Amount   int64        `gorm:"not null" json:"amount"`
	Status   PayoutStatus `gorm:"size:32;not null" json:"status"`
}

func (Payout) TableName() string { return "payouts" }

func (p *Payout) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
