package assignment

import (
	"fmt"

	"tailor_hub/internal/model"
	"tailor_hub/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// Fees 接单时刻生效的费率。
type Fees struct {
	CommissionPercent  decimal.Decimal
	PlatformFeePercent decimal.Decimal
	DeliveryCharge     int64
}

// FeeSource 读取当前费率，在接单事务内调用。
type FeeSource interface {
	Current(tx *gorm.DB) (Fees, error)
}

// SettingsFees 取 platform_settings 最新一行，表为空时使用配置缺省值。
type SettingsFees struct {
	Default Fees
}

func (s SettingsFees) Current(tx *gorm.DB) (Fees, error) {
	var row model.PlatformSetting
	err := tx.Order("created_at DESC, id DESC").First(&row).Error
	if err != nil {
		if store.IsNotFound(err) {
			return s.Default, nil
		}
		return Fees{}, fmt.Errorf("load platform settings: %w", err)
	}
	commission, err := decimal.NewFromString(row.CommissionPercent)
	if err != nil {
		return Fees{}, fmt.Errorf("invalid commission_percent %q: %w", row.CommissionPercent, err)
	}
	platform, err := decimal.NewFromString(row.PlatformFeePercent)
	if err != nil {
		return Fees{}, fmt.Errorf("invalid platform_fee_percent %q: %w", row.PlatformFeePercent, err)
	}
	return Fees{
		CommissionPercent:  commission,
		PlatformFeePercent: platform,
		DeliveryCharge:     row.DeliveryCharge,
	}, nil
}

// Breakdown 报价派生出的四个金额，单位为最小货币单位。
type Breakdown struct {
	VendorPayout          int64
	PriceAfterPlatformFee int64
	DeliveryCharge        int64
	FinalPrice            int64
}

// Derive 按费率拆分报价，四舍五入到最小货币单位：
//
//	vendorPayout          = price * (1 - commission%)
//	priceAfterPlatformFee = price * (1 + platformFee%)
//	finalPrice            = priceAfterPlatformFee + deliveryCharge
func Derive(quotedPrice int64, f Fees) Breakdown {
	price := decimal.NewFromInt(quotedPrice)
	payout := price.Mul(hundred.Sub(f.CommissionPercent)).Div(hundred).Round(0)
	afterFee := price.Mul(hundred.Add(f.PlatformFeePercent)).Div(hundred).Round(0)
	return Breakdown{
		VendorPayout:          payout.IntPart(),
		PriceAfterPlatformFee: afterFee.IntPart(),
		DeliveryCharge:        f.DeliveryCharge,
		FinalPrice:            afterFee.IntPart() + f.DeliveryCharge,
	}
}
