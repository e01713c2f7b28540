package store

import (
	"time"

	"tailor_hub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatsDelta 供应商计数器增量。
type StatsDelta struct {
	InProgress int
	Completed  int
	Earnings   int64
}

// BumpVendorStats 以 upsert 原子累加供应商计数器，需在调用方事务内执行。
func BumpVendorStats(tx *gorm.DB, vendorID string, d StatsDelta, now time.Time) error {
	row := model.VendorStats{
		VendorID:         vendorID,
		UpdatedAt:        now,
		InProgressOrders: max(d.InProgress, 0),
		CompletedOrders:  d.Completed,
		TotalEarnings:    d.Earnings,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "vendor_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"in_progress_orders": gorm.Expr("vendor_stats.in_progress_orders + ?", d.InProgress),
			"completed_orders":   gorm.Expr("vendor_stats.completed_orders + ?", d.Completed),
			"total_earnings":     gorm.Expr("vendor_stats.total_earnings + ?", d.Earnings),
			"updated_at":         now,
		}),
	}).Create(&row).Error
}
