package scheduler

import (
	"context"
	"fmt"
	"time"

	"tailor_hub/internal/metrics"
	"tailor_hub/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Expiry 回收超时未响应的邀请与超时未支付的报价。
// 两个任务都只用带状态条件的批量 UPDATE，与在线请求任意交错都不会重复迁移。
type Expiry struct {
	db     *gorm.DB
	log    *logrus.Logger
	window time.Duration
	now    func() time.Time
}

func NewExpiry(db *gorm.DB, log *logrus.Logger, window time.Duration) *Expiry {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Expiry{
		db:     db,
		log:    log,
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ExpirePendingAssignments PENDING 超过窗口的邀请置为 EXPIRED，释放名额。
func (e *Expiry) ExpirePendingAssignments(ctx context.Context) (int64, error) {
	now := e.now()
	res := e.db.WithContext(ctx).Model(&model.Assignment{}).
		Where("status = ? AND created_at < ?", model.AssignmentPending, now.Add(-e.window)).
		Updates(map[string]any{"status": model.AssignmentExpired, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("expire pending assignments: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.ExpiryReclaimedTotal.WithLabelValues("pending_assignments").Add(float64(res.RowsAffected))
		e.log.WithField("count", res.RowsAffected).Info("pending assignments expired")
	}
	return res.RowsAffected, nil
}

// ExpireAcceptedQuotes 接单后超过窗口仍未支付：指派 FROZEN，报价标记已处理。
// FROZEN 不可再次邀请，与 EXPIRED 不同。
func (e *Expiry) ExpireAcceptedQuotes(ctx context.Context) (int64, error) {
	now := e.now()
	cutoff := now.Add(-e.window)

	var frozen int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&model.Quote{}).
			Select("assignment_id").
			Where("is_processed = ? AND created_at < ?", false, cutoff)

		res := tx.Model(&model.Assignment{}).
			Where("status = ? AND id IN (?)", model.AssignmentAccepted, stale).
			Updates(map[string]any{"status": model.AssignmentFrozen, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("freeze accepted assignments: %w", res.Error)
		}
		frozen = res.RowsAffected

		// 只处理本轮刚被冻结的指派对应的报价；已被支付定稿的行不会命中
		return tx.Model(&model.Quote{}).
			Where("is_processed = ? AND created_at < ?", false, cutoff).
			Where("assignment_id IN (?)", tx.Model(&model.Assignment{}).
				Select("id").
				Where("status = ?", model.AssignmentFrozen)).
			Updates(map[string]any{"is_processed": true, "updated_at": now}).Error
	})
	if err != nil {
		return 0, err
	}
	if frozen > 0 {
		metrics.ExpiryReclaimedTotal.WithLabelValues("accepted_quotes").Add(float64(frozen))
		e.log.WithField("count", frozen).Info("accepted quotes expired")
	}
	return frozen, nil
}
