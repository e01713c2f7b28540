package payment

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/metrics"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/queue"
	"tailor_hub/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type refundAttempt struct {
	PaymentID string
	OrderID   string
	Amount    int64
	Reason    string
}

const (
	refundCallTimeout = 20 * time.Second
	// pending 行超过该时长仍未落定，视为调用中途崩溃。
	refundStaleAfter  = 2 * refundCallTimeout
)

// reserveRefund 调网关前先落 pending 行。支付号唯一索引保证至多一次退款尝试。
func reserveRefund(db *gorm.DB, at refundAttempt) (model.Refund, error) {
	row := model.Refund{
		GatewayPaymentID: at.PaymentID,
		OrderID:          at.OrderID,
		Amount:           at.Amount,
		Status:           model.RefundPending,
		Reason:           truncate(at.Reason, 500),
	}
	if err := db.Create(&row).Error; err != nil {
		if store.IsUniqueViolation(err) {
			return model.Refund{}, apperr.Duplicate("payment %s already has a refund record", at.PaymentID)
		}
		return model.Refund{}, fmt.Errorf("reserve refund: %w", err)
	}
	return row, nil
}

// settleRefund 调用网关退款，把 pending 行落为 processed 或 failed。
// failed 行标记人工处理并告警，不自动重试。
func settleRefund(ctx context.Context, db *gorm.DB, gw Gateway, log *logrus.Logger, row model.Refund) (model.Refund, error) {
	fields := logrus.Fields{"payment_id": row.GatewayPaymentID, "order_id": row.OrderID, "amount": row.Amount}

	callCtx, cancel := context.WithTimeout(ctx, refundCallTimeout)
	receipt, callErr := gw.Refund(callCtx, RefundRequest{
		PaymentID: row.GatewayPaymentID,
		Amount:    row.Amount,
		Speed:     "normal",
		Notes:     map[string]string{"orderId": row.OrderID, "reason": truncate(row.Reason, 200)},
	})
	cancel()

	updates := map[string]any{}
	if callErr != nil {
		row.Status = model.RefundFailed
		row.ErrorDetail = truncate(callErr.Error(), 1000)
		row.RequiresManualAction = true
		updates["error_detail"] = row.ErrorDetail
		updates["requires_manual_action"] = true
	} else {
		row.Status = model.RefundProcessed
		row.GatewayRefundID = receipt.ID
		updates["gateway_refund_id"] = receipt.ID
	}
	updates["status"] = row.Status

	// 审计行不受请求取消影响
	if err := db.WithContext(context.WithoutCancel(ctx)).Model(&model.Refund{}).
		Where("id = ? AND status = ?", row.ID, model.RefundPending).
		Updates(updates).Error; err != nil {
		log.WithFields(fields).WithError(err).Error("refund audit row not settled")
	}
	metrics.RefundsTotal.WithLabelValues(string(row.Status)).Inc()

	if callErr != nil {
		log.WithFields(fields).WithFields(logrus.Fields{
			"alert":         "page",
			"manual_action": true,
		}).WithError(callErr).Error("refund failed, manual intervention required")
		return row, apperr.External(callErr, "refund for payment %s failed; manual action required", row.GatewayPaymentID)
	}
	log.WithFields(fields).WithField("refund_id", receipt.ID).Warn("payment refunded")
	return row, nil
}

// escalateStale pending 行超时未落定：网关侧结果未知，转人工核对，不再调用网关。
func escalateStale(ctx context.Context, db *gorm.DB, log *logrus.Logger, row model.Refund, now time.Time) {
	if row.Status != model.RefundPending || row.RequiresManualAction || now.Sub(row.CreatedAt) < refundStaleAfter {
		return
	}
	upd := db.WithContext(context.WithoutCancel(ctx)).Model(&model.Refund{}).
		Where("id = ? AND status = ? AND requires_manual_action = ?", row.ID, model.RefundPending, false).
		Update("requires_manual_action", true)
	if upd.Error != nil {
		log.WithField("payment_id", row.GatewayPaymentID).WithError(upd.Error).Error("escalate stale refund")
		return
	}
	if upd.RowsAffected == 0 {
		return
	}
	log.WithFields(logrus.Fields{
		"payment_id":    row.GatewayPaymentID,
		"order_id":      row.OrderID,
		"amount":        row.Amount,
		"pending_since": row.CreatedAt,
		"alert":         "page",
		"manual_action": true,
	}).Error("refund stuck pending, gateway outcome unknown")
}

// Refunder 管理员对已支付未完成订单发起全额退款。
type Refunder struct {
	db       *gorm.DB
	gateway  Gateway
	notifier queue.Notifier
	cache    order.Invalidator
	log      *logrus.Logger
	now      func() time.Time
}

func NewRefunder(db *gorm.DB, gateway Gateway, notifier queue.Notifier, cache order.Invalidator, log *logrus.Logger) *Refunder {
	return &Refunder{
		db:       db,
		gateway:  gateway,
		notifier: notifier,
		cache:    cache,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RefundOrder 先在订单行锁内完成状态判定、pending 退款行与 REFUNDED 迁移，提交后再调用网关。
// 网关失败时订单保持 REFUNDED，退款行标记人工处理。
func (r *Refunder) RefundOrder(ctx context.Context, orderID string, actor order.Actor, reason string) (model.Refund, error) {
	if reason == "" {
		reason = "admin refund"
	}
	var (
		o   model.Order
		pay model.Payment
		row model.Refund
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&o, "id = ?", orderID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("order %s not found", orderID)
			}
			return err
		}
		if !o.IsPaid || o.PaymentID == nil {
			return apperr.Precondition("order %s has not been paid", orderID)
		}
		if err := order.CheckTransition(o.Stage, model.OrderRefunded, actor.Role); err != nil {
			return err
		}
		if err := tx.First(&pay, "gateway_payment_id = ?", *o.PaymentID).Error; err != nil {
			return fmt.Errorf("load payment: %w", err)
		}

		var err error
		row, err = reserveRefund(tx, refundAttempt{
			PaymentID: pay.GatewayPaymentID,
			OrderID:   o.ID,
			Amount:    pay.Amount,
			Reason:    reason,
		})
		if err != nil {
			return err
		}

		now := r.now()
		o.IsRefunded = true
		if err := order.RecordTransition(tx, &o, model.OrderRefunded, actor, reason, now); err != nil {
			return err
		}
		if err := tx.Model(&model.Assignment{}).
			Where("order_id = ? AND vendor_id = ? AND status = ?", o.ID, pay.VendorID, model.AssignmentFinalized).
			Updates(map[string]any{"status": model.AssignmentRefunded, "updated_at": now}).Error; err != nil {
			return err
		}
		return store.BumpVendorStats(tx, pay.VendorID, store.StatsDelta{InProgress: -1}, now)
	})
	if err != nil {
		return model.Refund{}, err
	}
	order.Invalidate(ctx, r.cache, r.log, o.ID)

	refund, err := settleRefund(ctx, r.db, r.gateway, r.log, row)
	if err != nil {
		return refund, err
	}
	order.Notify(ctx, r.notifier, r.log, queue.NotificationMessage{
		RecipientID:   o.CustomerID,
		RecipientRole: model.RoleCustomer,
		Kind:          queue.KindRefundIssued,
		OrderID:       o.ID,
		Data:          map[string]string{"payment_id": pay.GatewayPaymentID, "amount": fmt.Sprint(pay.Amount)},
	})
	return refund, nil
}

// truncate 按字节上限截断，但不切开多字节字符。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
