package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/metrics"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/outbox"
	"tailor_hub/internal/queue"
	"tailor_hub/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Outcome webhook 处理结果，用于日志与指标。
type Outcome string

const (
	OutcomeFinalized       Outcome = "finalized"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeFailureRecorded Outcome = "failure_recorded"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeCompensated     Outcome = "compensated"
	OutcomeRefundFailed    Outcome = "refund_failed"
	OutcomeRefundPending   Outcome = "refund_pending"
)

// OnceGuard 跨实例的一次性闸门，由 pkg/redis.RefundGuard 实现。
type OnceGuard interface {
	AcquireOnce(ctx context.Context, paymentID string) (bool, error)
}

// errAlreadyFinalized 加锁后发现并发请求已落 Payment。
var errAlreadyFinalized = errors.New("payment already finalized")

// Finalizer 消费网关 webhook：定稿订单，或在失败时退款补偿。
type Finalizer struct {
	db       *gorm.DB
	gateway  Gateway
	guard    OnceGuard
	notifier queue.Notifier
	cache    order.Invalidator
	log      *logrus.Logger
	secret   string
	now      func() time.Time
}

func NewFinalizer(db *gorm.DB, gateway Gateway, guard OnceGuard, notifier queue.Notifier, cache order.Invalidator, log *logrus.Logger, secret string) *Finalizer {
	return &Finalizer{
		db:       db,
		gateway:  gateway,
		guard:    guard,
		notifier: notifier,
		cache:    cache,
		log:      log,
		secret:   secret,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook 先验签，再按事件类型分发。返回 error 时 HTTP 层回非 2xx，网关会重试。
func (f *Finalizer) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	outcome, err := f.handle(ctx, body, signature)
	label := string(outcome)
	if err != nil && outcome == "" {
		label = string(apperr.KindOf(err))
	}
	metrics.WebhookEventsTotal.WithLabelValues("payment", label).Inc()
	return outcome, err
}

func (f *Finalizer) handle(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := VerifySignature(body, signature, f.secret); err != nil {
		f.log.WithError(err).Warn("payment webhook rejected")
		return "", err
	}
	ev, err := ParseEvent(body)
	if err != nil {
		return "", err
	}
	p := ev.Payload.Payment.Entity

	switch ev.Event {
	case EventFailed:
		return f.recordFailure(ctx, p)
	case EventCaptured:
		return f.finalize(ctx, p)
	default:
		f.log.WithFields(logrus.Fields{"event": ev.Event, "payment_id": p.ID}).Info("payment webhook ignored")
		return OutcomeIgnored, nil
	}
}

func (f *Finalizer) recordFailure(ctx context.Context, p Entity) (Outcome, error) {
	row := model.PaymentFailure{
		GatewayPaymentID: p.ID,
		OrderID:          p.Notes.OrderID,
		QuoteID:          p.Notes.QuoteID,
		CustomerID:       p.Notes.CustomerID,
		Amount:           p.Amount,
		Reason:           p.ErrorDescription,
	}
	if err := f.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("record payment failure: %w", err)
	}
	f.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"order_id":   p.Notes.OrderID,
		"reason":     p.ErrorDescription,
	}).Info("payment failure recorded")
	return OutcomeFailureRecorded, nil
}

func (f *Finalizer) finalize(ctx context.Context, p Entity) (Outcome, error) {
	fields := logrus.Fields{"payment_id": p.ID, "order_id": p.Notes.OrderID, "quote_id": p.Notes.QuoteID}

	// 幂等：已有 Payment（已定稿）或 Refund（已补偿）都直接确认
	var seen int64
	if err := f.db.WithContext(ctx).Model(&model.Payment{}).
		Where("gateway_payment_id = ?", p.ID).Count(&seen).Error; err != nil {
		return "", err
	}
	if seen > 0 {
		f.log.WithFields(fields).Info("duplicate payment webhook acknowledged")
		return OutcomeDuplicate, nil
	}
	var refunds []model.Refund
	if err := f.db.WithContext(ctx).Where("gateway_payment_id = ?", p.ID).Limit(1).Find(&refunds).Error; err != nil {
		return "", err
	}
	if len(refunds) > 0 {
		escalateStale(ctx, f.db, f.log, refunds[0], f.now())
		f.log.WithFields(fields).WithField("refund_status", refunds[0].Status).Info("payment already compensated, acknowledged")
		return OutcomeDuplicate, nil
	}

	var (
		o     model.Order
		quote model.Quote
	)
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return f.finalizeTx(tx, p, &o, &quote)
	})
	if errors.Is(err, errAlreadyFinalized) {
		f.log.WithFields(fields).Info("payment finalized concurrently, acknowledged")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		f.log.WithFields(fields).WithError(err).Error("payment finalization failed, compensating")
		return f.compensate(ctx, p, err)
	}

	order.Invalidate(ctx, f.cache, f.log, o.ID)
	data := map[string]string{"payment_id": p.ID, "amount": fmt.Sprint(p.Amount)}
	order.Notify(ctx, f.notifier, f.log, queue.NotificationMessage{
		RecipientID: o.CustomerID, RecipientRole: model.RoleCustomer,
		Kind: queue.KindPaymentConfirmed, OrderID: o.ID, Data: data,
	})
	order.Notify(ctx, f.notifier, f.log, queue.NotificationMessage{
		RecipientID: quote.VendorID, RecipientRole: model.RoleVendor,
		Kind: queue.KindPaymentConfirmed, OrderID: o.ID, Data: data,
	})
	f.log.WithFields(fields).WithField("stage", o.Stage).Info("order finalized")
	return OutcomeFinalized, nil
}

// finalizeTx 持有订单行锁完成校验与全部状态变更；任一步失败整体回滚。
func (f *Finalizer) finalizeTx(tx *gorm.DB, p Entity, o *model.Order, q *model.Quote) error {
	if p.Notes.OrderID == "" || p.Notes.QuoteID == "" {
		return apperr.Integrity("captured payment %s carries no order/quote metadata", p.ID)
	}
	if err := store.ForUpdate(tx).First(o, "id = ?", p.Notes.OrderID).Error; err != nil {
		if store.IsNotFound(err) {
			return apperr.Integrity("order %s not found", p.Notes.OrderID)
		}
		return err
	}

	// 锁内复查：并发的同一 webhook 只有一个能看到 PENDING
	var dup int64
	if err := tx.Model(&model.Payment{}).Where("gateway_payment_id = ?", p.ID).Count(&dup).Error; err != nil {
		return err
	}
	if dup > 0 {
		return errAlreadyFinalized
	}
	if o.Stage != model.OrderPending {
		return apperr.Integrity("order %s is %s, not PENDING", o.ID, o.Stage)
	}

	if err := tx.First(q, "id = ?", p.Notes.QuoteID).Error; err != nil {
		if store.IsNotFound(err) {
			return apperr.Integrity("quote %s not found", p.Notes.QuoteID)
		}
		return err
	}
	if q.OrderID != o.ID {
		return apperr.Integrity("quote %s does not belong to order %s", q.ID, o.ID)
	}
	if p.Notes.VendorID != "" && q.VendorID != p.Notes.VendorID {
		return apperr.Integrity("quote %s vendor mismatch", q.ID)
	}
	if q.IsProcessed {
		return apperr.Integrity("quote %s already processed", q.ID)
	}
	if p.Amount != q.FinalPrice {
		return apperr.Integrity("amount %d does not match quote final price %d", p.Amount, q.FinalPrice)
	}

	var a model.Assignment
	if err := tx.First(&a, "id = ?", q.AssignmentID).Error; err != nil {
		return err
	}
	if a.Status != model.AssignmentAccepted {
		return apperr.Integrity("assignment %s is %s, not ACCEPTED", a.ID, a.Status)
	}
	var v model.Vendor
	if err := tx.First(&v, "id = ?", q.VendorID).Error; err != nil {
		return err
	}
	if v.FundAccountID == nil || *v.FundAccountID == "" {
		return apperr.Integrity("vendor %s has no fund account", v.ID)
	}

	now := f.now()
	if err := tx.Create(&model.Payment{
		CreatedAt:        now,
		GatewayPaymentID: p.ID,
		OrderID:          o.ID,
		QuoteID:          q.ID,
		VendorID:         q.VendorID,
		CustomerID:       o.CustomerID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Method:           p.Method,
		Status:           "captured",
	}).Error; err != nil {
		if store.IsUniqueViolation(err) {
			return errAlreadyFinalized
		}
		return fmt.Errorf("create payment: %w", err)
	}

	upd := tx.Model(&model.Quote{}).Where("id = ? AND is_processed = ?", q.ID, false).Update("is_processed", true)
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected == 0 {
		return apperr.Integrity("quote %s already processed", q.ID)
	}
	q.IsProcessed = true

	gw := order.Actor{ID: p.ID, Role: model.RolePaymentGateway}
	o.SelectedVendorID = &q.VendorID
	o.FinalQuoteID = &q.ID
	o.PaymentID = &p.ID
	o.IsPaid = true
	if err := order.RecordTransition(tx, o, model.OrderInProgress, gw, "payment captured", now); err != nil {
		return err
	}
	if err := store.BumpVendorStats(tx, q.VendorID, store.StatsDelta{InProgress: 1}, now); err != nil {
		return fmt.Errorf("bump vendor stats: %w", err)
	}

	if o.ClothProvided {
		if _, _, err := outbox.ScheduleLeg(tx, outbox.Leg{
			OrderID:       o.ID,
			Type:          model.DeliveryToVendor,
			FromType:      model.PartyCustomer,
			FromID:        o.CustomerID,
			ToType:        model.PartyVendor,
			ToID:          v.ID,
			PickupAddress: o.PickupAddress,
			DropAddress:   v.Address,
		}); err != nil {
			return err
		}
		if err := order.RecordTransition(tx, o, model.OrderItemPickupScheduled, gw, "", now); err != nil {
			return err
		}
	} else {
		if err := order.RecordTransition(tx, o, model.OrderWorkStarted, gw, "no pickup required", now); err != nil {
			return err
		}
	}

	upd = tx.Model(&model.Assignment{}).
		Where("id = ? AND status = ?", a.ID, model.AssignmentAccepted).
		Updates(map[string]any{"status": model.AssignmentFinalized, "updated_at": now})
	if upd.Error != nil {
		return upd.Error
	}
	if upd.RowsAffected == 0 {
		return apperr.Integrity("assignment %s changed during finalization", a.ID)
	}
	return tx.Model(&model.Assignment{}).
		Where("order_id = ? AND id <> ?", o.ID, a.ID).
		Updates(map[string]any{"status": model.AssignmentFrozen, "updated_at": now}).Error
}

// compensate 资金已扣但定稿失败：对同一支付号最多发起一次退款。
// Redis 租约挡住并发投递；pending 退款行在调用网关前落库，是持久的一次性记录。
// 退款失败写 failed 审计行并告警，需人工处理，不自动重试。
func (f *Finalizer) compensate(ctx context.Context, p Entity, cause error) (Outcome, error) {
	fields := logrus.Fields{"payment_id": p.ID, "order_id": p.Notes.OrderID, "amount": p.Amount}

	if f.guard != nil {
		first, err := f.guard.AcquireOnce(ctx, p.ID)
		if err != nil {
			f.log.WithFields(fields).WithError(err).Warn("refund once-guard unavailable, relying on refund table")
		} else if !first {
			// 租约被占但还没有退款行：回非 2xx 让网关重投，租约过期后由退款行裁决
			f.log.WithFields(fields).Warn("refund lease held without refund row, gateway will retry")
			return OutcomeRefundPending, apperr.External(cause, "refund for payment %s is in flight", p.ID)
		}
	}

	row, err := reserveRefund(f.db.WithContext(ctx), refundAttempt{
		PaymentID: p.ID,
		OrderID:   p.Notes.OrderID,
		Amount:    p.Amount,
		Reason:    "finalization failed: " + cause.Error(),
	})
	if errors.Is(err, apperr.ErrDuplicate) {
		f.log.WithFields(fields).Info("refund already recorded for payment")
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w (finalize: %v)", err, cause)
	}
	if _, err := settleRefund(ctx, f.db, f.gateway, f.log, row); err != nil {
		return OutcomeRefundFailed, err
	}

	if p.Notes.CustomerID != "" {
		order.Notify(ctx, f.notifier, f.log, queue.NotificationMessage{
			RecipientID:   p.Notes.CustomerID,
			RecipientRole: model.RoleCustomer,
			Kind:          queue.KindRefundIssued,
			OrderID:       p.Notes.OrderID,
			Data:          map[string]string{"payment_id": p.ID, "amount": fmt.Sprint(p.Amount)},
		})
	}
	// 仍返回错误：本次 webhook 未能定稿；重投会命中 Refund 行被直接确认
	return OutcomeCompensated, cause
}
