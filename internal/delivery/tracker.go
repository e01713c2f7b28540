package delivery

import (
	"context"
	"fmt"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/metrics"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/queue"
	"tailor_hub/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// effects 每条腿可接受的子状态及其推进的订单阶段；nil 表示只打时间戳。
var effects = map[model.DeliveryType]map[model.DeliverySubStatus][]model.OrderStatus{
	model.DeliveryToVendor: {
		model.SubPickupAssigned:  nil,
		model.SubPickupInTransit: nil,
		model.SubPickupComplete:  {model.OrderItemDeliveredToVendor},
	},
	model.DeliveryToCustomer: {
		model.SubPickupAssigned:    nil,
		model.SubPickupInTransit:   nil,
		model.SubPickupComplete:    {model.OrderItemPickedUpFromVendor},
		model.SubDeliveryAssigned:  nil,
		model.SubDeliveryInTransit: nil,
		model.SubDeliveryComplete:  {model.OrderItemDeliveredToCustomer, model.OrderCompleted},
	},
}

var carrier = order.Actor{ID: "carrier", Role: model.RoleLogistics}

// Tracker 消费承运商 webhook，按腿推进子状态并驱动订单时间线。
// 幂等靠每个子状态的时间槽只写一次。
type Tracker struct {
	db       *gorm.DB
	notifier queue.Notifier
	cache    order.Invalidator
	log      *logrus.Logger
	secret   string
	now      func() time.Time
}

func NewTracker(db *gorm.DB, notifier queue.Notifier, cache order.Invalidator, log *logrus.Logger, secret string) *Tracker {
	return &Tracker{
		db:       db,
		notifier: notifier,
		cache:    cache,
		log:      log,
		secret:   secret,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook 验签（配置了密钥时）后在一个事务内应用子状态。
func (t *Tracker) HandleWebhook(ctx context.Context, body []byte, signature string) (model.DeliveryTracking, error) {
	leg, err := t.handle(ctx, body, signature)
	outcome := "applied"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	metrics.WebhookEventsTotal.WithLabelValues("delivery", outcome).Inc()
	return leg, err
}

func (t *Tracker) handle(ctx context.Context, body []byte, signature string) (model.DeliveryTracking, error) {
	if t.secret == "" {
		t.log.Warn("carrier webhook secret not configured, accepting unsigned event")
	} else if err := verify(body, signature, t.secret); err != nil {
		t.log.WithError(err).Warn("delivery webhook rejected")
		return model.DeliveryTracking{}, err
	}

	ev, sub, err := ParseEvent(body)
	if err != nil {
		return model.DeliveryTracking{}, err
	}
	fields := logrus.Fields{"delivery_tracking_id": ev.DeliveryTrackingID, "status": sub}

	var (
		leg       model.DeliveryTracking
		o         model.Order
		advanced  bool
		completed *model.Payout
	)
	err = t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&leg, "id = ?", ev.DeliveryTrackingID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("delivery tracking %s not found", ev.DeliveryTrackingID)
			}
			return err
		}
		// 所有写腿的路径都先锁订单，锁内重读保证时间槽判断不过期
		if err := store.ForUpdate(tx).First(&o, "id = ?", leg.OrderID).Error; err != nil {
			return fmt.Errorf("lock order %s: %w", leg.OrderID, err)
		}
		if err := tx.First(&leg, "id = ?", leg.ID).Error; err != nil {
			return err
		}

		stages, ok := effects[leg.DeliveryType][sub]
		if !ok {
			return apperr.Validation("%s is not a valid status for a %s leg", sub, leg.DeliveryType)
		}
		if leg.Timestamps.Stamped(sub) {
			return apperr.Duplicate("%s already recorded for delivery %s", sub, leg.ID)
		}

		now := t.now()
		leg.Timestamps.Stamp(sub, now)
		leg.Status = sub
		if err := tx.Save(&leg).Error; err != nil {
			return fmt.Errorf("save delivery tracking: %w", err)
		}

		for _, to := range stages {
			if err := order.RecordTransition(tx, &o, to, carrier, string(sub), now); err != nil {
				return err
			}
			advanced = true
		}
		if advanced && o.Stage == model.OrderCompleted {
			p, err := t.complete(tx, &o, now)
			if err != nil {
				return err
			}
			completed = &p
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindDuplicate {
			t.log.WithFields(fields).Info("duplicate delivery webhook rejected")
		} else {
			t.log.WithFields(fields).WithError(err).Warn("delivery webhook not applied")
		}
		return model.DeliveryTracking{}, err
	}

	fields["order_id"] = o.ID
	fields["stage"] = o.Stage
	t.log.WithFields(fields).Info("delivery status applied")
	if advanced {
		order.Invalidate(ctx, t.cache, t.log, o.ID)
		t.notify(ctx, o, completed)
	}
	return leg, nil
}

// complete 订单完成的记账：指派 COMPLETED、供应商统计、生成待结算 Payout。
func (t *Tracker) complete(tx *gorm.DB, o *model.Order, now time.Time) (model.Payout, error) {
	if o.FinalQuoteID == nil || o.SelectedVendorID == nil {
		return model.Payout{}, apperr.Integrity("order %s completed without a final quote", o.ID)
	}
	var q model.Quote
	if err := tx.First(&q, "id = ?", *o.FinalQuoteID).Error; err != nil {
		return model.Payout{}, fmt.Errorf("load final quote: %w", err)
	}

	upd := tx.Model(&model.Assignment{}).
		Where("order_id = ? AND vendor_id = ? AND status = ?", o.ID, *o.SelectedVendorID, model.AssignmentFinalized).
		Updates(map[string]any{"status": model.AssignmentCompleted, "updated_at": now})
	if upd.Error != nil {
		return model.Payout{}, upd.Error
	}
	if upd.RowsAffected == 0 {
		return model.Payout{}, apperr.Integrity("no FINALIZED assignment for order %s", o.ID)
	}

	if err := store.BumpVendorStats(tx, q.VendorID, store.StatsDelta{
		InProgress: -1,
		Completed:  1,
		Earnings:   q.VendorPayout,
	}, now); err != nil {
		return model.Payout{}, fmt.Errorf("bump vendor stats: %w", err)
	}

	p := model.Payout{
		CreatedAt: now,
		OrderID:   o.ID,
		VendorID:  q.VendorID,
		QuoteID:   q.ID,
		Amount:    q.VendorPayout,
		Status:    model.PayoutActionRequired,
	}
	if err := tx.Create(&p).Error; err != nil {
		return model.Payout{}, fmt.Errorf("create payout: %w", err)
	}
	return p, nil
}

func (t *Tracker) notify(ctx context.Context, o model.Order, payout *model.Payout) {
	if payout == nil {
		order.Notify(ctx, t.notifier, t.log, queue.NotificationMessage{
			RecipientID:   o.CustomerID,
			RecipientRole: model.RoleCustomer,
			Kind:          queue.KindStageAdvanced,
			OrderID:       o.ID,
			Data:          map[string]string{"stage": string(o.Stage)},
		})
		return
	}
	order.Notify(ctx, t.notifier, t.log, queue.NotificationMessage{
		RecipientID:   o.CustomerID,
		RecipientRole: model.RoleCustomer,
		Kind:          queue.KindOrderCompleted,
		OrderID:       o.ID,
	})
	order.Notify(ctx, t.notifier, t.log, queue.NotificationMessage{
		RecipientID:   payout.VendorID,
		RecipientRole: model.RoleVendor,
		Kind:          queue.KindOrderCompleted,
		OrderID:       o.ID,
		Data:          map[string]string{"payout_id": payout.ID, "amount": fmt.Sprint(payout.Amount)},
	})
}
