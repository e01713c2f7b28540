package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/model"
	"tailor_hub/internal/outbox"
	"tailor_hub/internal/queue"
	"tailor_hub/internal/store"
	rediskey "tailor_hub/pkg/redis"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatusCache 订单状态快速路径，由 pkg/redis.OrderStatusCache 实现。
type StatusCache interface {
	Get(ctx context.Context, orderID string) (rediskey.OrderStatus, bool, error)
	Put(ctx context.Context, s rediskey.OrderStatus) error
	Invalidator
}

// Invalidator 状态变更提交后让缓存失效。
type Invalidator interface {
	Invalidate(ctx context.Context, orderID string) error
}

// Invalidate 尽力让缓存失效，nil 安全。
func Invalidate(ctx context.Context, inv Invalidator, log *logrus.Logger, orderID string) {
	if inv == nil {
		return
	}
	if err := inv.Invalidate(ctx, orderID); err != nil {
		log.WithField("order_id", orderID).WithError(err).Warn("invalidate order status cache")
	}
}

// Notify 尽力发送通知，失败只记日志。
func Notify(ctx context.Context, n queue.Notifier, log *logrus.Logger, msg queue.NotificationMessage) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		log.WithFields(logrus.Fields{
			"order_id":  msg.OrderID,
			"recipient": msg.RecipientID,
			"kind":      msg.Kind,
		}).WithError(err).Warn("notification enqueue failed")
	}
}

// Service 订单创建、查询、取消与供应商阶段推进。
type Service struct {
	db       *gorm.DB
	log      *logrus.Logger
	notifier queue.Notifier
	cache    StatusCache
	now      func() time.Time
}

func NewService(db *gorm.DB, log *logrus.Logger, notifier queue.Notifier, cache StatusCache) *Service {
	return &Service{
		db:       db,
		log:      log,
		notifier: notifier,
		cache:    cache,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput 下单参数。
type CreateInput struct {
	CustomerID    string
	ServiceType   string
	RequiredBy    time.Time
	ClothProvided bool
	PickupAddress string
}

// Create 创建 PENDING 订单并写入初始时间线。
func (s *Service) Create(ctx context.Context, in CreateInput) (model.Order, error) {
	in.ServiceType = strings.TrimSpace(in.ServiceType)
	if in.CustomerID == "" || in.ServiceType == "" {
		return model.Order{}, apperr.Validation("customer id and service type are required")
	}
	now := s.now()
	if !in.RequiredBy.After(now) {
		return model.Order{}, apperr.Validation("required_by must be in the future")
	}

	var o model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.Customer
		if err := tx.First(&c, "id = ?", in.CustomerID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("customer %s not found", in.CustomerID)
			}
			return err
		}
		addr := strings.TrimSpace(in.PickupAddress)
		if addr == "" {
			addr = c.Address
		}
		o = model.Order{
			CreatedAt:     now,
			CustomerID:    c.ID,
			ServiceType:   in.ServiceType,
			RequiredBy:    in.RequiredBy.UTC(),
			ClothProvided: in.ClothProvided,
			PickupAddress: addr,
			OrderStatus:   model.OrderPending,
			Stage:         model.OrderPending,
		}
		o.StatusTimestamps.MarkFirst(model.OrderPending, now)
		if err := tx.Create(&o).Error; err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return tx.Create(&model.TimelineEntry{
			CreatedAt: now,
			OrderID:   o.ID,
			NewStatus: model.OrderPending,
			ActorID:   c.ID,
			ActorRole: model.RoleCustomer,
		}).Error
	})
	if err != nil {
		return model.Order{}, err
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "customer_id": o.CustomerID}).Info("order created")
	return o, nil
}

// Detail 订单及其完整时间线。
type Detail struct {
	Order    model.Order           `json:"order"`
	Timeline []model.TimelineEntry `json:"timeline"`
}

func (s *Service) Get(ctx context.Context, orderID string) (Detail, error) {
	var d Detail
	if err := s.db.WithContext(ctx).First(&d.Order, "id = ?", orderID).Error; err != nil {
		if store.IsNotFound(err) {
			return Detail{}, apperr.NotFound("order %s not found", orderID)
		}
		return Detail{}, err
	}
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&d.Timeline).Error
	if err != nil {
		return Detail{}, err
	}
	return d, nil
}

// Status 先读缓存，未命中回源数据库并回填。
func (s *Service) Status(ctx context.Context, orderID string) (rediskey.OrderStatus, error) {
	if s.cache != nil {
		st, found, err := s.cache.Get(ctx, orderID)
		if err == nil && found && st.CustomerID != "" {
			return st, nil
		}
		if err != nil {
			s.log.WithField("order_id", orderID).WithError(err).Warn("order status cache read")
		}
	}

	var o model.Order
	err := s.db.WithContext(ctx).
		Select("id", "customer_id", "order_status", "stage", "is_paid").
		First(&o, "id = ?", orderID).Error
	if err != nil {
		if store.IsNotFound(err) {
			return rediskey.OrderStatus{}, apperr.NotFound("order %s not found", orderID)
		}
		return rediskey.OrderStatus{}, err
	}
	st := rediskey.OrderStatus{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		OrderStatus: string(o.OrderStatus),
		Stage:       string(o.Stage),
		IsPaid:      o.IsPaid,
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, st); err != nil {
			s.log.WithField("order_id", orderID).WithError(err).Warn("order status cache write")
		}
	}
	return st, nil
}

// Cancel 取消 PENDING 订单，所有占用名额的指派一并取消。
func (s *Service) Cancel(ctx context.Context, orderID string, actor Actor, reason string) (model.Order, error) {
	var (
		o        model.Order
		notified []model.Assignment
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&o, "id = ?", orderID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("order %s not found", orderID)
			}
			return err
		}
		if actor.Role == model.RoleCustomer && o.CustomerID != actor.ID {
			return apperr.Precondition("order %s does not belong to customer %s", orderID, actor.ID)
		}
		if err := RecordTransition(tx, &o, model.OrderCancelled, actor, reason, s.now()); err != nil {
			return err
		}

		if err := tx.Where("order_id = ? AND status IN ?", o.ID, model.ActiveAssignmentStatuses).
			Find(&notified).Error; err != nil {
			return err
		}
		return tx.Model(&model.Assignment{}).
			Where("order_id = ? AND status IN ?", o.ID, model.ActiveAssignmentStatuses).
			Update("status", model.AssignmentCancelled).Error
	})
	if err != nil {
		return model.Order{}, err
	}

	Invalidate(ctx, s.cache, s.log, o.ID)
	for _, a := range notified {
		Notify(ctx, s.notifier, s.log, queue.NotificationMessage{
			RecipientID:   a.VendorID,
			RecipientRole: model.RoleVendor,
			Kind:          queue.KindOrderCancelled,
			OrderID:       o.ID,
		})
	}
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "actor": actor.ID, "role": actor.Role}).Info("order cancelled")
	return o, nil
}

// Advance 被选中的供应商推进作业阶段。
// ITEM_READY_FOR_PICKUP 同一事务内创建送回客户的物流腿与 DISPATCH_DELIVERY outbox 记录。
func (s *Service) Advance(ctx context.Context, orderID string, actor Actor, to model.OrderStatus, note string) (model.Order, error) {
	if actor.Role != model.RoleVendor {
		return model.Order{}, apperr.Precondition("only the selected vendor may advance work stages")
	}
	if to != model.OrderWorkStarted && to != model.OrderItemReadyForPickup {
		return model.Order{}, apperr.Validation("vendor may only record %s or %s", model.OrderWorkStarted, model.OrderItemReadyForPickup)
	}

	var o model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&o, "id = ?", orderID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("order %s not found", orderID)
			}
			return err
		}
		if o.SelectedVendorID == nil || *o.SelectedVendorID != actor.ID {
			return apperr.Precondition("vendor %s is not the selected vendor of order %s", actor.ID, orderID)
		}
		now := s.now()
		if err := RecordTransition(tx, &o, to, actor, note, now); err != nil {
			return err
		}
		if to != model.OrderItemReadyForPickup {
			return nil
		}

		var v model.Vendor
		if err := tx.First(&v, "id = ?", actor.ID).Error; err != nil {
			return err
		}
		_, _, err := outbox.ScheduleLeg(tx, outbox.Leg{
			OrderID:       o.ID,
			Type:          model.DeliveryToCustomer,
			FromType:      model.PartyVendor,
			FromID:        v.ID,
			ToType:        model.PartyCustomer,
			ToID:          o.CustomerID,
			PickupAddress: v.Address,
			DropAddress:   o.PickupAddress,
		})
		return err
	})
	if err != nil {
		return model.Order{}, err
	}

	Invalidate(ctx, s.cache, s.log, o.ID)
	Notify(ctx, s.notifier, s.log, queue.NotificationMessage{
		RecipientID:   o.CustomerID,
		RecipientRole: model.RoleCustomer,
		Kind:          queue.KindStageAdvanced,
		OrderID:       o.ID,
		Data:          map[string]string{"stage": string(to)},
	})
	s.log.WithFields(logrus.Fields{"order_id": o.ID, "stage": to, "vendor_id": actor.ID}).Info("order stage advanced")
	return o, nil
}
