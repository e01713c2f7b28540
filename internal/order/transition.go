package order

import (
	"fmt"
	"slices"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/model"

	"gorm.io/gorm"
)

// Actor 触发迁移的一方，写入时间线。
type Actor struct {
	ID   string
	Role model.ActorRole
}

// System 后台任务使用的内部身份。
var System = Actor{ID: "system", Role: model.RoleSystem}

type edge struct {
	from  model.OrderStatus
	roles []model.ActorRole
}

// transitions 目标状态 -> 允许的前驱与角色。
var transitions = map[model.OrderStatus][]edge{
	model.OrderInProgress: {
		{model.OrderPending, []model.ActorRole{model.RolePaymentGateway}},
	},
	model.OrderItemPickupScheduled: {
		{model.OrderInProgress, []model.ActorRole{model.RolePaymentGateway, model.RoleSystem}},
	},
	model.OrderItemDeliveredToVendor: {
		{model.OrderItemPickupScheduled, []model.ActorRole{model.RoleLogistics}},
	},
	model.OrderWorkStarted: {
		{model.OrderInProgress, []model.ActorRole{model.RolePaymentGateway}},
		{model.OrderItemDeliveredToVendor, []model.ActorRole{model.RoleVendor}},
	},
	model.OrderItemReadyForPickup: {
		{model.OrderWorkStarted, []model.ActorRole{model.RoleVendor}},
	},
	model.OrderItemPickedUpFromVendor: {
		{model.OrderItemReadyForPickup, []model.ActorRole{model.RoleLogistics}},
	},
	model.OrderItemDeliveredToCustomer: {
		{model.OrderItemPickedUpFromVendor, []model.ActorRole{model.RoleLogistics}},
	},
	model.OrderCompleted: {
		{model.OrderItemDeliveredToCustomer, []model.ActorRole{model.RoleLogistics, model.RoleSystem}},
	},
	model.OrderCancelled: {
		{model.OrderPending, []model.ActorRole{model.RoleCustomer, model.RoleSystem, model.RoleAdmin}},
	},
	model.OrderRefunded: refundEdges(),
}

// refundEdges 已支付且未终结的任一阶段都可以退款。
func refundEdges() []edge {
	roles := []model.ActorRole{model.RoleAdmin, model.RoleSystem}
	paid := []model.OrderStatus{
		model.OrderInProgress, model.OrderItemPickupScheduled, model.OrderItemDeliveredToVendor,
		model.OrderWorkStarted, model.OrderItemReadyForPickup, model.OrderItemPickedUpFromVendor,
		model.OrderItemDeliveredToCustomer,
	}
	out := make([]edge, 0, len(paid))
	for _, s := range paid {
		out = append(out, edge{s, roles})
	}
	return out
}

// CheckTransition 校验前驱状态与角色，不做任何写入。
func CheckTransition(from, to model.OrderStatus, role model.ActorRole) error {
	edges, ok := transitions[to]
	if !ok {
		return apperr.Validation("%s is not a transition target", to)
	}
	for _, e := range edges {
		if e.from != from {
			continue
		}
		if !slices.Contains(e.roles, role) {
			return apperr.Precondition("role %s may not move order from %s to %s", role, from, to)
		}
		return nil
	}
	return apperr.Precondition("cannot move order from %s to %s", from, to)
}

// RecordTransition 在调用方事务内校验并写入一条时间线，同时更新订单的阶段、粗粒度状态与首达时间。
// 调用方需已持有订单行锁。订单上其它已修改的字段随本次保存一起落库。
func RecordTransition(tx *gorm.DB, o *model.Order, to model.OrderStatus, actor Actor, note string, at time.Time) error {
	if err := CheckTransition(o.Stage, to, actor.Role); err != nil {
		return err
	}
	at = at.UTC()
	entry := model.TimelineEntry{
		CreatedAt:      at,
		OrderID:        o.ID,
		PreviousStatus: o.Stage,
		NewStatus:      to,
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
		Note:           note,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("insert timeline: %w", err)
	}

	o.Stage = to
	o.OrderStatus = to.Coarse()
	o.StatusTimestamps.MarkFirst(o.OrderStatus, at)
	o.StatusTimestamps.MarkFirst(to, at)
	if err := tx.Save(o).Error; err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}
