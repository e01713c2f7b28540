package outbox

import (
	"encoding/json"
	"fmt"

	"tailor_hub/internal/model"

	"gorm.io/gorm"
)

// Leg 新物流腿的起止方与地址。
type Leg struct {
	OrderID       string
	Type          model.DeliveryType
	FromType      model.PartyType
	FromID        string
	ToType        model.PartyType
	ToID          string
	PickupAddress string
	DropAddress   string
}

// ScheduleLeg 在调用方事务内创建 DeliveryTracking 与对应的 outbox 记录。
// 两者必须与触发它的订单状态变更一起提交。
func ScheduleLeg(tx *gorm.DB, leg Leg) (model.DeliveryTracking, model.OutboxRecord, error) {
	tracking := model.DeliveryTracking{
		OrderID:      leg.OrderID,
		DeliveryType: leg.Type,
		FromType:     leg.FromType,
		FromID:       leg.FromID,
		ToType:       leg.ToType,
		ToID:         leg.ToID,
		Status:       model.SubScheduled,
	}
	if err := tx.Create(&tracking).Error; err != nil {
		return model.DeliveryTracking{}, model.OutboxRecord{}, fmt.Errorf("create delivery tracking: %w", err)
	}

	event := model.EventDispatchPickup
	if leg.Type == model.DeliveryToCustomer {
		event = model.EventDispatchDelivery
	}
	rec, err := Enqueue(tx, event, model.DispatchPayload{
		DeliveryTrackingID: tracking.ID,
		OrderID:            leg.OrderID,
		DeliveryType:       leg.Type,
		PickupAddress:      leg.PickupAddress,
		DropAddress:        leg.DropAddress,
	})
	if err != nil {
		return model.DeliveryTracking{}, model.OutboxRecord{}, err
	}
	return tracking, rec, nil
}

// Enqueue 写入一条 PENDING outbox 记录。
func Enqueue(tx *gorm.DB, event model.OutboxEventType, payload model.DispatchPayload) (model.OutboxRecord, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return model.OutboxRecord{}, err
	}
	rec := model.OutboxRecord{
		EventType: event,
		Payload:   b,
		Status:    model.OutboxPending,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return model.OutboxRecord{}, fmt.Errorf("create outbox record: %w", err)
	}
	return rec, nil
}
