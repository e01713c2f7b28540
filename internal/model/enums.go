package model

import "fmt"

// OrderStatus 订单生命周期状态。Order.OrderStatus 只取粗粒度值
// （PENDING/IN_PROGRESS/COMPLETED/CANCELLED/REFUNDED），时间线与 Order.Stage 取全部值。
type OrderStatus string

const (
	OrderPending                 OrderStatus = "PENDING"
	OrderInProgress              OrderStatus = "IN_PROGRESS"
	OrderItemPickupScheduled     OrderStatus = "ITEM_PICKUP_SCHEDULED"
	OrderItemDeliveredToVendor   OrderStatus = "ITEM_DELIVERED_TO_VENDOR"
	OrderWorkStarted             OrderStatus = "WORK_STARTED"
	OrderItemReadyForPickup      OrderStatus = "ITEM_READY_FOR_PICKUP"
	OrderItemPickedUpFromVendor  OrderStatus = "ITEM_PICKED_UP_FROM_VENDOR"
	OrderItemDeliveredToCustomer OrderStatus = "ITEM_DELIVERED_TO_CUSTOMER"
	OrderCompleted               OrderStatus = "COMPLETED"
	OrderCancelled               OrderStatus = "CANCELLED"
	OrderRefunded                OrderStatus = "REFUNDED"
)

var orderStatuses = map[OrderStatus]bool{
	OrderPending: true, OrderInProgress: true, OrderItemPickupScheduled: true,
	OrderItemDeliveredToVendor: true, OrderWorkStarted: true, OrderItemReadyForPickup: true,
	OrderItemPickedUpFromVendor: true, OrderItemDeliveredToCustomer: true,
	OrderCompleted: true, OrderCancelled: true, OrderRefunded: true,
}

// ParseOrderStatus 在边界处校验一次，之后以类型值传递。
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if !orderStatuses[st] {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// Coarse 把细粒度阶段折叠成 Order.OrderStatus 的取值。
func (s OrderStatus) Coarse() OrderStatus {
	switch s {
	case OrderPending, OrderCompleted, OrderCancelled, OrderRefunded:
		return s
	default:
		return OrderInProgress
	}
}

// Terminal 终态不再接受任何迁移。
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled || s == OrderRefunded
}

// AssignmentStatus 供应商指派的响应状态。
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "PENDING"
	AssignmentAccepted  AssignmentStatus = "ACCEPTED"
	AssignmentRejected  AssignmentStatus = "REJECTED"
	AssignmentExpired   AssignmentStatus = "EXPIRED"
	AssignmentFrozen    AssignmentStatus = "FROZEN"
	AssignmentFinalized AssignmentStatus = "FINALIZED"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
	AssignmentCancelled AssignmentStatus = "CANCELLED"
	AssignmentRefunded  AssignmentStatus = "REFUNDED"
)

// ActiveAssignmentStatuses 占用名额（slot）的状态集合。
var ActiveAssignmentStatuses = []AssignmentStatus{AssignmentPending, AssignmentAccepted}

// ActorRole 时间线中记录的操作方角色。
type ActorRole string

const (
	RoleCustomer       ActorRole = "customer"
	RoleVendor         ActorRole = "vendor"
	RoleSystem         ActorRole = "system"
	RolePaymentGateway ActorRole = "payment_gateway"
	RoleLogistics      ActorRole = "logistics"
	RoleAdmin          ActorRole = "admin"
)

// ParseActorRole 仅接受 API 层允许自报的角色；网关与物流角色只由 webhook 内部使用。
func ParseActorRole(s string) (ActorRole, error) {
	switch r := ActorRole(s); r {
	case RoleCustomer, RoleVendor, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown actor role %q", s)
	}
}

// VendorResponse 供应商对指派的答复。
type VendorResponse string

const (
	ResponseAccept VendorResponse = "ACCEPT"
	ResponseReject VendorResponse = "REJECT"
)

func ParseVendorResponse(s string) (VendorResponse, error) {
	switch r := VendorResponse(s); r {
	case ResponseAccept, ResponseReject:
		return r, nil
	default:
		return "", fmt.Errorf("unknown response action %q", s)
	}
}

// OutboxStatus outbox 记录投递状态，仅 Dispatcher 可以让它离开 PENDING。
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxEventType 需要外部物流执行的意图类型。
type OutboxEventType string

const (
	EventDispatchPickup   OutboxEventType = "DISPATCH_PICKUP"
	EventDispatchDelivery OutboxEventType = "DISPATCH_DELIVERY"
)

// DeliveryType 物流腿方向。
type DeliveryType string

const (
	DeliveryToVendor   DeliveryType = "TO_VENDOR"
	DeliveryToCustomer DeliveryType = "TO_CUSTOMER"
)

// DeliverySubStatus 物流 webhook 推送的子状态。
type DeliverySubStatus string

const (
	SubScheduled         DeliverySubStatus = "SCHEDULED" // 建单初始值，不会由 webhook 推送
	SubPickupAssigned    DeliverySubStatus = "PICKUP_ASSIGNED"
	SubPickupInTransit   DeliverySubStatus = "PICKUP_IN_TRANSIT"
	SubPickupComplete    DeliverySubStatus = "PICKUP_COMPLETE"
	SubDeliveryAssigned  DeliverySubStatus = "DELIVERY_ASSIGNED"
	SubDeliveryInTransit DeliverySubStatus = "DELIVERY_IN_TRANSIT"
	SubDeliveryComplete  DeliverySubStatus = "DELIVERY_COMPLETE"
)

func ParseDeliverySubStatus(s string) (DeliverySubStatus, error) {
	switch st := DeliverySubStatus(s); st {
	case SubPickupAssigned, SubPickupInTransit, SubPickupComplete,
		SubDeliveryAssigned, SubDeliveryInTransit, SubDeliveryComplete:
		return st, nil
	default:
		return "", fmt.Errorf("unknown delivery sub-status %q", s)
	}
}

// PartyType 物流起止方类型。
type PartyType string

const (
	PartyCustomer PartyType = "customer"
	PartyVendor   PartyType = "vendor"
)

// VendorStatus 供应商账号状态。
type VendorStatus string

const (
	VendorActive    VendorStatus = "ACTIVE"
	VendorSuspended VendorStatus = "SUSPENDED"
)

// RefundStatus 退款审计状态；failed 需要人工介入。
// pending 在调用网关前写入，长时间停留说明调用中途崩溃。
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

// PayoutStatus 供应商结算状态。
type PayoutStatus string

const (
	PayoutActionRequired PayoutStatus = "action_required"
	PayoutProcessed      PayoutStatus = "processed"
)
