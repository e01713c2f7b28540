package queue

import (
	"fmt"

	"tailor_hub/internal/model"
)

// 通知种类，决定下游推送/邮件模板。
const (
	KindVendorSolicited  = "vendor.solicited"
	KindQuoteAccepted    = "quote.accepted"
	KindQuoteRejected    = "quote.rejected"
	KindPaymentConfirmed = "payment.confirmed"
	KindOrderCancelled   = "order.cancelled"
	KindStageAdvanced    = "order.stage_advanced"
	KindOrderCompleted   = "order.completed"
	KindRefundIssued     = "refund.issued"
)

// NotificationMessage 是写入 Stream / Kafka 的通知任务。
type NotificationMessage struct {
	JobID         string            `json:"job_id"`
	RecipientID   string            `json:"recipient_id"`
	RecipientRole model.ActorRole   `json:"recipient_role"`
	Kind          string            `json:"kind"`
	OrderID       string            `json:"order_id"`
	Data          map[string]string `json:"data,omitempty"`
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m NotificationMessage) Validate() error {
	if m.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if m.RecipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}
	switch m.RecipientRole {
	case model.RoleCustomer, model.RoleVendor, model.RoleAdmin:
	default:
		return fmt.Errorf("invalid recipient_role %q", m.RecipientRole)
	}
	if m.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}
