package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// Notifier 通知入队。调用方把它当作尽力而为：失败只记日志，不回滚业务。
type Notifier interface {
	Notify(ctx context.Context, msg NotificationMessage) error
}

// StreamNotifier 以 XADD 写入 Redis Stream，由 Relay 转发到 Kafka。
type StreamNotifier struct {
	rdb    *rd.Client
	stream string
}

func NewStreamNotifier(rdb *rd.Client, stream string) *StreamNotifier {
	return &StreamNotifier{rdb: rdb, stream: stream}
}

func (n *StreamNotifier) Notify(ctx context.Context, msg NotificationMessage) error {
	if msg.JobID == "" {
		msg.JobID = uuid.NewString()
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(msg.Data)
	if err != nil {
		return err
	}
	err = n.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: n.stream,
		Values: map[string]any{
			"job_id":         msg.JobID,
			"recipient_id":   msg.RecipientID,
			"recipient_role": string(msg.RecipientRole),
			"kind":           msg.Kind,
			"order_id":       msg.OrderID,
			"data":           string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd notification: %w", err)
	}
	return nil
}

// NopNotifier 丢弃所有通知，用于测试与未接入 Redis 的环境。
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, NotificationMessage) error { return nil }
