package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tailor_hub/internal/model"
	"tailor_hub/internal/store"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// messageReader 由 *kafka.Reader 实现。
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer 消费通知 Topic，落 notification_histories。
type Consumer struct {
	r       messageReader
	db      *gorm.DB
	log     *logrus.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, db *gorm.DB, log *logrus.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		db:      db,
		log:     log,
		backoff: 500 * time.Millisecond,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// broker 短暂不可用：退避后继续读
			c.log.WithError(err).Warn("notification consumer read")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		if err := c.handle(ctx, m.Value); err != nil {
			c.log.WithFields(logrus.Fields{"offset": m.Offset, "partition": m.Partition}).
				WithError(err).Warn("notification consumer")
		}
	}
}

// handle 解析并落库；重复消息触发 UNIQUE 冲突，直接当作成功。
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var msg NotificationMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	data := datatypes.JSONMap{}
	for k, v := range msg.Data {
		data[k] = v
	}
	row := &model.NotificationHistory{
		JobID:         msg.JobID,
		RecipientID:   msg.RecipientID,
		RecipientRole: msg.RecipientRole,
		Kind:          msg.Kind,
		OrderID:       msg.OrderID,
		Data:          data,
	}
	if err := c.db.WithContext(ctx).Create(row).Error; err != nil {
		if store.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("db create: %w", err)
	}
	return nil
}
