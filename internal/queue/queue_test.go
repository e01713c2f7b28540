package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"tailor_hub/internal/model"
	"tailor_hub/internal/store/storetest"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

func TestParseNotification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr bool
	}{
		{
			name: "ok",
			values: map[string]interface{}{
				"job_id": "j1", "recipient_id": "v1", "recipient_role": "vendor",
				"kind": KindVendorSolicited, "order_id": "o1", "data": `{"service_type":"alteration"}`,
			},
		},
		{
			name: "no_data",
			values: map[string]interface{}{
				"job_id": "j1", "recipient_id": "c1", "recipient_role": "customer", "kind": KindOrderCompleted,
			},
		},
		{
			name:    "missing_job",
			values:  map[string]interface{}{"recipient_id": "v1", "recipient_role": "vendor", "kind": "x"},
			wantErr: true,
		},
		{
			name: "bad_role",
			values: map[string]interface{}{
				"job_id": "j1", "recipient_id": "v1", "recipient_role": "logistics", "kind": "x",
			},
			wantErr: true,
		},
		{
			name: "bad_data",
			values: map[string]interface{}{
				"job_id": "j1", "recipient_id": "v1", "recipient_role": "vendor", "kind": "x", "data": "{",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := parseNotification(tt.values)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.JobID != "j1" {
				t.Fatalf("unexpected job id %q", msg.JobID)
			}
		})
	}
}

func TestConsumerHandleIsIdempotent(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := &Consumer{db: db, log: log}

	b, _ := json.Marshal(NotificationMessage{
		JobID:         "job-1",
		RecipientID:   "vendor-1",
		RecipientRole: model.RoleVendor,
		Kind:          KindVendorSolicited,
		OrderID:       "order-1",
		Data:          map[string]string{"service_type": "alteration"},
	})

	for i := 0; i < 2; i++ {
		if err := c.handle(context.Background(), b); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}

	var n int64
	db.Model(&model.NotificationHistory{}).Where("job_id = ?", "job-1").Count(&n)
	if n != 1 {
		t.Fatalf("expected 1 history row, got %d", n)
	}

	if err := c.handle(context.Background(), []byte("not json")); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

type scriptedRead struct {
	msg kafka.Message
	err error
}

// scriptedReader 按顺序返回预设结果，耗尽后取消 ctx。
type scriptedReader struct {
	script []scriptedRead
	reads  int
	cancel context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.reads >= len(r.script) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	next := r.script[r.reads]
	r.reads++
	return next.msg, next.err
}

func (r *scriptedReader) Close() error { return nil }

func TestConsumerSurvivesReadErrors(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	b, _ := json.Marshal(NotificationMessage{
		JobID:         "job-after-outage",
		RecipientID:   "customer-1",
		RecipientRole: model.RoleCustomer,
		Kind:          KindStageAdvanced,
		OrderID:       "order-1",
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{
		script: []scriptedRead{
			{err: errors.New("broker not available")},
			{err: io.ErrUnexpectedEOF},
			{msg: kafka.Message{Value: b}},
		},
		cancel: cancel,
	}
	c := &Consumer{r: reader, db: db, log: log}

	c.Run(ctx)

	if reader.reads != len(reader.script) {
		t.Fatalf("expected %d reads, got %d", len(reader.script), reader.reads)
	}
	var n int64
	db.Model(&model.NotificationHistory{}).Where("job_id = ?", "job-after-outage").Count(&n)
	if n != 1 {
		t.Fatalf("expected history row after transient errors, got %d", n)
	}
}
