package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/metrics"
	"tailor_hub/internal/model"
	"tailor_hub/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dispatcher 把 PENDING outbox 行投递到物流 API。
// 至少一次：提交与投递之间崩溃时，下一轮会再次拾取该行。
type Dispatcher struct {
	db      *gorm.DB
	carrier Carrier
	log     *logrus.Logger
	batch   int
	now     func() time.Time
}

func NewDispatcher(db *gorm.DB, carrier Carrier, log *logrus.Logger, batch int) *Dispatcher {
	if batch <= 0 {
		batch = 10
	}
	return &Dispatcher{
		db:      db,
		carrier: carrier,
		log:     log,
		batch:   batch,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Result 单轮投递统计。
type Result struct {
	Sent   int
	Failed int
	// FailedRows 本轮结束时库内 FAILED 行总数
	FailedRows int64
}

// Dispatch 处理一批 PENDING 行，按创建时间尽力 FIFO。
func (d *Dispatcher) Dispatch(ctx context.Context) (Result, error) {
	var rows []model.OutboxRecord
	err := d.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("created_at ASC").
		Limit(d.batch).
		Find(&rows).Error
	if err != nil {
		return Result{}, fmt.Errorf("select pending outbox: %w", err)
	}

	var res Result
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if err := d.dispatchOne(ctx, row); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}

	var failed int64
	if err := d.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("status = ?", model.OutboxFailed).Count(&failed).Error; err == nil {
		metrics.OutboxFailedRows.Set(float64(failed))
		if failed > 0 {
			d.log.WithField("failed_rows", failed).Warn("outbox has FAILED rows awaiting requeue")
		}
		res.FailedRows = failed
	}
	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, row model.OutboxRecord) error {
	fields := logrus.Fields{"outbox_id": row.ID, "event": row.EventType}

	var payload model.DispatchPayload
	callErr := json.Unmarshal(row.Payload, &payload)
	if callErr == nil {
		callCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		callErr = d.carrier.Dispatch(callCtx, row.EventType, payload)
		cancel()
	} else {
		callErr = fmt.Errorf("decode payload: %w", callErr)
	}

	now := d.now()
	updates := map[string]any{"status": model.OutboxSent, "status_updated_at": now, "failure_reason": ""}
	if callErr != nil {
		updates["status"] = model.OutboxFailed
		updates["failure_reason"] = truncate(callErr.Error(), 500)
	}

	// 条件更新：并发实例已处理过的行不会被二次改写
	tx := d.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("id = ? AND status = ?", row.ID, model.OutboxPending).
		Updates(updates)
	if tx.Error != nil {
		d.log.WithFields(fields).WithError(tx.Error).Error("outbox status update")
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		d.log.WithFields(fields).Debug("outbox row already handled by another dispatcher")
	}

	if callErr != nil {
		metrics.OutboxDispatchTotal.WithLabelValues("failed").Inc()
		d.log.WithFields(fields).WithError(callErr).Warn("outbox dispatch failed")
		return callErr
	}
	metrics.OutboxDispatchTotal.WithLabelValues("sent").Inc()
	d.log.WithFields(fields).Info("outbox dispatched")
	return nil
}

// Requeue 把 FAILED 行放回 PENDING，由下一轮重新投递。
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	now := d.now()
	tx := d.db.WithContext(ctx).Model(&model.OutboxRecord{}).
		Where("id = ? AND status = ?", id, model.OutboxFailed).
		Updates(map[string]any{"status": model.OutboxPending, "status_updated_at": now, "failure_reason": ""})
	if tx.Error != nil {
		return fmt.Errorf("requeue outbox: %w", tx.Error)
	}
	if tx.RowsAffected == 1 {
		d.log.WithField("outbox_id", id).Info("outbox row requeued")
		return nil
	}

	var row model.OutboxRecord
	if err := d.db.WithContext(ctx).Select("id", "status").First(&row, "id = ?", id).Error; err != nil {
		if store.IsNotFound(err) {
			return apperr.NotFound("outbox record %s not found", id)
		}
		return err
	}
	return apperr.Precondition("outbox record %s is %s, only FAILED rows can be requeued", id, row.Status)
}

// truncate 按字节上限截断，但不切开多字节字符。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
