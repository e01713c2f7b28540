package assignment

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

// MaxActiveSlots 每个订单同时处于 PENDING/ACCEPTED 的指派上限。
const MaxActiveSlots = 10

// Ledger 管理订单对供应商的邀请与供应商的答复。
type Ledger struct {
	db       *gorm.DB
	log      *logrus.Logger
	notifier queue.Notifier
	fees     FeeSource
	window   time.Duration
	now      func() time.Time
}

func NewLedger(db *gorm.DB, log *logrus.Logger, notifier queue.Notifier, fees FeeSource, window time.Duration) *Ledger {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Ledger{
		db:       db,
		log:      log,
		notifier: notifier,
		fees:     fees,
		window:   window,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Solicit 向一批供应商发出邀请，返回本次新建的指派。
// 已联系过的供应商（任意状态）静默跳过；新增数量超过剩余名额时整体拒绝。
func (l *Ledger) Solicit(ctx context.Context, orderID string, actor order.Actor, vendorIDs []string) ([]model.Assignment, error) {
	ids := dedupe(vendorIDs)
	if len(ids) == 0 || len(ids) > MaxActiveSlots {
		return nil, apperr.Validation("between 1 and %d vendor ids are required", MaxActiveSlots)
	}

	var created []model.Assignment
	var o model.Order
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&o, "id = ?", orderID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("order %s not found", orderID)
			}
			return err
		}
		switch actor.Role {
		case model.RoleAdmin:
		case model.RoleCustomer:
			if o.CustomerID != actor.ID {
				return apperr.Precondition("order %s does not belong to customer %s", orderID, actor.ID)
			}
		default:
			return apperr.Precondition("role %s cannot solicit vendors", actor.Role)
		}
		if o.Stage != model.OrderPending {
			return apperr.Precondition("order %s is %s, vendors can only be solicited while PENDING", orderID, o.Stage)
		}
		now := l.now()
		if now.After(o.RequiredBy) {
			return apperr.Precondition("order %s is past its required-by date", orderID)
		}

		var vendors []model.Vendor
		if err := tx.Where("id IN ?", ids).Find(&vendors).Error; err != nil {
			return err
		}
		byID := make(map[string]model.Vendor, len(vendors))
		for _, v := range vendors {
			byID[v.ID] = v
		}
		for _, id := range ids {
			v, ok := byID[id]
			if !ok {
				return apperr.NotFound("vendor %s not found", id)
			}
			if !v.Solicitable() {
				return apperr.Precondition("vendor %s is not verified and active", id)
			}
		}

		var contacted []string
		if err := tx.Model(&model.Assignment{}).
			Where("order_id = ? AND vendor_id IN ?", o.ID, ids).
			Pluck("vendor_id", &contacted).Error; err != nil {
			return err
		}
		skip := make(map[string]bool, len(contacted))
		for _, id := range contacted {
			skip[id] = true
		}
		fresh := make([]string, 0, len(ids))
		for _, id := range ids {
			if !skip[id] {
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			return nil
		}

		var active int64
		if err := tx.Model(&model.Assignment{}).
			Where("order_id = ? AND status IN ?", o.ID, model.ActiveAssignmentStatuses).
			Count(&active).Error; err != nil {
			return err
		}
		if free := MaxActiveSlots - int(active); len(fresh) > free {
			return apperr.Capacity("order %s has %d free vendor slots, %d requested", o.ID, free, len(fresh))
		}

		for _, id := range fresh {
			a := model.Assignment{
				CreatedAt: now,
				OrderID:   o.ID,
				VendorID:  id,
				Status:    model.AssignmentPending,
			}
			if err := tx.Create(&a).Error; err != nil {
				if store.IsUniqueViolation(err) {
					return apperr.Duplicate("vendor %s already solicited for order %s", id, o.ID)
				}
				return fmt.Errorf("create assignment: %w", err)
			}
			created = append(created, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SolicitationsTotal.Add(float64(len(created)))
	for _, a := range created {
		order.Notify(ctx, l.notifier, l.log, queue.NotificationMessage{
			RecipientID:   a.VendorID,
			RecipientRole: model.RoleVendor,
			Kind:          queue.KindVendorSolicited,
			OrderID:       a.OrderID,
			Data: map[string]string{
				"assignment_id": a.ID,
				"service_type":  o.ServiceType,
			},
		})
	}
	l.log.WithFields(logrus.Fields{
		"order_id":  orderID,
		"requested": len(ids),
		"created":   len(created),
	}).Info("vendors solicited")
	return created, nil
}

// RespondInput 供应商答复。ACCEPT 必须带价格与工期。
type RespondInput struct {
	AssignmentID string
	VendorID     string
	Action       model.VendorResponse
	QuotedPrice  *int64
	QuotedDays   *int
	Notes        string
}

// RespondResult 答复后的指派；ACCEPT 时附带报价。
type RespondResult struct {
	Assignment model.Assignment `json:"assignment"`
	Quote      *model.Quote     `json:"quote,omitempty"`
}

// Respond 处理供应商接单或拒单，每个指派只能答复一次。
func (l *Ledger) Respond(ctx context.Context, in RespondInput) (RespondResult, error) {
	if in.Action == model.ResponseAccept {
		if in.QuotedPrice == nil || in.QuotedDays == nil {
			return RespondResult{}, apperr.Validation("ACCEPT requires quoted_price and quoted_days")
		}
		if *in.QuotedPrice <= 0 || *in.QuotedDays <= 0 {
			return RespondResult{}, apperr.Validation("quoted_price and quoted_days must be positive")
		}
	}

	var (
		res RespondResult
		o   model.Order
	)
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		a := &res.Assignment
		if err := tx.First(a, "id = ?", in.AssignmentID).Error; err != nil {
			if store.IsNotFound(err) {
				return apperr.NotFound("assignment %s not found", in.AssignmentID)
			}
			return err
		}
		if a.VendorID != in.VendorID {
			return apperr.Precondition("assignment %s does not belong to vendor %s", a.ID, in.VendorID)
		}
		if err := tx.First(&o, "id = ?", a.OrderID).Error; err != nil {
			return err
		}
		if o.Stage != model.OrderPending {
			return apperr.Precondition("order %s is no longer PENDING", o.ID)
		}
		if a.Status != model.AssignmentPending {
			return apperr.Precondition("assignment %s already %s", a.ID, a.Status)
		}
		now := l.now()
		if now.Sub(a.CreatedAt) > l.window {
			return apperr.WindowExpired("assignment %s response window of %s has passed", a.ID, l.window)
		}

		next := model.AssignmentRejected
		if in.Action == model.ResponseAccept {
			next = model.AssignmentAccepted
		}
		// 条件更新：与过期任务或并发答复竞争时只有一方生效
		upd := tx.Model(&model.Assignment{}).
			Where("id = ? AND status = ?", a.ID, model.AssignmentPending).
			Updates(map[string]any{"status": next, "note": in.Notes, "updated_at": now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return apperr.Precondition("assignment %s is no longer PENDING", a.ID)
		}
		a.Status = next
		a.Note = in.Notes
		if next == model.AssignmentRejected {
			return nil
		}

		var existing int64
		if err := tx.Model(&model.Quote{}).Where("assignment_id = ?", a.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.Duplicate("quote already exists for assignment %s", a.ID)
		}
		fees, err := l.fees.Current(tx)
		if err != nil {
			return err
		}
		b := Derive(*in.QuotedPrice, fees)
		q := &model.Quote{
			CreatedAt:             now,
			AssignmentID:          a.ID,
			OrderID:               a.OrderID,
			VendorID:              a.VendorID,
			QuotedPrice:           *in.QuotedPrice,
			QuotedDays:            *in.QuotedDays,
			VendorPayout:          b.VendorPayout,
			PriceAfterPlatformFee: b.PriceAfterPlatformFee,
			DeliveryCharge:        b.DeliveryCharge,
			FinalPrice:            b.FinalPrice,
			Notes:                 in.Notes,
		}
		if err := tx.Create(q).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return apperr.Duplicate("quote already exists for assignment %s", a.ID)
			}
			return fmt.Errorf("create quote: %w", err)
		}
		res.Quote = q
		return nil
	})
	if err != nil {
		return RespondResult{}, err
	}

	kind := queue.KindQuoteRejected
	data := map[string]string{"assignment_id": res.Assignment.ID, "vendor_id": res.Assignment.VendorID}
	if res.Quote != nil {
		kind = queue.KindQuoteAccepted
		data["quote_id"] = res.Quote.ID
		data["final_price"] = fmt.Sprint(res.Quote.FinalPrice)
	}
	order.Notify(ctx, l.notifier, l.log, queue.NotificationMessage{
		RecipientID:   o.CustomerID,
		RecipientRole: model.RoleCustomer,
		Kind:          kind,
		OrderID:       o.ID,
		Data:          data,
	})
	l.log.WithFields(logrus.Fields{
		"assignment_id": res.Assignment.ID,
		"vendor_id":     in.VendorID,
		"action":        in.Action,
	}).Info("vendor responded")
	return res, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
