package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/assignment"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/outbox"
	"tailor_hub/internal/payment"
	"tailor_hub/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func body(t *testing.T, trackingID string, status model.DeliverySubStatus) []byte {
	t.Helper()
	b, err := json.Marshal(Event{DeliveryTrackingID: trackingID, Status: string(status)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// paidLeg 造一个处于 stage 的已支付订单及一条指定方向的物流腿。
func paidLeg(t *testing.T, db *gorm.DB, stage model.OrderStatus, dt model.DeliveryType) (model.Order, model.DeliveryTracking) {
	t.Helper()
	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, true)
	v := storetest.Vendor(t, db)
	o.SelectedVendorID = &v.ID
	o.Stage = stage
	o.OrderStatus = stage.Coarse()
	o.IsPaid = true
	if err := db.Save(&o).Error; err != nil {
		t.Fatalf("save order: %v", err)
	}
	leg, _, err := outbox.ScheduleLeg(db, outbox.Leg{
		OrderID:  o.ID,
		Type:     dt,
		FromType: model.PartyCustomer,
		FromID:   c.ID,
		ToType:   model.PartyVendor,
		ToID:     v.ID,
	})
	if err != nil {
		t.Fatalf("schedule leg: %v", err)
	}
	return o, leg
}

func stageOf(t *testing.T, db *gorm.DB, id string) model.OrderStatus {
	t.Helper()
	var o model.Order
	if err := db.First(&o, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return o.Stage
}

func TestTrackerRejectsInvalidEvents(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	_, leg := paidLeg(t, db, model.OrderItemPickupScheduled, model.DeliveryToVendor)
	tr := NewTracker(db, nil, nil, quietLogger(), "")

	tests := []struct {
		name string
		body []byte
		want error
	}{
		{name: "malformed", body: []byte("{"), want: apperr.ErrValidation},
		{name: "missing_id", body: []byte(`{"status":"PICKUP_ASSIGNED"}`), want: apperr.ErrValidation},
		{name: "unknown_status", body: []byte(`{"delivery_tracking_id":"` + leg.ID + `","status":"LOST"}`), want: apperr.ErrValidation},
		{name: "scheduled_is_not_pushed", body: body(t, leg.ID, model.SubScheduled), want: apperr.ErrValidation},
		{name: "delivery_on_vendor_leg", body: body(t, leg.ID, model.SubDeliveryComplete), want: apperr.ErrValidation},
		{name: "unknown_leg", body: body(t, "missing", model.SubPickupAssigned), want: apperr.ErrNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.HandleWebhook(context.Background(), tt.body, "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	var reloaded model.DeliveryTracking
	db.First(&reloaded, "id = ?", leg.ID)
	if reloaded.Status != model.SubScheduled {
		t.Fatalf("rejected events must not change the leg, got %s", reloaded.Status)
	}
}

func TestTrackerDuplicateSubStatus(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	o, leg := paidLeg(t, db, model.OrderItemPickupScheduled, model.DeliveryToVendor)
	tr := NewTracker(db, nil, nil, quietLogger(), "")
	ctx := context.Background()

	for _, sub := range []model.DeliverySubStatus{model.SubPickupAssigned, model.SubPickupComplete} {
		if _, err := tr.HandleWebhook(ctx, body(t, leg.ID, sub), ""); err != nil {
			t.Fatalf("%s: %v", sub, err)
		}
		if _, err := tr.HandleWebhook(ctx, body(t, leg.ID, sub), ""); !errors.Is(err, apperr.ErrDuplicate) {
			t.Fatalf("%s replay: expected duplicate, got %v", sub, err)
		}
	}

	if got := stageOf(t, db, o.ID); got != model.OrderItemDeliveredToVendor {
		t.Fatalf("expected ITEM_DELIVERED_TO_VENDOR, got %s", got)
	}
	var n int64
	db.Model(&model.TimelineEntry{}).Where("order_id = ? AND new_status = ?", o.ID, model.OrderItemDeliveredToVendor).Count(&n)
	if n != 1 {
		t.Fatalf("replay must not re-fire the transition, got %d entries", n)
	}

	var reloaded model.DeliveryTracking
	db.First(&reloaded, "id = ?", leg.ID)
	if reloaded.Status != model.SubPickupComplete || !reloaded.Timestamps.Stamped(model.SubPickupAssigned) {
		t.Fatalf("unexpected leg %+v", reloaded)
	}
	if reloaded.Timestamps.Stamped(model.SubPickupInTransit) {
		t.Fatalf("unsent sub-status must stay unstamped")
	}
}

func TestTrackerOutOfOrderRollsBack(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	o, leg := paidLeg(t, db, model.OrderItemReadyForPickup, model.DeliveryToCustomer)
	tr := NewTracker(db, nil, nil, quietLogger(), "")

	if _, err := tr.HandleWebhook(context.Background(), body(t, leg.ID, model.SubDeliveryComplete), ""); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("delivery before pickup must fail precondition, got %v", err)
	}
	var reloaded model.DeliveryTracking
	db.First(&reloaded, "id = ?", leg.ID)
	if reloaded.Timestamps.Stamped(model.SubDeliveryComplete) {
		t.Fatalf("stamp must roll back with the failed transition")
	}
	if got := stageOf(t, db, o.ID); got != model.OrderItemReadyForPickup {
		t.Fatalf("order must not move, got %s", got)
	}
}

func TestTrackerSignature(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	_, leg := paidLeg(t, db, model.OrderItemPickupScheduled, model.DeliveryToVendor)
	tr := NewTracker(db, nil, nil, quietLogger(), "carrier-secret")
	b := body(t, leg.ID, model.SubPickupAssigned)

	if _, err := tr.HandleWebhook(context.Background(), b, Sign(b, "wrong")); !errors.Is(err, apperr.ErrSignature) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if _, err := tr.HandleWebhook(context.Background(), b, ""); !errors.Is(err, apperr.ErrSignature) {
		t.Fatalf("expected signature error for unsigned event, got %v", err)
	}
	if _, err := tr.HandleWebhook(context.Background(), b, Sign(b, "carrier-secret")); err != nil {
		t.Fatalf("signed event: %v", err)
	}
}

type noRefund struct{}

func (noRefund) CreateOrder(context.Context, payment.CreateOrderRequest) (payment.GatewayOrder, error) {
	return payment.GatewayOrder{}, errors.New("unused")
}

func (noRefund) Refund(context.Context, payment.RefundRequest) (payment.RefundReceipt, error) {
	return payment.RefundReceipt{}, errors.New("unexpected refund")
}

func TestOrderRoundTrip(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	ctx := context.Background()
	log := quietLogger()

	c := storetest.Customer(t, db)
	orders := order.NewService(db, log, nil, nil)
	o, err := orders.Create(ctx, order.CreateInput{
		CustomerID:    c.ID,
		ServiceType:   "tailoring",
		RequiredBy:    time.Now().UTC().Add(10 * 24 * time.Hour),
		ClothProvided: true,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	vendors := storetest.Vendors(t, db, 3)
	ledger := assignment.NewLedger(db, log, nil, assignment.SettingsFees{Default: assignment.Fees{
		CommissionPercent:  decimal.NewFromInt(10),
		PlatformFeePercent: decimal.NewFromInt(5),
		DeliveryCharge:     5000,
	}}, 24*time.Hour)
	created, err := ledger.Solicit(ctx, o.ID, order.Actor{ID: c.ID, Role: model.RoleCustomer}, storetest.VendorIDs(vendors))
	if err != nil || len(created) != 3 {
		t.Fatalf("solicit: %d %v", len(created), err)
	}

	price, days := int64(20000), 5
	res, err := ledger.Respond(ctx, assignment.RespondInput{
		AssignmentID: created[1].ID,
		VendorID:     created[1].VendorID,
		Action:       model.ResponseAccept,
		QuotedPrice:  &price,
		QuotedDays:   &days,
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	quote := *res.Quote
	winner := quote.VendorID

	payload, _ := json.Marshal(map[string]any{
		"event": payment.EventCaptured,
		"payload": map[string]any{"payment": map[string]any{"entity": map[string]any{
			"id": "pay_rt", "amount": quote.FinalPrice, "currency": "INR", "status": "captured",
			"notes": map[string]string{"orderId": o.ID, "quoteId": quote.ID, "vendorId": winner, "customerId": c.ID},
		}}},
	})
	fin := payment.NewFinalizer(db, noRefund{}, nil, nil, nil, log, "pay-secret")
	if out, err := fin.HandleWebhook(ctx, payload, payment.Sign(payload, "pay-secret")); err != nil || out != payment.OutcomeFinalized {
		t.Fatalf("finalize: %s %v", out, err)
	}

	tr := NewTracker(db, nil, nil, log, "")
	drive := func(dt model.DeliveryType, subs ...model.DeliverySubStatus) {
		t.Helper()
		var leg model.DeliveryTracking
		if err := db.First(&leg, "order_id = ? AND delivery_type = ?", o.ID, dt).Error; err != nil {
			t.Fatalf("find %s leg: %v", dt, err)
		}
		for _, sub := range subs {
			if _, err := tr.HandleWebhook(ctx, body(t, leg.ID, sub), ""); err != nil {
				t.Fatalf("%s %s: %v", dt, sub, err)
			}
		}
	}

	drive(model.DeliveryToVendor, model.SubPickupAssigned, model.SubPickupInTransit, model.SubPickupComplete)
	vendor := order.Actor{ID: winner, Role: model.RoleVendor}
	if _, err := orders.Advance(ctx, o.ID, vendor, model.OrderWorkStarted, ""); err != nil {
		t.Fatalf("work started: %v", err)
	}
	if _, err := orders.Advance(ctx, o.ID, vendor, model.OrderItemReadyForPickup, ""); err != nil {
		t.Fatalf("ready for pickup: %v", err)
	}
	drive(model.DeliveryToCustomer,
		model.SubPickupAssigned, model.SubPickupComplete,
		model.SubDeliveryInTransit, model.SubDeliveryComplete)

	var final model.Order
	db.First(&final, "id = ?", o.ID)
	if final.OrderStatus != model.OrderCompleted || final.Stage != model.OrderCompleted {
		t.Fatalf("expected COMPLETED, got status=%s stage=%s", final.OrderStatus, final.Stage)
	}
	if final.StatusTimestamps.Completed == nil || final.StatusTimestamps.ItemDeliveredToCustomer == nil {
		t.Fatalf("completion timestamps missing")
	}

	var assignments []model.Assignment
	db.Where("order_id = ?", o.ID).Find(&assignments)
	frozen := 0
	for _, a := range assignments {
		switch {
		case a.VendorID == winner && a.Status != model.AssignmentCompleted:
			t.Fatalf("winner expected COMPLETED, got %s", a.Status)
		case a.VendorID != winner && a.Status == model.AssignmentFrozen:
			frozen++
		}
	}
	if frozen != 2 {
		t.Fatalf("expected 2 FROZEN assignments, got %d", frozen)
	}

	var stats model.VendorStats
	db.First(&stats, "vendor_id = ?", winner)
	if stats.TotalEarnings != quote.VendorPayout || stats.CompletedOrders != 1 || stats.InProgressOrders != 0 {
		t.Fatalf("unexpected vendor stats %+v (payout %d)", stats, quote.VendorPayout)
	}

	var payout model.Payout
	if err := db.First(&payout, "order_id = ?", o.ID).Error; err != nil {
		t.Fatalf("payout: %v", err)
	}
	if payout.Amount != quote.VendorPayout || payout.Status != model.PayoutActionRequired || payout.VendorID != winner {
		t.Fatalf("unexpected payout %+v", payout)
	}

	if _, err := tr.HandleWebhook(ctx, body(t, mustLeg(t, db, o.ID, model.DeliveryToCustomer), model.SubDeliveryComplete), ""); !errors.Is(err, apperr.ErrDuplicate) {
		t.Fatalf("terminal replay must be duplicate, got %v", err)
	}
	db.First(&stats, "vendor_id = ?", winner)
	if stats.TotalEarnings != quote.VendorPayout {
		t.Fatalf("terminal replay credited earnings twice: %d", stats.TotalEarnings)
	}
}

func mustLeg(t *testing.T, db *gorm.DB, orderID string, dt model.DeliveryType) string {
	t.Helper()
	var leg model.DeliveryTracking
	if err := db.First(&leg, "order_id = ? AND delivery_type = ?", orderID, dt).Error; err != nil {
		t.Fatalf("find leg: %v", err)
	}
	return leg.ID
}
