package assignment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var defaultFees = Fees{
	CommissionPercent:  decimal.NewFromInt(10),
	PlatformFeePercent: decimal.NewFromInt(5),
	DeliveryCharge:     5000,
}

func newLedger(db *gorm.DB) *Ledger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewLedger(db, log, nil, SettingsFees{Default: defaultFees}, 24*time.Hour)
}

func ptr[T any](v T) *T { return &v }

func TestDerive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		price int64
		fees  Fees
		want  Breakdown
	}{
		{
			name:  "round_numbers",
			price: 10000,
			fees:  defaultFees,
			want:  Breakdown{VendorPayout: 9000, PriceAfterPlatformFee: 10500, DeliveryCharge: 5000, FinalPrice: 15500},
		},
		{
			name:  "rounds_to_minor_units",
			price: 333,
			fees:  defaultFees,
			want:  Breakdown{VendorPayout: 300, PriceAfterPlatformFee: 350, DeliveryCharge: 5000, FinalPrice: 5350},
		},
		{
			name:  "fractional_percent",
			price: 20000,
			fees:  Fees{CommissionPercent: decimal.RequireFromString("12.5"), PlatformFeePercent: decimal.RequireFromString("2.25")},
			want:  Breakdown{VendorPayout: 17500, PriceAfterPlatformFee: 20450, FinalPrice: 20450},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Derive(tt.price, tt.fees); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestSolicitSlotCap(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, true)
	vendors := storetest.Vendors(t, db, 11)
	l := newLedger(db)
	ctx := context.Background()
	customer := order.Actor{ID: c.ID, Role: model.RoleCustomer}

	created, err := l.Solicit(ctx, o.ID, customer, storetest.VendorIDs(vendors[:10]))
	if err != nil {
		t.Fatalf("solicit 10: %v", err)
	}
	if len(created) != 10 {
		t.Fatalf("expected 10 assignments, got %d", len(created))
	}

	eleventh := []string{vendors[10].ID}
	if _, err := l.Solicit(ctx, o.ID, customer, eleventh); !errors.Is(err, apperr.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}

	if _, err := l.Respond(ctx, RespondInput{
		AssignmentID: created[0].ID,
		VendorID:     created[0].VendorID,
		Action:       model.ResponseReject,
		Notes:        "fully booked",
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	created, err = l.Solicit(ctx, o.ID, customer, eleventh)
	if err != nil {
		t.Fatalf("solicit after reject: %v", err)
	}
	if len(created) != 1 || created[0].VendorID != vendors[10].ID {
		t.Fatalf("unexpected assignments %+v", created)
	}

	var active int64
	db.Model(&model.Assignment{}).Where("order_id = ? AND status IN ?", o.ID, model.ActiveAssignmentStatuses).Count(&active)
	if active != MaxActiveSlots {
		t.Fatalf("expected %d active slots, got %d", MaxActiveSlots, active)
	}
}

func TestSolicitSkipsAlreadyContacted(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, true)
	vendors := storetest.Vendors(t, db, 3)
	l := newLedger(db)
	ctx := context.Background()
	customer := order.Actor{ID: c.ID, Role: model.RoleCustomer}

	if _, err := l.Solicit(ctx, o.ID, customer, storetest.VendorIDs(vendors[:2])); err != nil {
		t.Fatalf("first solicit: %v", err)
	}
	created, err := l.Solicit(ctx, o.ID, customer, storetest.VendorIDs(vendors))
	if err != nil {
		t.Fatalf("second solicit: %v", err)
	}
	if len(created) != 1 || created[0].VendorID != vendors[2].ID {
		t.Fatalf("expected only the new vendor, got %+v", created)
	}

	created, err = l.Solicit(ctx, o.ID, customer, []string{vendors[0].ID, vendors[0].ID})
	if err != nil || len(created) != 0 {
		t.Fatalf("resolicit must be a silent no-op, got %v %+v", err, created)
	}

	var n int64
	db.Model(&model.Assignment{}).Where("order_id = ?", o.ID).Count(&n)
	if n != 3 {
		t.Fatalf("expected 3 assignment rows, got %d", n)
	}
}

func TestSolicitPreconditions(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, true)
	ok := storetest.Vendor(t, db)
	unverified := storetest.Vendor(t, db, func(v *model.Vendor) { v.IsVerified = false })
	suspended := storetest.Vendor(t, db, func(v *model.Vendor) { v.Status = model.VendorSuspended })
	l := newLedger(db)
	ctx := context.Background()
	customer := order.Actor{ID: c.ID, Role: model.RoleCustomer}

	tests := []struct {
		name    string
		orderID string
		actor   order.Actor
		ids     []string
		want    error
	}{
		{name: "empty", orderID: o.ID, actor: customer, ids: nil, want: apperr.ErrValidation},
		{name: "unknown_order", orderID: "missing", actor: customer, ids: []string{ok.ID}, want: apperr.ErrNotFound},
		{name: "unknown_vendor", orderID: o.ID, actor: customer, ids: []string{"ghost"}, want: apperr.ErrNotFound},
		{name: "unverified", orderID: o.ID, actor: customer, ids: []string{ok.ID, unverified.ID}, want: apperr.ErrPrecondition},
		{name: "suspended", orderID: o.ID, actor: customer, ids: []string{suspended.ID}, want: apperr.ErrPrecondition},
		{name: "not_owner", orderID: o.ID, actor: order.Actor{ID: "x", Role: model.RoleCustomer}, ids: []string{ok.ID}, want: apperr.ErrPrecondition},
		{name: "vendor_actor", orderID: o.ID, actor: order.Actor{ID: ok.ID, Role: model.RoleVendor}, ids: []string{ok.ID}, want: apperr.ErrPrecondition},
		{name: "logistics_actor", orderID: o.ID, actor: order.Actor{ID: "carrier", Role: model.RoleLogistics}, ids: []string{ok.ID}, want: apperr.ErrPrecondition},
	}
	for _, tt := range tests {
		if _, err := l.Solicit(ctx, tt.orderID, tt.actor, tt.ids); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}

	var n int64
	db.Model(&model.Assignment{}).Count(&n)
	if n != 0 {
		t.Fatalf("failed solicitations must not create rows, got %d", n)
	}

	db.Model(&model.Order{}).Where("id = ?", o.ID).Update("required_by", time.Now().UTC().Add(-time.Hour))
	if _, err := l.Solicit(ctx, o.ID, customer, []string{ok.ID}); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("expected precondition for past required-by, got %v", err)
	}
}

func TestRespond(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, true)
	vendors := storetest.Vendors(t, db, 3)
	l := newLedger(db)
	ctx := context.Background()

	created, err := l.Solicit(ctx, o.ID, order.Actor{ID: c.ID, Role: model.RoleCustomer}, storetest.VendorIDs(vendors))
	if err != nil {
		t.Fatalf("solicit: %v", err)
	}
	a0, a1, a2 := created[0], created[1], created[2]

	if _, err := l.Respond(ctx, RespondInput{AssignmentID: a0.ID, VendorID: a0.VendorID, Action: model.ResponseAccept}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("ACCEPT without price must be a validation error, got %v", err)
	}
	if _, err := l.Respond(ctx, RespondInput{AssignmentID: a0.ID, VendorID: a1.VendorID, Action: model.ResponseReject}); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("foreign vendor must fail precondition, got %v", err)
	}

	res, err := l.Respond(ctx, RespondInput{
		AssignmentID: a0.ID,
		VendorID:     a0.VendorID,
		Action:       model.ResponseAccept,
		QuotedPrice:  ptr(int64(10000)),
		QuotedDays:   ptr(5),
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Assignment.Status != model.AssignmentAccepted || res.Quote == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Quote.FinalPrice != 15500 || res.Quote.VendorPayout != 9000 {
		t.Fatalf("unexpected quote %+v", res.Quote)
	}

	// 第二次答复失败
	if _, err := l.Respond(ctx, RespondInput{
		AssignmentID: a0.ID,
		VendorID:     a0.VendorID,
		Action:       model.ResponseAccept,
		QuotedPrice:  ptr(int64(12000)),
		QuotedDays:   ptr(5),
	}); !errors.Is(err, apperr.ErrPrecondition) {
		t.Fatalf("second response must fail precondition, got %v", err)
	}
	var quotes int64
	db.Model(&model.Quote{}).Where("assignment_id = ?", a0.ID).Count(&quotes)
	if quotes != 1 {
		t.Fatalf("expected exactly one quote, got %d", quotes)
	}

	// 费率变更只影响之后的报价
	db.Create(&model.PlatformSetting{CommissionPercent: "20", PlatformFeePercent: "10", DeliveryCharge: 0})
	res, err = l.Respond(ctx, RespondInput{
		AssignmentID: a1.ID,
		VendorID:     a1.VendorID,
		Action:       model.ResponseAccept,
		QuotedPrice:  ptr(int64(10000)),
		QuotedDays:   ptr(3),
	})
	if err != nil {
		t.Fatalf("accept a1: %v", err)
	}
	if res.Quote.VendorPayout != 8000 || res.Quote.FinalPrice != 11000 {
		t.Fatalf("new fees not applied: %+v", res.Quote)
	}
	var first model.Quote
	db.First(&first, "assignment_id = ?", a0.ID)
	if first.FinalPrice != 15500 {
		t.Fatalf("existing quote must not change, got final price %d", first.FinalPrice)
	}

	// 超过 24h 的指派被窗口拒绝
	storetest.Backdate(t, db, &model.Assignment{}, a2.ID, 25*time.Hour)
	if _, err := l.Respond(ctx, RespondInput{AssignmentID: a2.ID, VendorID: a2.VendorID, Action: model.ResponseReject}); !errors.Is(err, apperr.ErrWindowExpired) {
		t.Fatalf("expected window expired, got %v", err)
	}
}
