package payment

import (
	"context"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Session 客户端拉起支付所需的信息。
type Session struct {
	GatewayOrderID string `json:"gateway_order_id"`
	OrderID        string `json:"order_id"`
	QuoteID        string `json:"quote_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// Checkout 为已接单报价在网关侧创建支付单，notes 会随 webhook 原样带回。
type Checkout struct {
	db       *gorm.DB
	gateway  Gateway
	log      *logrus.Logger
	currency string
	window   time.Duration
	now      func() time.Time
}

func NewCheckout(db *gorm.DB, gateway Gateway, log *logrus.Logger, currency string, window time.Duration) *Checkout {
	return &Checkout{
		db:       db,
		gateway:  gateway,
		log:      log,
		currency: currency,
		window:   window,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *Checkout) Start(ctx context.Context, orderID string, customer order.Actor, quoteID string) (Session, error) {
	var o model.Order
	if err := c.db.WithContext(ctx).First(&o, "id = ?", orderID).Error; err != nil {
		if store.IsNotFound(err) {
			return Session{}, apperr.NotFound("order %s not found", orderID)
		}
		return Session{}, err
	}
	if o.CustomerID != customer.ID {
		return Session{}, apperr.Precondition("order %s does not belong to customer %s", orderID, customer.ID)
	}
	if o.Stage != model.OrderPending {
		return Session{}, apperr.Precondition("order %s is %s, not PENDING", orderID, o.Stage)
	}

	var q model.Quote
	if err := c.db.WithContext(ctx).First(&q, "id = ? AND order_id = ?", quoteID, o.ID).Error; err != nil {
		if store.IsNotFound(err) {
			return Session{}, apperr.NotFound("quote %s not found for order %s", quoteID, orderID)
		}
		return Session{}, err
	}
	if q.IsProcessed {
		return Session{}, apperr.Precondition("quote %s is no longer payable", q.ID)
	}
	var a model.Assignment
	if err := c.db.WithContext(ctx).First(&a, "id = ?", q.AssignmentID).Error; err != nil {
		return Session{}, err
	}
	if a.Status != model.AssignmentAccepted {
		return Session{}, apperr.Precondition("assignment %s is %s, not ACCEPTED", a.ID, a.Status)
	}
	if c.now().Sub(q.CreatedAt) > c.window {
		return Session{}, apperr.WindowExpired("quote %s payment window of %s has passed", q.ID, c.window)
	}

	gwOrder, err := c.gateway.CreateOrder(ctx, CreateOrderRequest{
		Amount:   q.FinalPrice,
		Currency: c.currency,
		Receipt:  truncate(q.ID, 40),
		Notes: map[string]string{
			"orderId":    o.ID,
			"quoteId":    q.ID,
			"vendorId":   q.VendorID,
			"customerId": o.CustomerID,
		},
	})
	if err != nil {
		return Session{}, apperr.External(err, "payment gateway create-order failed")
	}

	c.log.WithFields(logrus.Fields{
		"order_id":         o.ID,
		"quote_id":         q.ID,
		"gateway_order_id": gwOrder.ID,
	}).Info("checkout started")
	return Session{
		GatewayOrderID: gwOrder.ID,
		OrderID:        o.ID,
		QuoteID:        q.ID,
		Amount:         q.FinalPrice,
		Currency:       c.currency,
	}, nil
}
