package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tailor_hub/internal/assignment"
	"tailor_hub/internal/delivery"
	"tailor_hub/internal/order"
	"tailor_hub/internal/outbox"
	"tailor_hub/internal/payment"
	"tailor_hub/internal/store/storetest"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const adminToken = "test-admin"

func newEngine(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := storetest.New(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	r := gin.New()
	Setup(r, Deps{
		Orders:     order.NewService(db, log, nil, nil),
		Ledger:     assignment.NewLedger(db, log, nil, assignment.SettingsFees{}, 24*time.Hour),
		Checkout:   payment.NewCheckout(db, nil, log, "INR", 24*time.Hour),
		Finalizer:  payment.NewFinalizer(db, nil, nil, nil, nil, log, "pay-secret"),
		Refunder:   payment.NewRefunder(db, nil, nil, nil, log),
		Tracker:    delivery.NewTracker(db, nil, nil, log, "carrier-secret"),
		Dispatcher: outbox.NewDispatcher(db, nil, log, 10),
		AdminToken: adminToken,
		Log:        log,
	})
	return r, db
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func do(r *gin.Engine, c call) *httptest.ResponseRecorder {
	var rd io.Reader
	switch b := c.body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func as(id, role string) map[string]string {
	return map[string]string{"X-User-ID": id, "X-User-Role": role}
}

type envelope struct {
	Code int             `json:"code"`
	Kind string          `json:"kind"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return e
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	r, db := newEngine(t)
	customer := storetest.Customer(t, db)
	future := time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name     string
		call     call
		wantCode int
		wantKind string
	}{
		{name: "ping", call: call{method: http.MethodGet, path: "/ping"}, wantCode: http.StatusOK},
		{name: "metrics", call: call{method: http.MethodGet, path: "/metrics"}, wantCode: http.StatusOK},
		{
			name:     "missing_identity",
			call:     call{method: http.MethodGet, path: "/api/orders/x"},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "admin_role_without_token",
			call:     call{method: http.MethodGet, path: "/api/orders/x", headers: as("a1", "admin")},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "unknown_order",
			call:     call{method: http.MethodGet, path: "/api/orders/missing", headers: as(customer.ID, "customer")},
			wantCode: http.StatusNotFound,
			wantKind: "not_found",
		},
		{
			name: "vendor_cannot_create_order",
			call: call{method: http.MethodPost, path: "/api/orders", headers: as("v1", "vendor"),
				body: map[string]any{"service_type": "hemming", "required_by": future}},
			wantCode: http.StatusConflict,
			wantKind: "precondition",
		},
		{
			name: "create_order_missing_fields",
			call: call{method: http.MethodPost, path: "/api/orders", headers: as(customer.ID, "customer"),
				body: map[string]any{"cloth_provided": true}},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name: "respond_bad_action",
			call: call{method: http.MethodPost, path: "/api/assignments/a1/respond", headers: as("v1", "vendor"),
				body: map[string]any{"action": "MAYBE"}},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name: "stage_unknown",
			call: call{method: http.MethodPost, path: "/api/orders/x/stage", headers: as("v1", "vendor"),
				body: map[string]any{"stage": "SEWING"}},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name: "payment_webhook_unsigned",
			call: call{method: http.MethodPost, path: "/api/webhooks/payment",
				body: []byte(`{"event":"payment.captured"}`)},
			wantCode: http.StatusUnauthorized,
			wantKind: "signature",
		},
		{
			name: "delivery_webhook_bad_signature",
			call: call{method: http.MethodPost, path: "/api/webhooks/delivery",
				body:    []byte(`{"delivery_tracking_id":"d1","status":"PICKUP_ASSIGNED"}`),
				headers: map[string]string{delivery.SignatureHeader: "00ff"}},
			wantCode: http.StatusUnauthorized,
			wantKind: "signature",
		},
		{
			name:     "requeue_without_token",
			call:     call{method: http.MethodPost, path: "/api/admin/outbox/o1/requeue"},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "requeue_unknown_row",
			call: call{method: http.MethodPost, path: "/api/admin/outbox/o1/requeue",
				headers: map[string]string{"X-Admin-Token": adminToken}},
			wantCode: http.StatusNotFound,
			wantKind: "not_found",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.call)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if tt.wantKind != "" {
				if got := decode(t, w).Kind; got != tt.wantKind {
					t.Fatalf("expected kind %s, got %s", tt.wantKind, got)
				}
			}
		})
	}
}

func TestCreateAndReadOrder(t *testing.T) {
	t.Parallel()

	r, db := newEngine(t)
	customer := storetest.Customer(t, db)
	other := storetest.Customer(t, db)

	w := do(r, call{
		method:  http.MethodPost,
		path:    "/api/orders",
		headers: as(customer.ID, "customer"),
		body: map[string]any{
			"service_type":   "alteration",
			"required_by":    time.Now().UTC().Add(96 * time.Hour).Format(time.RFC3339),
			"cloth_provided": true,
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID          string `json:"id"`
		OrderStatus string `json:"order_status"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &created); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if created.ID == "" || created.OrderStatus != "PENDING" {
		t.Fatalf("unexpected order %+v", created)
	}

	w = do(r, call{method: http.MethodGet, path: "/api/orders/" + created.ID, headers: as(customer.ID, "customer")})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var detail struct {
		Timeline []struct {
			NewStatus string `json:"new_status"`
		} `json:"timeline"`
	}
	if err := json.Unmarshal(decode(t, w).Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Timeline) != 1 || detail.Timeline[0].NewStatus != "PENDING" {
		t.Fatalf("unexpected timeline %+v", detail.Timeline)
	}

	w = do(r, call{method: http.MethodGet, path: "/api/orders/" + created.ID, headers: as(other.ID, "customer")})
	if w.Code != http.StatusNotFound {
		t.Fatalf("other customer must not see the order, got %d", w.Code)
	}

	w = do(r, call{method: http.MethodGet, path: "/api/orders/" + created.ID + "/status", headers: as(customer.ID, "customer")})
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}

	w = do(r, call{method: http.MethodGet, path: "/api/orders/" + created.ID + "/status", headers: as(other.ID, "customer")})
	if w.Code != http.StatusNotFound {
		t.Fatalf("other customer must not see the status, got %d", w.Code)
	}
	w = do(r, call{method: http.MethodGet, path: "/api/orders/" + created.ID + "/status", headers: as("v1", "vendor")})
	if w.Code != http.StatusOK {
		t.Fatalf("vendor status: expected 200, got %d", w.Code)
	}

	w = do(r, call{method: http.MethodPost, path: "/api/orders/" + created.ID + "/cancel", headers: as(customer.ID, "customer")})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(r, call{method: http.MethodPost, path: "/api/orders/" + created.ID + "/cancel", headers: as(customer.ID, "customer")})
	if w.Code != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", w.Code)
	}
}
