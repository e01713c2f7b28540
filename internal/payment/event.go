package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"tailor_hub/internal/apperr"
)

// SignatureHeader 网关在该请求头携带 body 的 HMAC-SHA256 十六进制签名。
const SignatureHeader = "X-Razorpay-Signature"

const (
	EventCaptured = "payment.captured"
	EventFailed   = "payment.failed"
)

// Event 网关 webhook 的外层结构。
type Event struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity Entity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// Entity 支付实体，金额为最小货币单位。
type Entity struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorDescription string `json:"error_description"`
	Notes            Notes  `json:"notes"`
}

// Notes 下单时写入、随 webhook 原样带回的关联信息。
type Notes struct {
	OrderID    string `json:"orderId"`
	QuoteID    string `json:"quoteId"`
	VendorID   string `json:"vendorId"`
	CustomerID string `json:"customerId"`
}

// Sign 计算 body 签名，测试与回放工具共用。
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 常量时间比较签名。
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return apperr.Signature("webhook secret not configured")
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return apperr.Signature("malformed signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.Signature("signature mismatch")
	}
	return nil
}

// ParseEvent 解析 webhook body。
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, apperr.Validation("malformed webhook body: %v", err)
	}
	if ev.Event == "" {
		return Event{}, apperr.Validation("event is required")
	}
	if ev.Payload.Payment.Entity.ID == "" {
		return Event{}, apperr.Validation("payment id is required")
	}
	return ev, nil
}
