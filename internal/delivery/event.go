package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/model"
)

// SignatureHeader 承运商在该请求头携带 body 的 HMAC-SHA256 签名。
const SignatureHeader = "X-Carrier-Signature"

// Event 承运商 webhook。
type Event struct {
	DeliveryTrackingID string `json:"delivery_tracking_id"`
	Status             string `json:"status"`
}

// ParseEvent 解析并校验子状态。
func ParseEvent(body []byte) (Event, model.DeliverySubStatus, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, "", apperr.Validation("malformed webhook body: %v", err)
	}
	if ev.DeliveryTrackingID == "" {
		return Event{}, "", apperr.Validation("delivery_tracking_id is required")
	}
	sub, err := model.ParseDeliverySubStatus(ev.Status)
	if err != nil {
		return Event{}, "", apperr.Validation("%v", err)
	}
	return ev, sub, nil
}

func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(body []byte, signature, secret string) error {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return apperr.Signature("malformed carrier signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.Signature("carrier signature mismatch")
	}
	return nil
}
