package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tailor_hub/internal/model"

	"github.com/sirupsen/logrus"
)

// ErrCarrierNotConfigured 未配置物流 API 地址时每次投递都失败，行会进入 FAILED 等待人工处理。
var ErrCarrierNotConfigured = errors.New("carrier api not configured")

// Carrier 外部物流下单接口，要求按 DeliveryTrackingID 幂等。
type Carrier interface {
	Dispatch(ctx context.Context, event model.OutboxEventType, payload model.DispatchPayload) error
}

// HTTPCarrier 以 JSON POST 调用物流 API。
type HTTPCarrier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPCarrier(baseURL, apiKey string, logger *logrus.Logger) *HTTPCarrier {
	return &HTTPCarrier{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (c *HTTPCarrier) Dispatch(ctx context.Context, event model.OutboxEventType, payload model.DispatchPayload) error {
	if c.baseURL == "" {
		return ErrCarrierNotConfigured
	}

	path := "/pickups"
	if event == model.EventDispatchDelivery {
		path = "/deliveries"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.DeliveryTrackingID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to carrier: %w", err)
	}
	defer resp.Body.Close()

	// 409 表示该 tracking id 已下过单
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("carrier returned error status: %d", resp.StatusCode)
	}

	c.logger.WithFields(logrus.Fields{
		"delivery_tracking_id": payload.DeliveryTrackingID,
		"event":                event,
		"status":               resp.StatusCode,
	}).Info("carrier dispatch accepted")
	return nil
}
