package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Gateway 支付网关出站接口。
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error)
	Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error)
}

type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type RefundRequest struct {
	PaymentID string            `json:"-"`
	Amount    int64             `json:"amount"`
	Speed     string            `json:"speed"`
	Notes     map[string]string `json:"notes"`
}

type RefundReceipt struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// HTTPGateway 基于 Basic Auth 的 JSON REST 网关客户端。
type HTTPGateway struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPGateway(baseURL, keyID, keySecret string, logger *logrus.Logger) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (g *HTTPGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	var out GatewayOrder
	if err := g.post(ctx, "/orders", req, &out); err != nil {
		return GatewayOrder{}, err
	}
	g.logger.WithFields(logrus.Fields{"gateway_order_id": out.ID, "receipt": req.Receipt}).Info("gateway order created")
	return out, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error) {
	var out RefundReceipt
	if err := g.post(ctx, "/payments/"+req.PaymentID+"/refund", req, &out); err != nil {
		return RefundReceipt{}, err
	}
	g.logger.WithFields(logrus.Fields{"payment_id": req.PaymentID, "refund_id": out.ID}).Info("gateway refund issued")
	return out, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned error status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
