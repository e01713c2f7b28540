package router

import (
	"io"
	"net/http"

	"tailor_hub/internal/delivery"
	"tailor_hub/internal/payment"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// rawBody 验签需要原始字节，不能先走 JSON 绑定。
func rawBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return nil, false
	}
	return body, true
}

// paymentWebhook 网关回调。非 2xx 会触发网关重试；重复投递按幂等确认返回 200。
func paymentWebhook(f *payment.Finalizer, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := rawBody(c)
		if !ok {
			return
		}
		out, err := f.HandleWebhook(c.Request.Context(), body, c.GetHeader(payment.SignatureHeader))
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"outcome": out}})
	}
}

// deliveryWebhook 承运商回调；重复子状态返回 409。
func deliveryWebhook(t *delivery.Tracker, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := rawBody(c)
		if !ok {
			return
		}
		leg, err := t.HandleWebhook(c.Request.Context(), body, c.GetHeader(delivery.SignatureHeader))
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"delivery_tracking_id": leg.ID,
			"status":               leg.Status,
		}})
	}
}
