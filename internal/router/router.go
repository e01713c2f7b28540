package router

import (
	"net/http"
	"time"

	"tailor_hub/internal/apperr"
	"tailor_hub/internal/assignment"
	"tailor_hub/internal/delivery"
	"tailor_hub/internal/middleware"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/outbox"
	"tailor_hub/internal/payment"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	roleHeader       = "X-User-Role"
	adminTokenHeader = "X-Admin-Token"
	actorKey         = "actor"
)

// Deps HTTP 层依赖的服务。Limiter 为空时不限流。
type Deps struct {
	Orders     *order.Service
	Ledger     *assignment.Ledger
	Checkout   *payment.Checkout
	Finalizer  *payment.Finalizer
	Refunder   *payment.Refunder
	Tracker    *delivery.Tracker
	Dispatcher *outbox.Dispatcher
	Limiter    gin.HandlerFunc
	AdminToken string
	Log        *logrus.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.Use(middleware.Logging(d.Log))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// webhook 由签名鉴权，不走身份头与限流
	hooks := r.Group("/api/webhooks")
	hooks.POST("/payment", paymentWebhook(d.Finalizer, d.Log))
	hooks.POST("/delivery", deliveryWebhook(d.Tracker, d.Log))

	api := r.Group("/api", requireActor(d.AdminToken, d.Log))
	if d.Limiter != nil {
		api.Use(d.Limiter)
	}
	api.POST("/orders", createOrder(d.Orders, d.Log))
	api.GET("/orders/:id", getOrder(d.Orders, d.Log))
	api.GET("/orders/:id/status", getOrderStatus(d.Orders, d.Log))
	api.POST("/orders/:id/cancel", cancelOrder(d.Orders, d.Log))
	api.POST("/orders/:id/vendors", solicitVendors(d.Ledger, d.Log))
	api.POST("/orders/:id/checkout", startCheckout(d.Checkout, d.Log))
	api.POST("/orders/:id/stage", advanceStage(d.Orders, d.Log))
	api.POST("/assignments/:id/respond", respond(d.Ledger, d.Log))

	admin := r.Group("/api/admin", requireAdmin(d.AdminToken, d.Log))
	admin.POST("/outbox/:id/requeue", requeueOutbox(d.Dispatcher, d.Log))
	admin.POST("/orders/:id/refund", refundOrder(d.Refunder, d.Log))
}

// renderError 按错误分类输出统一错误体。
func renderError(c *gin.Context, log *logrus.Logger, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	entry := log.WithFields(logrus.Fields{
		"path": c.Request.URL.Path,
		"kind": kind,
	}).WithError(err)
	switch {
	case kind == apperr.KindDuplicate:
		entry.Info("request rejected")
	case status >= http.StatusInternalServerError:
		entry.Error("request failed")
	default:
		entry.Warn("request rejected")
	}
	c.JSON(status, gin.H{"code": status, "kind": kind, "msg": apperr.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "kind": apperr.KindValidation, "msg": msg})
}

// requireActor 从上游注入的身份头解析调用方；自称 admin 必须同时带管理员令牌。
func requireActor(adminToken string, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(middleware.UserIDHeader)
		role, err := model.ParseActorRole(c.GetHeader(roleHeader))
		if id == "" || err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": http.StatusUnauthorized,
				"kind": "unauthenticated",
				"msg":  "X-User-ID and a valid X-User-Role are required",
			})
			return
		}
		if role == model.RoleAdmin && !adminTokenOK(c, adminToken) {
			log.WithField("user_id", id).Warn("admin role claimed without token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "kind": "unauthenticated", "msg": "admin token invalid"})
			return
		}
		c.Set(actorKey, order.Actor{ID: id, Role: role})
		c.Next()
	}
}

func requireAdmin(adminToken string, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !adminTokenOK(c, adminToken) {
			log.WithField("path", c.Request.URL.Path).Warn("admin token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "kind": "unauthenticated", "msg": "admin token invalid"})
			return
		}
		id := c.GetHeader(middleware.UserIDHeader)
		if id == "" {
			id = "admin"
		}
		c.Set(actorKey, order.Actor{ID: id, Role: model.RoleAdmin})
		c.Next()
	}
}

func adminTokenOK(c *gin.Context, token string) bool {
	return token != "" && c.GetHeader(adminTokenHeader) == token
}

func actorOf(c *gin.Context) order.Actor {
	return c.MustGet(actorKey).(order.Actor)
}

// createOrder 客户下单。
func createOrder(svc *order.Service, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorOf(c)
		if actor.Role != model.RoleCustomer {
			renderError(c, log, apperr.Precondition("only customers can create orders"))
			return
		}
		var req struct {
			ServiceType   string    `json:"service_type" binding:"required"`
			RequiredBy    time.Time `json:"required_by" binding:"required"`
			ClothProvided bool      `json:"cloth_provided"`
			PickupAddress string    `json:"pickup_address" binding:"max=255"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		o, err := svc.Create(c.Request.Context(), order.CreateInput{
			CustomerID:    actor.ID,
			ServiceType:   req.ServiceType,
			RequiredBy:    req.RequiredBy,
			ClothProvided: req.ClothProvided,
			PickupAddress: req.PickupAddress,
		})
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"code": 0, "data": o})
	}
}

// getOrder 订单详情与时间线；客户只能看自己的订单。
func getOrder(svc *order.Service, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			renderError(c, log, err)
			return
		}
		if actor := actorOf(c); actor.Role == model.RoleCustomer && d.Order.CustomerID != actor.ID {
			renderError(c, log, apperr.NotFound("order %s not found", c.Param("id")))
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": d})
	}
}

// getOrderStatus 与详情一致，客户只能查自己的订单。
func getOrderStatus(svc *order.Service, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			renderError(c, log, err)
			return
		}
		if actor := actorOf(c); actor.Role == model.RoleCustomer && st.CustomerID != actor.ID {
			renderError(c, log, apperr.NotFound("order %s not found", c.Param("id")))
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": st})
	}
}

func cancelOrder(svc *order.Service, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason" binding:"max=500"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		o, err := svc.Cancel(c.Request.Context(), c.Param("id"), actorOf(c), req.Reason)
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

// solicitVendors 向一批供应商发出邀请，受 10 个名额上限约束。
func solicitVendors(l *assignment.Ledger, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VendorIDs []string `json:"vendor_ids" binding:"required,min=1,dive,required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		created, err := l.Solicit(c.Request.Context(), c.Param("id"), actorOf(c), req.VendorIDs)
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"created": created}})
	}
}

// respond 供应商接单（带报价）或拒单。
func respond(l *assignment.Ledger, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorOf(c)
		if actor.Role != model.RoleVendor {
			renderError(c, log, apperr.Precondition("only vendors can respond to assignments"))
			return
		}
		var req struct {
			Action      string `json:"action" binding:"required"`
			QuotedPrice *int64 `json:"quoted_price"`
			QuotedDays  *int   `json:"quoted_days"`
			Notes       string `json:"notes" binding:"max=500"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		action, err := model.ParseVendorResponse(req.Action)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := l.Respond(c.Request.Context(), assignment.RespondInput{
			AssignmentID: c.Param("id"),
			VendorID:     actor.ID,
			Action:       action,
			QuotedPrice:  req.QuotedPrice,
			QuotedDays:   req.QuotedDays,
			Notes:        req.Notes,
		})
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": res})
	}
}

func startCheckout(co *payment.Checkout, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorOf(c)
		if actor.Role != model.RoleCustomer {
			renderError(c, log, apperr.Precondition("only customers can pay for orders"))
			return
		}
		var req struct {
			QuoteID string `json:"quote_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		s, err := co.Start(c.Request.Context(), c.Param("id"), actor, req.QuoteID)
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": s})
	}
}

// advanceStage 被选中的供应商推进作业阶段。
func advanceStage(svc *order.Service, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Stage string `json:"stage" binding:"required"`
			Note  string `json:"note" binding:"max=500"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		to, err := model.ParseOrderStatus(req.Stage)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		o, err := svc.Advance(c.Request.Context(), c.Param("id"), actorOf(c), to, req.Note)
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": o})
	}
}

// requeueOutbox 人工把 FAILED outbox 行放回 PENDING。
func requeueOutbox(d *outbox.Dispatcher, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := d.Requeue(c.Request.Context(), c.Param("id")); err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "requeued"})
	}
}

func refundOrder(r *payment.Refunder, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Reason string `json:"reason" binding:"max=500"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		refund, err := r.RefundOrder(c.Request.Context(), c.Param("id"), actorOf(c), req.Reason)
		if err != nil {
			renderError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": refund})
	}
}
