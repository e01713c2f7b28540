package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// OrderStatus 缓存中的订单状态快照。
type OrderStatus struct {
	OrderID     string
	CustomerID  string `json:"-"`
	OrderStatus string
	Stage       string
	IsPaid      bool
}

// OrderStatusCache 短 TTL 的订单状态缓存；过期前可能落后于数据库。
type OrderStatusCache struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewOrderStatusCache(rdb *rd.Client, ttl time.Duration) *OrderStatusCache {
	return &OrderStatusCache{rdb: rdb, ttl: ttl}
}

// Get 查询缓存。found=false 表示 key 不存在。
func (c *OrderStatusCache) Get(ctx context.Context, orderID string) (OrderStatus, bool, error) {
	m, err := c.rdb.HGetAll(ctx, OrderStatusKey(orderID)).Result()
	if err != nil {
		return OrderStatus{}, false, err
	}
	if len(m) == 0 {
		return OrderStatus{}, false, nil
	}
	return OrderStatus{
		OrderID:     orderID,
		CustomerID:  m["customer_id"],
		OrderStatus: m["order_status"],
		Stage:       m["stage"],
		IsPaid:      m["is_paid"] == "1",
	}, true, nil
}

// Put 写入快照并刷新 TTL。
func (c *OrderStatusCache) Put(ctx context.Context, s OrderStatus) error {
	key := OrderStatusKey(s.OrderID)
	paid := "0"
	if s.IsPaid {
		paid = "1"
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", s.OrderID,
		"customer_id", s.CustomerID,
		"order_status", s.OrderStatus,
		"stage", s.Stage,
		"is_paid", paid,
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate 删除快照，状态变更后调用。
func (c *OrderStatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, OrderStatusKey(orderID)).Err()
}
