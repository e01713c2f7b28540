package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaAcquireOnce SETNX + EXPIRE，拿到即持有一段退款租约。
const luaAcquireOnce = `
local lockKey = KEYS[1]
local ttlSec = tonumber(ARGV[1])

if redis.call('SETNX', lockKey, '1') == 1 then
  redis.call('EXPIRE', lockKey, ttlSec)
  return 1
end
return 0
`

// RefundGuard 并发 webhook 同时进入补偿时，只放行第一个。
// 租约有时限：持有者在落退款行前崩溃，过期后重投可以继续；至多一次由 refunds 表的唯一索引保证。
type RefundGuard struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewRefundGuard(rdb *rd.Client) *RefundGuard {
	return &RefundGuard{rdb: rdb, ttl: 10 * time.Minute}
}

// AcquireOnce 租约空闲时返回 true；租约内的重复调用返回 false。
func (g *RefundGuard) AcquireOnce(ctx context.Context, paymentID string) (bool, error) {
	ttlSeconds := int64(g.ttl / time.Second)
	n, err := g.rdb.Eval(ctx, luaAcquireOnce, []string{RefundOnceKey(paymentID)}, ttlSeconds).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
