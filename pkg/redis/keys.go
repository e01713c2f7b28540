package redis

import "fmt"

// RefundOnceKey 某个网关支付号的退款租约。
func RefundOnceKey(paymentID string) string {
	return fmt.Sprintf("tailor_hub:refund:once:%s", paymentID)
}

// JobLockKey 定时任务的跨实例互斥锁。
func JobLockKey(job string) string {
	return fmt.Sprintf("tailor_hub:job:lock:%s", job)
}

// OrderStatusKey 订单状态快速查询缓存。
func OrderStatusKey(orderID string) string {
	return fmt.Sprintf("tailor_hub:order:status:%s", orderID)
}

// RateLimitKey 限流窗口，scope 为 user 或 ip。
func RateLimitKey(scope, id string) string {
	return fmt.Sprintf("tailor_hub:rate_limit:%s:%s", scope, id)
}
