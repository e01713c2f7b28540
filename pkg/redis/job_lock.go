package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值匹配持有者时才删除，避免误删其它实例的新锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local owner = ARGV[1]
if redis.call('GET', lockKey) == owner then
  return redis.call('DEL', lockKey)
end
return 0
`

// JobLock 保证同一定时任务同一时刻只在一个实例上执行。
type JobLock struct {
	rdb   *rd.Client
	owner string
}

func NewJobLock(rdb *rd.Client) *JobLock {
	return &JobLock{rdb: rdb, owner: uuid.NewString()}
}

// Acquire 抢占任务锁，ttl 应大于单次任务最长耗时。
func (l *JobLock) Acquire(ctx context.Context, job string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, JobLockKey(job), l.owner, ttl).Result()
}

// Release 安全释放任务锁。
func (l *JobLock) Release(ctx context.Context, job string) error {
	_, err := l.rdb.Eval(ctx, luaReleaseIfMatch, []string{JobLockKey(job)}, l.owner).Int()
	return err
}
