package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock 跨实例互斥, 用于交易去重和定时任务
type DistributedLock interface {
	// Acquire 尝试获取锁, 已被占用时返回 (false, nil)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放本实例持有的锁
	Release(ctx context.Context, key string) error
}

// releaseScript 只删除自己写入的值, 避免锁过期后误删别人的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock 基于 Redis SET NX 的实现
type RedisLock struct {
	client *redis.Client
	tokens sync.Map // key -> token
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.tokens.Store(key, token)
	return true, nil
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	token, ok := l.tokens.LoadAndDelete(key)
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{"lock:" + key}, token).Err()
}
