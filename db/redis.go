package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"spot2yoto/config"
)

// 仅当 value 仍是自己的 token 时才删除，避免误删别人续上的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ConnectRedis 初始化 Redis 连接
func ConnectRedis(ctx context.Context, cfg config.StateConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisLock 以 SET NX 实现的运行锁，用于共享 mysql 状态库的多台主机
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireRedisLock 获取锁，ttl 兜底进程崩溃后锁不释放的情况
func AcquireRedisLock(ctx context.Context, cfg config.StateConfig, key string, ttl time.Duration) (*RedisLock, error) {
	client, err := ConnectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return acquireWithClient(ctx, client, key, ttl)
}

func acquireWithClient(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*RedisLock, error) {
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set redis lock: %w", err)
	}
	if !ok {
		client.Close()
		return nil, ErrStoreLocked
	}
	return &RedisLock{client: client, key: key, token: token}, nil
}

// Release 释放锁并关闭连接
func (l *RedisLock) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	defer l.client.Close()
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release redis lock: %w", err)
	}
	return nil
}
