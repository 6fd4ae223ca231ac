package preferences

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
)

// RedisStore 将偏好保存在 Redis，多实例共享。
type RedisStore struct {
	client *goredis.Client
	prefix string
}

// NewRedisStore 创建 Redis 存储，所有键加上 prefix。
func NewRedisStore(client *goredis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get 实现 Store。
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("preferences: 读取 redis 键 %s 失败: %w", key, err)
	}
	return v, true, nil
}

// Set 实现 Store，键不过期。
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("preferences: 写入 redis 键 %s 失败: %w", key, err)
	}
	return nil
}

// Ping 检查 Redis 连接。
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭客户端。
func (r *RedisStore) Close() error {
	return r.client.Close()
}
