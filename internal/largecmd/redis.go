package largecmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/oriys/nimbus-cargo/internal/config"
	"github.com/oriys/nimbus-cargo/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MetaLargeCommandKey 是转发信封中指向 Redis 键的 meta 字段
const MetaLargeCommandKey = "largeCommandKey"

// RedisUploader 把载荷写入 Redis，键为 <prefix><series>:<sequence>，带过期时间。
// 同一 series 的多个终结信封各自占用一个键，互不覆盖。
type RedisUploader struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisUploader 使用已有客户端创建上传器。
func NewRedisUploader(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisUploader {
	if prefix == "" {
		prefix = "cargo:large:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisUploader{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient 根据配置创建 Redis 客户端。
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Key 返回某个信封的存储键。
func (u *RedisUploader) Key(series string, sequence int64) string {
	return u.prefix + series + ":" + strconv.FormatInt(sequence, 10)
}

// Upload 写入载荷并返回存储键。
func (u *RedisUploader) Upload(ctx context.Context, ev *domain.ProcessEvent, payload []byte) (map[string]any, error) {
	key := u.Key(ev.Series(), ev.Sequence())
	if err := u.client.Set(ctx, key, payload, u.ttl).Err(); err != nil {
		return nil, fmt.Errorf("redis set %s: %w", key, err)
	}
	return map[string]any{MetaLargeCommandKey: key}, nil
}
