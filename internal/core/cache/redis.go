package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache 薄封装：统一 key 前缀 + 回源防击穿。底层 client 通过 R 暴露，
// 会话 / 集合 / 发布订阅这类非缓存用法直接用 R
type Cache struct {
	R      *redis.Client
	Prefix string
	sf     singleflight.Group
}

func New(addr, password string, db int, prefix string) *Cache {
	r := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Cache{R: r, Prefix: prefix}
}

func NewFromClient(r *redis.Client, prefix string) *Cache {
	return &Cache{R: r, Prefix: prefix}
}

func (c *Cache) Key(parts ...string) string {
	k := c.Prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// GetOrLoad 读缓存，miss 时经 singleflight 回源并写回。
// load 返回的字符串为空也照样缓存（空值短 TTL 由调用方决定）
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (string, error)) (string, error) {
	val, err := c.R.Get(ctx, key).Result()
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", err
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// 双检：并发的第一个回源者写回后，后来者直接读到
		if val, err := c.R.Get(ctx, key).Result(); err == nil {
			return val, nil
		}
		s, err := load(ctx)
		if err != nil {
			return "", err
		}
		if err := c.R.Set(ctx, key, s, ttl).Err(); err != nil {
			return "", err
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.R.Del(ctx, keys...).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.R.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.R.Close()
}
