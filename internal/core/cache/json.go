package cache

import (
	"context"
	"encoding/json"
	"time"
)

// GetOrLoadJSON 在 GetOrLoad 之上做 JSON 编解码，load 返回结构体即可
func GetOrLoadJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	s, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) (string, error) {
		v, err := load(ctx)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return zero, err
	}
	return out, nil
}
