package items

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunRetentionSweep 周期清理过保留期的记录：启动先清一次，之后按 interval 走。
// 只在管理进程里跑，避免每个 API 实例都抢着删
func (c *Cache) RunRetentionSweep(ctx context.Context, retention, interval time.Duration) {
	c.sweep(ctx, retention)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sweep(ctx, retention)
		}
	}
}

func (c *Cache) sweep(ctx context.Context, retention time.Duration) {
	// 单轮限时，清不完也不许拖住下一轮
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := c.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		c.log.Error("retention sweep", zap.Error(err))
		return
	}
	if n > 0 {
		c.log.Info("retention sweep removed stale items", zap.Int64("count", n))
		if err := c.Reload(ctx); err != nil {
			c.log.Warn("reload after sweep", zap.Error(err))
		}
	}
}
