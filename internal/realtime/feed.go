package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Feed 无负载变更通知。发布方只广播「有变化」，不带行数据，
// 订阅方收到后自行全量重载。多实例共用一个 channel
type Feed struct {
	r       *redis.Client
	channel string
	log     *zap.Logger
}

func New(r *redis.Client, channel string, log *zap.Logger) *Feed {
	return &Feed{r: r, channel: channel, log: log}
}

// Publish 尽力而为：通知丢了也不影响写路径，失败只记日志
func (f *Feed) Publish(ctx context.Context) {
	if f == nil {
		return
	}
	if err := f.r.Publish(ctx, f.channel, "changed").Err(); err != nil {
		f.log.Warn("publish change notification", zap.String("channel", f.channel), zap.Error(err))
	}
}

// Subscribe 返回合并后的通知通道和取消函数。连续多条通知会合并成一条，
// 反正订阅方的反应都是全量重载。取消后通道会关闭
func (f *Feed) Subscribe(ctx context.Context) (<-chan struct{}, func(), error) {
	ps := f.r.Subscribe(ctx, f.channel)
	// 确认订阅建立成功再返回，避免丢掉紧跟着的第一条通知
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for range ps.Channel() {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	stop := func() { _ = ps.Close() }
	return out, stop, nil
}
