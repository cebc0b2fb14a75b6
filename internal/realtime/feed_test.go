package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	mr := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = r.Close() })
	return New(r, "t:items:changed", zap.NewNop())
}

func TestPublishReachesSubscriber(t *testing.T) {
	f := newTestFeed(t)
	ctx := context.Background()

	ch, stop, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	f.Publish(ctx)

	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}

func TestSubscribeStopClosesChannel(t *testing.T) {
	f := newTestFeed(t)
	ch, stop, err := f.Subscribe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	stop()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected notification after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after stop")
	}
}

func TestPublishWithoutSubscribersIsSafe(t *testing.T) {
	f := newTestFeed(t)
	// 没人订阅时发布不报错也不阻塞
	f.Publish(context.Background())
}

func TestNilFeedPublishIsNoop(t *testing.T) {
	var f *Feed
	f.Publish(context.Background())
}
