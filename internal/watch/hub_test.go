package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan int64) int64 {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("等待推送超时")
		return 0
	}
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	hub := NewHub[string, int64]()

	sub := hub.Subscribe("k", 42)
	defer sub.Unsubscribe()

	assert.Equal(t, int64(42), recv(t, sub.C()))
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub[string, int64]()

	sub1 := hub.Subscribe("k", 0)
	sub2 := hub.Subscribe("k", 0)
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	recv(t, sub1.C())
	recv(t, sub2.C())

	hub.Publish("k", 7)
	assert.Equal(t, int64(7), recv(t, sub1.C()))
	assert.Equal(t, int64(7), recv(t, sub2.C()))

	// 不同 key 互不影响
	hub.Publish("other", 99)
	select {
	case v := <-sub1.C():
		t.Fatalf("不应收到其他 key 的推送: %d", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub[string, int64]()

	sub := hub.Subscribe("k", 0)
	recv(t, sub.C())

	sub.Unsubscribe()
	assert.Equal(t, 0, hub.SubscriberCount("k"))

	// 退订后通道关闭，不会再有推送
	hub.Publish("k", 1)
	v, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, int64(0), v)

	// 重复退订安全
	sub.Unsubscribe()
}

func TestSlowConsumerKeepsLatest(t *testing.T) {
	hub := NewHub[string, int64]()

	sub := hub.Subscribe("k", 0)
	defer sub.Unsubscribe()

	// 远超缓冲的推送量：最旧的被丢弃，最新值必须还在
	const total = 100
	for i := int64(1); i <= total; i++ {
		hub.Publish("k", i)
	}

	var last int64
	for {
		select {
		case v := <-sub.C():
			last = v
			continue
		default:
		}
		break
	}
	require.Equal(t, int64(total), last)
}
