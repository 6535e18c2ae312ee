package watch

import (
	"sync"
)

// ============================================================================
// 订阅中心
// ============================================================================
//
// 为"观察余额"、"观察冷静期状态"这类长连接读者提供的轻量订阅机制：
//   - 订阅时立即推送一次当前快照
//   - 之后每次变更都会收到推送
//   - 显式退订后不会再有任何回调
//
// 存储层（MySQL）没有变更订阅原语，所有写路径都收敛在各 service 内，
// 由 service 在事务提交后调用 Publish，效果等价于按 key 过滤的变更流
// ============================================================================

// 订阅通道缓冲大小。消费慢时丢弃最旧的值保最新——推送的是状态快照，
// 读者只关心最终状态
const subscriptionBuffer = 16

// Hub 按 key 分发快照的订阅中心
type Hub[K comparable, V any] struct {
	mu   sync.Mutex
	subs map[K]map[*Subscription[K, V]]struct{}
}

// Subscription 一次订阅，持有接收通道
type Subscription[K comparable, V any] struct {
	hub  *Hub[K, V]
	key  K
	ch   chan V
	once sync.Once
}

func NewHub[K comparable, V any]() *Hub[K, V] {
	return &Hub[K, V]{
		subs: make(map[K]map[*Subscription[K, V]]struct{}),
	}
}

// Subscribe 注册订阅并立即推送当前快照
// 快照读取与注册之间的极小窗口由下一次变更推送自愈
func (h *Hub[K, V]) Subscribe(key K, snapshot V) *Subscription[K, V] {
	sub := &Subscription[K, V]{
		hub: h,
		key: key,
		ch:  make(chan V, subscriptionBuffer),
	}

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*Subscription[K, V]]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
	sub.push(snapshot)
	h.mu.Unlock()

	return sub
}

// Publish 向 key 的所有订阅者推送新值
func (h *Hub[K, V]) Publish(key K, v V) {
	h.mu.Lock()
	for sub := range h.subs[key] {
		sub.push(v)
	}
	h.mu.Unlock()
}

// SubscriberCount 当前 key 的订阅者数量
func (h *Hub[K, V]) SubscriberCount(key K) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

// push 非阻塞推送：缓冲满时丢最旧补最新
func (s *Subscription[K, V]) push(v V) {
	for {
		select {
		case s.ch <- v:
			return
		default:
			select {
			case <-s.ch:
				// 丢弃最旧的一条，腾出空间
			default:
			}
		}
	}
}

// C 接收通道，退订后会被关闭
func (s *Subscription[K, V]) C() <-chan V {
	return s.ch
}

// Unsubscribe 释放订阅，之后不再有任何推送
// 可安全重复调用
func (s *Subscription[K, V]) Unsubscribe() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.key)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}
