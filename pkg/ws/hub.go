package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageType WebSocket 控制消息类型
const (
	MsgTypeSubscribed = "subscribed" // 订阅确认
	MsgTypeError      = "error"      // 错误消息
)

// Message WebSocket 消息结构
type Message struct {
	ID    string      `json:"id,omitempty"`
	Type  string      `json:"type"`
	Topic string      `json:"topic,omitempty"`
	Data  interface{} `json:"data"`
	Time  time.Time   `json:"time"`
}

const defaultBufferSize = 256

// Subscription 一个订阅者，可同时订阅多个主题
// 投递为至多一次：缓冲区满时丢弃该条消息
type Subscription struct {
	hub    *Hub
	topics map[string]bool // 仅由 Hub.Run 协程读写
	send   chan []byte
}

// C 接收已编码的消息，Hub 停止或取消订阅后关闭
func (s *Subscription) C() <-chan []byte {
	return s.send
}

// Close 取消订阅
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

type registration struct {
	sub    *Subscription
	topics []string
}

type envelope struct {
	topic string
	data  []byte
}

// Hub 按主题分发消息的中心
type Hub struct {
	logger     *zap.Logger
	subs       map[*Subscription]bool
	topics     map[string]map[*Subscription]bool
	broadcast  chan envelope
	register   chan registration
	unregister chan *Subscription
	done       chan struct{}
	mu         sync.RWMutex
	bufferSize int
	onDrop     func()
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		subs:       make(map[*Subscription]bool),
		topics:     make(map[string]map[*Subscription]bool),
		broadcast:  make(chan envelope, 1024),
		register:   make(chan registration),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
		bufferSize: defaultBufferSize,
	}
}

// SetDropHandler 消息被丢弃时回调
func (h *Hub) SetDropHandler(fn func()) {
	h.onDrop = fn
}

// Run 运行 Hub，ctx 取消后关闭全部订阅
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for sub := range h.subs {
				h.remove(sub)
			}
			h.mu.Unlock()
			return

		case reg := <-h.register:
			h.mu.Lock()
			h.subs[reg.sub] = true
			for _, topic := range reg.topics {
				if topic == "" {
					continue
				}
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Subscription]bool)
				}
				h.topics[topic][reg.sub] = true
				reg.sub.topics[topic] = true
			}
			total := len(h.subs)
			h.mu.Unlock()
			h.logger.Debug("Subscription registered", zap.Strings("topics", reg.topics), zap.Int("total", total))

		case sub := <-h.unregister:
			h.mu.Lock()
			h.remove(sub)
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.RLock()
			for sub := range h.topics[env.topic] {
				select {
				case sub.send <- env.data:
				default:
					// 慢消费者，丢弃本条
					h.dropped(env.topic)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// remove 调用方持有写锁
func (h *Hub) remove(sub *Subscription) {
	if !h.subs[sub] {
		return
	}
	delete(h.subs, sub)
	for topic := range sub.topics {
		delete(h.topics[topic], sub)
		if len(h.topics[topic]) == 0 {
			delete(h.topics, topic)
		}
	}
	close(sub.send)
}

func (h *Hub) dropped(topic string) {
	h.logger.Debug("Dropped message for slow subscriber", zap.String("topic", topic))
	if h.onDrop != nil {
		h.onDrop()
	}
}

// Subscribe 订阅主题
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		hub:    h,
		topics: make(map[string]bool),
		send:   make(chan []byte, h.bufferSize),
	}

	select {
	case h.register <- registration{sub: sub, topics: topics}:
	case <-h.done:
		close(sub.send)
	}
	return sub
}

// Join 为已有订阅追加主题
func (h *Hub) Join(sub *Subscription, topics ...string) {
	select {
	case h.register <- registration{sub: sub, topics: topics}:
	case <-h.done:
	}
}

// Unsubscribe 取消订阅并关闭其通道
func (h *Hub) Unsubscribe(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Publish 向主题发布消息，不阻塞调用方
func (h *Hub) Publish(topic string, msg Message) {
	msg.Topic = topic
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.String("topic", topic), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- envelope{topic: topic, data: data}:
	default:
		h.dropped(topic)
	}
}

// ClientCount 获取订阅者数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
