package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/metrics"
	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/pkg/ws"
)

// Broadcaster 事件发布与订阅
type Broadcaster interface {
	Publish(topic string, event models.Event)
	Subscribe(topics ...string) *ws.Subscription
}

// Sink 外部事件出口（消息队列等），发送失败只记录不重试
type Sink interface {
	Name() string
	Send(ctx context.Context, topic string, body []byte) error
	Close() error
}

var _ Broadcaster = (*Fanout)(nil)

// Fanout 把事件同时发给进程内 Hub 和外部出口
type Fanout struct {
	hub     *ws.Hub
	sinks   []Sink
	logger  *zap.Logger
	metrics *metrics.Collector
	timeout time.Duration
}

// NewFanout 创建 Fanout，sinks 可为空
func NewFanout(hub *ws.Hub, logger *zap.Logger, m *metrics.Collector, sinks ...Sink) *Fanout {
	return &Fanout{
		hub:     hub,
		sinks:   sinks,
		logger:  logger,
		metrics: m,
		timeout: 500 * time.Millisecond,
	}
}

// Publish 不阻塞调用方，也不返回错误
func (f *Fanout) Publish(topic string, event models.Event) {
	event.Topic = topic
	msg := toMessage(event)
	f.hub.Publish(topic, msg)

	if len(f.sinks) == 0 {
		return
	}

	body, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("Failed to marshal event", zap.String("topic", topic), zap.Error(err))
		return
	}

	for _, sink := range f.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		if err := sink.Send(ctx, topic, body); err != nil {
			f.logger.Warn("Failed to forward event",
				zap.String("sink", sink.Name()),
				zap.String("topic", topic),
				zap.String("type", string(event.Type)),
				zap.Error(err),
			)
			f.metrics.SinkError(sink.Name())
		}
		cancel()
	}
}

func (f *Fanout) Subscribe(topics ...string) *ws.Subscription {
	return f.hub.Subscribe(topics...)
}

// Close 关闭全部外部出口
func (f *Fanout) Close() {
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			f.logger.Warn("Failed to close sink", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}

func toMessage(event models.Event) ws.Message {
	return ws.Message{
		ID:    event.ID,
		Type:  string(event.Type),
		Topic: event.Topic,
		Data:  event.Data,
		Time:  event.Time,
	}
}

// subjectTokens 把 "trip:42" 转成 "trip.42"，每一段都是合法的路由/主题片段
func subjectTokens(topic string) string {
	parts := strings.Split(topic, ":")
	for i, p := range parts {
		parts[i] = subjectToken(p)
	}
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// 不能包含空白、'.'、'*'、'>'、'#'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "#", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
