package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPExchange 事件 topic 交换机
const AMQPExchange = "tripgazer.events"

var _ Sink = (*AMQPSink)(nil)

// AMQPSink 把事件发到 RabbitMQ，路由键形如 trip.42
type AMQPSink struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPSink 打开通道并声明交换机
func NewAMQPSink(conn *amqp.Connection) (*AMQPSink, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(AMQPExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPSink{ch: ch}, nil
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, topic string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ch.PublishWithContext(ctx, AMQPExchange, subjectTokens(topic), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}

func (s *AMQPSink) Close() error {
	return s.ch.Close()
}
