package broadcast

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NATSSubjectPrefix 事件主题前缀
const NATSSubjectPrefix = "tripgazer"

var _ Sink = (*NATSSink)(nil)

// NATSSink 把事件发到 NATS，主题形如 tripgazer.trip.42
type NATSSink struct {
	nc *nats.Conn
}

func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(_ context.Context, topic string, body []byte) error {
	return s.nc.Publish(NATSSubject(topic), body)
}

// NATSSubject 主题对应的 NATS subject
func NATSSubject(topic string) string {
	return NATSSubjectPrefix + "." + subjectTokens(topic)
}

func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return err
	}
	return nil
}
