package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/service"
)

// 设备端 QoS 1，至少送达一次，重复消息由到站锁去重
const subscribeQoS = 1

type locationProcessor interface {
	ProcessLocation(ctx context.Context, ping *models.Ping) (*models.LocationUpdate, error)
}

// LocationSubscriber 订阅 MQTT 定位主题，形如 tripgazer/trips/<tripId>/location
type LocationSubscriber struct {
	client  mqtt.Client
	topic   string
	svc     locationProcessor
	logger  *zap.Logger
	timeout time.Duration
}

// NewLocationSubscriber 创建定位订阅者
func NewLocationSubscriber(client mqtt.Client, topic string, svc locationProcessor, logger *zap.Logger) *LocationSubscriber {
	return &LocationSubscriber{
		client:  client,
		topic:   topic,
		svc:     svc,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

func (s *LocationSubscriber) Start() error {
	token := s.client.Subscribe(s.topic, subscribeQoS, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("Subscribed to location topic", zap.String("topic", s.topic))
	return nil
}

func (s *LocationSubscriber) Stop() {
	token := s.client.Unsubscribe(s.topic)
	if token.WaitTimeout(time.Second) && token.Error() != nil {
		s.logger.Warn("Failed to unsubscribe", zap.String("topic", s.topic), zap.Error(token.Error()))
	}
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	ping, err := service.ParsePing(msg.Payload())
	if err != nil {
		s.logger.Warn("Dropping invalid location message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	if tripID := TripIDFromTopic(msg.Topic()); tripID != "" && tripID != ping.TripID {
		s.logger.Warn("Dropping location message for another trip",
			zap.String("topic", msg.Topic()),
			zap.String("trip_id", ping.TripID),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.svc.ProcessLocation(ctx, ping); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPing),
			errors.Is(err, service.ErrTripNotFound),
			errors.Is(err, service.ErrTripNotActive),
			errors.Is(err, service.ErrUnauthorized):
			s.logger.Warn("Location rejected", zap.String("trip_id", ping.TripID), zap.Error(err))
		default:
			s.logger.Error("Failed to process location", zap.String("trip_id", ping.TripID), zap.Error(err))
		}
	}
}

// TripIDFromTopic 取出 .../trips/<tripId>/location 中的行程 ID
func TripIDFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "trips" && parts[i+2] == "location" {
			return parts[i+1]
		}
	}
	return ""
}

// LocationTopic 某个行程的上报主题
func LocationTopic(prefix, tripID string) string {
	return strings.Replace(prefix, "+", tripID, 1)
}
