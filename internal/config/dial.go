package config

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// retry 以指数退避重试，直到成功或超过 maxElapsed
func retry[T any](logger *zap.Logger, what string, maxElapsed time.Duration, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	return backoff.RetryNotifyWithData(op, b, func(err error, wait time.Duration) {
		logger.Warn("Dial failed, retrying",
			zap.String("target", what),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

// DialMQTT 连接 MQTT Broker
func DialMQTT(cfg *Config, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetCleanSession(true).
		// 每条定位独立处理，不需要按顺序回调
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	_, err := retry(logger, "mqtt", cfg.DialTimeout, func() (struct{}, error) {
		token := client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return struct{}{}, fmt.Errorf("connect timeout")
		}
		return struct{}{}, token.Error()
	})
	if err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	return client, nil
}

// DialAMQP 连接 RabbitMQ
func DialAMQP(cfg *Config, logger *zap.Logger) (*amqp.Connection, error) {
	conn, err := retry(logger, "amqp", cfg.DialTimeout, func() (*amqp.Connection, error) {
		return amqp.Dial(cfg.AMQPURL)
	})
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}

	logger.Info("Connected to RabbitMQ")
	return conn, nil
}

// DialNATS 连接 NATS
func DialNATS(cfg *Config, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := retry(logger, "nats", cfg.DialTimeout, func() (*nats.Conn, error) {
		return nats.Connect(cfg.NATSURL,
			nats.Name("tripgazer"),
			nats.MaxReconnects(-1),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
