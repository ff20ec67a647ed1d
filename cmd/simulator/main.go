package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/ingest"
	"github.com/langchou/tripgazer/internal/models"
)

type publisher interface {
	Publish(ctx context.Context, ping *models.Ping) error
	Close()
}

func main() {
	scenarioPath := flag.String("scenario", "cmd/simulator/testdata/route.yml", "scenario file")
	httpURL := flag.String("http", "", "server base URL, publish over HTTP instead of MQTT")
	broker := flag.String("broker", envOr("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker")
	topic := flag.String("topic", envOr("MQTT_TOPIC", "tripgazer/trips/+/location"), "MQTT topic pattern")
	interval := flag.Duration("interval", 0, "override scenario interval")
	start := flag.Bool("start", true, "call the start tracking endpoint first (HTTP only)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	sc, err := LoadScenario(*scenarioPath)
	if err != nil {
		logger.Fatal("Failed to load scenario", zap.Error(err))
	}
	if *interval > 0 {
		sc.Interval = *interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub publisher
	if *httpURL != "" {
		hp := &httpPublisher{base: strings.TrimRight(*httpURL, "/"), client: &http.Client{Timeout: 5 * time.Second}}
		if *start {
			if err := hp.StartTrip(ctx, sc.Trip); err != nil {
				logger.Fatal("Failed to start trip", zap.Error(err))
			}
		}
		pub = hp
	} else {
		mp, err := newMQTTPublisher(*broker, *topic)
		if err != nil {
			logger.Fatal("Failed to connect MQTT broker", zap.Error(err))
		}
		pub = mp
	}
	defer pub.Close()

	pings := sc.Pings()
	logger.Info("Running scenario",
		zap.String("trip_id", sc.Trip),
		zap.Int("pings", len(pings)),
		zap.Duration("interval", sc.Interval),
	)

	ticker := time.NewTicker(sc.Interval)
	defer ticker.Stop()

	for i := range pings {
		p := &pings[i]
		if err := pub.Publish(ctx, p); err != nil {
			logger.Error("Failed to publish ping", zap.Int("seq", i), zap.Error(err))
		} else {
			logger.Info("Ping sent", zap.Int("seq", i), zap.Float64("lat", *p.Lat), zap.Float64("lng", *p.Lng))
		}

		if i == len(pings)-1 {
			break
		}
		select {
		case <-ctx.Done():
			logger.Info("Interrupted")
			return
		case <-ticker.C:
		}
	}
	logger.Info("Scenario finished")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type mqttPublisher struct {
	client mqtt.Client
	topic  string
}

func newMQTTPublisher(broker, topic string) (*mqttPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("tripgazer-simulator-%d", time.Now().UnixNano()))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &mqttPublisher{client: client, topic: topic}, nil
}

func (p *mqttPublisher) Publish(_ context.Context, ping *models.Ping) error {
	payload, err := json.Marshal(ping)
	if err != nil {
		return err
	}
	token := p.client.Publish(ingest.LocationTopic(p.topic, ping.TripID), 1, false, payload)
	token.Wait()
	return token.Error()
}

func (p *mqttPublisher) Close() {
	p.client.Disconnect(250)
}

type httpPublisher struct {
	base   string
	client *http.Client
}

func (p *httpPublisher) StartTrip(ctx context.Context, tripID string) error {
	return p.post(ctx, "/api/trips/"+tripID+"/tracking/start", nil, http.StatusOK)
}

func (p *httpPublisher) Publish(ctx context.Context, ping *models.Ping) error {
	payload, err := json.Marshal(ping)
	if err != nil {
		return err
	}
	return p.post(ctx, "/api/tracking/location", payload, http.StatusAccepted)
}

func (p *httpPublisher) post(ctx context.Context, path string, body []byte, want int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (p *httpPublisher) Close() {}
