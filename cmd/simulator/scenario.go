package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/langchou/tripgazer/internal/models"
)

// Scenario 一次模拟行程
type Scenario struct {
	Trip     string        `yaml:"trip" validate:"required"`
	Vehicle  string        `yaml:"vehicle" validate:"required"`
	Driver   string        `yaml:"driver" validate:"required"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
	Points   []Point       `yaml:"points" validate:"required,min=1,dive"`
}

// Point 一个航点，hold 表示在该点重复上报的次数
type Point struct {
	Lat     float64 `yaml:"lat" validate:"min=-90,max=90"`
	Lng     float64 `yaml:"lng" validate:"min=-180,max=180"`
	Speed   float64 `yaml:"speed" validate:"gte=0"`
	Heading float64 `yaml:"heading"`
	Hold    int     `yaml:"hold" validate:"gte=0"`
	Note    string  `yaml:"note"`
}

// LoadScenario 读取并校验场景文件
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validator.New().Struct(sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if sc.Interval == 0 {
		sc.Interval = 2 * time.Second
	}
	return &sc, nil
}

// Pings 展开为按顺序发送的定位
func (sc *Scenario) Pings() []models.Ping {
	var pings []models.Ping
	for _, p := range sc.Points {
		n := p.Hold
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			lat, lng, speed, heading := p.Lat, p.Lng, p.Speed, p.Heading
			pings = append(pings, models.Ping{
				TripID:    sc.Trip,
				VehicleID: sc.Vehicle,
				DriverID:  sc.Driver,
				Lat:       &lat,
				Lng:       &lng,
				Speed:     &speed,
				Heading:   &heading,
			})
		}
	}
	return pings
}
