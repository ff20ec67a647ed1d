package service

import (
	"math"

	"github.com/langchou/tripgazer/internal/geofence"
	"github.com/langchou/tripgazer/internal/models"
)

// FallbackSpeedMps 速度未知或为 0 时使用的速度（米/秒）
const FallbackSpeedMps = 5.0

// EstimateETA 按直线距离和当前速度估算到下一站的分钟数
// speedKmh 为 km/h；已过最后一站返回 nil
func EstimateETA(lat, lng, speedKmh float64, stops []models.RouteStop, nextIndex int) *int {
	if nextIndex < 0 || nextIndex >= len(stops) {
		return nil
	}
	next := stops[nextIndex]
	dist := geofence.Distance(lat, lng, next.Lat, next.Lng)

	mps := FallbackSpeedMps
	if speedKmh > 0 {
		mps = speedKmh * 1000 / 3600
	}

	minutes := int(math.Ceil(dist / mps / 60))
	if minutes < 0 {
		minutes = 0
	}
	return &minutes
}
