package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType 推送事件类型
type EventType string

const (
	EventLocation           EventType = "location"
	EventStopArrived        EventType = "stop_arrived"
	EventStopDeparted       EventType = "stop_departed"
	EventProgressionChanged EventType = "progression_changed"
	EventAttendanceMarked   EventType = "attendance_marked"
	EventTripOffline        EventType = "trip_offline"
)

// AdminTopic 管理端订阅全部行程的主题
const AdminTopic = "admin"

// TripTopic 行程主题
func TripTopic(tripID string) string {
	return "trip:" + tripID
}

// VehicleTopic 车辆主题
func VehicleTopic(vehicleID string) string {
	return "vehicle:" + vehicleID
}

// Event 推送给观察者的事件
type Event struct {
	ID    string      `json:"id"`
	Type  EventType   `json:"type"`
	Topic string      `json:"topic,omitempty"` // 发布时填充
	Data  interface{} `json:"data"`
	Time  time.Time   `json:"time"`
}

// NewEvent 创建带唯一 ID 的事件
func NewEvent(eventType EventType, data interface{}, at time.Time) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Data: data,
		Time: at,
	}
}

// LocationUpdate 实时位置推送，同时作为缓存中的实时快照
type LocationUpdate struct {
	TripID        string     `json:"tripId"`
	VehicleID     string     `json:"vehicleId"`
	DriverID      string     `json:"driverId"`
	Lat           float64    `json:"lat"`
	Lng           float64    `json:"lng"`
	Speed         float64    `json:"speed"`
	Heading       float64    `json:"heading"`
	ETA           *int       `json:"eta"`
	NextStop      string     `json:"nextStop,omitempty"`
	NextStopIndex int        `json:"nextStopIndex"`
	Status        LiveStatus `json:"status"`
	Timestamp     time.Time  `json:"timestamp"`
}

// StopEvent 到站/离站
type StopEvent struct {
	TripID   string    `json:"tripId"`
	StopID   string    `json:"stopId"`
	StopName string    `json:"stopName"`
	Time     time.Time `json:"time"`
}

// ProgressionChange 下一站序号变化
type ProgressionChange struct {
	TripID          string `json:"tripId"`
	NextStopIndex   int    `json:"nextStopIndex"`
	Remaining       int    `json:"remaining"`
	LastVisitedStop string `json:"lastVisitedStop,omitempty"`
	SkippedStop     string `json:"skippedStop,omitempty"`
	Skipped         bool   `json:"skipped"`
}

// AttendanceMarked 到站批量考勤完成
type AttendanceMarked struct {
	TripID     string           `json:"tripId"`
	StopID     string           `json:"stopId"`
	RiderCount int              `json:"riderCount"`
	Direction  Direction        `json:"direction"`
	Status     AttendanceStatus `json:"status"`
}

// TripOffline 行程超时未上报
type TripOffline struct {
	TripID     string    `json:"tripId"`
	VehicleID  string    `json:"vehicleId"`
	LastUpdate time.Time `json:"lastUpdate"`
	Time       time.Time `json:"time"`
}
