package models

import "time"

// TripStatus 行程状态
type TripStatus string

const (
	TripStarted TripStatus = "STARTED"
	TripStopped TripStatus = "STOPPED"
	TripEnded   TripStatus = "ENDED"
)

// Direction 行程方向，决定到站时记录上车还是下车
type Direction string

const (
	DirectionPickup Direction = "PICKUP"
	DirectionDrop   Direction = "DROP"
)

// AttendanceStatus 返回该方向到站时乘客的考勤状态
func (d Direction) AttendanceStatus() AttendanceStatus {
	if d == DirectionPickup {
		return AttendancePicked
	}
	return AttendanceDropped
}

// Trip 行程
type Trip struct {
	ID        string     `json:"id" db:"id"`
	VehicleID string     `json:"vehicle_id" db:"vehicle_id"`
	DriverID  string     `json:"driver_id" db:"driver_id"`
	RouteID   string     `json:"route_id" db:"route_id"`
	Direction Direction  `json:"direction" db:"direction"`
	Status    TripStatus `json:"status" db:"status"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
}

// Active 行程是否处于可接收定位的状态
func (t *Trip) Active() bool {
	return t.Status == TripStarted
}

// DefaultStopRadius 站点默认围栏半径（米）
const DefaultStopRadius = 50.0

// RouteStop 路线站点快照
type RouteStop struct {
	ID       string  `json:"id" db:"id"`
	Name     string  `json:"name" db:"name"`
	Position int     `json:"position" db:"position"`
	Lat      float64 `json:"lat" db:"latitude"`
	Lng      float64 `json:"lng" db:"longitude"`
	Radius   float64 `json:"radius" db:"radius"`
}

// EffectiveRadius 半径未配置时回退到默认值
func (s RouteStop) EffectiveRadius() float64 {
	if s.Radius <= 0 {
		return DefaultStopRadius
	}
	return s.Radius
}

// Rider 乘客
type Rider struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	StopID string `json:"stop_id" db:"stop_id"`
}
