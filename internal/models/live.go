package models

import "time"

// LiveStatus 实时定位在线状态
type LiveStatus string

const (
	LiveOnline  LiveStatus = "ONLINE"
	LiveOffline LiveStatus = "OFFLINE"
)

// LiveLocation 行程的当前位置（每个行程一行）
type LiveLocation struct {
	TripID        string     `json:"trip_id" db:"trip_id"`
	VehicleID     string     `json:"vehicle_id" db:"vehicle_id"`
	DriverID      string     `json:"driver_id" db:"driver_id"`
	Lat           float64    `json:"lat" db:"latitude"`
	Lng           float64    `json:"lng" db:"longitude"`
	Speed         float64    `json:"speed" db:"speed"`     // km/h
	Heading       float64    `json:"heading" db:"heading"` // 度
	Status        LiveStatus `json:"status" db:"status"`
	LastUpdate    time.Time  `json:"last_update" db:"last_update"`
	NextStopIndex int        `json:"next_stop_index" db:"next_stop_index"`
	ETA           *int       `json:"eta,omitempty" db:"eta_min"` // 分钟
	NextHistoryAt time.Time  `json:"-" db:"next_history_at"`
}

// HistoryPoint 历史轨迹点（只追加）
type HistoryPoint struct {
	ID         int64     `json:"id" db:"id"`
	TripID     string    `json:"trip_id" db:"trip_id"`
	Lat        float64   `json:"lat" db:"latitude"`
	Lng        float64   `json:"lng" db:"longitude"`
	Speed      float64   `json:"speed" db:"speed"`
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// StopPresence 车辆相对站点围栏的位置
type StopPresence string

const (
	PresenceInside  StopPresence = "INSIDE"
	PresenceOutside StopPresence = "OUTSIDE"
)

// GeofenceState 每个站点上一次观测到的围栏状态，缺省视为 OUTSIDE
type GeofenceState map[string]StopPresence
