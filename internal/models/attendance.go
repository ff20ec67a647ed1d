package models

import "time"

// AttendanceStatus 乘客考勤状态
type AttendanceStatus string

const (
	AttendancePicked  AttendanceStatus = "PICKED"
	AttendanceDropped AttendanceStatus = "DROPPED"
)

// DateLayout 考勤日期格式
const DateLayout = "2006-01-02"

// StopVisit 行程在某站点的到离站记录，(trip, stop) 唯一
type StopVisit struct {
	TripID        string     `json:"trip_id" db:"trip_id"`
	StopID        string     `json:"stop_id" db:"stop_id"`
	StopName      string     `json:"stop_name" db:"stop_name"`
	ArrivalTime   time.Time  `json:"arrival_time" db:"arrival_time"`
	DepartureTime *time.Time `json:"departure_time,omitempty" db:"departure_time"`
}

// AttendanceRecord 乘客每日考勤，(rider, date) 唯一
type AttendanceRecord struct {
	RiderID    string           `json:"rider_id" db:"rider_id"`
	Date       string           `json:"date" db:"date"`
	TripID     string           `json:"trip_id" db:"trip_id"`
	Status     AttendanceStatus `json:"status" db:"status"`
	PickupTime *time.Time       `json:"pickup_time,omitempty" db:"pickup_time"`
	PickupLat  *float64         `json:"pickup_lat,omitempty" db:"pickup_lat"`
	PickupLng  *float64         `json:"pickup_lng,omitempty" db:"pickup_lng"`
	DropTime   *time.Time       `json:"drop_time,omitempty" db:"drop_time"`
	DropLat    *float64         `json:"drop_lat,omitempty" db:"drop_lat"`
	DropLng    *float64         `json:"drop_lng,omitempty" db:"drop_lng"`
}

// AttendanceMark 一次到站产生的批量考勤写入
type AttendanceMark struct {
	TripID    string
	StopID    string
	Date      string
	Direction Direction
	Time      time.Time
	Lat       float64
	Lng       float64
	RiderIDs  []string
}
