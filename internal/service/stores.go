package service

import (
	"context"
	"fmt"
	"time"

	"github.com/langchou/tripgazer/internal/models"
)

// TripStore 行程读取
type TripStore interface {
	GetByID(ctx context.Context, id string) (*models.Trip, error)
}

// RouteStopStore 站点读取，只在行程开始或缓存失效时调用
type RouteStopStore interface {
	ListByTrip(ctx context.Context, tripID string) ([]models.RouteStop, error)
}

// RiderStore 乘客读取
type RiderStore interface {
	ListByStop(ctx context.Context, stopID string) ([]models.Rider, error)
}

// LiveLocationStore 实时位置持久化
type LiveLocationStore interface {
	Upsert(ctx context.Context, loc *models.LiveLocation) error
	Get(ctx context.Context, tripID string) (*models.LiveLocation, error)
	ListOnline(ctx context.Context) ([]models.LiveLocation, error)
	AppendHistoryIfDue(ctx context.Context, point *models.HistoryPoint, interval time.Duration) (bool, error)
	MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]models.LiveLocation, error)
	MarkOffline(ctx context.Context, tripID string) error
	PurgeIdle(ctx context.Context, before time.Time) (int64, error)
}

// StopVisitStore 到离站记录
type StopVisitStore interface {
	MarkArrival(ctx context.Context, visit *models.StopVisit) (bool, error)
	MarkDeparture(ctx context.Context, tripID, stopID string, at time.Time) error
	ListByTrip(ctx context.Context, tripID string) ([]models.StopVisit, error)
}

// AttendanceStore 考勤读写
type AttendanceStore interface {
	UpsertBatch(ctx context.Context, mark *models.AttendanceMark) error
	ListByDate(ctx context.Context, date string) ([]models.AttendanceRecord, error)
}

// HistoryStore 历史轨迹读取
type HistoryStore interface {
	ListByTrip(ctx context.Context, tripID string, limit int) ([]models.HistoryPoint, error)
	Latest(ctx context.Context, tripID string) (*models.HistoryPoint, error)
}

// Stores 引擎依赖的全部持久化接口
type Stores struct {
	Trips      TripStore
	Stops      RouteStopStore
	Riders     RiderStore
	Live       LiveLocationStore
	Visits     StopVisitStore
	Attendance AttendanceStore
	History    HistoryStore
}

// Broadcaster 事件发布
type Broadcaster interface {
	Publish(topic string, event models.Event)
}

// Authorizer 判断上报者是否有权更新该行程
type Authorizer interface {
	Authorize(ctx context.Context, trip *models.Trip, ping *models.Ping) error
}

// MatchingAuthorizer 要求上报的司机和车辆与行程分配一致
type MatchingAuthorizer struct{}

func (MatchingAuthorizer) Authorize(_ context.Context, trip *models.Trip, ping *models.Ping) error {
	if ping.DriverID != trip.DriverID {
		return fmt.Errorf("driver %s is not assigned to trip %s", ping.DriverID, trip.ID)
	}
	if ping.VehicleID != trip.VehicleID {
		return fmt.Errorf("vehicle %s is not assigned to trip %s", ping.VehicleID, trip.ID)
	}
	return nil
}
