package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/repository"
)

// 实时位置来源
const (
	SourceCache    = "cache"
	SourceDatabase = "database"
	SourceHistory  = "history"
	SourceNone     = "none"
)

// LiveView 行程当前位置，按 缓存 → 实时表 → 历史轨迹 的顺序查找
type LiveView struct {
	Source   string                 `json:"source"`
	Status   string                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Location *models.LocationUpdate `json:"location,omitempty"`
}

// NextStopView 下一站信息
type NextStopView struct {
	TripID        string            `json:"tripId"`
	NextStop      *models.RouteStop `json:"nextStop"`
	NextStopIndex int               `json:"nextStopIndex"`
	ETA           *int              `json:"eta"`
	TotalStops    int               `json:"totalStops"`
	Remaining     int               `json:"remaining"`
	IsFinalStop   bool              `json:"isFinalStop"`
	Completed     bool              `json:"completed"`
}

// Live 获取行程当前位置
func (s *TrackingService) Live(ctx context.Context, tripID string) (*LiveView, error) {
	trip, err := s.getTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if update := s.cachedLive(ctx, tripID); update != nil {
		return &LiveView{Source: SourceCache, Status: string(update.Status), Location: update}, nil
	}

	loc, err := s.stores.Live.Get(ctx, tripID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get live location: %w", err)
	}
	if loc != nil {
		return &LiveView{Source: SourceDatabase, Status: string(loc.Status), Location: fromLive(trip, loc)}, nil
	}

	point, err := s.stores.History.Latest(ctx, tripID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("get latest history point: %w", err)
	}
	if point != nil {
		return &LiveView{
			Source:  SourceHistory,
			Status:  string(models.LiveOffline),
			Message: "showing last recorded position",
			Location: &models.LocationUpdate{
				TripID:    trip.ID,
				VehicleID: trip.VehicleID,
				DriverID:  trip.DriverID,
				Lat:       point.Lat,
				Lng:       point.Lng,
				Speed:     point.Speed,
				Status:    models.LiveOffline,
				Timestamp: point.RecordedAt,
			},
		}, nil
	}

	if trip.Active() {
		return &LiveView{Source: SourceNone, Status: "WAITING", Message: "waiting for first location"}, nil
	}
	return &LiveView{Source: SourceNone, Status: string(models.LiveOffline), Message: "no location recorded"}, nil
}

func (s *TrackingService) cachedLive(ctx context.Context, tripID string) *models.LocationUpdate {
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()

	body, err := s.cache.Get(cctx, cache.LiveKey(tripID))
	if errors.Is(err, cache.ErrMiss) {
		return nil
	}
	if err != nil {
		s.cacheFailed("get_live", tripID, err)
		return nil
	}

	var update models.LocationUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.Warn("Discarding corrupt live snapshot", zap.String("trip_id", tripID), zap.Error(err))
		return nil
	}
	return &update
}

func fromLive(trip *models.Trip, loc *models.LiveLocation) *models.LocationUpdate {
	return &models.LocationUpdate{
		TripID:        trip.ID,
		VehicleID:     loc.VehicleID,
		DriverID:      loc.DriverID,
		Lat:           loc.Lat,
		Lng:           loc.Lng,
		Speed:         loc.Speed,
		Heading:       loc.Heading,
		ETA:           loc.ETA,
		NextStopIndex: loc.NextStopIndex,
		Status:        loc.Status,
		Timestamp:     loc.LastUpdate,
	}
}

// NextStop 获取下一站及预计到达时间
func (s *TrackingService) NextStop(ctx context.Context, tripID string) (*NextStopView, error) {
	if _, err := s.getTrip(ctx, tripID); err != nil {
		return nil, err
	}
	snap, err := s.loadSnapshot(ctx, tripID)
	if err != nil {
		return nil, err
	}

	view := &NextStopView{
		TripID:        tripID,
		NextStopIndex: snap.index,
		TotalStops:    len(snap.stops),
	}
	if snap.index >= len(snap.stops) {
		view.Completed = true
		return view, nil
	}

	stop := snap.stops[snap.index]
	view.NextStop = &stop
	view.Remaining = len(snap.stops) - snap.index
	view.IsFinalStop = snap.index == len(snap.stops)-1

	live, err := s.Live(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if live.Location != nil {
		view.ETA = EstimateETA(live.Location.Lat, live.Location.Lng, live.Location.Speed, snap.stops, snap.index)
	}
	return view, nil
}

// RemainingStops 获取尚未到达的站点
func (s *TrackingService) RemainingStops(ctx context.Context, tripID string) ([]models.RouteStop, error) {
	if _, err := s.getTrip(ctx, tripID); err != nil {
		return nil, err
	}
	snap, err := s.loadSnapshot(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if snap.index >= len(snap.stops) {
		return []models.RouteStop{}, nil
	}
	return snap.stops[snap.index:], nil
}

// History 获取行程历史轨迹，按时间升序
func (s *TrackingService) History(ctx context.Context, tripID string, limit int) ([]models.HistoryPoint, error) {
	if _, err := s.getTrip(ctx, tripID); err != nil {
		return nil, err
	}
	points, err := s.stores.History.ListByTrip(ctx, tripID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return points, nil
}

// Visits 获取行程的到离站记录
func (s *TrackingService) Visits(ctx context.Context, tripID string) ([]models.StopVisit, error) {
	if _, err := s.getTrip(ctx, tripID); err != nil {
		return nil, err
	}
	visits, err := s.stores.Visits.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list stop visits: %w", err)
	}
	return visits, nil
}

// Attendance 获取某天的考勤，date 为空时取当天
func (s *TrackingService) Attendance(ctx context.Context, date string) ([]models.AttendanceRecord, error) {
	if date == "" {
		date = s.now().In(s.opts.Location).Format(models.DateLayout)
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	records, err := s.stores.Attendance.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}

// OnlineLocations 获取全部在线行程的实时位置
func (s *TrackingService) OnlineLocations(ctx context.Context) ([]models.LiveLocation, error) {
	locs, err := s.stores.Live.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("list online locations: %w", err)
	}
	return locs, nil
}

// PingCache 检查缓存是否可用
func (s *TrackingService) PingCache(ctx context.Context) error {
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	return s.cache.Ping(cctx)
}
