package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/models"
)

// recordArrival 处理一次到站：到站锁 → 到站记录 → 进度 → 批量考勤 → 广播
// 锁拿到后任一步失败都不会释放锁，同一天内该站不会再被处理
func (s *TrackingService) recordArrival(ctx context.Context, trip *models.Trip, stop models.RouteStop, fix models.Fix, now time.Time, snap *tripSnapshot) error {
	date := now.In(s.opts.Location).Format(models.DateLayout)

	visit := &models.StopVisit{
		TripID:      trip.ID,
		StopID:      stop.ID,
		StopName:    stop.Name,
		ArrivalTime: now,
	}

	acquired, err := s.acquireArrival(ctx, visit, date)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Debug("Duplicate arrival ignored",
			zap.String("trip_id", trip.ID),
			zap.String("stop_id", stop.ID),
			zap.String("date", date),
		)
		s.metrics.Arrival(true)
		return nil
	}

	s.logger.Info("Stop arrived",
		zap.String("trip_id", trip.ID),
		zap.String("stop_id", stop.ID),
		zap.Int("position", stop.Position),
	)
	s.metrics.Arrival(false)
	s.bc.Publish(models.TripTopic(trip.ID), models.NewEvent(models.EventStopArrived, models.StopEvent{
		TripID:   trip.ID,
		StopID:   stop.ID,
		StopName: stop.Name,
		Time:     now,
	}, now))

	if stop.Position >= snap.index && s.advance(ctx, trip.ID, snap, stop.Position+1) {
		s.publishProgress(trip.ID, snap, stop.ID, "")
	}

	return s.markRiders(ctx, trip, stop, fix, now, date)
}

// acquireArrival 获取当天的到站锁并写入到站记录
// 缓存不可用时，以数据库插入是否成功作为锁
func (s *TrackingService) acquireArrival(ctx context.Context, visit *models.StopVisit, date string) (bool, error) {
	key := cache.ArrivalLockKey(visit.TripID, visit.StopID, date)

	cctx, cancel := s.cacheCtx(ctx)
	ok, err := s.cache.SetNX(cctx, key, []byte(visit.ArrivalTime.Format(time.RFC3339)), s.opts.AttendanceLockTTL)
	cancel()

	if err != nil {
		s.cacheFailed("setnx", visit.TripID, err)
		inserted, err := s.stores.Visits.MarkArrival(ctx, visit)
		if err != nil {
			return false, fmt.Errorf("mark arrival: %w", err)
		}
		return inserted, nil
	}
	if !ok {
		return false, nil
	}

	if _, err := s.stores.Visits.MarkArrival(ctx, visit); err != nil {
		return false, fmt.Errorf("mark arrival: %w", err)
	}
	return true, nil
}

// markRiders 按行程方向批量写入该站乘客的上车或下车记录
func (s *TrackingService) markRiders(ctx context.Context, trip *models.Trip, stop models.RouteStop, fix models.Fix, now time.Time, date string) error {
	riders, err := s.stores.Riders.ListByStop(ctx, stop.ID)
	if err != nil {
		return fmt.Errorf("list riders: %w", err)
	}
	if len(riders) == 0 {
		return nil
	}

	ids := make([]string, 0, len(riders))
	for _, r := range riders {
		ids = append(ids, r.ID)
	}

	mark := &models.AttendanceMark{
		TripID:    trip.ID,
		StopID:    stop.ID,
		Date:      date,
		Direction: trip.Direction,
		Time:      now,
		Lat:       fix.Lat,
		Lng:       fix.Lng,
		RiderIDs:  ids,
	}
	if err := s.stores.Attendance.UpsertBatch(ctx, mark); err != nil {
		return fmt.Errorf("mark attendance: %w", err)
	}

	s.metrics.Riders(len(ids))
	s.bc.Publish(models.TripTopic(trip.ID), models.NewEvent(models.EventAttendanceMarked, models.AttendanceMarked{
		TripID:     trip.ID,
		StopID:     stop.ID,
		RiderCount: len(ids),
		Direction:  trip.Direction,
		Status:     trip.Direction.AttendanceStatus(),
	}, now))
	return nil
}

// recordDeparture 离站不加锁，数据库只记录第一次离站时间
func (s *TrackingService) recordDeparture(ctx context.Context, trip *models.Trip, stop models.RouteStop, now time.Time) error {
	if err := s.stores.Visits.MarkDeparture(ctx, trip.ID, stop.ID, now); err != nil {
		return fmt.Errorf("mark departure: %w", err)
	}

	s.logger.Info("Stop departed", zap.String("trip_id", trip.ID), zap.String("stop_id", stop.ID))
	s.metrics.Departure()
	s.bc.Publish(models.TripTopic(trip.ID), models.NewEvent(models.EventStopDeparted, models.StopEvent{
		TripID:   trip.ID,
		StopID:   stop.ID,
		StopName: stop.Name,
		Time:     now,
	}, now))
	return nil
}
