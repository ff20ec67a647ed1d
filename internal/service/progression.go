package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/geofence"
	"github.com/langchou/tripgazer/internal/models"
)

// advance 把下一站序号提升到 target，只增不减
// 缓存不可用时只更新本次快照，数据库用 GREATEST 保证单调
func (s *TrackingService) advance(ctx context.Context, tripID string, snap *tripSnapshot, target int) bool {
	if target > len(snap.stops) {
		target = len(snap.stops)
	}
	if target <= snap.index {
		return false
	}

	next := target
	cctx, cancel := s.cacheCtx(ctx)
	v, err := s.cache.SetMax(cctx, cache.NextStopIndexKey(tripID), int64(target), s.opts.TripCacheTTL)
	cancel()
	if err != nil {
		s.cacheFailed("set_max", tripID, err)
	} else {
		next = int(v)
	}

	if next <= snap.index {
		return false
	}
	snap.index = next
	return true
}

// shouldAutoSkip 车辆离下一站比离当前目标站更近，且已进入下一站围栏
func shouldAutoSkip(lat, lng float64, stops []models.RouteStop, idx int) bool {
	if idx < 0 || idx+1 >= len(stops) {
		return false
	}
	cur, next := stops[idx], stops[idx+1]
	dCur := geofence.Distance(lat, lng, cur.Lat, cur.Lng)
	dNext := geofence.Distance(lat, lng, next.Lat, next.Lng)
	return dNext < dCur && dNext <= next.EffectiveRadius()
}

// checkAutoSkip 在围栏检查之前处理跳站
func (s *TrackingService) checkAutoSkip(ctx context.Context, trip *models.Trip, fix models.Fix, snap *tripSnapshot) {
	if !shouldAutoSkip(fix.Lat, fix.Lng, snap.stops, snap.index) {
		return
	}
	skipped := snap.stops[snap.index]
	if !s.advance(ctx, trip.ID, snap, snap.index+1) {
		return
	}

	s.logger.Info("Stop skipped",
		zap.String("trip_id", trip.ID),
		zap.String("stop_id", skipped.ID),
		zap.Int("next_stop_index", snap.index),
	)
	s.metrics.AutoSkip()
	s.publishProgress(trip.ID, snap, "", skipped.ID)
}

func (s *TrackingService) publishProgress(tripID string, snap *tripSnapshot, lastVisited, skipped string) {
	remaining := len(snap.stops) - snap.index
	if remaining < 0 {
		remaining = 0
	}
	change := models.ProgressionChange{
		TripID:          tripID,
		NextStopIndex:   snap.index,
		Remaining:       remaining,
		LastVisitedStop: lastVisited,
		SkippedStop:     skipped,
		Skipped:         skipped != "",
	}
	s.bc.Publish(models.TripTopic(tripID), models.NewEvent(models.EventProgressionChanged, change, s.now()))
}
