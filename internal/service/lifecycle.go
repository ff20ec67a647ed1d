package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/models"
)

// TrackingStarted 开始跟踪的结果
type TrackingStarted struct {
	TripID        string                 `json:"tripId"`
	Stops         []models.RouteStop     `json:"stops"`
	NextStopIndex int                    `json:"nextStopIndex"`
	Location      *models.LocationUpdate `json:"location,omitempty"`
}

// StartTrip 开始跟踪：缓存站点快照、初始化下一站序号
// initial 不为空时用它写入第一条实时位置和历史点
func (s *TrackingService) StartTrip(ctx context.Context, tripID string, initial *models.Fix) (*TrackingStarted, error) {
	trip, err := s.activeTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}

	stops, err := s.loadStops(ctx, trip.ID)
	if err != nil {
		return nil, err
	}

	// 重复开始不会把已有进度拉回 0
	index := 0
	cctx, cancel := s.cacheCtx(ctx)
	v, err := s.cache.SetMax(cctx, cache.NextStopIndexKey(trip.ID), 0, s.opts.TripCacheTTL)
	cancel()
	if err != nil {
		s.cacheFailed("set_max", trip.ID, err)
		if index, err = s.durableIndex(ctx, trip.ID); err != nil {
			return nil, err
		}
	} else {
		index = int(v)
	}

	started := &TrackingStarted{
		TripID:        trip.ID,
		Stops:         stops,
		NextStopIndex: index,
	}

	if initial != nil {
		snap := &tripSnapshot{stops: stops, index: index}
		now := s.now()
		update := s.buildUpdate(trip, *initial, snap, now)
		if err := s.persist(ctx, update); err != nil {
			return nil, err
		}
		s.bc.Publish(models.TripTopic(trip.ID), models.NewEvent(models.EventLocation, update, now))
		started.Location = update
	}

	s.logger.Info("Trip tracking started",
		zap.String("trip_id", trip.ID),
		zap.Int("stops", len(stops)),
		zap.Int("next_stop_index", index),
	)
	return started, nil
}

// EndTrip 结束跟踪：清理缓存并把实时位置置为 OFFLINE
func (s *TrackingService) EndTrip(ctx context.Context, tripID string) error {
	if _, err := s.getTrip(ctx, tripID); err != nil {
		return err
	}

	cctx, cancel := s.cacheCtx(ctx)
	if err := s.cache.Del(cctx, cache.TripKeys(tripID)...); err != nil {
		s.cacheFailed("del", tripID, err)
	}
	cancel()

	if err := s.stores.Live.MarkOffline(ctx, tripID); err != nil {
		return fmt.Errorf("end trip: %w", err)
	}

	s.logger.Info("Trip tracking ended", zap.String("trip_id", tripID))
	return nil
}
