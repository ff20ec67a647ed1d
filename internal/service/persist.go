package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/models"
)

// persist 写实时快照和数据库实时位置，到达间隔时追加历史点
func (s *TrackingService) persist(ctx context.Context, update *models.LocationUpdate) error {
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal live snapshot: %w", err)
	}
	cctx, cancel := s.cacheCtx(ctx)
	if err := s.cache.Set(cctx, cache.LiveKey(update.TripID), body, s.opts.GPSCacheTTL); err != nil {
		s.cacheFailed("set_live", update.TripID, err)
	}
	cancel()

	loc := &models.LiveLocation{
		TripID:        update.TripID,
		VehicleID:     update.VehicleID,
		DriverID:      update.DriverID,
		Lat:           update.Lat,
		Lng:           update.Lng,
		Speed:         update.Speed,
		Heading:       update.Heading,
		Status:        models.LiveOnline,
		LastUpdate:    update.Timestamp,
		NextStopIndex: update.NextStopIndex,
		ETA:           update.ETA,
	}
	if err := s.stores.Live.Upsert(ctx, loc); err != nil {
		return fmt.Errorf("persist live location: %w", err)
	}

	claimed, err := s.stores.Live.AppendHistoryIfDue(ctx, &models.HistoryPoint{
		TripID:     update.TripID,
		Lat:        update.Lat,
		Lng:        update.Lng,
		Speed:      update.Speed,
		RecordedAt: update.Timestamp,
	}, s.opts.HistoryInterval)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if claimed {
		s.logger.Debug("History point recorded", zap.String("trip_id", update.TripID))
		s.metrics.HistoryPoint()
	}
	return nil
}
