package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/config"
	"github.com/langchou/tripgazer/internal/geofence"
	"github.com/langchou/tripgazer/internal/metrics"
	"github.com/langchou/tripgazer/internal/models"
	"github.com/langchou/tripgazer/internal/repository"
)

// Options 引擎参数
type Options struct {
	CacheTimeout      time.Duration
	GPSCacheTTL       time.Duration
	TripCacheTTL      time.Duration
	StopStateTTL      time.Duration
	AttendanceLockTTL time.Duration
	HistoryInterval   time.Duration
	SweepInterval     time.Duration
	OfflineThreshold  time.Duration
	LiveRetention     time.Duration
	Location          *time.Location
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		CacheTimeout:      150 * time.Millisecond,
		GPSCacheTTL:       5 * time.Minute,
		TripCacheTTL:      4 * time.Hour,
		StopStateTTL:      4 * time.Hour,
		AttendanceLockTTL: 24 * time.Hour,
		HistoryInterval:   30 * time.Second,
		SweepInterval:     30 * time.Second,
		OfflineThreshold:  30 * time.Second,
		LiveRetention:     24 * time.Hour,
		Location:          time.Local,
	}
}

// OptionsFromConfig 从配置读取参数
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		CacheTimeout:      cfg.CacheTimeout,
		GPSCacheTTL:       cfg.GPSCacheTTL,
		TripCacheTTL:      cfg.TripCacheTTL,
		StopStateTTL:      cfg.StopStateTTL,
		AttendanceLockTTL: cfg.AttendanceLockTTL,
		HistoryInterval:   cfg.HistoryInterval,
		SweepInterval:     cfg.OfflineSweepInterval,
		OfflineThreshold:  cfg.OfflineThreshold,
		LiveRetention:     cfg.LiveRetention,
		Location:          cfg.Location,
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return opts
}

// TrackingService 定位处理流水线：校验 → 围栏 → 进度 → 考勤 → 持久化 → 广播
// 不持有任何行程级的锁，并发正确性依赖缓存原子操作和数据库条件写
type TrackingService struct {
	opts    Options
	logger  *zap.Logger
	cache   cache.Cache
	stores  Stores
	bc      Broadcaster
	auth    Authorizer
	metrics *metrics.Collector
	now     func() time.Time
}

// NewTrackingService 创建定位服务，auth 为空时使用 MatchingAuthorizer
func NewTrackingService(
	opts Options,
	logger *zap.Logger,
	c cache.Cache,
	stores Stores,
	bc Broadcaster,
	auth Authorizer,
	m *metrics.Collector,
) *TrackingService {
	if auth == nil {
		auth = MatchingAuthorizer{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &TrackingService{
		opts:    opts,
		logger:  logger,
		cache:   c,
		stores:  stores,
		bc:      bc,
		auth:    auth,
		metrics: m,
		now:     time.Now,
	}
}

// SetClock 替换时钟（测试用）
func (s *TrackingService) SetClock(now func() time.Time) {
	s.now = now
}

// tripSnapshot 一次处理期间使用的行程临时状态
type tripSnapshot struct {
	stops    []models.RouteStop
	index    int
	geofence models.GeofenceState
}

// ProcessLocation 处理一条定位
// 校验失败时不写入任何状态；数据库错误返回给调用方，缓存错误只记录并降级
func (s *TrackingService) ProcessLocation(ctx context.Context, ping *models.Ping) (*models.LocationUpdate, error) {
	start := time.Now()
	update, err := s.processLocation(ctx, ping)
	s.metrics.PingHandled(resultLabel(err), time.Since(start))
	return update, err
}

func (s *TrackingService) processLocation(ctx context.Context, ping *models.Ping) (*models.LocationUpdate, error) {
	if err := ValidatePing(ping); err != nil {
		return nil, err
	}

	trip, err := s.activeTrip(ctx, ping.TripID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.Authorize(ctx, trip, ping); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	fix := ping.Fix()
	now := s.now()

	snap, err := s.loadSnapshot(ctx, trip.ID)
	if err != nil {
		return nil, err
	}

	s.checkAutoSkip(ctx, trip, fix, snap)

	res, err := geofence.Check(fix.Lat, fix.Lng, snap.stops, snap.geofence)
	if err != nil {
		return nil, fmt.Errorf("geofence check: %w", err)
	}
	if res.Changed() {
		snap.geofence = res.State
		s.saveGeofence(ctx, trip.ID, res.State)
	}

	for _, stop := range res.Arrived {
		if err := s.recordArrival(ctx, trip, stop, fix, now, snap); err != nil {
			return nil, err
		}
	}
	for _, stop := range res.Departed {
		if err := s.recordDeparture(ctx, trip, stop, now); err != nil {
			return nil, err
		}
	}

	update := s.buildUpdate(trip, fix, snap, now)
	if err := s.persist(ctx, update); err != nil {
		return nil, err
	}

	event := models.NewEvent(models.EventLocation, update, now)
	s.bc.Publish(models.TripTopic(trip.ID), event)
	s.bc.Publish(models.VehicleTopic(trip.VehicleID), event)
	s.bc.Publish(models.AdminTopic, event)

	return update, nil
}

// activeTrip 获取处于进行中的行程
func (s *TrackingService) activeTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	trip, err := s.getTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !trip.Active() {
		return nil, fmt.Errorf("%w: trip %s is %s", ErrTripNotActive, trip.ID, trip.Status)
	}
	return trip, nil
}

func (s *TrackingService) getTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	trip, err := s.stores.Trips.GetByID(ctx, tripID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", err)
	}
	return trip, nil
}

// loadSnapshot 一次批量读取站点、围栏状态和下一站序号
// 缓存不可用或缺失时从数据库回填，围栏状态缺失视为全部在站外
func (s *TrackingService) loadSnapshot(ctx context.Context, tripID string) (*tripSnapshot, error) {
	snap := &tripSnapshot{geofence: models.GeofenceState{}}

	cctx, cancel := s.cacheCtx(ctx)
	values, err := s.cache.MGet(cctx,
		cache.StopsKey(tripID),
		cache.GeofenceKey(tripID),
		cache.NextStopIndexKey(tripID),
	)
	cancel()
	if err != nil {
		s.cacheFailed("mget", tripID, err)
		values = make([][]byte, 3)
	}

	if values[0] != nil {
		if err := json.Unmarshal(values[0], &snap.stops); err != nil {
			s.logger.Warn("Discarding corrupt stop snapshot", zap.String("trip_id", tripID), zap.Error(err))
			values[0] = nil
		}
	}
	if values[0] == nil {
		stops, err := s.loadStops(ctx, tripID)
		if err != nil {
			return nil, err
		}
		snap.stops = stops
	}

	if values[1] != nil {
		if err := json.Unmarshal(values[1], &snap.geofence); err != nil {
			s.logger.Warn("Discarding corrupt geofence state", zap.String("trip_id", tripID), zap.Error(err))
			snap.geofence = models.GeofenceState{}
		}
	}

	if values[2] != nil {
		if idx, err := strconv.Atoi(string(values[2])); err == nil {
			snap.index = idx
			return snap, nil
		}
	}
	idx, err := s.durableIndex(ctx, tripID)
	if err != nil {
		return nil, err
	}
	snap.index = idx
	return snap, nil
}

// loadStops 从数据库读取站点并回写缓存
func (s *TrackingService) loadStops(ctx context.Context, tripID string) ([]models.RouteStop, error) {
	stops, err := s.stores.Stops.ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("list route stops: %w", err)
	}
	body, err := json.Marshal(stops)
	if err != nil {
		return nil, fmt.Errorf("marshal route stops: %w", err)
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	if err := s.cache.Set(cctx, cache.StopsKey(tripID), body, s.opts.TripCacheTTL); err != nil {
		s.cacheFailed("set_stops", tripID, err)
	}
	return stops, nil
}

// durableIndex 数据库中的下一站序号，没有实时位置时为 0
func (s *TrackingService) durableIndex(ctx context.Context, tripID string) (int, error) {
	loc, err := s.stores.Live.Get(ctx, tripID)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get live location: %w", err)
	}
	return loc.NextStopIndex, nil
}

func (s *TrackingService) saveGeofence(ctx context.Context, tripID string, st models.GeofenceState) {
	body, err := json.Marshal(st)
	if err != nil {
		s.logger.Error("Failed to marshal geofence state", zap.String("trip_id", tripID), zap.Error(err))
		return
	}
	cctx, cancel := s.cacheCtx(ctx)
	defer cancel()
	if err := s.cache.Set(cctx, cache.GeofenceKey(tripID), body, s.opts.StopStateTTL); err != nil {
		s.cacheFailed("set_geofence", tripID, err)
	}
}

func (s *TrackingService) buildUpdate(trip *models.Trip, fix models.Fix, snap *tripSnapshot, now time.Time) *models.LocationUpdate {
	update := &models.LocationUpdate{
		TripID:        trip.ID,
		VehicleID:     trip.VehicleID,
		DriverID:      trip.DriverID,
		Lat:           fix.Lat,
		Lng:           fix.Lng,
		Speed:         fix.Speed,
		Heading:       fix.Heading,
		ETA:           EstimateETA(fix.Lat, fix.Lng, fix.Speed, snap.stops, snap.index),
		NextStopIndex: snap.index,
		Status:        models.LiveOnline,
		Timestamp:     now,
	}
	if snap.index >= 0 && snap.index < len(snap.stops) {
		update.NextStop = snap.stops[snap.index].Name
	}
	return update
}

func (s *TrackingService) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.CacheTimeout)
}

// cacheFailed 缓存错误只告警，流程走数据库降级
func (s *TrackingService) cacheFailed(op, tripID string, err error) {
	s.logger.Warn("Cache operation failed, falling back",
		zap.String("op", op),
		zap.String("trip_id", tripID),
		zap.Error(err),
	)
	s.metrics.CacheError(op)
}
