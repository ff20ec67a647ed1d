package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/tripgazer/internal/cache"
	"github.com/langchou/tripgazer/internal/metrics"
	"github.com/langchou/tripgazer/internal/models"
)

// Sweeper 定时把超时未上报的行程置为离线
type Sweeper struct {
	opts    Options
	logger  *zap.Logger
	cache   cache.Cache
	live    LiveLocationStore
	bc      Broadcaster
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewSweeper 创建离线扫描器，c 可为空
func NewSweeper(opts Options, logger *zap.Logger, c cache.Cache, live LiveLocationStore, bc Broadcaster, m *metrics.Collector) *Sweeper {
	return &Sweeper{
		opts:    opts,
		logger:  logger,
		cache:   c,
		live:    live,
		bc:      bc,
		metrics: m,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start 启动扫描循环
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting offline sweeper",
		zap.Duration("interval", s.opts.SweepInterval),
		zap.Duration("threshold", s.opts.OfflineThreshold),
	)

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop 停止扫描并等待当前一轮结束
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Offline sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx, s.now()); err != nil {
				s.logger.Error("Offline sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一轮扫描，返回本轮置为离线的行程数
// 已经离线的行程不会再次被选中，每次在线到离线的转换只发一次事件
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.live.MarkStaleOffline(ctx, now.Add(-s.opts.OfflineThreshold))
	if err != nil {
		return 0, err
	}

	for _, loc := range stale {
		s.logger.Info("Trip went offline",
			zap.String("trip_id", loc.TripID),
			zap.Time("last_update", loc.LastUpdate),
		)
		s.bc.Publish(models.TripTopic(loc.TripID), models.NewEvent(models.EventTripOffline, models.TripOffline{
			TripID:     loc.TripID,
			VehicleID:  loc.VehicleID,
			LastUpdate: loc.LastUpdate,
			Time:       now,
		}, now))
		s.dropLive(ctx, loc.TripID)
	}
	s.metrics.Offline(len(stale))

	if s.opts.LiveRetention > 0 {
		purged, err := s.live.PurgeIdle(ctx, now.Add(-s.opts.LiveRetention))
		if err != nil {
			return len(stale), err
		}
		if purged > 0 {
			s.logger.Info("Purged idle live locations", zap.Int64("count", purged))
		}
	}
	return len(stale), nil
}

// dropLive 删除实时快照，避免读取到过期的在线状态
func (s *Sweeper) dropLive(ctx context.Context, tripID string) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.CacheTimeout)
	defer cancel()
	if err := s.cache.Del(cctx, cache.LiveKey(tripID)); err != nil {
		s.logger.Warn("Failed to drop live snapshot", zap.String("trip_id", tripID), zap.Error(err))
		s.metrics.CacheError("del_live")
	}
}
